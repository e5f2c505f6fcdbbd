// Package rdbsnap serves two distinct, unrelated contracts and must not
// conflate them:
//
//   - EmptyRDB returns the literal, fixed 88-byte empty RDB file the
//     primary sends verbatim on every PSYNC (the External Interface
//     contract). Its bytes are a hardcoded constant, not something this
//     package generates — the wire blob never varies with keyspace
//     content, so there is nothing to encode for it.
//   - Encode/Decode read and write the *on-disk* {dir}/{dbfilename}
//     snapshot file, whose format is left unspecified by the external
//     RDB-loader collaborator contract. This half is a small
//     self-contained format — magic header, one opcode-tagged record
//     per string key, an EOF opcode, a CRC64 footer — sufficient to
//     round-trip exactly what this server itself writes to disk; it
//     does not aim for, and is never used for, wire compatibility with
//     the reference RDB file format.
package rdbsnap

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"hash/crc64"
	"time"

	"github.com/zhuyie/golzf"

	"respkv/internal/store"
)

var magic = []byte("RESPKV01")

const (
	opExpireMS           byte = 0xFD
	opEOF                byte = 0xFF
	typeString           byte = 0x00
	typeStringCompressed byte = 0x01
)

// CompressionThreshold is the value size, in bytes, at or above which
// Encode LZF-compresses the string before writing it.
const CompressionThreshold = 64

var crcTable = crc64.MakeTable(crc64.ECMA)

// emptyRDBBase64 is the reference implementation's built-in empty RDB
// file, base64-encoded. The primary sends the decoded bytes verbatim on
// every PSYNC, regardless of keyspace content — it is a fixed constant,
// never something this server generates from live state.
const emptyRDBBase64 = "UkVESVMwMDEx+glyZWRpcy12ZXIFNy4yLjD6CnJlZGlzLWJpdHPAQPoFY3RpbWXCbQi8ZfoIdXNlZC1tZW3CsMQQAPoIYW9mLWJhc2XAAP/wbjv+wP9aog=="

// EmptyRDB returns the decoded bytes of the built-in empty RDB file.
// This is what PSYNC sends on every full resync; it must never be
// replaced with a live encoding of the keyspace.
func EmptyRDB() []byte {
	decoded, err := base64.StdEncoding.DecodeString(emptyRDBBase64)
	if err != nil {
		// The constant above is fixed at compile time; a decode failure
		// here means the constant itself was corrupted.
		panic("rdbsnap: built-in empty RDB constant failed to decode: " + err.Error())
	}
	return decoded
}

// Encode serializes entries into an on-disk snapshot blob, for this
// server's own {dir}/{dbfilename} file. It is never used to build the
// PSYNC wire blob — see EmptyRDB. A nil or empty map
// encodes a valid, empty snapshot.
func Encode(entries map[string]store.StringSnapshot) []byte {
	var buf bytes.Buffer
	buf.Write(magic)

	for key, snap := range entries {
		if snap.Deadline != nil {
			buf.WriteByte(opExpireMS)
			var ts [8]byte
			binary.BigEndian.PutUint64(ts[:], uint64(snap.Deadline.UnixMilli()))
			buf.Write(ts[:])
		}

		writeLenString(&buf, key)

		if len(snap.Value) >= CompressionThreshold {
			compressed := make([]byte, len(snap.Value))
			n, err := golzf.Compress(snap.Value, compressed)
			if err == nil && n > 0 && n < len(snap.Value) {
				buf.WriteByte(typeStringCompressed)
				writeUint32(&buf, uint32(len(snap.Value)))
				writeLenBytes(&buf, compressed[:n])
				continue
			}
		}
		buf.WriteByte(typeString)
		writeLenBytes(&buf, snap.Value)
	}

	buf.WriteByte(opEOF)

	checksum := crc64.Checksum(buf.Bytes(), crcTable)
	var footer [8]byte
	binary.BigEndian.PutUint64(footer[:], checksum)
	buf.Write(footer[:])

	return buf.Bytes()
}

// Decode parses an on-disk blob produced by Encode back into a
// key->snapshot map. It does not parse the PSYNC wire blob, which is
// always the fixed bytes returned by EmptyRDB and is never decoded as
// keyspace state.
func Decode(blob []byte) (map[string]store.StringSnapshot, error) {
	if len(blob) < len(magic)+9 {
		return nil, fmt.Errorf("rdbsnap: blob too short")
	}
	if !bytes.Equal(blob[:len(magic)], magic) {
		return nil, fmt.Errorf("rdbsnap: bad magic")
	}

	body := blob[:len(blob)-8]
	footer := blob[len(blob)-8:]
	want := binary.BigEndian.Uint64(footer)
	got := crc64.Checksum(body, crcTable)
	if want != got {
		return nil, fmt.Errorf("rdbsnap: checksum mismatch")
	}

	r := bytes.NewReader(blob[len(magic):])
	out := make(map[string]store.StringSnapshot)

	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("rdbsnap: truncated stream")
		}

		var deadline *time.Time
		if op == opExpireMS {
			var ts [8]byte
			if _, err := readFull(r, ts[:]); err != nil {
				return nil, err
			}
			ms := int64(binary.BigEndian.Uint64(ts[:]))
			d := time.UnixMilli(ms)
			deadline = &d
			op, err = r.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("rdbsnap: truncated stream after expiry")
			}
		}

		if op == opEOF {
			// r now positioned right before the footer, which the caller
			// already validated against the whole body checksum.
			remaining := r.Len()
			if remaining != 8 {
				return nil, fmt.Errorf("rdbsnap: unexpected trailing bytes")
			}
			return out, nil
		}

		// op here is not a real opcode but the leading length byte of the
		// key string, consumed by readLenString below via the byte we
		// already popped — push it back by re-reading via a small shim.
		key, err := readLenStringWithFirstByte(r, op)
		if err != nil {
			return nil, err
		}

		typ, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("rdbsnap: truncated stream reading value type")
		}
		var value []byte
		switch typ {
		case typeString:
			value, err = readLenBytes(r)
			if err != nil {
				return nil, err
			}
		case typeStringCompressed:
			origLen, err := readUint32(r)
			if err != nil {
				return nil, err
			}
			compressed, err := readLenBytes(r)
			if err != nil {
				return nil, err
			}
			value = make([]byte, origLen)
			n, err := golzf.Decompress(compressed, value)
			if err != nil {
				return nil, fmt.Errorf("rdbsnap: lzf decompress: %w", err)
			}
			value = value[:n]
		default:
			return nil, fmt.Errorf("rdbsnap: unknown value type %d", typ)
		}

		out[key] = store.StringSnapshot{Value: value, Deadline: deadline}
	}
}

func writeUint32(buf *bytes.Buffer, n uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	buf.Write(b[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func writeLenBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func readLenBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func writeLenString(buf *bytes.Buffer, s string) {
	writeLenBytes(buf, []byte(s))
}

// readLenStringWithFirstByte reconstructs a length-prefixed key string
// when the first length byte has already been consumed from r (to
// distinguish it from the EOF opcode).
func readLenStringWithFirstByte(r *bytes.Reader, first byte) (string, error) {
	var rest [3]byte
	if _, err := readFull(r, rest[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32([]byte{first, rest[0], rest[1], rest[2]})
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n := 0
	for n < len(b) {
		m, err := r.Read(b[n:])
		n += m
		if err != nil {
			if n == len(b) {
				return n, nil
			}
			return n, fmt.Errorf("rdbsnap: truncated stream")
		}
	}
	return n, nil
}
