package replication

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"respkv/internal/connio"
	"respkv/internal/frame"
)

// IngestionOffset tracks how many bytes of the primary's command stream
// a replica has applied. Every command read off the primary's socket
// counts toward it, including non-propagatable ones like PING and
// REPLCONF GETACK — only the act of reading and applying advances the
// offset, never the decision of whether to act on it.
type IngestionOffset struct {
	mu  sync.Mutex
	off int64
}

func (o *IngestionOffset) Add(n int64) {
	o.mu.Lock()
	o.off += n
	o.mu.Unlock()
}

func (o *IngestionOffset) Get() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.off
}

// HandshakeResult carries what the replica learns from a successful
// handshake: the primary's replication id and the RDB payload sent with
// FULLRESYNC.
type HandshakeResult struct {
	ReplID string
	RDB    []byte
}

// Handshake drives the replica side of PING / REPLCONF listening-port /
// REPLCONF capa psync2 / PSYNC against an already-connected primary. Per
// SPEC_FULL §4.7, a replica always requests a fresh full resync — there
// is no partial resync or backlog to negotiate — so PSYNC always sends
// "? -1".
func Handshake(conn *connio.Connection, listeningPort int) (HandshakeResult, error) {
	if err := roundTrip(conn, frame.Array([]frame.Frame{frame.BulkString("PING")})); err != nil {
		return HandshakeResult{}, fmt.Errorf("replication: handshake PING: %w", err)
	}

	if err := roundTrip(conn, frame.Array([]frame.Frame{
		frame.BulkString("REPLCONF"), frame.BulkString("listening-port"),
		frame.BulkString(strconv.Itoa(listeningPort)),
	})); err != nil {
		return HandshakeResult{}, fmt.Errorf("replication: handshake REPLCONF listening-port: %w", err)
	}

	if err := roundTrip(conn, frame.Array([]frame.Frame{
		frame.BulkString("REPLCONF"), frame.BulkString("capa"), frame.BulkString("psync2"),
	})); err != nil {
		return HandshakeResult{}, fmt.Errorf("replication: handshake REPLCONF capa: %w", err)
	}

	if err := conn.WriteFrame(frame.Array([]frame.Frame{
		frame.BulkString("PSYNC"), frame.BulkString("?"), frame.BulkString("-1"),
	})); err != nil {
		return HandshakeResult{}, fmt.Errorf("replication: handshake PSYNC: %w", err)
	}
	reply, err := conn.ReadFrame()
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("replication: reading FULLRESYNC: %w", err)
	}
	replID, _, err := parseFullResync(reply)
	if err != nil {
		return HandshakeResult{}, err
	}

	rdbFrame, err := conn.ReadRDB()
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("replication: reading RDB payload: %w", err)
	}

	return HandshakeResult{ReplID: replID, RDB: rdbFrame.Payload}, nil
}

func roundTrip(conn *connio.Connection, req frame.Frame) error {
	if err := conn.WriteFrame(req); err != nil {
		return err
	}
	_, err := conn.ReadFrame()
	return err
}

func parseFullResync(f frame.Frame) (replID string, offset int64, err error) {
	if f.Kind != frame.KindSimple {
		return "", 0, fmt.Errorf("replication: expected +FULLRESYNC, got %v", f.Kind)
	}
	var off int64
	n, scanErr := fmt.Sscanf(f.Str, "FULLRESYNC %s %d", &replID, &off)
	if scanErr != nil || n != 2 {
		return "", 0, fmt.Errorf("replication: malformed FULLRESYNC reply %q", f.Str)
	}
	return replID, off, nil
}

// Backoffer gates reconnect attempts to the primary. SPEC_FULL §4.7
// adds this so a replica whose primary is unreachable retries at a
// bounded rate rather than busy-looping redials.
type Backoffer struct {
	limiter *rate.Limiter
}

// NewBackoffer allows one reconnect attempt immediately, then at most
// one every interval thereafter (a burst of 1).
func NewBackoffer(interval time.Duration) *Backoffer {
	return &Backoffer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// Wait blocks until the next reconnect attempt is permitted or ctx-less
// cancellation isn't needed because the caller loop owns retry lifetime;
// it simply sleeps out any throttling delay.
func (b *Backoffer) Wait() {
	r := b.limiter.Reserve()
	if !r.OK() {
		return
	}
	time.Sleep(r.Delay())
}
