package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"respkv/internal/connio"
	"respkv/internal/frame"
	"respkv/internal/parse"
)

func cmdReplconf(d *Deps, conn *connio.Connection, cur *parse.Cursor) frame.Frame {
	sub, err := cur.NextString()
	if err != nil {
		return argErr("REPLCONF")
	}
	switch strings.ToUpper(sub) {
	case "LISTENING-PORT":
		portStr, err := cur.NextString()
		if err != nil {
			return argErr("REPLCONF")
		}
		if d.ListeningPort != nil {
			if port, err := strconv.Atoi(portStr); err == nil {
				*d.ListeningPort = port
			}
		}
		return frame.Simple("OK")
	case "CAPA":
		return frame.Simple("OK")
	case "GETACK":
		// Only meaningful primary->replica; a client sending this gets a
		// harmless OK rather than a protocol error.
		return frame.Simple("OK")
	case "ACK":
		n, err := cur.NextUint()
		if err != nil {
			return argErr("REPLCONF")
		}
		if d.Primary != nil {
			d.Primary.HandleAck(conn, int64(n))
		}
		return frame.NoSend()
	default:
		return frame.Err("ERR unknown REPLCONF subcommand")
	}
}

func cmdPsync(d *Deps, conn *connio.Connection, cur *parse.Cursor) frame.Frame {
	if _, err := cur.NextString(); err != nil { // replid, ignored
		return argErr("PSYNC")
	}
	if _, err := cur.NextString(); err != nil { // offset, ignored
		return argErr("PSYNC")
	}
	if d.Primary == nil {
		return frame.Err("ERR PSYNC against a replica is not supported")
	}

	payload := d.Snapshot()
	header := fmt.Sprintf("FULLRESYNC %s 0", d.Primary.ReplID())

	port := 0
	if d.ListeningPort != nil {
		port = *d.ListeningPort
	}
	d.Primary.AddReplica(conn, port)

	return frame.Rdb(header, payload)
}

func cmdWait(d *Deps, cur *parse.Cursor) frame.Frame {
	n, err := cur.NextUint()
	if err != nil {
		return argErr("WAIT")
	}
	ms, err := cur.NextUint()
	if err != nil {
		return argErr("WAIT")
	}
	if d.Primary == nil {
		return frame.Int(0)
	}
	got := d.Primary.Wait(int(n), time.Duration(ms)*time.Millisecond)
	return frame.Int(int64(got))
}

// ExecuteReplicaWrite dispatches one frame received from the primary's
// replication stream. Only SET, REPLCONF, and PING are recognized; the
// response is meaningful only for REPLCONF GETACK, which must answer
// with the replica's current ingestion offset (currentOffset, already
// advanced by the caller to include this very frame). Every other
// command replies NoSend.
func ExecuteReplicaWrite(d *Deps, currentOffset int64, req frame.Frame) (frame.Frame, error) {
	cur, err := parse.New(req)
	if err != nil {
		return frame.NoSend(), err
	}
	name, err := cur.NextString()
	if err != nil {
		return frame.NoSend(), err
	}

	switch strings.ToUpper(name) {
	case "PING":
		return frame.NoSend(), nil
	case "SET":
		resp := cmdSet(d, cur, req)
		if resp.Kind == frame.KindError {
			return frame.NoSend(), fmt.Errorf("replication: applying SET: %s", resp.Str)
		}
		return frame.NoSend(), nil
	case "REPLCONF":
		sub, err := cur.NextString()
		if err != nil {
			return frame.NoSend(), nil
		}
		if strings.ToUpper(sub) != "GETACK" {
			return frame.NoSend(), nil
		}
		return frame.Array([]frame.Frame{
			frame.BulkString("REPLCONF"),
			frame.BulkString("ACK"),
			frame.BulkString(strconv.FormatInt(currentOffset, 10)),
		}), nil
	default:
		return frame.NoSend(), fmt.Errorf("replication: unsupported command %q from primary", name)
	}
}
