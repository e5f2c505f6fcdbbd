// Package replication implements the primary and replica sides of the
// replication protocol: replica bookkeeping, sequential write
// propagation, the WAIT rendezvous, and the replica handshake.
package replication

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"respkv/internal/connio"
	"respkv/internal/frame"
)

// ReplicaHandle is how the primary addresses one connected replica: its
// Connection handle (shared with that socket's reader/writer actors)
// plus the offset it last acknowledged.
type ReplicaHandle struct {
	Conn          *connio.Connection
	ListeningPort int

	mu     sync.Mutex
	acked  int64
}

func (r *ReplicaHandle) setAcked(n int64) {
	r.mu.Lock()
	r.acked = n
	r.mu.Unlock()
}

// AckedOffset returns the last offset this replica has confirmed via
// REPLCONF ACK.
func (r *ReplicaHandle) AckedOffset() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acked
}

// Primary tracks replication state for a server acting as master: the
// connected replica list, the cumulative propagated-byte offset, and the
// replication id handed out on every PSYNC.
type Primary struct {
	replID string

	mu       sync.Mutex
	offset   int64
	replicas []*ReplicaHandle

	ackWake chan struct{} // buffered 1, pulsed on every REPLCONF ACK
}

// NewPrimary creates a Primary with a freshly generated 40-character
// replication id.
func NewPrimary() *Primary {
	return &Primary{
		replID:  generateReplID(),
		ackWake: make(chan struct{}, 1),
	}
}

func generateReplID() string {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%040d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", b)
}

// ReplID returns the primary's 40-character replication id.
func (p *Primary) ReplID() string { return p.replID }

// Offset returns the current cumulative propagated-byte offset.
func (p *Primary) Offset() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset
}

// AddReplica registers conn as a replica, to be included in every
// subsequent Propagate and WAIT round. Called once a client completes
// PSYNC on that connection.
func (p *Primary) AddReplica(conn *connio.Connection, listeningPort int) *ReplicaHandle {
	r := &ReplicaHandle{Conn: conn, ListeningPort: listeningPort}
	p.mu.Lock()
	p.replicas = append(p.replicas, r)
	p.mu.Unlock()
	return r
}

// RemoveReplica drops conn from the replica list, e.g. once its
// connection closes.
func (p *Primary) RemoveReplica(conn *connio.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, r := range p.replicas {
		if r.Conn == conn {
			p.replicas = append(p.replicas[:i], p.replicas[i+1:]...)
			return
		}
	}
}

// Replicas returns a snapshot of the currently connected replica handles.
func (p *Primary) Replicas() []*ReplicaHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*ReplicaHandle, len(p.replicas))
	copy(out, p.replicas)
	return out
}

// Propagate sends a propagatable command frame to every connected
// replica, in list order, sequentially — preserving apply order across
// replicas (SPEC_FULL §9). The primary's offset is incremented by the
// frame's encoded length *before* propagation starts, so a concurrent
// GETACK response already reflects the post-write offset.
func (p *Primary) Propagate(cmd frame.Frame) {
	p.mu.Lock()
	p.offset += int64(frame.Len(cmd))
	replicas := make([]*ReplicaHandle, len(p.replicas))
	copy(replicas, p.replicas)
	p.mu.Unlock()

	for _, r := range replicas {
		_ = r.Conn.WriteFrame(cmd)
	}
}

// HandleAck records a replica's REPLCONF ACK offset and wakes any
// pending WAIT.
func (p *Primary) HandleAck(conn *connio.Connection, offset int64) {
	p.mu.Lock()
	for _, r := range p.replicas {
		if r.Conn == conn {
			r.setAcked(offset)
			break
		}
	}
	p.mu.Unlock()

	select {
	case p.ackWake <- struct{}{}:
	default:
	}
}

// getAckFrame is the fixed REPLCONF GETACK * request the primary
// broadcasts during WAIT.
var getAckFrame = frame.Array([]frame.Frame{
	frame.BulkString("REPLCONF"),
	frame.BulkString("GETACK"),
	frame.BulkString("*"),
})

// Wait implements the WAIT command: if the primary has never propagated
// a write, it returns the total replica count immediately. Otherwise it
// broadcasts REPLCONF GETACK * to every replica concurrently (unlike
// ordinary propagation, GETACK fan-out has no ordering requirement) and
// drains acknowledgements until numreplicas are caught up to the
// primary's current offset or timeout elapses, returning the count of
// replicas that are caught up.
func (p *Primary) Wait(numReplicas int, timeout time.Duration) int {
	p.mu.Lock()
	target := p.offset
	replicas := make([]*ReplicaHandle, len(p.replicas))
	copy(replicas, p.replicas)
	p.mu.Unlock()

	if target == 0 {
		return len(replicas)
	}

	satisfying := func() int {
		n := 0
		for _, r := range replicas {
			if r.AckedOffset() >= target {
				n++
			}
		}
		return n
	}

	if n := satisfying(); n >= numReplicas {
		return n
	}

	for _, r := range replicas {
		go func(r *ReplicaHandle) { _ = r.Conn.WriteFrame(getAckFrame) }(r)
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case <-p.ackWake:
			if n := satisfying(); n >= numReplicas {
				return n
			}
		case <-deadline:
			return satisfying()
		}
	}
}
