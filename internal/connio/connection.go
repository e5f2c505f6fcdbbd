// Package connio implements the per-socket concurrency substrate: a
// reader actor, a writer actor, and a cloneable Connection handle that
// talks to both over bounded message queues. Command handlers, the
// replication propagator, and WAIT all address a replica purely through
// a Connection handle — none of them ever touch the raw net.Conn.
package connio

import (
	"bufio"
	"net"
	"sync"

	"respkv/internal/frame"
)

const queueDepth = 32

type readRequest struct {
	rdb   bool
	reply chan readResult
}

type readResult struct {
	frame frame.Frame
	err   error
}

type writeRequest struct {
	frame frame.Frame
	reply chan error
}

// Connection is a lightweight handle onto one TCP socket's reader and
// writer actors. It is cheap to copy: every field is a channel or an
// already-shared pointer, so clones observe the same underlying socket.
type Connection struct {
	id       string
	addr     string
	readReq  chan readRequest
	writeReq chan writeRequest
	closed   *closeState
}

type closeState struct {
	mu   sync.Mutex
	once sync.Once
	conn net.Conn
	err  error
}

// New splits conn into a reader actor and a writer actor and returns a
// handle onto both. id is an opaque label (see SPEC_FULL §3) used only
// for logging and metrics.
func New(conn net.Conn, id string) *Connection {
	c := &Connection{
		id:       id,
		addr:     conn.RemoteAddr().String(),
		readReq:  make(chan readRequest, queueDepth),
		writeReq: make(chan writeRequest, queueDepth),
		closed:   &closeState{conn: conn},
	}
	go c.readerActor(conn)
	go c.writerActor(conn)
	return c
}

func (c *Connection) ID() string   { return c.id }
func (c *Connection) Addr() string { return c.addr }

// Close shuts down the underlying socket. The reader actor's next read
// fails, which ends the handler's loop; the writer actor exits once its
// queue drains and the socket error surfaces.
func (c *Connection) Close() error {
	c.closed.once.Do(func() {
		c.closed.err = c.closed.conn.Close()
	})
	return c.closed.err
}

func (c *Connection) readerActor(conn net.Conn) {
	br := bufio.NewReader(conn)
	for req := range c.readReq {
		var res readResult
		if req.rdb {
			res.frame, res.err = frame.DecodeRDB(br)
		} else {
			res.frame, res.err = frame.Decode(br)
		}
		req.reply <- res
	}
}

func (c *Connection) writerActor(conn net.Conn) {
	bw := bufio.NewWriter(conn)
	for req := range c.writeReq {
		err := frame.Encode(bw, req.frame)
		if err == nil {
			err = bw.Flush()
		}
		req.reply <- err
	}
}

// ReadFrame decodes and returns the next frame from the socket.
func (c *Connection) ReadFrame() (frame.Frame, error) {
	reply := make(chan readResult, 1)
	c.readReq <- readRequest{reply: reply}
	res := <-reply
	return res.frame, res.err
}

// ReadRDB decodes exactly one trailer-less `$len\r\n<payload>` blob, used
// once per replica right after FULLRESYNC.
func (c *Connection) ReadRDB() (frame.Frame, error) {
	reply := make(chan readResult, 1)
	c.readReq <- readRequest{rdb: true, reply: reply}
	res := <-reply
	return res.frame, res.err
}

// WriteFrame encodes and flushes f to the socket. Safe to call
// concurrently with other WriteFrame calls on clones of the same handle
// — the writer actor serializes them.
func (c *Connection) WriteFrame(f frame.Frame) error {
	reply := make(chan error, 1)
	c.writeReq <- writeRequest{frame: f, reply: reply}
	return <-reply
}
