package command_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"respkv/internal/command"
	"respkv/internal/connio"
	"respkv/internal/frame"
	"respkv/internal/replication"
	"respkv/internal/store"
)

func newTestConn(t *testing.T) *connio.Connection {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := b.Read(buf); err != nil {
				return
			}
		}
	}()
	return connio.New(a, "test")
}

func newDeps(t *testing.T, role command.Role) *command.Deps {
	t.Helper()
	st := store.New()
	t.Cleanup(st.Close)

	var primary *replication.Primary
	if role == command.RoleMaster {
		primary = replication.NewPrimary()
	}
	port := 0
	return &command.Deps{
		Store:         st,
		Primary:       primary,
		Role:          role,
		Dir:           ".",
		DBFile:        "dump.rdb",
		Snapshot:      func() []byte { return []byte("fake-rdb") },
		ListeningPort: &port,
	}
}

func req(args ...string) frame.Frame {
	items := make([]frame.Frame, len(args))
	for i, a := range args {
		items[i] = frame.BulkString(a)
	}
	return frame.Array(items)
}

func TestEcho(t *testing.T) {
	d := newDeps(t, command.RoleMaster)
	conn := newTestConn(t)
	resp, _ := command.Execute(d, conn, req("ECHO", "hello"))
	assert.Equal(t, frame.BulkString("hello"), resp)
}

func TestSetThenGet(t *testing.T) {
	d := newDeps(t, command.RoleMaster)
	conn := newTestConn(t)

	resp, _ := command.Execute(d, conn, req("SET", "foo", "bar"))
	assert.Equal(t, frame.Simple("OK"), resp)

	resp, _ = command.Execute(d, conn, req("GET", "foo"))
	assert.Equal(t, frame.BulkString("bar"), resp)
}

func TestSetWithPXExpires(t *testing.T) {
	d := newDeps(t, command.RoleMaster)
	conn := newTestConn(t)

	command.Execute(d, conn, req("SET", "k", "v", "PX", "100"))
	resp, _ := command.Execute(d, conn, req("GET", "k"))
	assert.Equal(t, frame.BulkString("v"), resp)

	time.Sleep(300 * time.Millisecond)
	resp, _ = command.Execute(d, conn, req("GET", "k"))
	assert.True(t, resp.IsNull())
}

func TestXAddAutoSeqMsZero(t *testing.T) {
	d := newDeps(t, command.RoleMaster)
	conn := newTestConn(t)

	resp, _ := command.Execute(d, conn, req("XADD", "s", "0-*", "f", "v"))
	assert.Equal(t, frame.BulkString("0-1"), resp)
}

func TestXAddRejectsRegress(t *testing.T) {
	d := newDeps(t, command.RoleMaster)
	conn := newTestConn(t)

	resp, _ := command.Execute(d, conn, req("XADD", "s", "5-0", "f", "v"))
	require.Equal(t, frame.KindBulk, resp.Kind)

	resp, _ = command.Execute(d, conn, req("XADD", "s", "5-0", "f", "v2"))
	require.Equal(t, frame.KindError, resp.Kind)
	assert.Equal(t, "ERR The ID specified in XADD is equal or smaller than the target stream top item", resp.Str)
}

func TestWaitWithZeroWritesReturnsTotalReplicas(t *testing.T) {
	d := newDeps(t, command.RoleMaster)
	conn1 := newTestConn(t)
	conn2 := newTestConn(t)
	conn3 := newTestConn(t)
	d.Primary.AddReplica(conn1, 1)
	d.Primary.AddReplica(conn2, 2)
	d.Primary.AddReplica(conn3, 3)

	start := time.Now()
	resp, _ := command.Execute(d, newTestConn(t), req("WAIT", "3", "500"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, frame.Int(3), resp)
}

func TestInfoReplicationMaster(t *testing.T) {
	d := newDeps(t, command.RoleMaster)
	conn := newTestConn(t)
	resp, _ := command.Execute(d, conn, req("INFO", "replication"))
	require.Equal(t, frame.KindBulk, resp.Kind)
	assert.Contains(t, string(resp.Bulk), "role:master")
}

func TestTypeCommand(t *testing.T) {
	d := newDeps(t, command.RoleMaster)
	conn := newTestConn(t)
	command.Execute(d, conn, req("SET", "k", "v"))
	resp, _ := command.Execute(d, conn, req("TYPE", "k"))
	assert.Equal(t, frame.Simple("string"), resp)

	resp, _ = command.Execute(d, conn, req("TYPE", "missing"))
	assert.Equal(t, frame.Simple("none"), resp)
}

func TestConfigGet(t *testing.T) {
	d := newDeps(t, command.RoleMaster)
	conn := newTestConn(t)
	resp, _ := command.Execute(d, conn, req("CONFIG", "GET", "dir"))
	assert.Equal(t, frame.Array([]frame.Frame{frame.BulkString("dir"), frame.BulkString(".")}), resp)
}

func TestUnknownCommand(t *testing.T) {
	d := newDeps(t, command.RoleMaster)
	conn := newTestConn(t)
	resp, _ := command.Execute(d, conn, req("NOPE"))
	assert.Equal(t, frame.KindError, resp.Kind)
}
