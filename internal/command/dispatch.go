// Package command maps a parsed client request to an executor. It holds
// two dispatch tables: the full client dialect, and a narrower one for
// commands a replica applies from its primary's replication stream.
package command

import (
	"fmt"
	"strings"

	"respkv/internal/connio"
	"respkv/internal/frame"
	"respkv/internal/parse"
	"respkv/internal/replication"
	"respkv/internal/store"
)

// Role distinguishes the two postures a server's Deps can be configured
// with: accepting propagation and serving replicas, or ingesting from a
// primary.
type Role int

const (
	RoleMaster Role = iota
	RoleReplica
)

// Deps bundles everything a command executor needs: the shared
// keyspace, this server's replication role and (if master) its replica
// bookkeeping, the CONFIG GET-visible dir/dbfilename pair, and a
// snapshot producer for PSYNC's RDB payload.
type Deps struct {
	Store   *store.Store
	Primary *replication.Primary // nil when Role == RoleReplica
	Role    Role
	Dir     string
	DBFile  string

	// Snapshot returns the RDB payload to send on PSYNC. Always called
	// fresh for every full resync.
	Snapshot func() []byte

	// ListeningPort is scratch state private to one connection: REPLCONF
	// listening-port stashes the replica's announced port here so the
	// later PSYNC on the same connection can register it.
	ListeningPort *int
}

// IsPropagatable reports whether cmd must be forwarded to replicas.
// Per SPEC_FULL only SET mutates the keyspace in a way replicas follow.
func IsPropagatable(cmd string) bool {
	return strings.EqualFold(cmd, "SET")
}

// Execute dispatches one client-facing request frame, returning the
// response to write back and the encoded byte length of the request
// (used for both primary offset accounting and parser-consumed-bytes
// bookkeeping). req must be an Array frame.
func Execute(d *Deps, conn *connio.Connection, req frame.Frame) (frame.Frame, int) {
	length := frame.Len(req)

	cur, err := parse.New(req)
	if err != nil {
		return frame.Err(fmt.Sprintf("ERR %s", err)), length
	}
	name, err := cur.NextString()
	if err != nil {
		return frame.Err("ERR empty command"), length
	}

	var resp frame.Frame
	switch strings.ToUpper(name) {
	case "PING":
		resp = cmdPing(cur)
	case "ECHO":
		resp = cmdEcho(cur)
	case "GET":
		resp = cmdGet(d, cur)
	case "SET":
		resp = cmdSet(d, cur, req)
	case "KEYS":
		resp = cmdKeys(d, cur)
	case "TYPE":
		resp = cmdType(d, cur)
	case "INFO":
		resp = cmdInfo(d, cur)
	case "CONFIG":
		resp = cmdConfig(d, cur)
	case "REPLCONF":
		resp = cmdReplconf(d, conn, cur)
	case "PSYNC":
		resp = cmdPsync(d, conn, cur)
	case "WAIT":
		resp = cmdWait(d, cur)
	case "XADD":
		resp = cmdXAdd(d, cur)
	case "XRANGE":
		resp = cmdXRange(d, cur)
	case "XREAD":
		resp = cmdXRead(d, cur)
	default:
		resp = frame.Err(fmt.Sprintf("ERR unknown command '%s'", name))
	}

	return resp, length
}

func argErr(cmd string) frame.Frame {
	return frame.Err(fmt.Sprintf("ERR wrong number of arguments for '%s' command", strings.ToLower(cmd)))
}
