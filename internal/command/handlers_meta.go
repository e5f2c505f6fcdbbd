package command

import (
	"fmt"

	"respkv/internal/frame"
	"respkv/internal/parse"
)

func cmdPing(cur *parse.Cursor) frame.Frame {
	if cur.Remaining() == 0 {
		return frame.Simple("PONG")
	}
	msg, err := cur.NextString()
	if err != nil {
		return argErr("PING")
	}
	return frame.BulkString(msg)
}

func cmdEcho(cur *parse.Cursor) frame.Frame {
	msg, err := cur.NextString()
	if err != nil {
		return argErr("ECHO")
	}
	return frame.BulkString(msg)
}

func cmdKeys(d *Deps, cur *parse.Cursor) frame.Frame {
	pattern, err := cur.NextString()
	if err != nil {
		return argErr("KEYS")
	}
	if pattern != "*" {
		return frame.Err("ERR KEYS only supports the '*' pattern")
	}
	keys := d.Store.Keys()
	items := make([]frame.Frame, len(keys))
	for i, k := range keys {
		items[i] = frame.BulkString(k)
	}
	return frame.Array(items)
}

func cmdType(d *Deps, cur *parse.Cursor) frame.Frame {
	key, err := cur.NextString()
	if err != nil {
		return argErr("TYPE")
	}
	return frame.Simple(d.Store.GetType(key))
}

func cmdInfo(d *Deps, cur *parse.Cursor) frame.Frame {
	// The only recognized section is "replication"; any other argument
	// (or none) still yields the replication section, matching the
	// dialect this server actually serves.
	_, _ = cur.NextString()

	if d.Role == RoleReplica {
		return frame.BulkString("role:slave\r\n")
	}
	body := fmt.Sprintf("role:master\r\nmaster_replid:%s\r\nmaster_repl_offset:%d\r\n",
		d.Primary.ReplID(), d.Primary.Offset())
	return frame.BulkString(body)
}

func cmdConfig(d *Deps, cur *parse.Cursor) frame.Frame {
	sub, err := cur.NextString()
	if err != nil {
		return argErr("CONFIG")
	}
	if sub != "GET" && sub != "get" {
		return frame.Err("ERR unsupported CONFIG subcommand")
	}
	name, err := cur.NextString()
	if err != nil {
		return argErr("CONFIG")
	}
	var value string
	switch name {
	case "dir":
		value = d.Dir
	case "dbfilename":
		value = d.DBFile
	default:
		return frame.Array(nil)
	}
	return frame.Array([]frame.Frame{frame.BulkString(name), frame.BulkString(value)})
}
