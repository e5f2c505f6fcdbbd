package command

import (
	"strings"
	"time"

	"respkv/internal/frame"
	"respkv/internal/parse"
)

func cmdGet(d *Deps, cur *parse.Cursor) frame.Frame {
	key, err := cur.NextString()
	if err != nil {
		return argErr("GET")
	}
	v, ok := d.Store.Get(key)
	if !ok {
		return frame.NullBulk()
	}
	return frame.Bulk(v)
}

// cmdSet handles SET k v [EX seconds | PX millis]. On a master, a
// successful write is propagated to every connected replica before the
// response is computed — the offset is advanced first (see
// replication.Primary.Propagate) so a concurrent GETACK already quotes
// the new value.
func cmdSet(d *Deps, cur *parse.Cursor, req frame.Frame) frame.Frame {
	key, err := cur.NextString()
	if err != nil {
		return argErr("SET")
	}
	value, err := cur.NextBytes()
	if err != nil {
		return argErr("SET")
	}

	var ttl *time.Duration
	if cur.Remaining() > 0 {
		opt, err := cur.NextString()
		if err != nil {
			return argErr("SET")
		}
		switch strings.ToUpper(opt) {
		case "EX":
			secs, err := cur.NextUint()
			if err != nil {
				return frame.Err("ERR value is not an integer or out of range")
			}
			dur := time.Duration(secs) * time.Second
			ttl = &dur
		case "PX":
			ms, err := cur.NextUint()
			if err != nil {
				return frame.Err("ERR value is not an integer or out of range")
			}
			dur := time.Duration(ms) * time.Millisecond
			ttl = &dur
		default:
			return frame.Err("ERR syntax error")
		}
	}
	if err := cur.Finish(); err != nil {
		return frame.Err("ERR syntax error")
	}

	d.Store.Set(key, value, ttl)

	if d.Role == RoleMaster && d.Primary != nil {
		d.Primary.Propagate(req)
	}

	return frame.Simple("OK")
}
