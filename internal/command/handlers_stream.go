package command

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"respkv/internal/frame"
	"respkv/internal/parse"
	"respkv/internal/store"
)

func cmdXAdd(d *Deps, cur *parse.Cursor) frame.Frame {
	key, err := cur.NextString()
	if err != nil {
		return argErr("XADD")
	}
	idArg, err := cur.NextString()
	if err != nil {
		return argErr("XADD")
	}
	spec, err := parseIDSpec(idArg)
	if err != nil {
		return frame.Err(err.Error())
	}

	var fields []store.Field
	for cur.Remaining() > 0 {
		name, err := cur.NextString()
		if err != nil {
			return argErr("XADD")
		}
		value, err := cur.NextBytes()
		if err != nil {
			return argErr("XADD")
		}
		fields = append(fields, store.Field{Name: name, Value: value})
	}
	if len(fields) == 0 {
		return argErr("XADD")
	}

	id, err := d.Store.XAdd(key, spec, fields)
	if err != nil {
		return frame.Err(errToRESP(err))
	}
	return frame.BulkString(formatID(id))
}

// parseIDSpec recognizes "*", "<ms>-*", and "<ms>-<seq>".
func parseIDSpec(s string) (store.IDSpec, error) {
	if s == "*" {
		return store.IDSpec{Auto: true}, nil
	}
	parts := strings.SplitN(s, "-", 2)
	ms, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return store.IDSpec{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}
	if len(parts) == 1 {
		return store.IDSpec{Explicit: true, Ms: ms, Seq: 0}, nil
	}
	if parts[1] == "*" {
		return store.IDSpec{AutoSeq: true, Ms: ms}, nil
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return store.IDSpec{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}
	return store.IDSpec{Explicit: true, Ms: ms, Seq: seq}, nil
}

func formatID(id store.StreamEntryID) string {
	return fmt.Sprintf("%d-%d", id.Ms, id.Seq)
}

func parseFullID(s string, defSeq uint64) (store.StreamEntryID, error) {
	parts := strings.SplitN(s, "-", 2)
	ms, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return store.StreamEntryID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
	}
	seq := defSeq
	if len(parts) == 2 {
		seq, err = strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return store.StreamEntryID{}, fmt.Errorf("ERR Invalid stream ID specified as stream command argument")
		}
	}
	return store.StreamEntryID{Ms: ms, Seq: seq}, nil
}

func errToRESP(err error) string {
	msg := err.Error()
	if strings.HasPrefix(msg, "ERR ") {
		return msg
	}
	return "ERR " + msg
}

func cmdXRange(d *Deps, cur *parse.Cursor) frame.Frame {
	key, err := cur.NextString()
	if err != nil {
		return argErr("XRANGE")
	}
	startArg, err := cur.NextString()
	if err != nil {
		return argErr("XRANGE")
	}
	endArg, err := cur.NextString()
	if err != nil {
		return argErr("XRANGE")
	}

	var start, end *store.StreamEntryID
	if startArg != "-" {
		id, err := parseFullID(startArg, 0)
		if err != nil {
			return frame.Err(err.Error())
		}
		start = &id
	}
	if endArg != "+" {
		id, err := parseFullID(endArg, ^uint64(0))
		if err != nil {
			return frame.Err(err.Error())
		}
		end = &id
	}

	entries, err := d.Store.XRange(key, start, end)
	if err != nil {
		return frame.Err(errToRESP(err))
	}
	return encodeStreamEntries(entries)
}

func encodeStreamEntries(entries []store.StreamEntry) frame.Frame {
	items := make([]frame.Frame, len(entries))
	for i, e := range entries {
		fieldItems := make([]frame.Frame, 0, len(e.Fields)*2)
		for _, f := range e.Fields {
			fieldItems = append(fieldItems, frame.BulkString(f.Name), frame.Bulk(f.Value))
		}
		items[i] = frame.Array([]frame.Frame{
			frame.BulkString(formatID(e.ID)),
			frame.Array(fieldItems),
		})
	}
	return frame.Array(items)
}

// cmdXRead handles XREAD [BLOCK ms] STREAMS key... id...
func cmdXRead(d *Deps, cur *parse.Cursor) frame.Frame {
	var block *time.Duration
	if peek, ok := cur.PeekString(); ok && strings.EqualFold(peek, "BLOCK") {
		_, _ = cur.NextString()
		ms, err := cur.NextUint()
		if err != nil {
			return argErr("XREAD")
		}
		dur := time.Duration(ms) * time.Millisecond
		block = &dur
	}

	kw, err := cur.NextString()
	if err != nil || !strings.EqualFold(kw, "STREAMS") {
		return frame.Err("ERR syntax error")
	}

	var tokens []string
	for cur.Remaining() > 0 {
		tok, err := cur.NextString()
		if err != nil {
			return argErr("XREAD")
		}
		tokens = append(tokens, tok)
	}
	if len(tokens)%2 != 0 || len(tokens) == 0 {
		return frame.Err("ERR Unbalanced XREAD list of streams: for each stream key an ID or '$' must be specified.")
	}
	n := len(tokens) / 2
	keys := tokens[:n]
	idArgs := tokens[n:]

	floors := make([]store.StreamEntryID, n)
	dollarIdx := make([]int, 0)
	for i, a := range idArgs {
		if a == "$" {
			dollarIdx = append(dollarIdx, i)
			continue
		}
		id, err := parseFullID(a, ^uint64(0))
		if err != nil {
			return frame.Err(err.Error())
		}
		floors[i] = id
	}
	if len(dollarIdx) > 0 {
		dollarKeys := make([]string, len(dollarIdx))
		for j, i := range dollarIdx {
			dollarKeys[j] = keys[i]
		}
		last := d.Store.GetStreamsLastIDs(dollarKeys)
		for j, i := range dollarIdx {
			floors[i] = last[j]
		}
	}

	results, err := d.Store.XRead(keys, floors, block, nil)
	if err != nil {
		return frame.Err(errToRESP(err))
	}
	if len(results) == 0 {
		return frame.NullBulk()
	}

	items := make([]frame.Frame, len(results))
	for i, r := range results {
		items[i] = frame.Array([]frame.Frame{
			frame.BulkString(r.Key),
			encodeStreamEntries(r.Entries),
		})
	}
	return frame.Array(items)
}
