package store

import "time"

// entryType tags which variant of Entry a keyspace slot holds.
type entryType int

const (
	typeString entryType = iota
	typeStream
)

// entry is the tagged union backing every keyspace slot: a bulk string
// with an optional expiry deadline, or an append-only stream. Streams
// never expire.
type entry struct {
	typ    entryType
	str    stringValue
	stream *Stream
}

// stringValue carries the bulk payload, the monotonic id assigned at
// creation (used purely as a tiebreaker in the expiry index so a stale
// index row can be told apart from the entry it used to describe), and
// the optional absolute deadline.
type stringValue struct {
	data     []byte
	id       uint64
	deadline *time.Time
}

// TypeName returns the RESP TYPE name for a keyspace slot: "string",
// "stream", or "none" for a missing key.
func (e *entry) TypeName() string {
	if e == nil {
		return "none"
	}
	switch e.typ {
	case typeString:
		return "string"
	case typeStream:
		return "stream"
	default:
		return "none"
	}
}
