// Package store implements the keyspace engine: a shared map of typed
// entries (bulk strings with optional TTL, append-only streams) behind a
// single mutex, a deadline-ordered expiry index with a background
// reaper, and blocking XREAD support.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrWrongType  = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	ErrCancelled  = errors.New("store: xread cancelled")
	ErrBadIDOrder = errors.New("ERR The ID specified in XADD is equal or smaller than the target stream top item")
)

// Store is the single shared keyspace. One mutex guards every field;
// critical sections never perform I/O or block on a channel send to an
// unbounded consumer, so it is safe to hold across the small operations
// below.
type Store struct {
	mu      sync.Mutex
	data    map[string]*entry
	expiry  expiryIndex
	nextSeq uint64

	// streamCreated is closed and replaced whenever a key that did not
	// previously hold a stream gains one, so an XREAD BLOCK waiting on a
	// not-yet-existing stream can be woken by its first XADD.
	streamCreated chan struct{}

	reaperWake chan struct{} // buffered 1, pulsed to nudge the reaper early
	closing    chan struct{}
	closed     bool
	reaperDone chan struct{}
}

// New creates an empty store and starts its background expiry reaper.
func New() *Store {
	s := &Store{
		data:          make(map[string]*entry),
		streamCreated: make(chan struct{}),
		reaperWake:    make(chan struct{}, 1),
		closing:       make(chan struct{}),
		reaperDone:    make(chan struct{}),
	}
	go s.reapLoop()
	return s
}

// Close stops the background reaper and releases held entries. Safe to
// call once.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.data = nil
	close(s.closing)
	s.mu.Unlock()
	<-s.reaperDone
}

func (s *Store) nextID() uint64 {
	s.nextSeq++
	return s.nextSeq
}

// Set overwrites any prior entry at key with a new string value. If ttl
// is non-nil the deadline is now+ttl, installed in the expiry index; an
// earlier-than-current deadline wakes the reaper. A prior expiring entry
// at the same key becomes stale in the index (different id) and is
// dropped lazily by the reaper rather than removed here — see
// SPEC_FULL §3 invariants.
func (s *Store) Set(key string, value []byte, ttl *time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID()
	var deadline *time.Time
	if ttl != nil {
		d := time.Now().Add(*ttl)
		deadline = &d
	}

	s.data[key] = &entry{typ: typeString, str: stringValue{data: value, id: id, deadline: deadline}}

	if deadline != nil {
		earliest, hadEarliest := s.expiry.peek()
		s.expiry.insert(expiryRow{deadline: *deadline, id: id, key: key})
		if !hadEarliest || deadline.Before(earliest.deadline) {
			s.wakeReaperLocked()
		}
	}
}

func (s *Store) wakeReaperLocked() {
	select {
	case s.reaperWake <- struct{}{}:
	default:
	}
}

// Get returns the current string value at key. It does not lazily
// expire keys — only the reaper deletes entries.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok || e.typ != typeString {
		return nil, false
	}
	return e.str.data, true
}

// GetType returns "string", "stream", or "none".
func (s *Store) GetType(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key].TypeName()
}

// Keys returns a snapshot of all current keys, unordered.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// Remove deletes the entry at key, if any, and reports whether it
// existed.
func (s *Store) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.data[key]
	if ok {
		delete(s.data, key)
	}
	return ok
}

// reapLoop is the background expiry reaper described in SPEC_FULL §4.3.2.
func (s *Store) reapLoop() {
	defer close(s.reaperDone)

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}

		row, ok := s.expiry.peek()
		if !ok {
			s.mu.Unlock()
			select {
			case <-s.reaperWake:
			case <-s.closing:
				return
			}
			continue
		}

		now := time.Now()
		if row.deadline.After(now) {
			wait := row.deadline.Sub(now)
			s.mu.Unlock()
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-s.reaperWake:
				timer.Stop()
			case <-s.closing:
				timer.Stop()
				return
			}
			continue
		}

		// Deadline has passed: pop it and act only if it still describes
		// the live entry. A mismatched id means the key was overwritten
		// or removed since this row was scheduled — just drop the row.
		s.expiry.popEarliest()
		if e, exists := s.data[row.key]; exists && e.typ == typeString && e.str.id == row.id {
			delete(s.data, row.key)
		}
		s.mu.Unlock()
	}
}

// --- streams ---

// IDSpec selects how XADD assigns a new entry's id.
type IDSpec struct {
	Auto     bool   // "*"
	AutoSeq  bool   // "<ms>-*"
	Ms       uint64
	Seq      uint64
	Explicit bool // "<ms>-<seq>"
}

// XAdd appends fields to the stream at key, creating it if absent, and
// returns the assigned id. key must not already hold a non-stream entry.
func (s *Store) XAdd(key string, spec IDSpec, fields []Field) (StreamEntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if ok && e.typ != typeStream {
		return StreamEntryID{}, ErrWrongType
	}
	if !ok {
		e = &entry{typ: typeStream, stream: newStream()}
		s.data[key] = e
		s.bumpStreamCreatedLocked()
	}

	id, err := nextStreamID(e.stream, spec)
	if err != nil {
		return StreamEntryID{}, err
	}

	e.stream.append(id, fields)
	return id, nil
}

func (s *Store) bumpStreamCreatedLocked() {
	close(s.streamCreated)
	s.streamCreated = make(chan struct{})
}

func nextStreamID(st *Stream, spec IDSpec) (StreamEntryID, error) {
	switch {
	case spec.Auto:
		ms := uint64(time.Now().UnixMilli())
		seq := st.seqForMs(ms)
		id := StreamEntryID{Ms: ms, Seq: seq}
		return validateMonotonic(st, id)
	case spec.AutoSeq:
		seq := st.seqForMs(spec.Ms)
		if spec.Ms == 0 {
			seq++
		}
		id := StreamEntryID{Ms: spec.Ms, Seq: seq}
		return validateMonotonic(st, id)
	case spec.Explicit:
		id := StreamEntryID{Ms: spec.Ms, Seq: spec.Seq}
		if id == minID {
			return StreamEntryID{}, ErrBadIDOrder
		}
		if st.hasLast {
			if id.Ms < st.lastID.Ms {
				return StreamEntryID{}, ErrBadIDOrder
			}
			if id.Ms == st.lastID.Ms && id.Seq <= st.lastID.Seq {
				return StreamEntryID{}, ErrBadIDOrder
			}
		}
		return id, nil
	default:
		return StreamEntryID{}, fmt.Errorf("store: empty id spec")
	}
}

// validateMonotonic guards the Auto/AutoSeq paths against a clock that
// has not advanced past the stream's last ms and would otherwise
// produce a non-increasing id.
func validateMonotonic(st *Stream, id StreamEntryID) (StreamEntryID, error) {
	if !st.hasLast {
		if id == minID {
			id.Seq = 1
		}
		return id, nil
	}
	if id.Ms < st.lastID.Ms || (id.Ms == st.lastID.Ms && id.Seq <= st.lastID.Seq) {
		return StreamEntryID{}, ErrBadIDOrder
	}
	return id, nil
}

// XRange returns entries of the stream at key with id in [start, end]
// in order. A nil start means (0,0); a nil end means (max,max).
func (s *Store) XRange(key string, start, end *StreamEntryID) ([]StreamEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	if e.typ != typeStream {
		return nil, ErrWrongType
	}
	lo, hi := minID, maxID
	if start != nil {
		lo = *start
	}
	if end != nil {
		hi = *end
	}
	return e.stream.rangeBetween(lo, hi), nil
}

// XReadResult is one stream's worth of new entries from XRead.
type XReadResult struct {
	Key     string
	Entries []StreamEntry
}

// XRead returns, for each key, entries with id strictly greater than the
// paired floor. If block is non-nil and the initial snapshot is empty,
// it waits for any of the named streams to receive a new entry (or,
// when *block > 0, for that many milliseconds to elapse — *block == 0
// means wait indefinitely) before re-snapshotting once and returning.
// cancel, if non-nil, aborts an indefinite or timed wait early (e.g. the
// client connection closed) and returns ErrCancelled.
func (s *Store) XRead(keys []string, floors []StreamEntryID, block *time.Duration, cancel <-chan struct{}) ([]XReadResult, error) {
	if len(keys) != len(floors) {
		return nil, fmt.Errorf("store: keys/floors length mismatch")
	}

	s.mu.Lock()
	out := s.snapshotXReadLocked(keys, floors)
	if len(out) > 0 || block == nil {
		s.mu.Unlock()
		return out, nil
	}

	chans := make([]chan struct{}, 0, len(keys)+1)
	for _, k := range keys {
		if e, ok := s.data[k]; ok && e.typ == typeStream {
			chans = append(chans, e.stream.waitCh)
		}
	}
	chans = append(chans, s.streamCreated)
	s.mu.Unlock()

	if err := waitAny(chans, *block, cancel); err != nil {
		return nil, err
	}

	s.mu.Lock()
	out = s.snapshotXReadLocked(keys, floors)
	s.mu.Unlock()
	return out, nil
}

func (s *Store) snapshotXReadLocked(keys []string, floors []StreamEntryID) []XReadResult {
	var out []XReadResult
	for i, k := range keys {
		e, ok := s.data[k]
		if !ok || e.typ != typeStream {
			continue
		}
		entries := e.stream.after(floors[i])
		if len(entries) > 0 {
			out = append(out, XReadResult{Key: k, Entries: entries})
		}
	}
	return out
}

// waitAny blocks until one of chans closes, the timeout elapses
// (timeout == 0 means no timeout), or cancel fires.
func waitAny(chans []chan struct{}, timeout time.Duration, cancel <-chan struct{}) error {
	woken := make(chan struct{})
	stop := make(chan struct{})
	var once sync.Once
	var wg sync.WaitGroup
	for _, ch := range chans {
		wg.Add(1)
		go func(ch chan struct{}) {
			defer wg.Done()
			select {
			case <-ch:
				once.Do(func() { close(woken) })
			case <-stop:
			}
		}(ch)
	}
	defer func() { close(stop); wg.Wait() }()

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-woken:
		case <-timer.C:
		case <-cancel:
			return ErrCancelled
		}
		return nil
	}

	select {
	case <-woken:
	case <-cancel:
		return ErrCancelled
	}
	return nil
}

// GetStreamsLastIDs returns the last id of each named stream, used for
// resolving XREAD's "$" start-id form. A missing or non-stream key
// yields the zero id.
func (s *Store) GetStreamsLastIDs(keys []string) []StreamEntryID {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]StreamEntryID, len(keys))
	for i, k := range keys {
		if e, ok := s.data[k]; ok && e.typ == typeStream && e.stream.hasLast {
			out[i] = e.stream.lastID
		}
	}
	return out
}

// Snapshot returns a point-in-time copy of every live string key's value
// and expiry deadline, in the shape rdbsnap.Encode writes to the on-disk
// snapshot file; PSYNC never sends it. Streams are not included
// (SPEC_FULL §3, Open Question (a)).
func (s *Store) Snapshot() map[string]StringSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]StringSnapshot, len(s.data))
	for k, e := range s.data {
		if e.typ != typeString {
			continue
		}
		var deadline *time.Time
		if e.str.deadline != nil {
			d := *e.str.deadline
			deadline = &d
		}
		out[k] = StringSnapshot{Value: append([]byte(nil), e.str.data...), Deadline: deadline}
	}
	return out
}

// StringSnapshot is one key's worth of Snapshot output.
type StringSnapshot struct {
	Value    []byte
	Deadline *time.Time
}

// Load installs key/value pairs from the on-disk snapshot read at
// startup; a replica's full resync payload is never loaded. Past-expiry entries are
// skipped per SPEC_FULL §4.7 step 3.
func (s *Store) Load(entries map[string]StringSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, v := range entries {
		if v.Deadline != nil && !v.Deadline.After(now) {
			continue
		}
		id := s.nextID()
		s.data[k] = &entry{typ: typeString, str: stringValue{data: v.Value, id: id, deadline: v.Deadline}}
		if v.Deadline != nil {
			s.expiry.insert(expiryRow{deadline: *v.Deadline, id: id, key: k})
		}
	}
}
