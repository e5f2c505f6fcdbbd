package store

import (
	"container/heap"
	"time"
)

// expiryRow is one row of the deadline-ordered index: (deadline, id) -> key.
// id mirrors the string entry's id at the moment the row was installed so
// the reaper can recognize a row as stale without a second map lookup
// race: if the live entry's id no longer matches, the key was overwritten
// (or removed) since this row was scheduled and the row is simply dropped.
type expiryRow struct {
	deadline time.Time
	id       uint64
	key      string
}

// expiryIndex is a min-heap ordered by deadline, the ordered index
// described in the data model.
type expiryIndex []expiryRow

func (h expiryIndex) Len() int { return len(h) }
func (h expiryIndex) Less(i, j int) bool {
	return h[i].deadline.Before(h[j].deadline)
}
func (h expiryIndex) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *expiryIndex) Push(x any)   { *h = append(*h, x.(expiryRow)) }
func (h *expiryIndex) Pop() any {
	old := *h
	n := len(old)
	row := old[n-1]
	*h = old[:n-1]
	return row
}

func (h *expiryIndex) insert(row expiryRow) { heap.Push(h, row) }

// peek returns the earliest row without removing it.
func (h expiryIndex) peek() (expiryRow, bool) {
	if len(h) == 0 {
		return expiryRow{}, false
	}
	return h[0], true
}

func (h *expiryIndex) popEarliest() expiryRow {
	return heap.Pop(h).(expiryRow)
}
