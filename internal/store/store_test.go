package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"respkv/internal/store"
)

func TestSetGet(t *testing.T) {
	s := store.New()
	defer s.Close()

	s.Set("foo", []byte("bar"), nil)
	v, ok := s.Get("foo")
	require.True(t, ok)
	assert.Equal(t, []byte("bar"), v)
}

func TestGetIdempotent(t *testing.T) {
	s := store.New()
	defer s.Close()

	s.Set("foo", []byte("bar"), nil)
	v1, _ := s.Get("foo")
	v2, _ := s.Get("foo")
	assert.Equal(t, v1, v2)
}

func TestGetMissing(t *testing.T) {
	s := store.New()
	defer s.Close()

	_, ok := s.Get("nope")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	s := store.New()
	defer s.Close()

	ttl := 100 * time.Millisecond
	s.Set("k", []byte("v"), &ttl)

	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	time.Sleep(300 * time.Millisecond)
	_, ok = s.Get("k")
	assert.False(t, ok)
}

func TestOverwriteDropsOldExpiry(t *testing.T) {
	s := store.New()
	defer s.Close()

	ttl := 100 * time.Millisecond
	s.Set("k", []byte("v1"), &ttl)
	s.Set("k", []byte("v2"), nil) // overwritten with no TTL

	time.Sleep(300 * time.Millisecond)
	v, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), v)
}

func TestGetType(t *testing.T) {
	s := store.New()
	defer s.Close()

	assert.Equal(t, "none", s.GetType("missing"))

	s.Set("str", []byte("v"), nil)
	assert.Equal(t, "string", s.GetType("str"))

	_, err := s.XAdd("strm", store.IDSpec{Auto: true}, []store.Field{{Name: "f", Value: []byte("v")}})
	require.NoError(t, err)
	assert.Equal(t, "stream", s.GetType("strm"))
}

func TestXAddOrderingStrictlyIncreases(t *testing.T) {
	s := store.New()
	defer s.Close()

	id1, err := s.XAdd("s", store.IDSpec{Explicit: true, Ms: 5, Seq: 0}, []store.Field{{Name: "f", Value: []byte("1")}})
	require.NoError(t, err)

	_, err = s.XAdd("s", store.IDSpec{Explicit: true, Ms: 5, Seq: 0}, []store.Field{{Name: "f", Value: []byte("2")}})
	assert.ErrorIs(t, err, store.ErrBadIDOrder)

	id2, err := s.XAdd("s", store.IDSpec{Explicit: true, Ms: 5, Seq: 1}, []store.Field{{Name: "f", Value: []byte("3")}})
	require.NoError(t, err)
	assert.True(t, id1.Less(id2))
}

func TestXAddExplicitZeroZeroRejected(t *testing.T) {
	s := store.New()
	defer s.Close()

	_, err := s.XAdd("s", store.IDSpec{Explicit: true, Ms: 0, Seq: 0}, []store.Field{{Name: "f", Value: []byte("v")}})
	assert.ErrorIs(t, err, store.ErrBadIDOrder)
}

func TestXAddAutoSeqMsZeroSkipsZeroZero(t *testing.T) {
	s := store.New()
	defer s.Close()

	id, err := s.XAdd("s", store.IDSpec{AutoSeq: true, Ms: 0}, []store.Field{{Name: "f", Value: []byte("v")}})
	require.NoError(t, err)
	assert.Equal(t, store.StreamEntryID{Ms: 0, Seq: 1}, id)
}

func TestXRange(t *testing.T) {
	s := store.New()
	defer s.Close()

	for seq := uint64(0); seq < 3; seq++ {
		_, err := s.XAdd("s", store.IDSpec{Explicit: true, Ms: 1, Seq: seq}, []store.Field{{Name: "n", Value: []byte{byte(seq)}}})
		require.NoError(t, err)
	}

	entries, err := s.XRange("s", nil, nil)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, store.StreamEntryID{Ms: 1, Seq: 0}, entries[0].ID)
	assert.Equal(t, store.StreamEntryID{Ms: 1, Seq: 2}, entries[2].ID)
}

func TestXReadBlockWakesOnAppend(t *testing.T) {
	s := store.New()
	defer s.Close()

	_, err := s.XAdd("s", store.IDSpec{Explicit: true, Ms: 1, Seq: 0}, []store.Field{{Name: "f", Value: []byte("0")}})
	require.NoError(t, err)

	block := 2 * time.Second
	done := make(chan []store.XReadResult, 1)
	go func() {
		res, err := s.XRead([]string{"s"}, []store.StreamEntryID{{Ms: 1, Seq: 0}}, &block, nil)
		require.NoError(t, err)
		done <- res
	}()

	time.Sleep(50 * time.Millisecond)
	_, err = s.XAdd("s", store.IDSpec{Explicit: true, Ms: 1, Seq: 1}, []store.Field{{Name: "f", Value: []byte("1")}})
	require.NoError(t, err)

	select {
	case res := <-done:
		require.Len(t, res, 1)
		require.Len(t, res[0].Entries, 1)
		assert.Equal(t, store.StreamEntryID{Ms: 1, Seq: 1}, res[0].Entries[0].ID)
	case <-time.After(time.Second):
		t.Fatal("XRead did not wake up after XADD")
	}
}

func TestXReadBlockTimesOutEmpty(t *testing.T) {
	s := store.New()
	defer s.Close()

	block := 100 * time.Millisecond
	start := time.Now()
	res, err := s.XRead([]string{"s"}, []store.StreamEntryID{{}}, &block, nil)
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestRemove(t *testing.T) {
	s := store.New()
	defer s.Close()

	s.Set("k", []byte("v"), nil)
	assert.True(t, s.Remove("k"))
	assert.False(t, s.Remove("k"))
	_, ok := s.Get("k")
	assert.False(t, ok)
}

func TestSnapshotAndLoad(t *testing.T) {
	s1 := store.New()
	defer s1.Close()

	s1.Set("a", []byte("1"), nil)
	ttl := time.Hour
	s1.Set("b", []byte("2"), &ttl)

	snap := s1.Snapshot()
	require.Len(t, snap, 2)

	s2 := store.New()
	defer s2.Close()
	s2.Load(snap)

	v, ok := s2.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	v, ok = s2.Get("b")
	require.True(t, ok)
	assert.Equal(t, []byte("2"), v)
}

func TestLoadSkipsPastExpiries(t *testing.T) {
	s := store.New()
	defer s.Close()

	past := time.Now().Add(-time.Hour)
	s.Load(map[string]store.StringSnapshot{
		"stale": {Value: []byte("v"), Deadline: &past},
	})
	_, ok := s.Get("stale")
	assert.False(t, ok)
}
