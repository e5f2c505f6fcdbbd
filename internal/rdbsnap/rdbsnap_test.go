package rdbsnap_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"respkv/internal/rdbsnap"
	"respkv/internal/store"
)

func TestEmptyOnDiskSnapshotRoundTrip(t *testing.T) {
	blob := rdbsnap.Encode(nil)
	entries, err := rdbsnap.Decode(blob)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEmptyRDBIsTheFixedBuiltinConstant(t *testing.T) {
	got := rdbsnap.EmptyRDB()
	assert.Len(t, got, 88)
	// Must be a stable constant, never derived from keyspace content.
	again := rdbsnap.EmptyRDB()
	assert.Equal(t, got, again)
}

func TestRoundTripPlainStrings(t *testing.T) {
	in := map[string]store.StringSnapshot{
		"a": {Value: []byte("hello")},
		"b": {Value: []byte("world")},
	}
	blob := rdbsnap.Encode(in)
	out, err := rdbsnap.Decode(blob)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []byte("hello"), out["a"].Value)
	assert.Equal(t, []byte("world"), out["b"].Value)
}

func TestRoundTripWithExpiry(t *testing.T) {
	deadline := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	in := map[string]store.StringSnapshot{
		"k": {Value: []byte("v"), Deadline: &deadline},
	}
	blob := rdbsnap.Encode(in)
	out, err := rdbsnap.Decode(blob)
	require.NoError(t, err)
	require.NotNil(t, out["k"].Deadline)
	assert.WithinDuration(t, deadline, *out["k"].Deadline, time.Millisecond)
}

func TestRoundTripLargeValueIsCompressed(t *testing.T) {
	big := strings.Repeat("ab", rdbsnap.CompressionThreshold*2)
	in := map[string]store.StringSnapshot{
		"big": {Value: []byte(big)},
	}
	blob := rdbsnap.Encode(in)
	out, err := rdbsnap.Decode(blob)
	require.NoError(t, err)
	assert.Equal(t, big, string(out["big"].Value))
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := rdbsnap.Decode([]byte("not an rdb blob at all"))
	assert.Error(t, err)
}

func TestDecodeRejectsBadChecksum(t *testing.T) {
	blob := rdbsnap.Encode(map[string]store.StringSnapshot{"a": {Value: []byte("x")}})
	corrupted := append([]byte(nil), blob...)
	corrupted[len(corrupted)-1] ^= 0xFF
	_, err := rdbsnap.Decode(corrupted)
	assert.Error(t, err)
}
