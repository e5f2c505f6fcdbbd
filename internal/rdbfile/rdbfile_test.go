package rdbfile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"respkv/internal/rdbfile"
	"respkv/internal/rdbsnap"
	"respkv/internal/store"
)

func TestLoadMissingFileYieldsEmptyMap(t *testing.T) {
	entries, err := rdbfile.Load(t.TempDir(), "does-not-exist.rdb")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLoadRoundTripsEncodedSnapshot(t *testing.T) {
	dir := t.TempDir()
	blob := rdbsnap.Encode(map[string]store.StringSnapshot{
		"k": {Value: []byte("v")},
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dump.rdb"), blob, 0o644))

	entries, err := rdbfile.Load(dir, "dump.rdb")
	require.NoError(t, err)
	require.Contains(t, entries, "k")
	assert.Equal(t, []byte("v"), entries["k"].Value)
}
