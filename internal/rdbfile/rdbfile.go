// Package rdbfile is the on-disk side of the RDB loader external
// collaborator described in SPEC_FULL §6: it reads {dir}/{dbfilename},
// decodes it with rdbsnap, and hands the core a plain key->snapshot
// map. It never writes — persistence to disk stays out of scope.
package rdbfile

import (
	"os"
	"path/filepath"

	"respkv/internal/rdbsnap"
	"respkv/internal/store"
)

// Load reads dir/dbfilename and decodes it. A missing file yields an
// empty map and a nil error, never a failure — there is simply nothing
// to preload yet.
func Load(dir, dbfilename string) (map[string]store.StringSnapshot, error) {
	path := filepath.Join(dir, dbfilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]store.StringSnapshot{}, nil
		}
		return nil, err
	}
	return rdbsnap.Decode(data)
}
