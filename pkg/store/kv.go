package store

import (
	"path/filepath"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	badger3 "github.com/ipfs/go-ds-badger3"
)

// NewDefaultInMemoryKVStore builds a KV store that works in-memory.
func NewDefaultInMemoryKVStore() ds.Batching {
	return dssync.MutexWrap(ds.NewMapDatastore())
}

// NewDefaultKVStore opens a badger-backed datastore under
// <rootDir>/<dbPath>/<dbName>.
func NewDefaultKVStore(rootDir, dbPath, dbName string) (ds.Batching, error) {
	path := filepath.Join(rootify(rootDir, dbPath), dbName)
	return badger3.NewDatastore(path, nil)
}

func rootify(rootDir, dbPath string) string {
	if filepath.IsAbs(dbPath) {
		return dbPath
	}
	return filepath.Join(rootDir, dbPath)
}
