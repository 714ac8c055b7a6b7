package vfs

import (
	"sync"

	"github.com/blocksql/blocksql/internal/blockstore"
)

// StorageLookup resolves the blockstore.Storage backing one database name.
// pkg/blocksql supplies this as a closure over its open-handle registry so
// the VFS layer never has to know about handles itself.
type StorageLookup func(dbName string) (*blockstore.Storage, error)

// Adapter hands out a *File per database name on demand, backed by whatever
// Storage StorageLookup resolves. modernc.org/sqlite has no public hook for
// substituting a Go-implemented VFS under a caller-chosen name, so Adapter
// is not wired into the engine directly; pkg/blocksql uses it as the mirror
// target its materialize/mirror plumbing drives File's Lock/WriteAt/Unlock
// calls through (see pkg/blocksql/core.go's processCore doc comment).
type Adapter struct {
	lookup StorageLookup

	mu    sync.Mutex
	files map[string]*File
}

// NewAdapter returns an Adapter that resolves storage via lookup.
func NewAdapter(lookup StorageLookup) *Adapter {
	return &Adapter{lookup: lookup, files: make(map[string]*File)}
}

// Open returns the (possibly cached) *File for dbName, creating one backed
// by the resolved Storage on first use.
func (a *Adapter) Open(dbName string) (*File, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.files[dbName]; ok {
		return f, nil
	}
	storage, err := a.lookup(dbName)
	if err != nil {
		return nil, err
	}
	f := New(storage, dbName)
	a.files[dbName] = f
	return f, nil
}

// Forget drops a cached File, e.g. after db_close or an import that
// replaces the database's entire block layout out from under it.
func (a *Adapter) Forget(dbName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.files, dbName)
}
