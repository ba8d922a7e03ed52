// Package storage wraps the key-value store backing the append-only event
// log behind a small Database interface, so the rest of the protocol
// never imports goleveldb directly.
package storage

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Database is the minimal ordered key-value contract the event log and
// pending-transfer queue are built on.
type Database interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Has(key []byte) (bool, error)
	Delete(key []byte) error
	NewIterator(prefix []byte) iterator.Iterator
	Close() error
}

// LevelDB is the on-disk Database implementation used outside of tests.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens (or creates) a LevelDB store at path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Get implements Database.
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	return value, err
}

// Put implements Database.
func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

// Has implements Database.
func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.db.Has(key, nil)
}

// Delete implements Database.
func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

// NewIterator implements Database.
func (l *LevelDB) NewIterator(prefix []byte) iterator.Iterator {
	return l.db.NewIterator(util.BytesPrefix(prefix), nil)
}

// Close implements Database.
func (l *LevelDB) Close() error {
	return l.db.Close()
}

// MemDB is an in-memory Database used by tests and by canister upgrade
// staging, where the working set is rebuilt from a snapshot on every boot.
type MemDB struct {
	data map[string][]byte
}

// NewMemDB constructs an empty in-memory store.
func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

// Get implements Database.
func (m *MemDB) Get(key []byte) ([]byte, error) {
	v, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put implements Database.
func (m *MemDB) Put(key, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[string(key)] = stored
	return nil
}

// Has implements Database.
func (m *MemDB) Has(key []byte) (bool, error) {
	_, ok := m.data[string(key)]
	return ok, nil
}

// Delete implements Database.
func (m *MemDB) Delete(key []byte) error {
	delete(m.data, string(key))
	return nil
}

// NewIterator implements Database. MemDB is used only in tests where the
// event log is small, so it builds a memory-backed leveldb iterator lazily
// is unnecessary; callers instead use Range/ByVault on the eventlog itself.
func (m *MemDB) NewIterator(prefix []byte) iterator.Iterator {
	panic("storage: MemDB does not support NewIterator; use eventlog.Range instead")
}

// Close implements Database.
func (m *MemDB) Close() error { return nil }
