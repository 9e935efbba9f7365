package storage

import (
	"errors"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store.
// This allows the escrow state to live in memory (tests) or on disk.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	// Write applies every entry of the batch or none of them.
	Write(batch *Batch) error
	Close() error
}

// Batch collects writes that must land together. A nil value marks a delete.
type Batch struct {
	keys   []string
	values map[string][]byte
}

// NewBatch returns an empty write batch.
func NewBatch() *Batch {
	return &Batch{values: make(map[string][]byte)}
}

// Put stages a write. Later writes to the same key replace earlier ones.
func (b *Batch) Put(key, value []byte) {
	k := string(key)
	if _, ok := b.values[k]; !ok {
		b.keys = append(b.keys, k)
	}
	b.values[k] = append([]byte{}, value...)
}

// Delete stages a removal.
func (b *Batch) Delete(key []byte) {
	k := string(key)
	if _, ok := b.values[k]; !ok {
		b.keys = append(b.keys, k)
	}
	b.values[k] = nil
}

// Get returns the staged value for key. staged is false when the batch never
// touched the key; a staged delete reports a nil value with staged true.
func (b *Batch) Get(key []byte) (value []byte, staged bool) {
	if b == nil {
		return nil, false
	}
	v, ok := b.values[string(key)]
	if !ok {
		return nil, false
	}
	if v == nil {
		return nil, true
	}
	return append([]byte{}, v...), true
}

// Len reports the number of distinct keys staged.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.keys)
}

func (b *Batch) each(fn func(key string, value []byte)) {
	for _, k := range b.keys {
		fn(k, b.values[k])
	}
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte{}, value...)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte{}, value...), nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

func (db *MemDB) Write(batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	batch.each(func(key string, value []byte) {
		if value == nil {
			delete(db.data, key)
			return
		}
		db.data[key] = value
	})
	return nil
}

// Keys returns the stored keys in lexical order. Intended for tests.
func (db *MemDB) Keys() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	keys := make([]string, 0, len(db.data))
	for k := range db.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() error {
	// Nothing to close for an in-memory database.
	return nil
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Delete removes a key. Missing keys are not an error.
func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

// Write commits the batch atomically through a leveldb batch.
func (ldb *LevelDB) Write(batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	lb := new(leveldb.Batch)
	batch.each(func(key string, value []byte) {
		if value == nil {
			lb.Delete([]byte(key))
			return
		}
		lb.Put([]byte(key), value)
	})
	return ldb.db.Write(lb, nil)
}

// Close closes the database connection.
func (ldb *LevelDB) Close() error {
	return ldb.db.Close()
}
