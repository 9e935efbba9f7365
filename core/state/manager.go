package state

import (
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"rentescrow/storage"
)

// Manager provides RLP-encoded key/value access to the escrow state on top of
// a storage.Database. Keys are hashed before they reach the database.
type Manager struct {
	db    storage.Database
	mu    *sync.Mutex
	batch *storage.Batch
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, mu: new(sync.Mutex)}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Atomic runs fn against a transactional view of the manager. Writes made
// through the view are staged and committed together once fn returns nil;
// any error discards them. Nested calls join the enclosing transaction.
func (m *Manager) Atomic(fn func(tx *Manager) error) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not initialised")
	}
	if m.batch != nil {
		return fn(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &Manager{db: m.db, mu: m.mu, batch: storage.NewBatch()}
	if err := fn(tx); err != nil {
		return err
	}
	return m.db.Write(tx.batch)
}

func (m *Manager) raw(hashed []byte) ([]byte, error) {
	if value, staged := m.batch.Get(hashed); staged {
		return value, nil
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// KVPut stores the RLP encoding of value under the supplied key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	if m.batch != nil {
		m.batch.Put(kvKey(key), encoded)
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	if m.batch == nil {
		m.mu.Lock()
		defer m.mu.Unlock()
	}
	data, err := m.raw(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the supplied key. Missing keys are not an error.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	if m.batch != nil {
		m.batch.Delete(kvKey(key))
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Delete(kvKey(key))
}
