package kv

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/shilei2024/foodai/internal/common"
)

// MemoryStore is an in-process Store. Values are copied on the way in and
// out so callers cannot alias stored bytes.
type MemoryStore struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
	setErr error
	writes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// FailGets makes every following Get fail with err (nil clears it).
func (m *MemoryStore) FailGets(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}

// FailWrites makes every following Set and Remove fail with err (nil clears it).
func (m *MemoryStore) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setErr = err
}

// Writes returns the number of successful Set calls.
func (m *MemoryStore) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, common.StorageError(fmt.Sprintf("get kv[%s]", key), m.getErr)
	}
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return bytes.Clone(v), nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return common.StorageError(fmt.Sprintf("set kv[%s]", key), m.setErr)
	}
	m.data[key] = append([]byte{}, value...)
	m.writes++
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return common.StorageError(fmt.Sprintf("remove kv[%s]", key), m.setErr)
	}
	delete(m.data, key)
	return nil
}
