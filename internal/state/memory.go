package state

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. A positive quota bounds the total size
// of keys and values in bytes, the way browser storage does.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	size   int
	quota  int
	closed bool
}

// NewMemoryStore returns an empty store; quota <= 0 means unbounded.
func NewMemoryStore(quota int) *MemoryStore {
	return &MemoryStore{
		data:  make(map[string][]byte),
		quota: quota,
	}
}

// Get returns a copy of the value stored under key.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Apply applies mutations atomically, rejecting the whole batch when it
// would exceed the quota.
func (m *MemoryStore) Apply(ctx context.Context, mutations ...Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	// Compute the resulting size before touching the map so a rejected
	// batch leaves no partial writes behind.
	size := m.size
	pending := make(map[string][]byte, len(mutations))
	removed := make(map[string]bool)
	for _, mut := range mutations {
		old, exists := pending[mut.Key]
		if !exists && !removed[mut.Key] {
			old, exists = m.data[mut.Key]
		}
		if exists {
			size -= len(mut.Key) + len(old)
		}
		if mut.Delete {
			delete(pending, mut.Key)
			removed[mut.Key] = true
			continue
		}
		size += len(mut.Key) + len(mut.Value)
		pending[mut.Key] = mut.Value
		delete(removed, mut.Key)
	}

	if m.quota > 0 && size > m.quota {
		return ErrQuotaExceeded
	}

	for key := range removed {
		delete(m.data, key)
	}
	for key, v := range pending {
		stored := make([]byte, len(v))
		copy(stored, v)
		m.data[key] = stored
	}
	m.size = size
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Close marks the store closed; later calls return ErrClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
