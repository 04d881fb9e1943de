package handoff

import (
	"context"
	"sync"
	"time"
)

type record struct {
	value   []byte
	expires time.Time
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]map[string]record
	closed  bool
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]map[string]record),
		now:     time.Now,
	}
}

// Put stores value under (scope, key).
func (m *MemoryStore) Put(_ context.Context, scope, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	bucket, ok := m.records[scope]
	if !ok {
		bucket = make(map[string]record)
		m.records[scope] = bucket
	}
	r := record{value: append([]byte(nil), value...)}
	if ttl > 0 {
		r.expires = m.now().Add(ttl)
	}
	bucket[key] = r
	return nil
}

// Take removes and returns the record under (scope, key).
func (m *MemoryStore) Take(_ context.Context, scope, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	bucket, ok := m.records[scope]
	if !ok {
		return nil, false, nil
	}
	r, ok := bucket[key]
	if !ok {
		return nil, false, nil
	}
	delete(bucket, key)
	if len(bucket) == 0 {
		delete(m.records, scope)
	}
	if m.expired(r) {
		return nil, false, nil
	}
	return r.value, true, nil
}

// Sweep drops expired records and returns how many were removed.
func (m *MemoryStore) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	n := 0
	for scope, bucket := range m.records {
		for key, r := range bucket {
			if m.expired(r) {
				delete(bucket, key)
				n++
			}
		}
		if len(bucket) == 0 {
			delete(m.records, scope)
		}
	}
	return n, nil
}

// Close discards every record.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.records = nil
	return nil
}

func (m *MemoryStore) expired(r record) bool {
	return !r.expires.IsZero() && !m.now().Before(r.expires)
}
