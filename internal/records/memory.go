package records

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/hostwatch/internal/models"
)

// MemoryStore is an in-process Store. Records do not survive the process, so it only
// suits tests and dry runs.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	now  Clock
}

// NewMemoryStore creates an empty store stamped by now.
func NewMemoryStore(now Clock) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{data: make(map[string][]byte), now: now}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, service string) (models.FailureRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	raw, ok := m.data[service]
	if !ok {
		return models.FailureRecord{}, false, nil
	}
	rec, err := decodeRecord(service, raw)
	if err != nil {
		return models.FailureRecord{}, false, readErr(service, err)
	}
	return rec, true, nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, service string, attemptCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[service] = encodeRecord(attemptCount, m.now())
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, service string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, service)
	return nil
}

// List implements Lister.
func (m *MemoryStore) List(ctx context.Context) ([]models.FailureRecord, error) {
	m.mu.RLock()
	names := make([]string, 0, len(m.data))
	for name := range m.data {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	out := make([]models.FailureRecord, 0, len(names))
	for _, name := range names {
		rec, ok, err := m.Get(ctx, name)
		if err != nil || !ok {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
