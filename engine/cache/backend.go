package cache

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/WessleyAI/pricepulse/engine/domain"
)

// Entry is one cached query result.
type Entry struct {
	Query     string           `json:"query"`
	Products  []domain.Product `json:"products"`
	Timestamp time.Time        `json:"timestamp"`
}

// BackendStats summarizes a backend's contents.
type BackendStats struct {
	Total   int
	Expired int
	Bytes   int64
}

// Backend persists cache entries keyed by query.
type Backend interface {
	// Load returns the entry for query regardless of age.
	Load(ctx context.Context, query string) (Entry, bool, error)
	// Save inserts or replaces the entry for e.Query.
	Save(ctx context.Context, e Entry) error
	Delete(ctx context.Context, query string) error
	// DeleteBefore removes entries stamped before cutoff and reports how many.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
	// Trim keeps the max most recent entries and reports how many were removed.
	Trim(ctx context.Context, max int) (int, error)
	// Stats counts entries, treating those stamped before cutoff as expired.
	Stats(ctx context.Context, cutoff time.Time) (BackendStats, error)
	Clear(ctx context.Context) error
	Close() error
}

type memEntry struct {
	Entry
	size int
}

// MemoryBackend keeps entries in a map for the life of the process.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]memEntry
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]memEntry)}
}

func (m *MemoryBackend) Load(_ context.Context, query string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[query]
	if !ok {
		return Entry{}, false, nil
	}
	e.Products = slices.Clone(e.Products)
	return e.Entry, true, nil
}

func (m *MemoryBackend) Save(_ context.Context, e Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	e.Products = slices.Clone(e.Products)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Query] = memEntry{Entry: e, size: len(raw)}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, query string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, query)
	return nil
}

func (m *MemoryBackend) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for q, e := range m.entries {
		if e.Timestamp.Before(cutoff) {
			delete(m.entries, q)
			n++
		}
	}
	return n, nil
}

func (m *MemoryBackend) Trim(_ context.Context, max int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if max < 0 || len(m.entries) <= max {
		return 0, nil
	}
	keys := make([]string, 0, len(m.entries))
	for q := range m.entries {
		keys = append(keys, q)
	}
	// Newest first; ties broken by key so eviction is deterministic.
	sort.Slice(keys, func(i, j int) bool {
		a, b := m.entries[keys[i]], m.entries[keys[j]]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return keys[i] < keys[j]
	})
	for _, q := range keys[max:] {
		delete(m.entries, q)
	}
	return len(keys) - max, nil
}

func (m *MemoryBackend) Stats(_ context.Context, cutoff time.Time) (BackendStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s BackendStats
	for _, e := range m.entries {
		s.Total++
		if e.Timestamp.Before(cutoff) {
			s.Expired++
		}
		s.Bytes += int64(e.size)
	}
	return s, nil
}

func (m *MemoryBackend) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.entries)
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
