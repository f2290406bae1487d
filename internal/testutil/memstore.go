// Package testutil holds in-memory stand-ins for external collaborators.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/tamakara/bakabooru/internal/storage"
)

// MemoryStore is an object store kept in a map. Failures can be injected per operation.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	FailPut    error
	FailGet    error
	FailCopy   error
	FailDelete error

	copies int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if m.FailPut != nil {
		return m.FailPut
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	if m.FailGet != nil {
		return nil, m.FailGet
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStore) Copy(_ context.Context, src, dst string) error {
	if m.FailCopy != nil {
		return m.FailCopy
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[src]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrObjectNotFound, src)
	}
	m.objects[dst] = append([]byte(nil), data...)
	m.copies++
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	if m.FailDelete != nil {
		return m.FailDelete
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

// List mirrors a non-recursive bucket listing: nested levels collapse into
// one entry ending in "/".
func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var keys []string
	for k := range m.objects {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}
		entry := k
		if i := strings.Index(rest, "/"); i >= 0 {
			entry = prefix + rest[:i+1]
		}
		if !seen[entry] {
			seen[entry] = true
			keys = append(keys, entry)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Keys returns the stored keys in sorted order.
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Copies counts successful Copy calls.
func (m *MemoryStore) Copies() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copies
}
