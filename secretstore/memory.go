package secretstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is a process-local Store that keeps every version of every payload
type Memory struct {
	mu       sync.RWMutex
	versions map[string][]map[string]interface{}
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{versions: make(map[string][]map[string]interface{})}
}

// Write appends a new version of name
func (m *Memory) Write(ctx context.Context, name string, data map[string]interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[name] = append(m.versions[name], copyPayload(data))
	return nil
}

// Read returns the latest version of name
func (m *Memory) Read(ctx context.Context, name string) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions := m.versions[name]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return copyPayload(versions[len(versions)-1]), nil
}

// List returns every stored name in lexical order
func (m *Memory) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.versions))
	for name := range m.versions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Versions returns how many versions of name have been written
func (m *Memory) Versions(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.versions[name])
}

// HealthCheck always succeeds
func (m *Memory) HealthCheck(ctx context.Context) error {
	return nil
}

func copyPayload(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
