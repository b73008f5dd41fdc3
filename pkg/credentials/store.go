// Package credentials provides the stores node implementations read secrets from.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
)

// ErrCredentialsNotFound is returned when no credential exists under the requested ID.
var ErrCredentialsNotFound = errors.New("credentials not found")

// Store returns the key/value data of a credential. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, id string) (map[string]any, error)
}

// Memory is an in-process Store.
type Memory struct {
	mu          sync.RWMutex
	credentials map[string]map[string]any
}

// NewMemory creates a store holding the given credentials, keyed by ID.
func NewMemory(credentials map[string]map[string]any) *Memory {
	m := &Memory{credentials: make(map[string]map[string]any, len(credentials))}

	for id, values := range credentials {
		m.credentials[id] = maps.Clone(values)
	}

	return m
}

// Set stores or replaces a credential.
func (m *Memory) Set(id string, values map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.credentials[id] = maps.Clone(values)
}

// Get returns a copy of the credential.
func (m *Memory) Get(_ context.Context, id string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	values, ok := m.credentials[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, id)
	}

	return maps.Clone(values), nil
}
