// Package store defines the scoped key/value capability the engine persists through.
//
// Two scopes exist. User-scoped state survives across documents (session,
// API key, caches, rate-limit window). Document-scoped state travels with a
// single document (token metadata, record linkage). Backends offer exact-key
// access only; there is no prefix scan.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Scope selects a storage namespace.
type Scope string

const (
	ScopeUser     Scope = "user"
	ScopeDocument Scope = "document"
)

// Store is scoped key/value storage.
type Store interface {
	Get(ctx context.Context, scope Scope, key string) (string, bool, error)
	Set(ctx context.Context, scope Scope, key, value string) error
	Delete(ctx context.Context, scope Scope, key string) error
}

// Backend is one scope's storage.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Scoped routes each scope to its backend.
type Scoped struct {
	backends map[Scope]Backend
}

// NewScoped returns a Store over the given backends.
func NewScoped(user, document Backend) *Scoped {
	s := &Scoped{backends: make(map[Scope]Backend, 2)}
	if user != nil {
		s.backends[ScopeUser] = user
	}
	if document != nil {
		s.backends[ScopeDocument] = document
	}
	return s
}

func (s *Scoped) backend(scope Scope) (Backend, error) {
	b, ok := s.backends[scope]
	if !ok {
		return nil, fmt.Errorf("no backend for scope %q", scope)
	}
	return b, nil
}

func (s *Scoped) Get(ctx context.Context, scope Scope, key string) (string, bool, error) {
	b, err := s.backend(scope)
	if err != nil {
		return "", false, err
	}
	return b.Get(ctx, key)
}

func (s *Scoped) Set(ctx context.Context, scope Scope, key, value string) error {
	b, err := s.backend(scope)
	if err != nil {
		return err
	}
	return b.Set(ctx, key, value)
}

func (s *Scoped) Delete(ctx context.Context, scope Scope, key string) error {
	b, err := s.backend(scope)
	if err != nil {
		return err
	}
	return b.Delete(ctx, key)
}

// Memory is an in-process Backend, used in tests and for throwaway documents.
type Memory struct {
	mu     sync.Mutex
	values map[string]string

	// SetErr, when non-nil, is returned by every Set. Tests use it to
	// simulate a full or failing store.
	SetErr error
}

// NewMemory returns an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	m.values[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// Keys returns the stored keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NewMemoryStore returns a Store with fresh in-memory backends for both scopes.
func NewMemoryStore() (*Scoped, *Memory, *Memory) {
	user, doc := NewMemory(), NewMemory()
	return NewScoped(user, doc), user, doc
}
