package securestore

import (
	"context"
	"sync"

	"github.com/shopease/sessionkeeper/internal/errs"
)

type memItem struct {
	value       []byte
	requireAuth bool
}

// Memory is a process-local Store used by tests and ephemeral sessions.
type Memory struct {
	mu    sync.Mutex
	items map[string]memItem
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{items: map[string]memItem{}}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return append([]byte(nil), it.value...), nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, opts ...SetOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o := Apply(opts...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memItem{value: append([]byte(nil), value...), requireAuth: o.RequireAuth}
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// RequiresAuth reports the gating flag recorded for key.
func (m *Memory) RequiresAuth(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[key].requireAuth
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
