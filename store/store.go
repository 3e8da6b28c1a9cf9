// Package store implements the Persistence Adapter (spec §4.8): the
// abstract durable-store boundary the executor funnels every state
// transition through. The registry-of-named-implementations shape mirrors
// orchestrate/state/checkpoint.go's CheckpointStore registry, generalized
// from single-state checkpoints to full Instance persistence.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/munistream/engine/workflow"
)

// Page describes pagination input/output for ListByStatus.
type Page struct {
	Offset int
	Limit  int
	Total  int // set on the returned page only
}

// Store is the Persistence Adapter the engine consumes (spec §4.8). An
// implementation must guarantee that, for any successfully delivered input
// or successfully terminated task, the instance's post-transition state is
// durable before SaveInstance returns.
type Store interface {
	SaveInstance(ctx context.Context, inst *workflow.Instance) error
	LoadInstance(ctx context.Context, instanceID string) (*workflow.Instance, error)
	ListByStatus(ctx context.Context, status workflow.Status, page Page) ([]*workflow.Instance, Page, error)
	SaveDAGRegistration(ctx context.Context, dagID, description string) error

	Close() error
}

// New resolves a Store implementation by driver name, mirroring
// checkpoint.go's GetCheckpointStore resolution-by-name pattern.
func New(driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(dsn)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}

// memoryStore is an in-process Store, suitable for development and tests.
// Thread-safe via a single RWMutex, mirroring memoryCheckpointStore.
type memoryStore struct {
	mu        sync.RWMutex
	instances map[string]*workflow.Instance
	dags      map[string]string
}

// NewMemoryStore creates a Store backed by an in-memory map. State does not
// survive process restart.
func NewMemoryStore() Store {
	return &memoryStore{
		instances: make(map[string]*workflow.Instance),
		dags:      make(map[string]string),
	}
}

func (m *memoryStore) SaveInstance(_ context.Context, inst *workflow.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inst
	m.instances[inst.InstanceID] = &cp
	return nil
}

func (m *memoryStore) LoadInstance(_ context.Context, instanceID string) (*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[instanceID]
	if !ok {
		return nil, workflow.ErrInstanceNotFound
	}
	return inst, nil
}

func (m *memoryStore) ListByStatus(_ context.Context, status workflow.Status, page Page) ([]*workflow.Instance, Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matching []*workflow.Instance
	for _, inst := range m.instances {
		if inst.Status == status {
			matching = append(matching, inst)
		}
	}

	out := Page{Offset: page.Offset, Limit: page.Limit, Total: len(matching)}
	limit := page.Limit
	if limit <= 0 {
		limit = len(matching)
	}
	start := page.Offset
	if start > len(matching) {
		start = len(matching)
	}
	end := start + limit
	if end > len(matching) {
		end = len(matching)
	}
	return matching[start:end], out, nil
}

func (m *memoryStore) SaveDAGRegistration(_ context.Context, dagID, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dags[dagID] = description
	return nil
}

func (m *memoryStore) Close() error { return nil }
