package registry

import (
	"context"
	"sync"

	"github.com/ans-project/ans/pkg/protocol"
)

// MemoryStore is an in-memory Store.
// Suitable for testing and single-node deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]protocol.AgentEntry
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]protocol.AgentEntry)}
}

func (m *MemoryStore) Get(_ context.Context, agentID string) (*protocol.AgentEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	e, ok := m.agents[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEntry(&e), nil
}

func (m *MemoryStore) Put(_ context.Context, entry *protocol.AgentEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.agents[entry.AgentID] = *cloneEntry(entry)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.agents[agentID]; !ok {
		return ErrNotFound
	}
	delete(m.agents, agentID)
	return nil
}

func (m *MemoryStore) List(_ context.Context) ([]protocol.AgentEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]protocol.AgentEntry, 0, len(m.agents))
	for _, e := range m.agents {
		out = append(out, *cloneEntry(&e))
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// cloneEntry copies the slices and maps of e so callers cannot mutate stored state.
func cloneEntry(e *protocol.AgentEntry) *protocol.AgentEntry {
	c := *e
	c.Tags = append([]string(nil), e.Tags...)
	c.Capabilities = append([]string(nil), e.Capabilities...)
	c.DataResidency = append([]string(nil), e.DataResidency...)
	if e.Endpoints != nil {
		c.Endpoints = make(map[string]string, len(e.Endpoints))
		for k, v := range e.Endpoints {
			c.Endpoints[k] = v
		}
	}
	if len(c.Tags) == 0 {
		c.Tags = nil
	}
	if len(c.Capabilities) == 0 {
		c.Capabilities = nil
	}
	if len(c.DataResidency) == 0 {
		c.DataResidency = nil
	}
	return &c
}
