package peer

import (
	"context"
	"sync"
)

var _ Channel = (*MemoryChannel)(nil)

// MemoryChannel keeps the facts in process. Nodes sharing one instance see
// each other's publications. Fail, when set, is consulted before every call.
type MemoryChannel struct {
	mu    sync.Mutex
	facts Facts
	Fail  func(op string) error
}

func (m *MemoryChannel) Observe(ctx context.Context) (Facts, error) {
	if m.Fail != nil {
		if err := m.Fail("observe"); err != nil {
			return Facts{}, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.facts, nil
}

func (m *MemoryChannel) Publish(ctx context.Context, f Facts) error {
	if m.Fail != nil {
		if err := m.Fail("publish"); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts = Merge(m.facts, f)
	return nil
}
