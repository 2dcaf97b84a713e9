package ledger

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory EventStore for testing and development.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string][]Event
	closed bool
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string][]Event)}
}

// AppendPair appends both events under the store lock, so the pair is
// never observable half-applied.
func (m *MemoryStore) AppendPair(ctx context.Context, id ConversationID, user, assistant Event) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	key := id.String()
	base := int64(len(m.events[key]))
	user.Seq = base + 1
	assistant.Seq = base + 2
	m.events[key] = append(m.events[key], user, assistant)

	return []Event{user, assistant}, nil
}

// Load returns a copy of the conversation's events in append order.
func (m *MemoryStore) Load(ctx context.Context, id ConversationID) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	stored := m.events[id.String()]
	events := make([]Event, len(stored))
	copy(events, stored)
	return events, nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
