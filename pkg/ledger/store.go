package ledger

import (
	"context"
	"errors"
)

// Common errors for ledger operations.
var (
	// ErrPersistence is returned when the durable log rejects a write.
	// The caller must not assume partial application: on failure neither
	// event of the pair has been applied.
	ErrPersistence = errors.New("ledger: persistence failure")
	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("ledger: store is closed")
)

// EventStore abstracts the ordered, durable event log.
// Implementations must be safe for concurrent use and must apply the two
// events of AppendPair atomically: both or neither.
type EventStore interface {
	// AppendPair durably appends a user/assistant event pair for one
	// conversation. The store assigns consecutive Seq values and returns
	// the events as stored.
	AppendPair(ctx context.Context, id ConversationID, user, assistant Event) ([]Event, error)

	// Load returns all events for a conversation in append order.
	// A conversation with no events yields an empty slice, not an error.
	Load(ctx context.Context, id ConversationID) ([]Event, error)

	// Close releases any resources held by the store.
	Close() error
}
