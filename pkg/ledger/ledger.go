package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const subscriberBuffer = 256

// Ledger is the system of record for conversation history. It serializes
// appends per conversation id, so two concurrent exchanges on the same
// session can never interleave their event pairs. Requests against
// different conversation ids proceed in parallel.
type Ledger struct {
	store EventStore
	log   zerolog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	subsMu sync.RWMutex
	subs   []chan Event
	closed bool
}

// New creates a Ledger on top of the given event store.
func New(store EventStore, log zerolog.Logger) *Ledger {
	return &Ledger{
		store: store,
		log:   log.With().Str("component", "ledger").Logger(),
		locks: make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) lockFor(key string) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()

	mu, ok := l.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[key] = mu
	}
	return mu
}

// Append translates the exchange into a user event followed by an
// assistant event sharing one timestamp, and durably appends both in a
// single atomic operation. On error neither event has been applied.
// Appended events are delivered to subscribers in order per conversation.
func (l *Ledger) Append(ctx context.Context, exchange Exchange) error {
	id, err := NewConversationID(exchange.UserID, exchange.SessionID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	user := Event{
		Type:       EventUserMessageAdded,
		UserID:     exchange.UserID,
		SessionID:  exchange.SessionID,
		Text:       exchange.Question,
		TokensUsed: exchange.QuestionTokens,
		Timestamp:  now,
	}
	assistant := Event{
		Type:       EventAssistantMessageAdded,
		UserID:     exchange.UserID,
		SessionID:  exchange.SessionID,
		Text:       exchange.Answer,
		TokensUsed: exchange.AnswerTokens,
		Timestamp:  now,
	}

	mu := l.lockFor(id.String())
	mu.Lock()
	defer mu.Unlock()

	stored, err := l.store.AppendPair(ctx, id, user, assistant)
	if err != nil {
		return fmt.Errorf("append exchange for %s: %w", id, err)
	}

	l.log.Debug().
		Str("conversation", id.String()).
		Int("questionTokens", exchange.QuestionTokens).
		Int("answerTokens", exchange.AnswerTokens).
		Msg("exchange appended")

	l.publish(stored)
	return nil
}

// History returns the current fold of all events for the conversation.
func (l *Ledger) History(ctx context.Context, id ConversationID) (ConversationState, error) {
	events, err := l.store.Load(ctx, id)
	if err != nil {
		return ConversationState{}, fmt.Errorf("load history for %s: %w", id, err)
	}
	return Replay(events), nil
}

// Events returns the raw event sequence for a conversation, in append
// order. Intended for projections rebuilding their read-model.
func (l *Ledger) Events(ctx context.Context, id ConversationID) ([]Event, error) {
	return l.store.Load(ctx, id)
}

// Subscribe returns a channel receiving every event appended after the
// call. Per-conversation emission order is preserved; no ordering is
// guaranteed across conversations. The channel is closed by Close.
func (l *Ledger) Subscribe() <-chan Event {
	l.subsMu.Lock()
	defer l.subsMu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	l.subs = append(l.subs, ch)
	return ch
}

// publish delivers events to subscribers without ever blocking an append.
// A subscriber that stops draining loses events once its buffer fills; the
// projection recovers by rebuilding from Events.
func (l *Ledger) publish(events []Event) {
	l.subsMu.RLock()
	defer l.subsMu.RUnlock()

	if l.closed {
		return
	}
	for _, ch := range l.subs {
		for _, e := range events {
			select {
			case ch <- e:
			default:
				l.log.Warn().
					Str("conversation", e.UserID+":"+e.SessionID).
					Int64("seq", e.Seq).
					Msg("subscriber buffer full, event dropped")
			}
		}
	}
}

// Close closes subscriber channels and the underlying store.
func (l *Ledger) Close() error {
	l.subsMu.Lock()
	if !l.closed {
		l.closed = true
		for _, ch := range l.subs {
			close(ch)
		}
		l.subs = nil
	}
	l.subsMu.Unlock()

	return l.store.Close()
}
