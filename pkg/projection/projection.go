// Package projection maintains a denormalized, per-user read-model of
// conversation history, built by consuming ledger events. It is eventually
// consistent with the ledger and never authoritative: readers must tolerate
// visibility lag and must not use it for write-side decisions.
package projection

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/janikdotzel/healthcare-agent/pkg/ledger"
)

// ErrSessionNotFound is returned when no row exists for a conversation.
var ErrSessionNotFound = errors.New("projection: session not found")

// RowMessage is one denormalized message inside a session row.
type RowMessage struct {
	Content   string    `json:"message"`
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionRow is the read-model entity: one row per conversation, created
// on the first event and appended to on every subsequent one.
type SessionRow struct {
	UserID    string       `json:"userId"`
	SessionID string       `json:"sessionId"`
	CreatedAt time.Time    `json:"creationDate"`
	Messages  []RowMessage `json:"messages"`
}

type row struct {
	SessionRow
	lastSeq int64
}

// Projection consumes ledger events and answers per-user history queries.
// Event application is idempotent: redelivered events are detected via the
// per-conversation sequence number and skipped.
type Projection struct {
	log zerolog.Logger

	mu   sync.RWMutex
	rows map[string]*row
}

// New creates an empty projection.
func New(log zerolog.Logger) *Projection {
	return &Projection{
		log:  log.With().Str("component", "session-view").Logger(),
		rows: make(map[string]*row),
	}
}

// Run consumes events until the channel closes or the context is done.
// Meant to be started on its own goroutine next to ledger.Subscribe.
func (p *Projection) Run(ctx context.Context, events <-chan ledger.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			p.OnEvent(e)
		}
	}
}

// OnEvent folds a single ledger event into the read-model.
func (p *Projection) OnEvent(e ledger.Event) {
	origin := "user"
	if e.Type == ledger.EventAssistantMessageAdded {
		origin = "assistant"
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := e.ConversationID().String()
	r, ok := p.rows[key]
	if !ok {
		r = &row{SessionRow: SessionRow{
			UserID:    e.UserID,
			SessionID: e.SessionID,
			CreatedAt: time.Now().UTC(),
			Messages:  []RowMessage{},
		}}
		p.rows[key] = r
	}

	if e.Seq != 0 && e.Seq <= r.lastSeq {
		p.log.Debug().
			Str("conversation", key).
			Int64("seq", e.Seq).
			Msg("duplicate event skipped")
		return
	}

	r.Messages = append(r.Messages, RowMessage{
		Content:   e.Text,
		Origin:    origin,
		Timestamp: e.Timestamp,
	})
	if e.Seq > r.lastSeq {
		r.lastSeq = e.Seq
	}
}

// SessionsByUser returns every session row for a user, most recently
// created first.
func (p *Projection) SessionsByUser(userID string) []SessionRow {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var sessions []SessionRow
	for _, r := range p.rows {
		if r.UserID == userID {
			sessions = append(sessions, copyRow(r))
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions
}

// Session returns the row for one conversation.
func (p *Projection) Session(userID, sessionID string) (SessionRow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	key := userID + ledger.IDSeparator + sessionID
	r, ok := p.rows[key]
	if !ok {
		return SessionRow{}, ErrSessionNotFound
	}
	return copyRow(r), nil
}

func copyRow(r *row) SessionRow {
	messages := make([]RowMessage, len(r.Messages))
	copy(messages, r.Messages)
	out := r.SessionRow
	out.Messages = messages
	return out
}
