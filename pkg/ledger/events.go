// Package ledger provides the durable, append-only conversation log.
// A conversation is identified by (userID, sessionID); its state is a pure
// fold over the ordered event sequence and is never stored directly.
package ledger

import (
	"fmt"
	"strings"
	"time"
)

// IDSeparator joins the user and session identifiers into a single
// conversation key. It must not occur inside either component.
const IDSeparator = ":"

// ConversationID is the composite identity of one conversation thread.
type ConversationID struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

// NewConversationID validates both components and returns the composite id.
func NewConversationID(userID, sessionID string) (ConversationID, error) {
	if userID == "" || sessionID == "" {
		return ConversationID{}, fmt.Errorf("conversation id: user and session must be non-empty")
	}
	if strings.Contains(userID, IDSeparator) {
		return ConversationID{}, fmt.Errorf("conversation id: user %q contains reserved separator %q", userID, IDSeparator)
	}
	if strings.Contains(sessionID, IDSeparator) {
		return ConversationID{}, fmt.Errorf("conversation id: session %q contains reserved separator %q", sessionID, IDSeparator)
	}
	return ConversationID{UserID: userID, SessionID: sessionID}, nil
}

// String collapses the composite key into the ledger's storage identity.
// The same (user, session) pair always yields the same string.
func (id ConversationID) String() string {
	return id.UserID + IDSeparator + id.SessionID
}

// Role tags a message with its author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation, immutable once appended.
type Message struct {
	Content string `json:"content"`
	Role    Role   `json:"role"`
}

// Exchange is one full question/answer round-trip, the unit of commit.
// Appending an Exchange produces exactly two events, user first.
type Exchange struct {
	UserID         string `json:"userId"`
	SessionID      string `json:"sessionId"`
	Question       string `json:"question"`
	QuestionTokens int    `json:"questionTokens"`
	Answer         string `json:"answer"`
	AnswerTokens   int    `json:"answerTokens"`
}

// EventType discriminates the sealed set of conversation events.
type EventType string

const (
	EventUserMessageAdded      EventType = "user-message-added"
	EventAssistantMessageAdded EventType = "assistant-message-added"
)

// Event is an immutable conversation fact. Seq is a monotonically
// increasing per-conversation sequence number assigned by the store and
// used by downstream consumers to detect duplicate delivery.
type Event struct {
	Type       EventType `json:"type"`
	UserID     string    `json:"userId"`
	SessionID  string    `json:"sessionId"`
	Seq        int64     `json:"seq"`
	Text       string    `json:"text"`
	TokensUsed int       `json:"tokensUsed"`
	Timestamp  time.Time `json:"timestamp"`
}

// ConversationID returns the composite key the event belongs to.
func (e Event) ConversationID() ConversationID {
	return ConversationID{UserID: e.UserID, SessionID: e.SessionID}
}

// ConversationState is the materialized fold of a conversation's events.
type ConversationState struct {
	Messages        []Message `json:"messages"`
	TotalTokenUsage int       `json:"totalTokenUsage"`
}

// EmptyState is the fold's initial value.
func EmptyState() ConversationState {
	return ConversationState{Messages: []Message{}}
}

// Apply folds a single event into the state. It is pure and total over
// the event types; unknown types leave the state unchanged.
func (s ConversationState) Apply(e Event) ConversationState {
	switch e.Type {
	case EventUserMessageAdded:
		s.Messages = append(s.Messages, Message{Content: e.Text, Role: RoleUser})
		s.TotalTokenUsage += e.TokensUsed
	case EventAssistantMessageAdded:
		s.Messages = append(s.Messages, Message{Content: e.Text, Role: RoleAssistant})
		s.TotalTokenUsage += e.TokensUsed
	}
	return s
}

// Replay rebuilds state from the full event sequence.
func Replay(events []Event) ConversationState {
	state := EmptyState()
	for _, e := range events {
		state = state.Apply(e)
	}
	return state
}
