package projection

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janikdotzel/healthcare-agent/pkg/ledger"
)

func userEvent(userID, sessionID, text string, seq int64) ledger.Event {
	return ledger.Event{
		Type: ledger.EventUserMessageAdded, UserID: userID, SessionID: sessionID,
		Seq: seq, Text: text, Timestamp: time.Now().UTC(),
	}
}

func assistantEvent(userID, sessionID, text string, seq int64) ledger.Event {
	return ledger.Event{
		Type: ledger.EventAssistantMessageAdded, UserID: userID, SessionID: sessionID,
		Seq: seq, Text: text, Timestamp: time.Now().UTC(),
	}
}

func TestOnEventCreatesRowOnFirstEvent(t *testing.T) {
	p := New(zerolog.Nop())

	p.OnEvent(userEvent("u", "s", "hello", 1))

	row, err := p.Session("u", "s")
	require.NoError(t, err)
	assert.Equal(t, "u", row.UserID)
	assert.Equal(t, "s", row.SessionID)
	assert.False(t, row.CreatedAt.IsZero())
	require.Len(t, row.Messages, 1)
	assert.Equal(t, "user", row.Messages[0].Origin)
	assert.Equal(t, "hello", row.Messages[0].Content)
}

func TestOnEventAppendsInOrder(t *testing.T) {
	p := New(zerolog.Nop())

	p.OnEvent(userEvent("u", "s", "Q1", 1))
	p.OnEvent(assistantEvent("u", "s", "A1", 2))
	p.OnEvent(userEvent("u", "s", "Q2", 3))

	row, err := p.Session("u", "s")
	require.NoError(t, err)
	require.Len(t, row.Messages, 3)
	assert.Equal(t, []string{"user", "assistant", "user"}, []string{
		row.Messages[0].Origin, row.Messages[1].Origin, row.Messages[2].Origin,
	})
}

func TestOnEventIdempotent(t *testing.T) {
	p := New(zerolog.Nop())
	e := userEvent("u", "s", "Q1", 1)

	p.OnEvent(e)
	p.OnEvent(e)
	p.OnEvent(e)

	row, err := p.Session("u", "s")
	require.NoError(t, err)
	assert.Len(t, row.Messages, 1)
}

func TestSessionsByUserOrderedMostRecentFirst(t *testing.T) {
	p := New(zerolog.Nop())

	p.OnEvent(userEvent("u", "old", "Q", 1))
	time.Sleep(2 * time.Millisecond)
	p.OnEvent(userEvent("u", "new", "Q", 1))
	p.OnEvent(userEvent("other", "x", "Q", 1))

	sessions := p.SessionsByUser("u")
	require.Len(t, sessions, 2)
	assert.Equal(t, "new", sessions[0].SessionID)
	assert.Equal(t, "old", sessions[1].SessionID)
}

func TestSessionNotFound(t *testing.T) {
	p := New(zerolog.Nop())

	_, err := p.Session("nobody", "nothing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRunConsumesLedgerSubscription(t *testing.T) {
	l := ledger.New(ledger.NewMemoryStore(), zerolog.Nop())
	t.Cleanup(func() { _ = l.Close() })

	p := New(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	events := l.Subscribe()
	go func() {
		defer close(done)
		p.Run(ctx, events)
	}()

	require.NoError(t, l.Append(ctx, ledger.Exchange{
		UserID: "u", SessionID: "s", Question: "Q1", QuestionTokens: 1, Answer: "A1", AnswerTokens: 2,
	}))

	require.Eventually(t, func() bool {
		row, err := p.Session("u", "s")
		return err == nil && len(row.Messages) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
