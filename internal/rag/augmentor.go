// Package rag retrieves user-scoped medical-record knowledge and renders
// it into prompt text for the agent.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/janikdotzel/healthcare-agent/pkg/embeddings"
	"github.com/janikdotzel/healthcare-agent/pkg/vectorstore"
)

const (
	// MetadataKeyPatient is the metadata field that scopes every snippet
	// to its owning user. Currently the patientId must equal the userId.
	MetadataKeyPatient = "patientId"

	defaultTopK     = 10
	defaultMinScore = 0.1
	defaultTimeout  = 5 * time.Second
)

// ErrEmptyUser is returned when a retrieval is attempted without a user id.
// Retrieval without an owner filter would leak other users' records.
var ErrEmptyUser = errors.New("rag: user id must not be empty")

// Augmentor answers "what do we know about this user that is relevant to
// the question". Results are strictly scoped to the requesting user.
type Augmentor struct {
	store    vectorstore.VectorStore
	embedder embeddings.Service
	log      zerolog.Logger

	topK     int
	minScore float32
	timeout  time.Duration
}

// Option configures an Augmentor.
type Option func(*Augmentor)

// WithTopK overrides the number of snippets retrieved.
func WithTopK(k int) Option {
	return func(a *Augmentor) { a.topK = k }
}

// WithMinScore overrides the similarity threshold.
func WithMinScore(score float32) Option {
	return func(a *Augmentor) { a.minScore = score }
}

// WithTimeout bounds the embed+search round-trip.
func WithTimeout(d time.Duration) Option {
	return func(a *Augmentor) { a.timeout = d }
}

// New creates an Augmentor over the given store and embedding service.
func New(store vectorstore.VectorStore, embedder embeddings.Service, log zerolog.Logger, opts ...Option) *Augmentor {
	a := &Augmentor{
		store:    store,
		embedder: embedder,
		log:      log.With().Str("component", "rag").Logger(),
		topK:     defaultTopK,
		minScore: defaultMinScore,
		timeout:  defaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Retrieve returns the knowledge block for the question, scoped to the
// user. Transient store or embedding failures degrade to an empty block:
// the exchange proceeds without augmentation rather than failing.
func (a *Augmentor) Retrieve(ctx context.Context, question, userID string) (string, error) {
	if userID == "" {
		return "", ErrEmptyUser
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	snippets, err := a.search(ctx, question, userID)
	if err != nil {
		a.log.Warn().Err(err).
			Str("userId", userID).
			Msg("retrieval degraded to empty augmentation")
		return "", nil
	}
	return renderKnowledge(snippets), nil
}

func (a *Augmentor) search(ctx context.Context, question, userID string) ([]vectorstore.SearchResult, error) {
	vector, err := a.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	results, err := a.store.Search(ctx, vectorstore.SearchQuery{
		Embedding: vector,
		TopK:      a.topK,
		MinScore:  a.minScore,
		Filter:    map[string]string{MetadataKeyPatient: userID},
	})
	if err != nil {
		return nil, fmt.Errorf("search knowledge store: %w", err)
	}
	return results, nil
}

// renderKnowledge joins the retrieved snippets into the block injected
// verbatim into the prompt. No snippets renders to the empty string.
func renderKnowledge(snippets []vectorstore.SearchResult) string {
	if len(snippets) == 0 {
		return ""
	}

	var b strings.Builder
	for i, s := range snippets {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(s.Document.Content)
	}
	return b.String()
}
