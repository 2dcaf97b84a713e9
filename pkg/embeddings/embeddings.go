// Package embeddings turns text into vectors for knowledge indexing and
// retrieval.
package embeddings

import "context"

// Service generates text embeddings.
type Service interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// ModelName returns the name of the embedding model.
	ModelName() string
}
