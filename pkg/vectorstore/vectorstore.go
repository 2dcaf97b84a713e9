// Package vectorstore provides vector storage with similarity search and
// metadata filtering, backing the medical-record knowledge retrieval.
package vectorstore

import (
	"context"
	"fmt"
	"math"
	"time"
)

// VectorStore stores embedded documents and answers similarity queries.
type VectorStore interface {
	// Upsert inserts or updates documents with embeddings.
	Upsert(ctx context.Context, documents []Document) error

	// Search returns the most similar documents for the query, best first.
	Search(ctx context.Context, query SearchQuery) ([]SearchResult, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Close closes the connection to the underlying store.
	Close() error
}

// Document is one embedded text chunk with its metadata.
type Document struct {
	// ID is the unique identifier for the document.
	ID string `json:"id"`

	// Content is the text content of the chunk.
	Content string `json:"content"`

	// Embedding is the vector representation of the content.
	Embedding []float32 `json:"embedding"`

	// Metadata carries filterable attributes, e.g. patientId, diagnosis.
	Metadata map[string]string `json:"metadata,omitempty"`

	// CreatedAt is when the document was stored.
	CreatedAt time.Time `json:"created_at"`
}

// SearchQuery defines the parameters for a similarity search.
type SearchQuery struct {
	// Embedding is the query vector.
	Embedding []float32

	// TopK is the maximum number of results to return.
	TopK int

	// MinScore drops results scoring below the threshold even when fewer
	// than TopK matched.
	MinScore float32

	// Filter requires every listed metadata key to equal the given value.
	Filter map[string]string
}

// SearchResult is one match with its cosine similarity score.
type SearchResult struct {
	Document Document
	Score    float32
}

// ValidateDocument checks a document before storage.
func ValidateDocument(doc *Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document ID cannot be empty")
	}
	if doc.Content == "" {
		return fmt.Errorf("document content cannot be empty")
	}
	if len(doc.Embedding) == 0 {
		return fmt.Errorf("document embedding cannot be empty")
	}
	for i, val := range doc.Embedding {
		if isNaN(val) || isInf(val) {
			return fmt.Errorf("embedding contains invalid value at index %d: %f", i, val)
		}
	}
	return nil
}

// ValidateSearchQuery checks a search query.
func ValidateSearchQuery(query *SearchQuery) error {
	if len(query.Embedding) == 0 {
		return fmt.Errorf("query embedding cannot be empty")
	}
	if query.TopK < 1 {
		return fmt.Errorf("TopK must be at least 1, got %d", query.TopK)
	}
	if query.MinScore < 0 || query.MinScore > 1 {
		return fmt.Errorf("MinScore must be between 0 and 1, got %f", query.MinScore)
	}
	return nil
}

// MatchesFilter reports whether the document satisfies every equality
// condition of the filter. A nil filter matches everything.
func MatchesFilter(doc *Document, filter map[string]string) bool {
	for key, want := range filter {
		if doc.Metadata[key] != want {
			return false
		}
	}
	return true
}

// CosineSimilarity computes similarity between two vectors of equal length.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

func isNaN(f float32) bool {
	return f != f
}

func isInf(f float32) bool {
	return f > math.MaxFloat32 || f < -math.MaxFloat32
}
