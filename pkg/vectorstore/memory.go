package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory VectorStore using brute-force cosine search.
// Suitable for tests and small local deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string]Document
}

// NewMemoryStore creates an empty in-memory vector store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{documents: make(map[string]Document)}
}

// Upsert inserts or updates documents.
func (m *MemoryStore) Upsert(ctx context.Context, documents []Document) error {
	if len(documents) == 0 {
		return nil
	}

	for i := range documents {
		if err := ValidateDocument(&documents[i]); err != nil {
			return fmt.Errorf("invalid document at index %d: %w", i, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, doc := range documents {
		m.documents[doc.ID] = doc
	}
	return nil
}

// Search performs brute-force similarity search over all documents.
func (m *MemoryStore) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	if err := ValidateSearchQuery(&query); err != nil {
		return nil, fmt.Errorf("invalid search query: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []SearchResult
	for _, doc := range m.documents {
		if !MatchesFilter(&doc, query.Filter) {
			continue
		}
		score := CosineSimilarity(query.Embedding, doc.Embedding)
		if score < query.MinScore {
			continue
		}
		results = append(results, SearchResult{Document: doc, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > query.TopK {
		results = results[:query.TopK]
	}
	return results, nil
}

// Delete removes documents by id. Unknown ids are ignored.
func (m *MemoryStore) Delete(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		delete(m.documents, id)
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
