package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(id, content string, embedding []float32, metadata map[string]string) Document {
	return Document{ID: id, Content: content, Embedding: embedding, Metadata: metadata}
}

func TestMemoryStoreUpsertAndSearch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	err := store.Upsert(ctx, []Document{
		doc("1", "diabetes type 2 diagnosis", []float32{1, 0, 0}, map[string]string{"patientId": "a"}),
		doc("2", "seasonal allergy notes", []float32{0, 1, 0}, map[string]string{"patientId": "a"}),
		doc("3", "broken arm treatment", []float32{0.9, 0.1, 0}, map[string]string{"patientId": "a"}),
	})
	require.NoError(t, err)

	results, err := store.Search(ctx, SearchQuery{
		Embedding: []float32{1, 0, 0},
		TopK:      2,
		MinScore:  0.1,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "1", results[0].Document.ID)
	assert.Equal(t, "3", results[1].Document.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestMemoryStoreFilterIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []Document{
		doc("a1", "record of patient a", []float32{1, 0, 0}, map[string]string{"patientId": "a"}),
		doc("b1", "record of patient b", []float32{1, 0, 0}, map[string]string{"patientId": "b"}),
	}))

	results, err := store.Search(ctx, SearchQuery{
		Embedding: []float32{1, 0, 0},
		TopK:      10,
		MinScore:  0.1,
		Filter:    map[string]string{"patientId": "a"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a1", results[0].Document.ID)
}

func TestMemoryStoreMinScoreDropsWeakMatches(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []Document{
		doc("near", "close match", []float32{1, 0, 0}, nil),
		doc("far", "orthogonal", []float32{0, 1, 0}, nil),
	}))

	results, err := store.Search(ctx, SearchQuery{
		Embedding: []float32{1, 0, 0},
		TopK:      10,
		MinScore:  0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "near", results[0].Document.ID)
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []Document{
		doc("1", "content", []float32{1, 0}, nil),
	}))
	require.NoError(t, store.Delete(ctx, []string{"1", "unknown"}))

	results, err := store.Search(ctx, SearchQuery{Embedding: []float32{1, 0}, TopK: 1})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name    string
		doc     Document
		wantErr bool
	}{
		{name: "valid", doc: doc("1", "text", []float32{1}, nil)},
		{name: "empty id", doc: doc("", "text", []float32{1}, nil), wantErr: true},
		{name: "empty content", doc: doc("1", "", []float32{1}, nil), wantErr: true},
		{name: "empty embedding", doc: doc("1", "text", nil, nil), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(&tt.doc)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Zero(t, CosineSimilarity([]float32{1, 0}, []float32{1}))
}
