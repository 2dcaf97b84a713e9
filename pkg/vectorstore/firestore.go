package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// FirestoreStore is a Firestore-backed VectorStore. Documents live in one
// collection; metadata fields are flattened for server-side equality
// filtering and similarity is scored client-side.
//
// Composite indexes must exist for filtered queries in production.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// FirestoreConfig configures the Firestore vector store.
type FirestoreConfig struct {
	// ProjectID is the GCP project (required).
	ProjectID string
	// Collection is the Firestore collection name (default: "medical-records").
	Collection string
	// CredentialsFile optionally points at service account credentials;
	// otherwise Application Default Credentials are used.
	CredentialsFile string
}

// firestoreDocument is the stored shape. Embeddings are persisted as
// float64 because Firestore has no float32 value type.
type firestoreDocument struct {
	ID        string            `firestore:"id"`
	Content   string            `firestore:"content"`
	Embedding []float64         `firestore:"embedding"`
	Metadata  map[string]string `firestore:"metadata,omitempty"`
	CreatedAt time.Time         `firestore:"created_at"`
}

// NewFirestoreStore connects to Firestore.
func NewFirestoreStore(ctx context.Context, cfg FirestoreConfig) (*FirestoreStore, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firestore project ID is required")
	}

	collection := cfg.Collection
	if collection == "" {
		collection = "medical-records"
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}

	return &FirestoreStore{client: client, collection: collection}, nil
}

// Upsert writes documents with a BulkWriter (500 ops per batch limit is
// far above this system's chunk counts).
func (f *FirestoreStore) Upsert(ctx context.Context, documents []Document) error {
	if len(documents) == 0 {
		return nil
	}

	for i := range documents {
		if err := ValidateDocument(&documents[i]); err != nil {
			return fmt.Errorf("invalid document at index %d: %w", i, err)
		}
	}

	bulkWriter := f.client.BulkWriter(ctx)
	defer bulkWriter.End()

	for _, doc := range documents {
		created := doc.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		fsDoc := firestoreDocument{
			ID:        doc.ID,
			Content:   doc.Content,
			Embedding: toFloat64(doc.Embedding),
			Metadata:  doc.Metadata,
			CreatedAt: created,
		}
		if _, err := bulkWriter.Set(f.client.Collection(f.collection).Doc(doc.ID), fsDoc); err != nil {
			return fmt.Errorf("queue write for document %s: %w", doc.ID, err)
		}
	}
	return nil
}

// Search applies metadata filters server-side, then scores and ranks the
// matching documents client-side.
func (f *FirestoreStore) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	if err := ValidateSearchQuery(&query); err != nil {
		return nil, fmt.Errorf("invalid search query: %w", err)
	}

	fsQuery := f.client.Collection(f.collection).Query
	for key, value := range query.Filter {
		fsQuery = fsQuery.Where("metadata."+key, "==", value)
	}

	iter := fsQuery.Documents(ctx)
	defer iter.Stop()

	var results []SearchResult
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate documents: %w", err)
		}

		var fsDoc firestoreDocument
		if err := snap.DataTo(&fsDoc); err != nil {
			return nil, fmt.Errorf("unmarshal document %s: %w", snap.Ref.ID, err)
		}

		doc := Document{
			ID:        fsDoc.ID,
			Content:   fsDoc.Content,
			Embedding: toFloat32(fsDoc.Embedding),
			Metadata:  fsDoc.Metadata,
			CreatedAt: fsDoc.CreatedAt,
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

// Delete removes documents by id.
func (f *FirestoreStore) Delete(ctx context.Context, ids []string) error {
	bulkWriter := f.client.BulkWriter(ctx)
	defer bulkWriter.End()

	for _, id := range ids {
		if _, err := bulkWriter.Delete(f.client.Collection(f.collection).Doc(id)); err != nil {
			return fmt.Errorf("queue delete for document %s: %w", id, err)
		}
	}
	return nil
}

// Close closes the Firestore client.
func (f *FirestoreStore) Close() error {
	return f.client.Close()
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
