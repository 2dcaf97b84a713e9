package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/janikdotzel/healthcare-agent/pkg/embeddings"
	"github.com/janikdotzel/healthcare-agent/pkg/vectorstore"
)

const (
	chunkSize    = 500
	chunkOverlap = 50
)

// MedicalRecord is one visit record for a patient. All text fields are
// concatenated, chunked and embedded for retrieval.
type MedicalRecord struct {
	PatientID            string `json:"patientId"`
	ReasonForVisit       string `json:"reasonForVisit"`
	Diagnosis            string `json:"diagnosis"`
	PrescribedMedication string `json:"prescribedMedication"`
	Notes                string `json:"notes"`
}

// Validate checks the fields required to index a record.
func (r MedicalRecord) Validate() error {
	if r.PatientID == "" {
		return ErrEmptyPatient
	}
	if r.ReasonForVisit == "" && r.Diagnosis == "" && r.PrescribedMedication == "" && r.Notes == "" {
		return fmt.Errorf("ingest: medical record for %s has no content", r.PatientID)
	}
	return nil
}

func (r MedicalRecord) text() string {
	parts := []string{
		"Reason for visit: " + r.ReasonForVisit,
		"Diagnosis: " + r.Diagnosis,
		"Prescribed medication: " + r.PrescribedMedication,
		"Notes: " + r.Notes,
	}
	return strings.Join(parts, "\n")
}

// Indexer chunks, embeds and stores medical records so the retrieval
// augmentor can find them later.
type Indexer struct {
	store    vectorstore.VectorStore
	embedder embeddings.Service
	log      zerolog.Logger
}

// NewIndexer wires an Indexer to its vector store and embedding service.
func NewIndexer(store vectorstore.VectorStore, embedder embeddings.Service, log zerolog.Logger) *Indexer {
	return &Indexer{
		store:    store,
		embedder: embedder,
		log:      log.With().Str("component", "indexer").Logger(),
	}
}

// IndexMedicalRecord splits the record into overlapping chunks, embeds each
// one and upserts it with the patient id as metadata.
func (ix *Indexer) IndexMedicalRecord(ctx context.Context, record MedicalRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	chunks := splitText(record.text(), chunkSize, chunkOverlap)
	vectors, err := ix.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return fmt.Errorf("ingest: embed medical record: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("ingest: embedding count mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}

	now := time.Now().UTC()
	docs := make([]vectorstore.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = vectorstore.Document{
			ID:        uuid.NewString(),
			Content:   chunk,
			Embedding: vectors[i],
			Metadata: map[string]string{
				"patientId": record.PatientID,
			},
			CreatedAt: now,
		}
	}
	if err := ix.store.Upsert(ctx, docs); err != nil {
		return fmt.Errorf("ingest: store %d chunks: %w", len(docs), err)
	}

	ix.log.Info().
		Str("patient", record.PatientID).
		Int("chunks", len(chunks)).
		Msg("medical record indexed")
	return nil
}

// splitText chops text into chunks of at most size characters with the
// given overlap between consecutive chunks.
func splitText(text string, size, overlap int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}
