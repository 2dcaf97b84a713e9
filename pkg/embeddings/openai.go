package embeddings

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIService implements Service on the OpenAI embeddings API.
type OpenAIService struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// OpenAIConfig configures the OpenAI embedding service.
type OpenAIConfig struct {
	// APIKey for authentication (required unless Client is set).
	APIKey string
	// Model defaults to text-embedding-3-small.
	Model string
	// BaseURL overrides the API endpoint (optional).
	BaseURL string
}

// NewOpenAIService creates an embedding service backed by OpenAI.
func NewOpenAIService(cfg OpenAIConfig) (*OpenAIService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := openai.SmallEmbedding3
	if cfg.Model != "" {
		model = openai.EmbeddingModel(cfg.Model)
	}

	return &OpenAIService{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

// NewOpenAIServiceWithClient wraps an existing client. Useful for testing
// against a stub server.
func NewOpenAIServiceWithClient(client *openai.Client, model openai.EmbeddingModel) *OpenAIService {
	if model == "" {
		model = openai.SmallEmbedding3
	}
	return &OpenAIService{client: client, model: model}
}

// Embed generates the embedding for one text.
func (s *OpenAIService) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (s *OpenAIService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts to embed")
	}

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: s.model,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(resp.Data))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// ModelName returns the configured model name.
func (s *OpenAIService) ModelName() string {
	return string(s.model)
}
