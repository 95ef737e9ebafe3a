package rag

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	chromem "github.com/philippgille/chromem-go"
	"google.golang.org/genai"
)

// Gemini task type hints. Corpus documents and user queries are embedded
// with different hints so the model places them in an asymmetric retrieval
// space, which improves ranking over symmetric embeddings.
const (
	taskDocument = "RETRIEVAL_DOCUMENT"
	taskQuery    = "RETRIEVAL_QUERY"
)

// Embedder produces vectors for corpus documents and for user queries.
// Implementations must return one vector per input text, in input order.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// GeminiEmbedder adapts a Genkit ai.Embedder to the Embedder interface,
// attaching the Gemini task type hint and an optional fixed output dimension.
type GeminiEmbedder struct {
	embedder  ai.Embedder
	dimension int32 // 0 = provider default
}

// NewGeminiEmbedder creates a GeminiEmbedder. A dimension of 0 keeps the
// model's native output dimensionality.
func NewGeminiEmbedder(embedder ai.Embedder, dimension int32) (*GeminiEmbedder, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if dimension < 0 {
		return nil, fmt.Errorf("dimension must not be negative, got %d", dimension)
	}
	return &GeminiEmbedder{embedder: embedder, dimension: dimension}, nil
}

// EmbedDocuments embeds a batch of corpus documents.
func (g *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts to embed")
	}

	input := make([]*ai.Document, 0, len(texts))
	for _, text := range texts {
		input = append(input, ai.DocumentFromText(text, nil))
	}

	resp, err := g.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   input,
		Options: g.options(taskDocument),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding documents: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d documents", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if err := g.checkVector(e.Embedding); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		vectors[i] = e.Embedding
	}
	return vectors, nil
}

// EmbedQuery embeds a single user query.
func (g *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: g.options(taskQuery),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	if err := g.checkVector(resp.Embeddings[0].Embedding); err != nil {
		return nil, err
	}
	return resp.Embeddings[0].Embedding, nil
}

// options builds the Gemini embed request options for the given task.
func (g *GeminiEmbedder) options(task string) *genai.EmbedContentConfig {
	cfg := &genai.EmbedContentConfig{TaskType: task}
	if g.dimension > 0 {
		dim := g.dimension
		cfg.OutputDimensionality = &dim
	}
	return cfg
}

// checkVector rejects empty vectors and dimension drift.
func (g *GeminiEmbedder) checkVector(vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("empty embedding returned")
	}
	if g.dimension > 0 && int32(len(vec)) != g.dimension {
		return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(vec), g.dimension)
	}
	return nil
}

// newEmbeddingFunc bridges an Embedder to chromem-go's EmbeddingFunc.
// The index always supplies precomputed document vectors, so chromem only
// falls back to this function for text queries, which embed as queries.
//
// Note: chromem-go automatically normalizes vectors, so no manual
// normalization is needed.
func newEmbeddingFunc(embedder Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}
}
