package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"gwi.com/sqlrag/internal/config"
	"gwi.com/sqlrag/internal/utils"
)

// Embedder turns text into vectors for the schema index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelInfo() string
	Close() error
}

// New builds the embedder selected by cfg.EmbeddingProvider.
func New(ctx context.Context, cfg config.Config) (Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "", "local":
		return NewLocalEmbedder(cfg.EmbeddingDimension), nil
	case "gemini":
		return NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
	case "openai":
		return NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbeddingModel)
	case "ollama":
		return NewOllamaEmbedder(cfg.OllamaURL, cfg.EmbeddingModel), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}

// LocalEmbedder hashes word unigrams and character trigrams into a fixed number of buckets.
// It needs no model or network and is deterministic, so identical texts get identical vectors.
type LocalEmbedder struct {
	dim int
}

func NewLocalEmbedder(dimension int) *LocalEmbedder {
	if dimension <= 0 {
		dimension = 384
	}
	return &LocalEmbedder{dim: dimension}
}

func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for _, word := range tokenize(text) {
		e.add(vec, "w:"+word, 1)
		padded := "#" + word + "#"
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			e.add(vec, "t:"+string(runes[i:i+3]), 0.5)
		}
	}
	utils.Normalize(vec)
	return vec, nil
}

// add uses the signed hashing trick so that collisions cancel out on average.
func (e *LocalEmbedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

func (e *LocalEmbedder) ModelInfo() string {
	return fmt.Sprintf("local-hash-%d", e.dim)
}

func (e *LocalEmbedder) Close() error { return nil }

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
