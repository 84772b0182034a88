// Package hashing provides an offline embedding service based on feature hashing.
//
// Vectors are built from word unigrams and bigrams hashed into a fixed number
// of buckets, weighted by log term frequency and L2-normalised. The output is
// deterministic for a given input, which makes the service suitable for tests
// and for air-gapped desks without a model server.
package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// Ensure EmbeddingService implements the interface.
var _ driven.EmbeddingService = (*EmbeddingService)(nil)

// Default configuration values.
const (
	DefaultModel      = "hashing-v1"
	DefaultDimensions = 512
)

// Config holds configuration for the hashing embedding service.
type Config struct {
	// Dimensions is the number of hash buckets (default: 512).
	Dimensions int
}

// EmbeddingService hashes tokens into a fixed-width vector.
type EmbeddingService struct {
	dimensions int
}

// NewEmbeddingService creates a new hashing embedding service.
func NewEmbeddingService(cfg Config) *EmbeddingService {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	return &EmbeddingService{dimensions: cfg.Dimensions}
}

// Embed generates a vector embedding for the given text.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.vector(text), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = s.vector(text)
	}
	return out, nil
}

// Dimensions returns the embedding vector size.
func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

// ModelName returns the encoder version.
func (s *EmbeddingService) ModelName() string {
	return DefaultModel
}

// Ping always succeeds.
func (s *EmbeddingService) Ping(context.Context) error {
	return nil
}

// Close releases resources.
func (s *EmbeddingService) Close() error {
	return nil
}

func (s *EmbeddingService) vector(text string) []float32 {
	tokens := Tokenize(text)
	counts := make(map[string]int, len(tokens)*2)
	for i, tok := range tokens {
		counts[tok]++
		if i > 0 {
			counts[tokens[i-1]+" "+tok]++
		}
	}

	vec := make([]float64, s.dimensions)
	for feature, n := range counts {
		h := fnv.New64a()
		_, _ = h.Write([]byte(feature))
		sum := h.Sum64()
		bucket := int(sum % uint64(s.dimensions))
		sign := 1.0
		if (sum>>63)&1 == 1 {
			sign = -1.0
		}
		vec[bucket] += sign * (1 + math.Log(float64(n)))
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, s.dimensions)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

// Tokenize lowercases text and splits it on anything that is not a letter,
// digit, or decimal point inside a number.
func Tokenize(text string) []string {
	var tokens []string
	var b strings.Builder
	runes := []rune(strings.ToLower(text))
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case (r == '.' || r == ',') && i > 0 && i+1 < len(runes) &&
			unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]):
			b.WriteRune('.')
		default:
			flush()
		}
	}
	flush()
	return tokens
}
