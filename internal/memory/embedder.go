package memory

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultDimensions = 256

// Embedder generates text embeddings for discovery recall.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int
}

// LocalEmbedder is a deterministic feature-hashing embedder. It needs no
// network and always produces the same vector for the same text, which
// keeps resumed tasks recalling consistently across restarts.
type LocalEmbedder struct {
	dimensions int
}

// NewLocalEmbedder creates a local embedder. dimensions <= 0 selects the
// default.
func NewLocalEmbedder(dimensions int) *LocalEmbedder {
	if dimensions <= 0 {
		dimensions = defaultDimensions
	}
	return &LocalEmbedder{dimensions: dimensions}
}

func (e *LocalEmbedder) Dimensions() int {
	return e.dimensions
}

// Embed hashes tokens into a signed bag-of-words vector and normalizes
// it, so cosine similarity reduces to a dot product.
func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vector := make([]float32, e.dimensions)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum32()

		index := int(sum % uint32(e.dimensions))
		// The bit above the index choice decides the sign, which spreads
		// collision noise around zero instead of accumulating it.
		if sum&0x80000000 != 0 {
			vector[index] -= 1
		} else {
			vector[index] += 1
		}
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vector {
			vector[i] *= scale
		}
	}
	return vector, nil
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if len(field) < 2 {
			continue
		}
		tokens = append(tokens, field)
	}
	return tokens
}
