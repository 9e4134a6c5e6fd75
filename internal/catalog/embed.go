// Package catalog stores indexed devices and answers semantic queries.
package catalog

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/raevmood/devicefinder/internal/models"
)

// Embedder turns text into a fixed-width vector.
type Embedder interface {
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HashEmbedder is a feature-hashing embedder: each lowercase token and
// adjacent token pair is hashed with FNV-1a into a bucket with a hash-derived
// sign, and the vector is L2 normalized. It is deterministic and needs no
// external service.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder constructs a HashEmbedder; dims <= 0 selects
// models.EmbeddingDimensions.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = models.EmbeddingDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions returns the vector width.
func (e *HashEmbedder) Dimensions() int {
	if e == nil || e.dims <= 0 {
		return models.EmbeddingDimensions
	}
	return e.dims
}

// Embed hashes text into a normalized vector. Text without tokens yields the
// zero vector.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dims := e.Dimensions()
	vec := make([]float32, dims)
	tokens := Tokenize(text)
	for i, token := range tokens {
		addFeature(vec, token, 1)
		if i > 0 {
			addFeature(vec, tokens[i-1]+" "+token, 0.5)
		}
	}
	normalize(vec)
	return vec, nil
}

func addFeature(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(len(vec)))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}

// Tokenize lowercases text and splits it on anything that is not a letter
// or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Cosine returns the cosine similarity of a and b, 0 when either is empty
// or the widths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
