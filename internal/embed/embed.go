// Package embed supplies the semantic-similarity term for deduplication.
//
// Two implementations:
// - HashEmbedder: a deterministic hashed bag-of-tokens projection. No model,
//   no I/O, reproducible across runs and machines. The default.
// - ONNXEmbedder (onnx.go): a local MiniLM-class transformer run through
//   onnxruntime, loaded from configured file paths. Opt-in.
//
// The core never calls out over the network for embeddings.
package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Embedder generates embedding vectors from text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// DefaultHashDimensions is the projection width of the hash embedder.
const DefaultHashDimensions = 256

// HashEmbedder projects token counts into a fixed-width vector with the
// hashing trick: each token lands in a bucket chosen by its hash, signed by a
// second hash bit, and the result is L2-normalized. Identical texts always
// produce identical vectors.
type HashEmbedder struct {
	dims int
}

var _ Embedder = (*HashEmbedder)(nil)

// NewHashEmbedder returns a hash embedder. dims <= 0 selects the default.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions returns the projection width.
func (h *HashEmbedder) Dimensions() int { return h.dims }

// Embed produces the normalized bag-of-tokens projection. Empty or
// token-free text yields a zero vector, not an error.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dims)
	for _, tok := range Tokenize(text) {
		f := fnv.New64a()
		f.Write([]byte(tok))
		sum := f.Sum64()
		bucket := int(sum % uint64(h.dims))
		if sum&(1<<63) != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}
	normalize(vec)
	return vec, nil
}

// Tokenize lowercases and splits on non-alphanumeric runs. Shared with the
// deduplicator's Jaccard term so both similarity components see the same
// token stream.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Cosine returns the cosine similarity of two vectors, 0 for mismatched
// lengths or zero vectors.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
}
