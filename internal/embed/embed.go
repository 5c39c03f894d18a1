// Package embed turns a recipe's title and ingredient list into a
// fixed-dimension vector (§4.4).
//
// No sentence-encoder model ships with this module's dependency set, so
// Generate is a deterministic stand-in: it tokenizes the embedding text,
// hashes each token into one of model.EmbeddingDimension buckets with
// FNV-1a, derives a sign from a second hash so buckets aren't all
// positive, and L2-normalizes the result. It satisfies every contract the
// rest of the pipeline needs from an embedding — same text in, same
// vector out, fixed length, used for kNN/cosine similarity — without
// depending on a network call or a model binary.
package embed

import (
	"hash/fnv"
	"math"
	"strings"

	"github.com/reciperun/pipeline/internal/model"
)

// Generate produces a model.EmbeddingDimension-length, L2-normalized
// vector from text. Equal text always produces an equal vector; empty
// text produces the zero vector.
func Generate(text string) []float32 {
	vec := make([]float64, model.EmbeddingDimension)

	tokens := strings.Fields(strings.ToLower(text))
	for _, token := range tokens {
		bucket := bucketHash(token) % uint32(model.EmbeddingDimension)
		sign := float64(1)
		if signHash(token)%2 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}

	return l2Normalize(vec)
}

// ForRecipe generates the embedding for r using the text construction
// §4.4 specifies: title followed by ingredient item names only, in order.
func ForRecipe(r *model.Recipe) []float32 {
	return Generate(r.EmbeddingText())
}

func bucketHash(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte("bucket:" + token))
	return h.Sum32()
}

func signHash(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte("sign:" + token))
	return h.Sum32()
}

func l2Normalize(vec []float64) []float32 {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += v * v
	}

	out := make([]float32, len(vec))
	if sumSquares == 0 {
		return out
	}

	norm := math.Sqrt(sumSquares)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
