package utils

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
)

// DefaultEmbeddingDim is the vector size used when none is configured.
const DefaultEmbeddingDim = 384

// Encoder maps text to a fixed-size vector. Implementations must be
// deterministic for the same input and must accept any string.
type Encoder interface {
	Dimension() int
	Encode(text string) []float32
}

// HashEncoder is a stand-in embedding model. It seeds a PRNG from the
// SHA-256 of the text and draws a normally distributed vector, so equal
// texts always map to equal vectors but the geometry carries no meaning.
type HashEncoder struct {
	dim int
}

func NewHashEncoder(dim int) *HashEncoder {
	if dim <= 0 {
		dim = DefaultEmbeddingDim
	}
	return &HashEncoder{dim: dim}
}

func (e *HashEncoder) Dimension() int { return e.dim }

func (e *HashEncoder) Encode(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	rng := rand.New(rand.NewPCG(
		binary.LittleEndian.Uint64(sum[0:8]),
		binary.LittleEndian.Uint64(sum[8:16]),
	))
	vec := make([]float32, e.dim)
	for i := range vec {
		vec[i] = float32(rng.NormFloat64())
	}
	return Normalize(vec)
}

// Normalize scales vec to unit length in place. A zero vector is returned unchanged.
func Normalize(vec []float32) []float32 {
	mag := magnitude(vec)
	if mag == 0 {
		return vec
	}
	for i := range vec {
		vec[i] /= mag
	}
	return vec
}

// Dot returns the dot product over the shared prefix of a and b.
// For unit vectors this is their cosine similarity.
func Dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// dotProduct calculates the dot product of two vectors.
func dotProduct(vec1, vec2 []float32) (float32, error) {
	if len(vec1) != len(vec2) {
		return 0, fmt.Errorf("vectors must have the same dimension")
	}
	return Dot(vec1, vec2), nil
}

// magnitude calculates the L2 norm (magnitude) of a vector.
func magnitude(vec []float32) float32 {
	var sumOfSquares float64
	for _, val := range vec {
		sumOfSquares += float64(val) * float64(val)
	}
	return float32(math.Sqrt(sumOfSquares))
}

// CosineSimilarity calculates the cosine similarity between two vectors
// that are not necessarily normalized.
func CosineSimilarity(vec1, vec2 []float32) (float32, error) {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0, fmt.Errorf("vectors cannot be empty")
	}
	dotProduct, err := dotProduct(vec1, vec2)
	if err != nil {
		return 0, err
	}

	mag1 := magnitude(vec1)
	mag2 := magnitude(vec2)

	if mag1 == 0 || mag2 == 0 {
		return 0, nil
	}

	return dotProduct / (mag1 * mag2), nil
}
