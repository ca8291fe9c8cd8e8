package core

import (
	"fmt"
	"math"
)

// Norm tolerance below which a vector is considered zero and left as-is
// by Normalize.
const zeroNormEpsilon = 1e-8

// CosineSimilarity calculates cosine similarity between two vectors.
// Returns similarity score (higher = more similar).
func CosineSimilarity(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimensions must match: %d != %d", len(a), len(b))
	}

	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB)))), nil
}

// EuclideanDistance calculates L2 distance between two vectors.
// Returns distance score (lower = more similar).
func EuclideanDistance(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimensions must match: %d != %d", len(a), len(b))
	}

	var sum float32
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}

	return float32(math.Sqrt(float64(sum))), nil
}

// DistanceToSimilarity converts an L2 distance between unit vectors to a
// similarity score in [0, 1].
//
// For unit-norm vectors, d = sqrt(2*(1-cos)), so cos = 1 - d^2/2. The cosine
// is clamped to [-1, 1] to absorb floating point noise before the [0, 1]
// mapping.
func DistanceToSimilarity(distance float32) float32 {
	cos := 1.0 - float64(distance)*float64(distance)/2.0

	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}

	return float32((cos + 1.0) / 2.0)
}

// Norm returns the L2 norm of a vector.
func Norm(v []float32) float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	return float32(math.Sqrt(float64(sum)))
}

// Normalize returns a unit-norm copy of v. Vectors with near-zero norm are
// returned unchanged rather than divided by noise.
func Normalize(v []float32) []float32 {
	norm := Norm(v)

	out := make([]float32, len(v))
	if norm < zeroNormEpsilon {
		copy(out, v)
		return out
	}

	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// NormalizeInPlace normalizes v without allocating. Near-zero vectors are
// left untouched.
func NormalizeInPlace(v []float32) {
	norm := Norm(v)
	if norm < zeroNormEpsilon {
		return
	}
	for i := range v {
		v[i] /= norm
	}
}

// IsUnitNorm reports whether v has unit norm within tolerance.
func IsUnitNorm(v []float32, tolerance float64) bool {
	return math.Abs(float64(Norm(v))-1.0) <= tolerance
}

// MeanVector returns the element-wise mean of the given vectors.
// All vectors must share a dimension.
func MeanVector(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("cannot average zero vectors")
	}

	dim := len(vectors[0])
	mean := make([]float32, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector dimensions must match: %d != %d", len(v), dim)
		}
		for i, x := range v {
			mean[i] += x
		}
	}

	n := float32(len(vectors))
	for i := range mean {
		mean[i] /= n
	}
	return mean, nil
}
