// Package distance provides cosine similarity and distance between float32 vectors.
//
// Dot products run on the pure-Go gonum BLAS kernels, which use SIMD where the
// platform supports it. Magnitudes are accumulated the same way, so a vector's
// norm can be computed once and reused across many comparisons.
package distance

import (
	"math"

	"gonum.org/v1/gonum/blas/gonum"
)

var blas = gonum.Implementation{}

// Dot returns the dot product of a and b. Vectors of different length yield 0.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return float64(blas.Sdot(len(a), a, 1, b, 1))
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	if len(v) == 0 {
		return 0
	}
	return float64(blas.Snrm2(len(v), v, 1))
}

// CosineSimilarity returns the cosine of the angle between a and b, in [-1, 1].
// Zero-magnitude vectors have similarity 0 with everything, and vectors of
// different length are treated the same way.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	return similarity(Dot(a, b), Norm(a), Norm(b))
}

// CosineDistance returns 1 - CosineSimilarity(a, b), in [0, 2].
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}

// CosineDistanceNorms is CosineDistance with precomputed norms of a and b.
func CosineDistanceNorms(a, b []float32, normA, normB float64) float64 {
	if len(a) != len(b) {
		return 1
	}
	return 1 - similarity(Dot(a, b), normA, normB)
}

func similarity(dot, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	s := dot / (normA * normB)
	// Rounding can push identical vectors slightly past 1.
	return math.Max(-1, math.Min(1, s))
}
