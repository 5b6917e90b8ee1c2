// Copyright 2025 Certen Protocol
//
// Package embedspace validates and normalizes the embedding vectors that
// enter a lattice. Every chunk vector is checked against the database's
// configured dimension before it ever reaches the graph builder or the SPD
// solver, and is L2-normalized so that cosine similarity (used by the
// mutual-kNN graph) reduces to a plain dot product.
package embedspace

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/oerrors"
)

// Vector is a single chunk embedding.
type Vector []float64

// ValidateDim checks that every vector in vecs has exactly dim components.
// Returns an oerrors.EmbedDimMismatch error naming the first offending
// index.
func ValidateDim(vecs []Vector, dim int) error {
	if dim <= 0 {
		return oerrors.New(oerrors.InvalidInput, "embedding dimension must be positive")
	}
	for i, v := range vecs {
		if len(v) != dim {
			return oerrors.Newf(oerrors.EmbedDimMismatch,
				"vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return nil
}

// Normalize returns a new slice of L2-normalized copies of vecs. A
// zero-norm (or non-finite-norm) vector is returned as an unchanged copy
// rather than divided by its norm, so an all-zero embedding stays all-zero
// instead of turning into NaNs.
func Normalize(vecs []Vector) []Vector {
	out := make([]Vector, len(vecs))
	for i, v := range vecs {
		out[i] = normalizeOne(v)
	}
	return out
}

func normalizeOne(v Vector) Vector {
	vd := mat.NewVecDense(len(v), append([]float64(nil), v...))
	norm := mat.Norm(vd, 2)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return append(Vector(nil), v...)
	}
	out := make(Vector, len(v))
	for i := range v {
		out[i] = v[i] / norm
	}
	return out
}

// Matrix stacks vecs into an n×d gonum matrix, one row per vector. Callers
// that need the raw Gram matrix (graph construction) or column operations
// (the SPD assembler) build on top of this.
func Matrix(vecs []Vector) *mat.Dense {
	if len(vecs) == 0 {
		return mat.NewDense(0, 0, nil)
	}
	n, d := len(vecs), len(vecs[0])
	data := make([]float64, 0, n*d)
	for _, v := range vecs {
		data = append(data, v...)
	}
	return mat.NewDense(n, d, data)
}

// Centroid returns the mean vector across vecs. pkg/lattice uses it for a
// lattice's pin target q_L, which is also the router centroid the Composite
// Settler reads under the centroid-only representative-vector policy.
func Centroid(vecs []Vector) Vector {
	if len(vecs) == 0 {
		return nil
	}
	d := len(vecs[0])
	sum := make(Vector, d)
	for _, v := range vecs {
		for i, x := range v {
			sum[i] += x
		}
	}
	n := float64(len(vecs))
	for i := range sum {
		sum[i] /= n
	}
	return sum
}
