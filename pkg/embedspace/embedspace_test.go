// Copyright 2025 Certen Protocol

package embedspace

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateDim_OK(t *testing.T) {
	vecs := []Vector{{1, 2, 3}, {4, 5, 6}}
	require.NoError(t, ValidateDim(vecs, 3))
}

func TestValidateDim_Mismatch(t *testing.T) {
	vecs := []Vector{{1, 2, 3}, {4, 5}}
	err := ValidateDim(vecs, 3)
	require.Error(t, err)
}

func TestNormalize_UnitLength(t *testing.T) {
	vecs := []Vector{{3, 4}}
	out := Normalize(vecs)
	norm := math.Sqrt(out[0][0]*out[0][0] + out[0][1]*out[0][1])
	require.InDelta(t, 1.0, norm, 1e-12)
	require.InDelta(t, 0.6, out[0][0], 1e-12)
	require.InDelta(t, 0.8, out[0][1], 1e-12)
}

func TestNormalize_ZeroVectorUntouched(t *testing.T) {
	vecs := []Vector{{0, 0, 0}}
	out := Normalize(vecs)
	require.Equal(t, Vector{0, 0, 0}, out[0])
}

func TestMatrix_Shape(t *testing.T) {
	vecs := []Vector{{1, 2}, {3, 4}, {5, 6}}
	m := Matrix(vecs)
	r, c := m.Dims()
	require.Equal(t, 3, r)
	require.Equal(t, 2, c)
	require.Equal(t, 4.0, m.At(1, 1))
}

func TestCentroid_Mean(t *testing.T) {
	vecs := []Vector{{1, 1}, {3, 3}}
	c := Centroid(vecs)
	require.Equal(t, Vector{2, 2}, c)
}

func TestCentroid_Empty(t *testing.T) {
	require.Nil(t, Centroid(nil))
}
