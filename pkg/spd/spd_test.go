// Copyright 2025 Certen Protocol

package spd

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/graph"
)

func defaultParams() Params {
	return Params{LambdaG: 1.0, LambdaC: 0.5, LambdaQ: 2.0, Tol: 1e-8, MaxIter: 200}
}

func TestAssemble_DiagonalIncludesAllTerms(t *testing.T) {
	edges := []graph.Edge{{A: 0, B: 1, Weight: 1.0}}
	b := []float64{1, 0}
	p := defaultParams()

	m := Assemble(2, edges, b, p)
	require.InDelta(t, p.LambdaG+p.LambdaC*1.0+p.LambdaQ*1.0, m.At(0, 0), 1e-12)
	require.InDelta(t, p.LambdaG+p.LambdaC*1.0+p.LambdaQ*0.0, m.At(1, 1), 1e-12)
	require.InDelta(t, -p.LambdaC*1.0, m.At(0, 1), 1e-12)
}

func TestSolve_NoEdgesNoPinLeavesPositionsAtInput(t *testing.T) {
	// With lambda_C=0 effectively (no edges) and b all zero, M = lambda_G*I
	// and rhs = lambda_G*X, so U must equal X exactly.
	x := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	q := []float64{0, 0}
	b := []float64{0, 0}
	p := defaultParams()

	result, err := Solve(nil, x, q, b, p)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			require.InDelta(t, x.At(i, j), result.U.At(i, j), 1e-6)
		}
	}
	require.InDelta(t, 0, result.DeltaH, 1e-9)
}

func TestSolve_PinPullsTowardQuery(t *testing.T) {
	x := mat.NewDense(1, 2, []float64{0, 0})
	q := []float64{1, 1}
	b := []float64{1}
	p := defaultParams()

	result, err := Solve(nil, x, q, b, p)
	require.NoError(t, err)
	// Pulled toward q but restrained by lambda_G anchoring to x=0.
	require.Greater(t, result.U.At(0, 0), 0.0)
	require.Less(t, result.U.At(0, 0), 1.0)
	require.GreaterOrEqual(t, result.DeltaH, 0.0)
}

func TestSolve_DeltaHNeverNegative(t *testing.T) {
	x := mat.NewDense(3, 2, []float64{0, 0, 1, 0, 0, 1})
	edges := []graph.Edge{{A: 0, B: 1, Weight: 0.8}, {A: 1, B: 2, Weight: 0.6}}
	q := []float64{0.5, 0.5}
	b := []float64{1, 0, 1}
	p := defaultParams()

	result, err := Solve(edges, x, q, b, p)
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.DeltaH, 0.0)
	require.GreaterOrEqual(t, result.CGIters, 1)
	require.GreaterOrEqual(t, result.FinalResidual, 0.0)
}

func TestSolve_DimensionMismatch(t *testing.T) {
	x := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	_, err := Solve(nil, x, []float64{0, 0}, []float64{1}, defaultParams())
	require.Error(t, err)

	_, err = Solve(nil, x, []float64{0}, []float64{1, 1}, defaultParams())
	require.Error(t, err)
}

func TestSolve_WarmStartConvergesFast(t *testing.T) {
	// With no edges and a zero pin mask, M = lambda_G*I and rhs = lambda_G*X,
	// so the warm start X already satisfies M*X = rhs and CG stops without
	// running a step.
	x := mat.NewDense(2, 1, []float64{5, 5})
	result, err := Solve(nil, x, []float64{0}, []float64{0, 0}, defaultParams())
	require.NoError(t, err)
	require.LessOrEqual(t, result.CGIters, 2)
}
