// Copyright 2025 Certen Protocol
//
// Package spd assembles the symmetric positive-definite coupling matrix
//
//	M = λG·I + λC·L + λQ·diag(b)
//
// for a lattice (or a composite's representative graph) and solves
// M·U = R, R[:,j] = λG·X[:,j] + λQ·b·q[j], for the settled positions U via
// Jacobi-preconditioned Conjugate Gradient, one column at a time, warm
// started from X. L is the implicit graph Laplacian of the mutual-kNN edge
// set; b is a per-node pin mask (the lattice's top-10%-by-cosine mask at
// build time, all-ones at compose time); q is the pin target (the
// lattice's own centroid at build time, the query vector at compose time).
package spd

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/graph"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/oerrors"
)

// Params holds the coupling weights and CG stopping criteria shared by the
// whole system.
type Params struct {
	LambdaG float64
	LambdaC float64
	LambdaQ float64
	Tol     float64
	MaxIter int
}

// Result carries the settled positions and solver diagnostics as raw
// float64 values; callers render the float fields with canon.Fixed17
// before they enter a receipt.
type Result struct {
	U             *mat.Dense // n×d settled positions
	CGIters       int        // summed across all d coordinate solves
	FinalResidual float64    // max raw residual norm across coordinates
	EnergyX       float64    // H(X), the unsettled input's energy
	EnergyU       float64    // H(U), the settled output's energy
	DeltaH        float64    // max(0, EnergyX - EnergyU)
}

// Assemble builds the n×n SPD matrix M = λG·I + λC·L + λQ·diag(b) from the
// mutual-kNN edges and pin mask b. len(b) must equal n.
func Assemble(n int, edges []graph.Edge, b []float64, p Params) *mat.Dense {
	w := graph.AdjacencyWeights(edges, n)

	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		var degree float64
		for j := 0; j < n; j++ {
			wij := w.At(i, j)
			degree += wij
			if i != j && wij != 0 {
				m.Set(i, j, -p.LambdaC*wij)
			}
		}
		diag := p.LambdaG + p.LambdaC*degree + p.LambdaQ*b[i]
		m.Set(i, i, diag)
	}
	return m
}

// Solve forms the per-coordinate right-hand sides r_j = λG·X[:,j] +
// λQ·b·q[j] and solves M·u_j = r_j for each of X's d coordinates via
// Jacobi-preconditioned CG warm-started at X[:,j], then reports the energy
// drop between the unsettled input X and the settled output U.
func Solve(edges []graph.Edge, x *mat.Dense, q, b []float64, p Params) (*Result, error) {
	n, d := x.Dims()
	if len(b) != n {
		return nil, oerrors.Newf(oerrors.InvalidInput, "pin mask length %d does not match n=%d", len(b), n)
	}
	if len(q) != d {
		return nil, oerrors.Newf(oerrors.InvalidInput, "pin target dimension %d does not match d=%d", len(q), d)
	}

	m := Assemble(n, edges, b, p)

	jacobi := make([]float64, n)
	for i := 0; i < n; i++ {
		diag := m.At(i, i)
		if diag == 0 {
			return nil, oerrors.New(oerrors.CGNonFinite, "zero diagonal in SPD matrix")
		}
		jacobi[i] = 1.0 / diag
	}

	u := mat.NewDense(n, d, nil)
	totalIters := 0
	maxResidual := 0.0

	xCol := make([]float64, n)
	rhs := make([]float64, n)

	for col := 0; col < d; col++ {
		mat.Col(xCol, col, x)

		for i := 0; i < n; i++ {
			rhs[i] = p.LambdaG*xCol[i] + p.LambdaQ*b[i]*q[col]
		}

		sol, iters, residNorm, err := cgSolve(m, rhs, xCol, jacobi, p.Tol, p.MaxIter)
		if err != nil {
			return nil, err
		}
		totalIters += iters
		if residNorm > maxResidual {
			maxResidual = residNorm
		}
		u.SetCol(col, sol)
	}

	energyX := energy(x, x, q, b, edges, p)
	energyU := energy(u, x, q, b, edges, p)
	delta := energyX - energyU
	if delta < 0 {
		delta = 0
	}

	return &Result{
		U:             u,
		CGIters:       totalIters,
		FinalResidual: maxResidual,
		EnergyX:       energyX,
		EnergyU:       energyU,
		DeltaH:        delta,
	}, nil
}

// cgSolve solves m·u = rhs for a single column via Jacobi-preconditioned
// CG, warm started from x0, and returns the raw (unnormalized) residual
// norm at termination.
func cgSolve(m *mat.Dense, rhs, x0, jacobi []float64, tol float64, maxIter int) ([]float64, int, float64, error) {
	n := len(rhs)
	u := append([]float64(nil), x0...)

	mu := mulVec(m, u)
	r := make([]float64, n)
	for i := range r {
		r[i] = rhs[i] - mu[i]
	}
	z := precondition(r, jacobi)
	p := append([]float64(nil), z...)

	rz := dot(r, z)
	bNorm := math.Sqrt(dot(rhs, rhs))
	if bNorm == 0 {
		bNorm = 1
	}

	iters := 0
	resNorm := math.Sqrt(dot(r, r))
	if math.IsNaN(resNorm) || math.IsInf(resNorm, 0) {
		return nil, iters, resNorm, oerrors.New(oerrors.CGNonFinite, "non-finite residual in CG solve")
	}

	for resNorm/bNorm >= tol && iters < maxIter {
		ap := mulVec(m, p)
		pap := dot(p, ap)
		if pap == 0 || math.IsNaN(pap) || math.IsInf(pap, 0) {
			return nil, iters, resNorm, oerrors.New(oerrors.CGNonFinite, "non-finite curvature in CG solve")
		}
		alpha := rz / pap

		for i := range u {
			u[i] += alpha * p[i]
			r[i] -= alpha * ap[i]
		}
		iters++

		resNorm = math.Sqrt(dot(r, r))
		if math.IsNaN(resNorm) || math.IsInf(resNorm, 0) {
			return nil, iters, resNorm, oerrors.New(oerrors.CGNonFinite, "non-finite residual in CG solve")
		}

		z = precondition(r, jacobi)
		rzNew := dot(r, z)
		beta := rzNew / rz
		rz = rzNew

		for i := range p {
			p[i] = z[i] + beta*p[i]
		}
	}

	for _, v := range u {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, iters, resNorm, oerrors.New(oerrors.CGNonFinite, "non-finite solution in CG solve")
		}
	}

	return u, iters, resNorm, nil
}

func precondition(r, jacobi []float64) []float64 {
	z := make([]float64, len(r))
	for i := range r {
		z[i] = r[i] * jacobi[i]
	}
	return z
}

func mulVec(m *mat.Dense, v []float64) []float64 {
	n, _ := m.Dims()
	vd := mat.NewVecDense(len(v), v)
	out := mat.NewVecDense(n, nil)
	out.MulVec(m, vd)
	return out.RawVector().Data
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// energy computes H(Y) = 0.5·[λG·‖Y−X‖_F² + λC·Σ_{(i,j)∈E}‖y_i−y_j‖² +
// λQ·Σ_i b_i·‖y_i−q‖²] directly, term-by-term, against the fixed
// reference X, pin target q, pin mask b and edge set.
func energy(y, x *mat.Dense, q, b []float64, edges []graph.Edge, p Params) float64 {
	n, d := y.Dims()

	var termG, termQ float64
	for i := 0; i < n; i++ {
		for col := 0; col < d; col++ {
			diff := y.At(i, col) - x.At(i, col)
			termG += diff * diff

			diffQ := y.At(i, col) - q[col]
			termQ += b[i] * diffQ * diffQ
		}
	}

	var termC float64
	for _, e := range edges {
		for col := 0; col < d; col++ {
			diff := y.At(e.A, col) - y.At(e.B, col)
			termC += diff * diff
		}
	}

	return 0.5 * (p.LambdaG*termG + p.LambdaC*termC + p.LambdaQ*termQ)
}
