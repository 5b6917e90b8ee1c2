// Copyright 2025 Certen Protocol
//
// Package lattice glues the embedding adapter, mutual-kNN graph builder
// and SPD/CG solver into a single micro-lattice build: normalize inputs,
// derive the pin target and pin mask, build the graph, solve for settled
// positions, and seal a LatticeReceipt. It does not touch disk — pkg/store
// owns the atomic directory write, manifest update and DB receipt
// recompute that follow a successful build.
package lattice

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/canon"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/embedspace"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/graph"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/oerrors"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/receipts"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/spd"
)

const receiptVersion = 1

// Chunk is one unit of source text entering a lattice. Index is the
// chunk's position within the lattice (0-based, assigned by the caller in
// the order the chunks and vectors slices are supplied).
type Chunk struct {
	Index      int    `json:"index"`
	Text       string `json:"text"`
	FileSHA256 string `json:"file_sha256"`
	ByteStart  int    `json:"byte_start"`
	ByteEnd    int    `json:"byte_end"`
}

// Params bundles everything a build needs beyond the chunks/vectors
// themselves.
type Params struct {
	GroupID     string
	LatticeID   string
	KNeighbors  int
	ModelSHA256 string
	FileSHA256  string
	SPD         spd.Params
}

// Built is the in-memory result of a lattice build: everything pkg/store
// needs to seal a lattice directory.
type Built struct {
	GroupID   string
	LatticeID string
	Chunks    []Chunk
	X         *mat.Dense // n×d, L2-normalized input embeddings
	Edges     []graph.Edge
	Centroid  embedspace.Vector // q_L, unit-normalized
	PinMask   []float64         // b_L, 0/1 per row
	U         *mat.Dense        // n×d settled positions
	Receipt   receipts.LatticeReceipt
}

// Build runs the full per-lattice pipeline — normalize, build the mutual
// kNN graph, solve the SPD system, seal the receipt — and returns a Built
// holding the inputs, graph, settled positions and sealed LatticeReceipt.
// It never writes to disk.
func Build(chunks []Chunk, vectors []embedspace.Vector, dim int, p Params) (*Built, error) {
	n := len(vectors)
	if n == 0 {
		return nil, oerrors.New(oerrors.InvalidInput, "lattice must have at least one chunk")
	}
	if len(chunks) != n {
		return nil, oerrors.Newf(oerrors.InvalidInput, "chunk count %d does not match vector count %d", len(chunks), n)
	}
	if err := embedspace.ValidateDim(vectors, dim); err != nil {
		return nil, err
	}

	normalized := embedspace.Normalize(vectors)
	x := embedspace.Matrix(normalized)

	centroid := embedspace.Centroid(normalized)
	centroid = embedspace.Normalize([]embedspace.Vector{centroid})[0]

	mask := pinMask(normalized, centroid)

	edges := graph.Build(normalized, p.KNeighbors)

	result, err := spd.Solve(edges, x, centroid, mask, p.SPD)
	if err != nil {
		return nil, err
	}

	edgeHash := graph.Hash(edges)

	receipt := receipts.LatticeReceipt{
		Version:     receiptVersion,
		LatticeID:   p.LatticeID,
		GroupID:     p.GroupID,
		Dim:         dim,
		LambdaG:     canon.Fixed17(p.SPD.LambdaG),
		LambdaC:     canon.Fixed17(p.SPD.LambdaC),
		LambdaQ:     canon.Fixed17(p.SPD.LambdaQ),
		EdgeHash:    edgeHash,
		DeltaHTotal: canon.Fixed17(result.DeltaH),
		CGIters:     result.CGIters,
		FinalResid:  canon.Fixed17(result.FinalResidual),
		FileSHA256:  p.FileSHA256,
		ModelSHA256: p.ModelSHA256,
	}
	if _, err := receipt.Seal(); err != nil {
		return nil, oerrors.Wrap(oerrors.IO, err, "sealing lattice receipt")
	}

	return &Built{
		GroupID:   p.GroupID,
		LatticeID: p.LatticeID,
		Chunks:    chunks,
		X:         x,
		Edges:     edges,
		Centroid:  centroid,
		PinMask:   mask,
		U:         result.U,
		Receipt:   receipt,
	}, nil
}

// pinMask selects the top ceil(0.1*n) rows of normalized by cosine
// similarity to centroid (both are unit vectors, so cosine is a dot
// product), breaking ties by smaller index, with a floor of 1 selected
// row.
func pinMask(normalized []embedspace.Vector, centroid embedspace.Vector) []float64 {
	n := len(normalized)
	count := int(math.Ceil(0.1 * float64(n)))
	if count < 1 {
		count = 1
	}
	if count > n {
		count = n
	}

	type scored struct {
		idx  int
		cos  float64
	}
	scores := make([]scored, n)
	for i, v := range normalized {
		scores[i] = scored{idx: i, cos: dot(v, centroid)}
	}
	sort.Slice(scores, func(a, b int) bool {
		if scores[a].cos != scores[b].cos {
			return scores[a].cos > scores[b].cos
		}
		return scores[a].idx < scores[b].idx
	})

	mask := make([]float64, n)
	for i := 0; i < count; i++ {
		mask[scores[i].idx] = 1
	}
	return mask
}

func dot(a, b embedspace.Vector) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
