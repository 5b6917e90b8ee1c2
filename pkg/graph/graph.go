// Copyright 2025 Certen Protocol
//
// Package graph builds the mutual-kNN similarity graph a lattice's SPD
// system couples its coordinates through. Similarity is cosine similarity
// on L2-normalized vectors (a plain dot product, see pkg/embedspace),
// computed once as a dense Gram matrix and then thresholded per-row to each
// node's k nearest neighbors before the mutual intersection is taken.
package graph

import (
	"encoding/binary"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/canon"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/embedspace"
)

// Edge is an undirected graph edge between node indices A and B (A < B)
// carrying the cosine similarity weight at construction time.
type Edge struct {
	A, B   int
	Weight float64
}

// Build computes the Gram matrix of vecs and returns the mutual-kNN edge
// set: an edge (i, j) survives only if j is among i's k nearest neighbors
// AND i is among j's k nearest neighbors. Ties in similarity are broken by
// preferring the neighbor with the smaller index, so the neighbor set is
// deterministic regardless of map/slice iteration order.
func Build(vecs []embedspace.Vector, k int) []Edge {
	n := len(vecs)
	if n == 0 || k <= 0 {
		return nil
	}

	m := embedspace.Matrix(vecs)
	var gram mat.Dense
	gram.Mul(m, m.T())

	neighbors := make([][]int, n)
	for i := 0; i < n; i++ {
		neighbors[i] = kNearest(&gram, i, k, n)
	}

	isNeighbor := make([]map[int]bool, n)
	for i, ns := range neighbors {
		isNeighbor[i] = make(map[int]bool, len(ns))
		for _, j := range ns {
			isNeighbor[i][j] = true
		}
	}

	var edges []Edge
	for i := 0; i < n; i++ {
		for _, j := range neighbors[i] {
			if j <= i {
				continue
			}
			if isNeighbor[j][i] {
				edges = append(edges, Edge{A: i, B: j, Weight: gram.At(i, j)})
			}
		}
	}
	sort.Slice(edges, func(a, b int) bool {
		if edges[a].A != edges[b].A {
			return edges[a].A < edges[b].A
		}
		return edges[a].B < edges[b].B
	})
	return edges
}

type candidate struct {
	idx int
	sim float64
}

// kNearest returns up to k indices (excluding i itself) ranked by
// descending similarity, with ties broken by ascending index.
func kNearest(gram *mat.Dense, i, k, n int) []int {
	cands := make([]candidate, 0, n-1)
	for j := 0; j < n; j++ {
		if j == i {
			continue
		}
		cands = append(cands, candidate{idx: j, sim: gram.At(i, j)})
	}
	sort.Slice(cands, func(a, b int) bool {
		if cands[a].sim != cands[b].sim {
			return cands[a].sim > cands[b].sim
		}
		return cands[a].idx < cands[b].idx
	})
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]int, len(cands))
	for idx, c := range cands {
		out[idx] = c.idx
	}
	return out
}

// Hash serializes edges as a sorted sequence of (uint32 i, uint32 j)
// pairs, little-endian, and returns the hex SHA-256 of that buffer. Build
// already returns edges sorted ascending by (A, B), which is also the
// required sort order for hashing.
func Hash(edges []Edge) string {
	buf := make([]byte, 0, len(edges)*8)
	var tmp [4]byte
	for _, e := range edges {
		binary.LittleEndian.PutUint32(tmp[:], uint32(e.A))
		buf = append(buf, tmp[:]...)
		binary.LittleEndian.PutUint32(tmp[:], uint32(e.B))
		buf = append(buf, tmp[:]...)
	}
	return canon.SHA256Hex(buf)
}

// AdjacencyWeights returns the n×n symmetric 0/1 adjacency matrix for
// edges (0 elsewhere). The Laplacian L = D - W it feeds into the SPD
// coupling term is unweighted: mutual-kNN edges can carry negative cosine
// similarity, and weighting by it would not keep M positive
// semi-definite.
func AdjacencyWeights(edges []Edge, n int) *mat.Dense {
	w := mat.NewDense(n, n, nil)
	for _, e := range edges {
		w.Set(e.A, e.B, 1)
		w.Set(e.B, e.A, 1)
	}
	return w
}
