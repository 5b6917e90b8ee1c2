// Copyright 2025 Certen Protocol
//
// Package compose implements the Composite Settler: given a query vector
// and a set of candidate lattices (already selected by the router and
// filtered by ACL), it builds a small mutual-kNN graph over their
// representative vectors, pins every representative to the query, solves
// the same SPD/CG core used at ingest, and decides whether the result is
// coherent enough to return as a Context Pack.
package compose

import (
	"sort"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/canon"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/embedspace"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/graph"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/oerrors"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/receipts"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/spd"
)

// Candidate is one router-selected lattice, carrying the representative
// vector (its centroid, per the centroid-only policy) and enough
// provenance to populate a Context Pack item.
type Candidate struct {
	LatticeID  string
	GroupID    string
	Centroid   embedspace.Vector
	SourceFile string
}

// Options carries the per-call knobs a caller may override.
type Options struct {
	Epsilon        float64
	Tau            float64
	KCDefault      int
	LambdaOverride *LambdaOverride
	Filters        []string // ACL binding labels, recorded on the receipt only
}

// LambdaOverride replaces one or more of the base config's regularizers
// for a single compose call. Zero fields fall back to the base value.
type LambdaOverride struct {
	LambdaG float64
	LambdaC float64
	LambdaQ float64
}

// ContextItem is one entry of a Context Pack: a candidate lattice together
// with its settled per-item coherence score.
type ContextItem struct {
	LatticeID  string
	GroupID    string
	SourceFile string
	Score      float64
}

// ContextPack is the ordered output of a successful compose call.
type ContextPack struct {
	Items []ContextItem
}

// Outcome is the full result of a compose call: either a Context Pack and
// its receipt, or an abstention (the receipt is still populated unless the
// abstention happened before any graph could be built at all).
type Outcome struct {
	Abstain bool
	Reason  receipts.AbstainReason
	Pack    *ContextPack
	Receipt *receipts.CompositeReceipt
}

// Run executes one compose call against dbRoot (the DBReceipt.db_root
// value read at the start of the call): the resulting CompositeReceipt
// anchors to the DBReceipt read when compose began, not to whatever the
// store advances to mid-call.
func Run(q embedspace.Vector, candidates []Candidate, dbRoot, modelSHA256 string, opts Options, base spd.Params) (*Outcome, error) {
	if len(candidates) == 0 {
		return &Outcome{Abstain: true, Reason: receipts.ReasonACLNoCandidates}, nil
	}

	qNorm := embedspace.Normalize([]embedspace.Vector{q})[0]

	reps := make([]embedspace.Vector, len(candidates))
	for i, c := range candidates {
		reps[i] = c.Centroid
	}
	reps = embedspace.Normalize(reps)

	kcDefault := opts.KCDefault
	if kcDefault < 1 {
		kcDefault = 1
	}
	kc := kcDefault
	if kc > len(reps)-1 {
		kc = len(reps) - 1
	}

	edges := graph.Build(reps, kc)

	mask := make([]float64, len(reps))
	for i := range mask {
		mask[i] = 1
	}

	params := base
	if opts.LambdaOverride != nil {
		if opts.LambdaOverride.LambdaG != 0 {
			params.LambdaG = opts.LambdaOverride.LambdaG
		}
		if opts.LambdaOverride.LambdaC != 0 {
			params.LambdaC = opts.LambdaOverride.LambdaC
		}
		if opts.LambdaOverride.LambdaQ != 0 {
			params.LambdaQ = opts.LambdaOverride.LambdaQ
		}
	}

	x := embedspace.Matrix(reps)
	result, err := spd.Solve(edges, x, qNorm, mask, params)
	if err != nil {
		return nil, err
	}

	lids := make([]string, len(candidates))
	for i, c := range candidates {
		lids[i] = c.LatticeID
	}

	receipt := &receipts.CompositeReceipt{
		DBRoot:            dbRoot,
		LatticeIDs:        lids,
		EdgeHashComposite: graph.Hash(edges),
		DeltaHTotal:       canon.Fixed17(result.DeltaH),
		CGIters:           result.CGIters,
		FinalResid:        canon.Fixed17(result.FinalResidual),
		Epsilon:           canon.Fixed17(opts.Epsilon),
		Tau:               canon.Fixed17(opts.Tau),
		Filters:           opts.Filters,
		ModelSHA256:       modelSHA256,
	}
	if _, err := receipt.Seal(); err != nil {
		return nil, oerrors.Wrap(oerrors.IO, err, "sealing composite receipt")
	}

	items, maxContribution := contextItems(candidates, result, qNorm, mask, params)

	if result.DeltaH < opts.Epsilon || maxContribution < opts.Tau {
		return &Outcome{Abstain: true, Reason: receipts.ReasonWeakCoherence, Receipt: receipt}, nil
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })

	return &Outcome{Pack: &ContextPack{Items: items}, Receipt: receipt}, nil
}

// contextItems computes each representative's per-item energy
// contribution λQ·b_i·‖u_i−q‖² — the abstention rule's "max per-item
// contribution" — and returns both the items and the maximum observed.
func contextItems(candidates []Candidate, result *spd.Result, q embedspace.Vector, mask []float64, p spd.Params) ([]ContextItem, float64) {
	n, d := result.U.Dims()
	items := make([]ContextItem, n)
	var maxContribution float64

	for i := 0; i < n; i++ {
		var sq float64
		for col := 0; col < d; col++ {
			diff := result.U.At(i, col) - q[col]
			sq += diff * diff
		}
		contribution := p.LambdaQ * mask[i] * sq
		if contribution > maxContribution {
			maxContribution = contribution
		}
		items[i] = ContextItem{
			LatticeID:  candidates[i].LatticeID,
			GroupID:    candidates[i].GroupID,
			SourceFile: candidates[i].SourceFile,
			Score:      contribution,
		}
	}
	return items, maxContribution
}
