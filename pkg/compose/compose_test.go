// Copyright 2025 Certen Protocol

package compose

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/embedspace"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/receipts"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/spd"
)

func baseParams() spd.Params {
	return spd.Params{LambdaG: 1.0, LambdaC: 0.5, LambdaQ: 2.0, Tol: 1e-8, MaxIter: 200}
}

func TestRun_AbstainsOnNoCandidates(t *testing.T) {
	out, err := Run(embedspace.Vector{1, 0}, nil, "dbroot", "modelhash", Options{}, baseParams())
	require.NoError(t, err)
	require.True(t, out.Abstain)
	require.Equal(t, receipts.ReasonACLNoCandidates, out.Reason)
	require.Nil(t, out.Receipt)
}

func TestRun_AbstainsOnWeakCoherence(t *testing.T) {
	candidates := []Candidate{
		{LatticeID: "lat-a", GroupID: "grp-1", Centroid: embedspace.Vector{1, 0}},
		{LatticeID: "lat-b", GroupID: "grp-1", Centroid: embedspace.Vector{0, 1}},
	}
	opts := Options{Epsilon: 1e9, Tau: 1e9, KCDefault: 4}

	out, err := Run(embedspace.Vector{1, 0}, candidates, "dbroot", "modelhash", opts, baseParams())
	require.NoError(t, err)
	require.True(t, out.Abstain)
	require.Equal(t, receipts.ReasonWeakCoherence, out.Reason)
	require.NotNil(t, out.Receipt, "a receipt is still sealed even on abstention")
}

func TestRun_ReturnsContextPackSortedByScore(t *testing.T) {
	candidates := []Candidate{
		{LatticeID: "lat-a", GroupID: "grp-1", Centroid: embedspace.Vector{1, 0}, SourceFile: "a.txt"},
		{LatticeID: "lat-b", GroupID: "grp-1", Centroid: embedspace.Vector{0.99, 0.01}, SourceFile: "b.txt"},
		{LatticeID: "lat-c", GroupID: "grp-1", Centroid: embedspace.Vector{0, 1}, SourceFile: "c.txt"},
	}
	opts := Options{Epsilon: 0, Tau: 0, KCDefault: 4}

	out, err := Run(embedspace.Vector{1, 0}, candidates, "dbroot", "modelhash", opts, baseParams())
	require.NoError(t, err)
	require.False(t, out.Abstain)
	require.NotNil(t, out.Pack)
	require.Len(t, out.Pack.Items, 3)

	for i := 1; i < len(out.Pack.Items); i++ {
		require.GreaterOrEqual(t, out.Pack.Items[i-1].Score, out.Pack.Items[i].Score)
	}

	require.Equal(t, "dbroot", out.Receipt.DBRoot)
	require.Equal(t, []string{"lat-a", "lat-b", "lat-c"}, out.Receipt.LatticeIDs)
}

func TestRun_KCNeverExceedsCandidateCountMinusOne(t *testing.T) {
	candidates := []Candidate{
		{LatticeID: "lat-a", Centroid: embedspace.Vector{1, 0}},
		{LatticeID: "lat-b", Centroid: embedspace.Vector{0, 1}},
	}
	opts := Options{Epsilon: 0, Tau: 0, KCDefault: 4}

	out, err := Run(embedspace.Vector{1, 0}, candidates, "dbroot", "modelhash", opts, baseParams())
	require.NoError(t, err)
	require.False(t, out.Abstain)
}

func TestRun_LambdaOverrideAppliesOnlyNonZeroFields(t *testing.T) {
	candidates := []Candidate{
		{LatticeID: "lat-a", Centroid: embedspace.Vector{1, 0}},
		{LatticeID: "lat-b", Centroid: embedspace.Vector{0, 1}},
	}
	opts := Options{
		Epsilon:        0,
		Tau:            0,
		KCDefault:      4,
		LambdaOverride: &LambdaOverride{LambdaQ: 10.0},
	}

	out, err := Run(embedspace.Vector{1, 0}, candidates, "dbroot", "modelhash", opts, baseParams())
	require.NoError(t, err)
	require.False(t, out.Abstain)
}
