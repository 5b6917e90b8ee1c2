// Copyright 2025 Certen Protocol

package router

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/acl"
)

func TestOpen_MissingFileIsEmptyTable(t *testing.T) {
	tbl, err := Open(filepath.Join(t.TempDir(), "centroids.f32"), 3, nil)
	require.NoError(t, err)
	defer tbl.Close()

	results, err := tbl.Query([]float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestRebuildThenQuery_RanksByDotProduct(t *testing.T) {
	path := filepath.Join(t.TempDir(), "centroids.f32")
	tbl := New(path)

	rows := []Row{
		{LatticeID: "lat-a", GroupID: "grp-1"},
		{LatticeID: "lat-b", GroupID: "grp-1"},
	}
	centroids := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
	}
	require.NoError(t, tbl.Rebuild(centroids, rows, 3))

	results, err := tbl.Query([]float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "lat-a", results[0].LatticeID)
	require.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestQuery_RespectsACLFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "centroids.f32")
	tbl := New(path)

	rows := []Row{
		{LatticeID: "lat-a", GroupID: "grp-1", ACL: acl.Row{Tenants: []string{"acme"}}},
		{LatticeID: "lat-b", GroupID: "grp-1"},
	}
	centroids := [][]float32{{1, 0}, {1, 0}}
	require.NoError(t, tbl.Rebuild(centroids, rows, 2))

	filter := acl.New(&acl.Claims{Tenant: "other"}, false)
	results, err := tbl.Query([]float32{1, 0}, 5, filter)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "lat-b", results[0].LatticeID)
}

func TestCentroidFor_ReturnsStoredRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "centroids.f32")
	tbl := New(path)

	rows := []Row{{LatticeID: "lat-a", GroupID: "grp-1"}}
	centroids := [][]float32{{0.5, 0.25, 0.125}}
	require.NoError(t, tbl.Rebuild(centroids, rows, 3))

	got, ok := tbl.CentroidFor("lat-a")
	require.True(t, ok)
	require.Equal(t, []float32{0.5, 0.25, 0.125}, got)

	_, ok = tbl.CentroidFor("lat-missing")
	require.False(t, ok)
}

func TestQuery_RejectsDimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "centroids.f32")
	tbl := New(path)
	require.NoError(t, tbl.Rebuild([][]float32{{1, 0}}, []Row{{LatticeID: "lat-a"}}, 2))

	_, err := tbl.Query([]float32{1, 0, 0}, 1, nil)
	require.Error(t, err)
}
