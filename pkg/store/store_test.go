// Copyright 2025 Certen Protocol

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/compose"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/config"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/embedspace"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/lattice"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/spd"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Dim = 3
	cfg.KNeighbors = 2
	cfg.ModelFingerprint = config.ModelFingerprint("test-model", "r1")
	return cfg
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(testConfig(), t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleChunks(n int) []lattice.Chunk {
	chunks := make([]lattice.Chunk, n)
	for i := range chunks {
		chunks[i] = lattice.Chunk{Index: i, Text: "chunk text", FileSHA256: "filehash", ByteStart: i * 10, ByteEnd: i*10 + 10}
	}
	return chunks
}

func TestOpen_InitializesEmptyStore(t *testing.T) {
	db := openTestDB(t)
	report, err := db.Readiness(context.Background())
	require.NoError(t, err)
	require.True(t, report.Ready)
}

func TestIngest_SealsLatticeAndUpdatesReceipt(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	rec, err := db.Ingest(ctx, IngestRequest{
		Chunks:      sampleChunks(2),
		Vectors:     []embedspace.Vector{{1, 0, 0}, {0.9, 0.1, 0}},
		SourceFile:  "a.txt",
		FileBytes:   100,
		FileSHA256:  "filehash",
		ModelSHA256: "modelhash",
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.StateSig)

	dbReceipt, err := db.GetDBReceipt(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, dbReceipt.LatticeCount)

	report, err := db.Readiness(ctx)
	require.NoError(t, err)
	require.True(t, report.Ready)
}

func TestIngest_RepeatedIngestIsDeterministicPerLattice(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	vecs := []embedspace.Vector{{1, 0, 0}, {0.9, 0.1, 0}}

	r1, err := db.Ingest(ctx, IngestRequest{Chunks: sampleChunks(2), Vectors: vecs, FileSHA256: "f1", ModelSHA256: "m1"})
	require.NoError(t, err)
	r2, err := db.Ingest(ctx, IngestRequest{Chunks: sampleChunks(2), Vectors: vecs, FileSHA256: "f1", ModelSHA256: "m1"})
	require.NoError(t, err)

	// Different LatticeIDs (freshly minted per ingest) but identical
	// numerics: same edge hash and energy drop.
	require.Equal(t, r1.EdgeHash, r2.EdgeHash)
	require.Equal(t, r1.DeltaHTotal, r2.DeltaHTotal)
	require.NotEqual(t, r1.LatticeID, r2.LatticeID)
}

func TestRouteAndCompose_RoundTripVerifies(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	rec, err := db.Ingest(ctx, IngestRequest{
		Chunks:      sampleChunks(2),
		Vectors:     []embedspace.Vector{{1, 0, 0}, {0.9, 0.1, 0}},
		FileSHA256:  "f1",
		ModelSHA256: "m1",
	})
	require.NoError(t, err)

	results, err := db.Route(ctx, []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	dbReceipt, err := db.GetDBReceipt(ctx)
	require.NoError(t, err)

	centroid, ok := db.CentroidFor(rec.LatticeID)
	require.True(t, ok)
	centroidVec := make(embedspace.Vector, len(centroid))
	for i, v := range centroid {
		centroidVec[i] = float64(v)
	}

	cfg := db.Config()
	out, err := compose.Run(
		embedspace.Vector{1, 0, 0},
		[]compose.Candidate{{LatticeID: rec.LatticeID, Centroid: centroidVec}},
		dbReceipt.DBRoot,
		cfg.ModelFingerprint,
		compose.Options{Epsilon: 0, Tau: 0, KCDefault: cfg.CompositeKCDefault},
		spd.Params{LambdaG: cfg.LambdaG, LambdaC: cfg.LambdaC, LambdaQ: cfg.LambdaQ, Tol: cfg.CGTolerance, MaxIter: cfg.CGMaxIter},
	)
	require.NoError(t, err)
	require.False(t, out.Abstain)

	verifyOK, reason, err := db.Verify(ctx, *out.Receipt, nil)
	require.NoError(t, err)
	require.True(t, verifyOK)
	require.Equal(t, "ok", string(reason))
}

func TestVerify_DetectsTamperedReceipt(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	rec, err := db.Ingest(ctx, IngestRequest{
		Chunks:      sampleChunks(1),
		Vectors:     []embedspace.Vector{{1, 0, 0}},
		FileSHA256:  "f1",
		ModelSHA256: "m1",
	})
	require.NoError(t, err)

	dbReceipt, err := db.GetDBReceipt(ctx)
	require.NoError(t, err)

	centroid, _ := db.CentroidFor(rec.LatticeID)
	centroidVec := make(embedspace.Vector, len(centroid))
	for i, v := range centroid {
		centroidVec[i] = float64(v)
	}

	cfg := db.Config()
	out, err := compose.Run(
		embedspace.Vector{1, 0, 0},
		[]compose.Candidate{{LatticeID: rec.LatticeID, Centroid: centroidVec}},
		dbReceipt.DBRoot,
		cfg.ModelFingerprint,
		compose.Options{Epsilon: 0, Tau: 0, KCDefault: cfg.CompositeKCDefault},
		spd.Params{LambdaG: cfg.LambdaG, LambdaC: cfg.LambdaC, LambdaQ: cfg.LambdaQ, Tol: cfg.CGTolerance, MaxIter: cfg.CGMaxIter},
	)
	require.NoError(t, err)

	tampered := *out.Receipt
	tampered.DeltaHTotal = "99.0"

	ok, reason, err := db.Verify(ctx, tampered, nil)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "state_sig_mismatch", string(reason))
}

func TestGetManifest_FiltersOutNonMatchingTenantRestriction(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Ingest(ctx, IngestRequest{
		Chunks:      sampleChunks(1),
		Vectors:     []embedspace.Vector{{1, 0, 0}},
		FileSHA256:  "f1",
		ModelSHA256: "m1",
	})
	require.NoError(t, err)
	_, err = db.Ingest(ctx, IngestRequest{
		Chunks:      sampleChunks(1),
		Vectors:     []embedspace.Vector{{0, 1, 0}},
		FileSHA256:  "f2",
		ModelSHA256: "m1",
		ACLTenants:  []string{"widgets"},
		ACLRoles:    []string{"reader"},
	})
	require.NoError(t, err)

	page, err := db.GetManifest(ctx, ManifestFilter{Tenant: "acme"}, 0, 0)
	require.NoError(t, err)
	require.Len(t, page.Rows, 1, "the unrestricted row passes; the widgets-only row does not")
	require.Equal(t, "f1", page.Rows[0].FileSHA256)
}

func TestSetDisplayName_DoesNotAffectReceipt(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	rec, err := db.Ingest(ctx, IngestRequest{
		Chunks:      sampleChunks(1),
		Vectors:     []embedspace.Vector{{1, 0, 0}},
		FileSHA256:  "f1",
		ModelSHA256: "m1",
	})
	require.NoError(t, err)

	before, err := db.GetDBReceipt(ctx)
	require.NoError(t, err)

	require.NoError(t, db.SetDisplayName(ctx, rec.LatticeID, "My Doc"))

	after, err := db.GetDBReceipt(ctx)
	require.NoError(t, err)
	require.Equal(t, before.DBRoot, after.DBRoot)

	page, err := db.GetManifest(ctx, ManifestFilter{}, 0, 0)
	require.NoError(t, err)
	require.Equal(t, "My Doc", page.Rows[0].DisplayName)
}
