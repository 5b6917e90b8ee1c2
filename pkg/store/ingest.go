// Copyright 2025 Certen Protocol

package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"go.uber.org/zap"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/acl"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/canon"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/embedspace"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/graph"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/lattice"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/oerrors"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/receipts"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/router"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/spd"
)

// IngestRequest is the input to Ingest: chunks, their already-embedded
// vectors, and source/ACL metadata for the manifest row. GroupID is
// auto-assigned if empty.
type IngestRequest struct {
	GroupID     string
	Chunks      []lattice.Chunk
	Vectors     []embedspace.Vector
	SourceFile  string
	FileBytes   int64
	FileSHA256  string
	ModelSHA256 string
	ACLTenants  []string
	ACLRoles    []string
	ACLPublic   bool
}

// Ingest builds and seals a new micro-lattice under the writer lock,
// appends its manifest row, rebuilds the router's centroid table, and
// recomputes the DB receipt. Any failure deletes the temp directory and
// leaves the store unchanged.
func (db *DB) Ingest(ctx context.Context, req IngestRequest) (*receipts.LatticeReceipt, error) {
	groupID := req.GroupID
	if groupID == "" {
		groupID = newID("G")
	}
	latticeID := newID("L")

	db.log.Info("ingest started",
		zap.String("lattice_id", latticeID),
		zap.String("group_id", groupID),
		zap.Int("chunks", len(req.Chunks)),
		zap.String("source_file", req.SourceFile),
	)

	built, err := lattice.Build(req.Chunks, req.Vectors, db.cfg.Dim, lattice.Params{
		GroupID:     groupID,
		LatticeID:   latticeID,
		KNeighbors:  db.cfg.KNeighbors,
		ModelSHA256: req.ModelSHA256,
		FileSHA256:  req.FileSHA256,
		SPD: spd.Params{
			LambdaG: db.cfg.LambdaG,
			LambdaC: db.cfg.LambdaC,
			LambdaQ: db.cfg.LambdaQ,
			Tol:     db.cfg.CGTolerance,
			MaxIter: db.cfg.CGMaxIter,
		},
	})
	if err != nil {
		if oerrors.KindOf(err) == oerrors.CGNonFinite {
			db.log.Error("CG solve produced a non-finite value",
				zap.String("lattice_id", latticeID), zap.Error(err))
		} else {
			db.log.Error("lattice build failed", zap.String("lattice_id", latticeID), zap.Error(err))
		}
		return nil, err
	}

	var out *receipts.LatticeReceipt
	err = db.withWriterLock(ctx, func() error {
		if err := ctx.Err(); err != nil {
			return oerrors.Wrap(oerrors.DeadlineExceeded, err, "ingest deadline exceeded before seal")
		}
		if err := sealLatticeDir(db.root, built); err != nil {
			return err
		}

		row := ManifestRow{
			GroupID:     groupID,
			LatticeID:   latticeID,
			EdgeHash:    built.Receipt.EdgeHash,
			DeltaHTotal: built.Receipt.DeltaHTotal,
			CreatedAt:   nowISO8601(),
			SourceFile:  req.SourceFile,
			ChunkCount:  len(req.Chunks),
			FileBytes:   req.FileBytes,
			FileSHA256:  req.FileSHA256,
			ACLTenants:  req.ACLTenants,
			ACLRoles:    req.ACLRoles,
			ACLPublic:   req.ACLPublic,
		}
		if err := appendManifestRow(filepath.Join(db.root, fileManifest), row); err != nil {
			return err
		}

		if err := db.appendRouterRow(built, row); err != nil {
			return err
		}

		if err := db.recomputeDBReceipt(); err != nil {
			return err
		}

		out = &built.Receipt
		return nil
	})
	if err != nil {
		db.log.Error("ingest failed", zap.String("lattice_id", latticeID), zap.Error(err))
		return nil, err
	}
	db.log.Info("lattice sealed",
		zap.String("lattice_id", latticeID),
		zap.String("group_id", groupID),
		zap.String("state_sig", out.StateSig),
	)
	return out, nil
}

// sealLatticeDir writes chunks/embeds/edges/ustar/receipt.json to a temp
// directory beside the lattice's final path, then renames it into place.
func sealLatticeDir(root string, built *lattice.Built) error {
	finalDir := latticeDir(root, built.GroupID, built.LatticeID)
	tmpDir := finalDir + ".tmp"

	if err := os.RemoveAll(tmpDir); err != nil {
		return oerrors.Wrap(oerrors.IO, err, "clearing stale temp lattice dir")
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return oerrors.Wrap(oerrors.IO, err, "creating temp lattice dir")
	}

	if err := writeChunks(filepath.Join(tmpDir, fileChunks), built.Chunks); err != nil {
		os.RemoveAll(tmpDir)
		return err
	}
	if err := writeFloat32Matrix(filepath.Join(tmpDir, fileEmbeds), built.X); err != nil {
		os.RemoveAll(tmpDir)
		return err
	}
	if err := writeEdges(filepath.Join(tmpDir, fileEdges), built.Edges); err != nil {
		os.RemoveAll(tmpDir)
		return err
	}
	if err := writeFloat32Matrix(filepath.Join(tmpDir, fileUstar), built.U); err != nil {
		os.RemoveAll(tmpDir)
		return err
	}
	receiptJSON, err := canon.Marshal(built.Receipt)
	if err != nil {
		os.RemoveAll(tmpDir)
		return oerrors.Wrap(oerrors.IO, err, "encoding receipt.json")
	}
	if err := os.WriteFile(filepath.Join(tmpDir, fileReceiptJSON), receiptJSON, 0o644); err != nil {
		os.RemoveAll(tmpDir)
		return oerrors.Wrap(oerrors.IO, err, "writing receipt.json")
	}

	if err := os.MkdirAll(groupDir(root, built.GroupID), 0o755); err != nil {
		os.RemoveAll(tmpDir)
		return oerrors.Wrap(oerrors.IO, err, "creating group dir")
	}
	return sealDir(tmpDir, finalDir)
}

func writeChunks(path string, chunks []lattice.Chunk) error {
	buf := make([]byte, 0, 256*len(chunks))
	for _, c := range chunks {
		line, err := json.Marshal(c)
		if err != nil {
			return oerrors.Wrap(oerrors.IO, err, "encoding chunk")
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return oerrors.Wrap(oerrors.IO, err, "writing chunks")
	}
	return nil
}

func writeFloat32Matrix(path string, m *mat.Dense) error {
	n, d := m.Dims()
	buf := make([]byte, n*d*4)
	offset := 0
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			binary.LittleEndian.PutUint32(buf[offset:], math.Float32bits(float32(m.At(i, j))))
			offset += 4
		}
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return oerrors.Wrap(oerrors.IO, err, "writing float32 matrix")
	}
	return nil
}

func writeEdges(path string, edges []graph.Edge) error {
	buf := make([]byte, len(edges)*8)
	offset := 0
	for _, e := range edges {
		binary.LittleEndian.PutUint32(buf[offset:], uint32(e.A))
		binary.LittleEndian.PutUint32(buf[offset+4:], uint32(e.B))
		offset += 8
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return oerrors.Wrap(oerrors.IO, err, "writing edges.bin")
	}
	return nil
}

// appendRouterRow appends built's centroid as a new router row and
// rebuilds the memory-mapped centroid table. The previous centroid rows
// are re-read from centroids.f32 on disk (see readCentroidFile) rather than
// recomputed, since q_L is not itself part of any lattice's persisted
// receipt.
func (db *DB) appendRouterRow(built *lattice.Built, row ManifestRow) error {
	metaPath := filepath.Join(db.root, dirRouter, fileRouterMeta)
	rows, err := readRouterMeta(metaPath)
	if err != nil {
		return err
	}

	centroids, err := readCentroidFile(filepath.Join(db.root, dirRouter, fileCentroids), db.cfg.Dim)
	if err != nil {
		return err
	}
	newCentroid := make([]float32, db.cfg.Dim)
	for i, v := range built.Centroid {
		newCentroid[i] = float32(v)
	}
	centroids = append(centroids, newCentroid)

	rows = append(rows, RouterMetaRow{
		LatticeID:  built.LatticeID,
		GroupID:    built.GroupID,
		ACLTenants: row.ACLTenants,
		ACLRoles:   row.ACLRoles,
		ACLPublic:  row.ACLPublic,
	})
	if err := rewriteRouterMeta(metaPath, rows); err != nil {
		return err
	}

	tableRows := make([]router.Row, len(rows))
	for i, r := range rows {
		tableRows[i] = router.Row{
			LatticeID: r.LatticeID,
			GroupID:   r.GroupID,
			ACL:       acl.Row{Tenants: r.ACLTenants, Roles: r.ACLRoles, Public: r.ACLPublic},
		}
	}
	return db.router.Rebuild(centroids, tableRows, db.cfg.Dim)
}

// readCentroidFile reads the raw little-endian float32 rows currently on
// disk, independent of any mmap, so appending a new row never races a live
// read-only mapping.
func readCentroidFile(path string, dim int) ([][]float32, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, oerrors.Wrap(oerrors.IO, err, "reading centroid table")
	}
	n := len(raw) / (4 * dim)
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		row := make([]float32, dim)
		for j := 0; j < dim; j++ {
			bits := binary.LittleEndian.Uint32(raw[(i*dim+j)*4:])
			row[j] = math.Float32frombits(bits)
		}
		out[i] = row
	}
	return out, nil
}

// recomputeDBReceipt reads every sealed lattice's receipt.json, rebuilds
// the Merkle root, and persists receipts/db_receipt.json.
func (db *DB) recomputeDBReceipt() error {
	manifestRows, err := readManifest(filepath.Join(db.root, fileManifest))
	if err != nil {
		return err
	}

	latticeReceipts := make([]receipts.LatticeReceipt, 0, len(manifestRows))
	for _, row := range manifestRows {
		raw, err := os.ReadFile(filepath.Join(latticeDir(db.root, row.GroupID, row.LatticeID), fileReceiptJSON))
		if err != nil {
			return oerrors.Wrap(oerrors.IO, err, "reading sealed lattice receipt")
		}
		var r receipts.LatticeReceipt
		if err := json.Unmarshal(raw, &r); err != nil {
			return oerrors.Wrap(oerrors.Integrity, err, "parsing sealed lattice receipt")
		}
		latticeReceipts = append(latticeReceipts, r)
	}

	hash, err := db.configHash()
	if err != nil {
		return err
	}
	rec, err := receipts.BuildDBReceipt(latticeReceipts, hash)
	if err != nil {
		return err
	}
	return db.writeDBReceipt(rec)
}
