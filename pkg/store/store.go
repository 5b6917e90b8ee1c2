// Copyright 2025 Certen Protocol
//
// Package store owns the on-disk database root: the append-only lattice
// directories, the manifest, the normalized config, the router's derived
// centroid table, and the DB receipt. It enforces single-writer discipline
// with an OS-level exclusive file lock and exposes bit-exact file formats
// so every artifact on disk hashes the same way on any machine. The
// package follows a connection-pool-shaped Client with one type per
// logical table, backed by flat files instead of a SQL database — see
// DESIGN.md for why.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/acl"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/canon"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/config"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/oerrors"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/receipts"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/router"
)

const (
	dirGroups   = "groups"
	dirRouter   = "router"
	dirReceipts = "receipts"
	dirMetadata = "metadata"

	fileManifest    = "manifest.ndjson"
	fileLockName    = ".writer.lock"
	fileCentroids   = "centroids.f32"
	fileRouterMeta  = "meta.ndjson"
	fileConfigJSON  = "config.json"
	fileDBReceipt   = "db_receipt.json"
	fileNamesJSON   = "names.json"
	fileChunks      = "chunks.ndjson"
	fileEmbeds      = "embeds.f32"
	fileEdges       = "edges.bin"
	fileUstar       = "ustar.f32"
	fileReceiptJSON = "receipt.json"
)

// DB is a handle on a single database root directory. One process should
// hold at most one writer DB per root; readers may open as many as they
// like.
type DB struct {
	root   string
	cfg    *config.Config
	lock   *flock.Flock
	router *router.Table
	log    *zap.Logger

	names *nameOverlay
}

// Open opens (and, if absent, initializes) the database root at path using
// cfg. cfg must already be validated; its hash becomes config_hash for the
// lifetime of this root.
func Open(cfg *config.Config, path string, log *zap.Logger) (*DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for _, sub := range []string{dirGroups, dirRouter, dirReceipts, dirMetadata} {
		if err := os.MkdirAll(filepath.Join(path, sub), 0o755); err != nil {
			return nil, oerrors.Wrap(oerrors.IO, err, "creating store layout")
		}
	}

	if err := ensureConfig(cfg, filepath.Join(path, dirReceipts, fileConfigJSON)); err != nil {
		return nil, err
	}

	metaRows, err := readRouterMeta(filepath.Join(path, dirRouter, fileRouterMeta))
	if err != nil {
		return nil, err
	}
	rows := make([]router.Row, len(metaRows))
	for i, r := range metaRows {
		rows[i] = router.Row{
			LatticeID: r.LatticeID,
			GroupID:   r.GroupID,
			ACL:       acl.Row{Tenants: r.ACLTenants, Roles: r.ACLRoles, Public: r.ACLPublic},
		}
	}

	rt, err := router.Open(filepath.Join(path, dirRouter, fileCentroids), cfg.Dim, rows)
	if err != nil {
		return nil, err
	}

	names, err := loadNameOverlay(filepath.Join(path, dirMetadata, fileNamesJSON))
	if err != nil {
		return nil, err
	}

	return &DB{
		root:   path,
		cfg:    cfg,
		lock:   flock.New(filepath.Join(path, fileLockName)),
		router: rt,
		log:    log,
		names:  names,
	}, nil
}

// Close releases the writer lock (if held) and unmaps the router table.
func (db *DB) Close() error {
	if db.lock.Locked() {
		_ = db.lock.Unlock()
	}
	return db.router.Close()
}

// Config returns the normalized config this root was opened with.
func (db *DB) Config() *config.Config { return db.cfg }

// withWriterLock acquires the exclusive root lock for the duration of fn,
// honoring ctx's deadline while waiting.
func (db *DB) withWriterLock(ctx context.Context, fn func() error) error {
	locked, err := db.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return oerrors.Wrap(oerrors.IO, err, "acquiring writer lock")
	}
	if !locked {
		return oerrors.New(oerrors.Busy, "writer lock held by another process")
	}
	defer db.lock.Unlock()
	return fn()
}

func ensureConfig(cfg *config.Config, path string) error {
	if _, err := os.Stat(path); err == nil {
		existing := &config.Config{}
		raw, err := os.ReadFile(path)
		if err != nil {
			return oerrors.Wrap(oerrors.IO, err, "reading config.json")
		}
		if err := json.Unmarshal(raw, existing); err != nil {
			return oerrors.Wrap(oerrors.Integrity, err, "parsing config.json")
		}
		if existing.SchemaVersion != cfg.SchemaVersion {
			return oerrors.Newf(oerrors.Integrity,
				"store schema_version %d does not match requested %d", existing.SchemaVersion, cfg.SchemaVersion)
		}
		return nil
	}

	raw, err := canon.Marshal(cfg)
	if err != nil {
		return oerrors.Wrap(oerrors.IO, err, "encoding config.json")
	}
	return writeFileAtomic(path, raw)
}

// configHash returns sha256(canonical(config.json)), recomputed from the
// in-memory config rather than re-reading the file.
func (db *DB) configHash() (string, error) {
	return db.cfg.Hash()
}

// readDBReceipt reads the persisted receipts/db_receipt.json, or a
// zero-lattice DBReceipt if the database has never been sealed.
func (db *DB) readDBReceipt() (*receipts.DBReceipt, error) {
	path := filepath.Join(db.root, dirReceipts, fileDBReceipt)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		hash, herr := db.configHash()
		if herr != nil {
			return nil, herr
		}
		return receipts.BuildDBReceipt(nil, hash)
	}
	if err != nil {
		return nil, oerrors.Wrap(oerrors.IO, err, "reading db_receipt.json")
	}
	rec := &receipts.DBReceipt{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, oerrors.Wrap(oerrors.Integrity, err, "parsing db_receipt.json")
	}
	return rec, nil
}

func (db *DB) writeDBReceipt(rec *receipts.DBReceipt) error {
	raw, err := canon.Marshal(rec)
	if err != nil {
		return oerrors.Wrap(oerrors.IO, err, "encoding db_receipt.json")
	}
	return writeFileAtomic(filepath.Join(db.root, dirReceipts, fileDBReceipt), raw)
}

// newID mints an identifier in "<prefix>-XXXXXX" form from a random UUID,
// truncated to its first six lowercase hex characters — short enough to
// keep directory names readable, long enough that collisions within one
// store root are not a practical concern.
func newID(prefix string) string {
	u := uuid.New().String()
	return fmt.Sprintf("%s-%s", prefix, u[:6])
}

func groupDir(root, groupID string) string {
	return filepath.Join(root, dirGroups, groupID)
}

func latticeDir(root, groupID, latticeID string) string {
	return filepath.Join(groupDir(root, groupID), latticeID)
}

// aclRowFor looks up the ACL metadata for a manifest row, defaulting to an
// unrestricted Row when none was recorded.
func aclRowFor(row ManifestRow) acl.Row {
	return acl.Row{Tenants: row.ACLTenants, Roles: row.ACLRoles, Public: row.ACLPublic}
}
