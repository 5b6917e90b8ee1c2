// Copyright 2025 Certen Protocol

package store

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/acl"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/oerrors"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/receipts"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/router"
)

// Route answers a nearest-centroid query against the router table, after
// ACL filtering.
func (db *DB) Route(ctx context.Context, q []float32, k int, filter *acl.Filter) ([]router.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, oerrors.Wrap(oerrors.DeadlineExceeded, err, "route deadline exceeded")
	}
	return db.router.Query(q, k, filter)
}

// CentroidFor exposes the router's centroid row for a lattice, used by the
// composite settler to build its representative-vector set under the
// centroid-only policy.
func (db *DB) CentroidFor(latticeID string) ([]float32, bool) {
	return db.router.CentroidFor(latticeID)
}

// GetDBReceipt returns the currently persisted DBReceipt.
func (db *DB) GetDBReceipt(ctx context.Context) (*receipts.DBReceipt, error) {
	return db.readDBReceipt()
}

// ManifestFilter narrows GetManifest results. A zero-value filter matches
// everything.
type ManifestFilter struct {
	GroupID string
	Tenant  string
}

// ManifestPage is one page of GetManifest results.
type ManifestPage struct {
	Rows       []ManifestRow
	NextOffset int
	HasMore    bool
}

// GetManifest returns manifest rows matching filter, sorted by CreatedAt
// ascending (creation order), paged by
// offset/limit. DisplayName overlay values are merged in from
// metadata/names.json.
func (db *DB) GetManifest(ctx context.Context, filter ManifestFilter, offset, limit int) (*ManifestPage, error) {
	rows, err := readManifest(filepath.Join(db.root, fileManifest))
	if err != nil {
		return nil, err
	}

	filtered := rows[:0:0]
	for _, r := range rows {
		if filter.GroupID != "" && r.GroupID != filter.GroupID {
			continue
		}
		if filter.Tenant != "" {
			allowed, _ := acl.New(&acl.Claims{Tenant: filter.Tenant}, false).Allow(aclRowFor(r))
			if !allowed {
				continue
			}
		}
		r.DisplayName = db.names.get(r.LatticeID)
		filtered = append(filtered, r)
	}

	sort.SliceStable(filtered, func(i, j int) bool { return filtered[i].CreatedAt < filtered[j].CreatedAt })

	if offset > len(filtered) {
		offset = len(filtered)
	}
	end := offset + limit
	if limit <= 0 || end > len(filtered) {
		end = len(filtered)
	}

	return &ManifestPage{
		Rows:       filtered[offset:end],
		NextOffset: end,
		HasMore:    end < len(filtered),
	}, nil
}

// SetDisplayName updates the non-attested display_name overlay for
// latticeID. It does not touch any receipt or the Merkle tree.
func (db *DB) SetDisplayName(ctx context.Context, latticeID, name string) error {
	return db.names.set(latticeID, name)
}
