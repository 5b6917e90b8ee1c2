// Copyright 2025 Certen Protocol
//
// Package engine is the composition root: it exposes the seven
// transport-neutral operations (ingest, route, compose, verify,
// get_db_receipt, get_manifest, set_display_name) as methods, wiring
// pkg/store, pkg/compose and pkg/acl together behind a bounded in-flight
// counter on the query path. The counter favors backpressure over a
// critical section: overload returns oerrors.Busy rather than blocking.
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/acl"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/compose"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/embedspace"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/lattice"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/oerrors"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/receipts"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/router"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/spd"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/store"
)

// Engine wraps a *store.DB with a bounded query-concurrency envelope.
type Engine struct {
	db  *store.DB
	log *zap.Logger
	sem chan struct{}
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithMaxInFlight sets the number of concurrent Route/Compose calls
// allowed before new calls fail with oerrors.Busy. Defaults to 64.
func WithMaxInFlight(n int) Option {
	return func(e *Engine) {
		e.sem = make(chan struct{}, n)
	}
}

// New builds an Engine over db.
func New(db *store.DB, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{db: db, log: log, sem: make(chan struct{}, 64)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) acquire() (func(), error) {
	select {
	case e.sem <- struct{}{}:
		return func() { <-e.sem }, nil
	default:
		e.log.Warn("in-flight query limit reached, rejecting with backpressure", zap.Int("max_in_flight", cap(e.sem)))
		return nil, oerrors.New(oerrors.Busy, "too many in-flight query operations")
	}
}

// IngestInput is the transport-neutral request shape for Ingest.
type IngestInput struct {
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

// Ingest builds and seals a new micro-lattice. Ingest is single-writer per
// database root (enforced inside pkg/store) and is not subject to the
// in-flight query counter, which only bounds the read/query path.
func (e *Engine) Ingest(ctx context.Context, in IngestInput) (*receipts.LatticeReceipt, error) {
	return e.db.Ingest(ctx, store.IngestRequest{
		GroupID:     in.GroupID,
		Chunks:      in.Chunks,
		Vectors:     in.Vectors,
		SourceFile:  in.SourceFile,
		FileBytes:   in.FileBytes,
		FileSHA256:  in.FileSHA256,
		ModelSHA256: in.ModelSHA256,
		ACLTenants:  in.ACLTenants,
		ACLRoles:    in.ACLRoles,
		ACLPublic:   in.ACLPublic,
	})
}

// RouteInput is the transport-neutral request shape for Route.
type RouteInput struct {
	Query  []float32
	K      int
	Claims *acl.Claims
	Strict bool
}

// Route selects up to K candidate lattices by centroid similarity.
func (e *Engine) Route(ctx context.Context, in RouteInput) ([]router.Result, error) {
	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	var filter *acl.Filter
	if in.Claims != nil || in.Strict {
		filter = acl.New(in.Claims, in.Strict)
	}
	results, err := e.db.Route(ctx, in.Query, in.K, filter)
	if err != nil {
		if oerrors.KindOf(err) == oerrors.ACLDenyMissingClaims {
			e.log.Warn("route denied for missing ACL claims under strict mode")
		} else {
			e.log.Error("route failed", zap.Error(err))
		}
		return nil, err
	}
	return results, nil
}

// ComposeInput is the transport-neutral request shape for Compose.
type ComposeInput struct {
	Query      embedspace.Vector
	LatticeIDs []string
	Opts       compose.Options
	Claims     *acl.Claims
	Strict     bool
}

// Compose resolves LatticeIDs to representative vectors and source
// metadata, applies ACL filtering, and runs the composite settler,
// anchoring the resulting CompositeReceipt to the DBReceipt read at the
// start of this call.
func (e *Engine) Compose(ctx context.Context, in ComposeInput) (*compose.Outcome, error) {
	release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	dbReceipt, err := e.db.GetDBReceipt(ctx)
	if err != nil {
		return nil, err
	}

	var filter *acl.Filter
	if in.Claims != nil || in.Strict {
		filter = acl.New(in.Claims, in.Strict)
	}

	manifestByID, err := e.manifestIndex(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]compose.Candidate, 0, len(in.LatticeIDs))
	for _, id := range in.LatticeIDs {
		row, ok := manifestByID[id]
		if !ok {
			return nil, oerrors.Newf(oerrors.NotFound, "lattice %s not found", id)
		}
		if filter != nil {
			allowed, err := filter.Allow(acl.Row{Tenants: row.ACLTenants, Roles: row.ACLRoles, Public: row.ACLPublic})
			if err != nil {
				e.log.Warn("compose candidate denied for missing ACL claims under strict mode",
					zap.String("lattice_id", id))
				return nil, err
			}
			if !allowed {
				e.log.Debug("compose candidate excluded by ACL filter", zap.String("lattice_id", id))
				continue
			}
		}
		centroid, ok := e.db.CentroidFor(id)
		if !ok {
			return nil, oerrors.Newf(oerrors.NotFound, "no router centroid for lattice %s", id)
		}
		vec := make(embedspace.Vector, len(centroid))
		for i, v := range centroid {
			vec[i] = float64(v)
		}
		candidates = append(candidates, compose.Candidate{
			LatticeID:  id,
			GroupID:    row.GroupID,
			Centroid:   vec,
			SourceFile: row.SourceFile,
		})
	}

	cfg := e.db.Config()
	base := spd.Params{
		LambdaG: cfg.LambdaG,
		LambdaC: cfg.LambdaC,
		LambdaQ: cfg.LambdaQ,
		Tol:     cfg.CGTolerance,
		MaxIter: cfg.CGMaxIter,
	}
	if in.Opts.KCDefault == 0 {
		in.Opts.KCDefault = cfg.CompositeKCDefault
	}

	outcome, err := compose.Run(in.Query, candidates, dbReceipt.DBRoot, cfg.ModelFingerprint, in.Opts, base)
	if err != nil {
		if oerrors.KindOf(err) == oerrors.CGNonFinite {
			e.log.Error("compose CG solve produced a non-finite value", zap.Error(err))
		} else {
			e.log.Error("compose failed", zap.Error(err))
		}
		return nil, err
	}
	if outcome.Abstain {
		e.log.Info("compose abstained", zap.String("reason", string(outcome.Reason)))
	}
	return outcome, nil
}

func (e *Engine) manifestIndex(ctx context.Context) (map[string]store.ManifestRow, error) {
	page, err := e.db.GetManifest(ctx, store.ManifestFilter{}, 0, 0)
	if err != nil {
		return nil, err
	}
	idx := make(map[string]store.ManifestRow, len(page.Rows))
	for _, row := range page.Rows {
		idx[row.LatticeID] = row
	}
	return idx, nil
}

// Verify runs the store's verification protocol.
func (e *Engine) Verify(ctx context.Context, composite receipts.CompositeReceipt, witnesses []receipts.LatticeReceipt) (bool, receipts.VerifyReason, error) {
	return e.db.Verify(ctx, composite, witnesses)
}

// GetDBReceipt returns the current DBReceipt.
func (e *Engine) GetDBReceipt(ctx context.Context) (*receipts.DBReceipt, error) {
	return e.db.GetDBReceipt(ctx)
}

// GetManifest returns a filtered, paged manifest slice.
func (e *Engine) GetManifest(ctx context.Context, filter store.ManifestFilter, offset, limit int) (*store.ManifestPage, error) {
	return e.db.GetManifest(ctx, filter, offset, limit)
}

// SetDisplayName updates the non-attested display-name overlay.
func (e *Engine) SetDisplayName(ctx context.Context, latticeID, name string) error {
	return e.db.SetDisplayName(ctx, latticeID, name)
}

// Readiness exposes the store's structured readiness report.
func (e *Engine) Readiness(ctx context.Context) (*store.ReadinessReport, error) {
	return e.db.Readiness(ctx)
}

// Close releases the underlying store handle.
func (e *Engine) Close() error {
	return e.db.Close()
}
