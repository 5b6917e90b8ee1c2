// Copyright 2025 Certen Protocol

package store

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/canon"
)

// ReadinessCheck is one named pass/fail observation. Readiness never
// panics or auto-heals; it only reports.
type ReadinessCheck struct {
	Name string `json:"name"`
	OK   bool   `json:"ok"`
	Msg  string `json:"msg,omitempty"`
}

// ReadinessReport is the aggregate result of Readiness.
type ReadinessReport struct {
	Ready  bool              `json:"ready"`
	Checks []ReadinessCheck  `json:"checks"`
}

// Readiness runs a set of cross-structure consistency checks: config_hash
// matches the persisted config, router row count matches the manifest's
// lattice count, and every router lattice_id appears in the manifest.
func (db *DB) Readiness(ctx context.Context) (*ReadinessReport, error) {
	report := &ReadinessReport{Ready: true}

	add := func(name string, ok bool, msg string) {
		report.Checks = append(report.Checks, ReadinessCheck{Name: name, OK: ok, Msg: msg})
		if !ok {
			report.Ready = false
			db.log.Warn("readiness check failed", zap.String("check", name), zap.String("msg", msg))
		}
	}

	hash, err := db.configHash()
	if err != nil {
		add("config_hash", false, err.Error())
	} else if raw, rerr := os.ReadFile(filepath.Join(db.root, dirReceipts, fileConfigJSON)); rerr != nil {
		add("config_hash", false, rerr.Error())
	} else if persisted, cerr := canon.CanonicalizeJSON(raw); cerr != nil {
		add("config_hash", false, cerr.Error())
	} else if canon.SHA256Hex(persisted) != hash {
		add("config_hash", false, "config_hash does not match persisted config.json")
	} else {
		add("config_hash", true, "")
	}

	manifestRows, err := readManifest(filepath.Join(db.root, fileManifest))
	if err != nil {
		add("manifest_read", false, err.Error())
		return report, nil
	}
	add("manifest_read", true, "")

	routerRows, err := readRouterMeta(filepath.Join(db.root, dirRouter, fileRouterMeta))
	if err != nil {
		add("router_meta_read", false, err.Error())
		return report, nil
	}

	if len(routerRows) != len(manifestRows) {
		add("router_manifest_count", false, "router row count does not match manifest lattice count")
	} else {
		add("router_manifest_count", true, "")
	}

	manifestIDs := make(map[string]bool, len(manifestRows))
	for _, m := range manifestRows {
		manifestIDs[m.LatticeID] = true
	}
	missing := false
	for _, r := range routerRows {
		if !manifestIDs[r.LatticeID] {
			missing = true
			break
		}
	}
	add("router_ids_in_manifest", !missing, map[bool]string{true: "a router lattice_id is missing from the manifest"}[missing])

	dbReceipt, err := db.readDBReceipt()
	if err != nil {
		add("db_receipt_read", false, err.Error())
		return report, nil
	}
	add("db_receipt_config_hash", dbReceipt.ConfigHash == hash, "")

	db.log.Info("readiness checked", zap.Bool("ready", report.Ready), zap.Int("checks", len(report.Checks)))
	return report, nil
}
