// Copyright 2025 Certen Protocol

package store

import (
	"context"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/receipts"
)

// Verify recomputes the composite receipt's own state_sig, optionally
// recomputes the Merkle root over a supplied witness set, and compares the
// composite's anchored db_root against the store's current DBReceipt.
func (db *DB) Verify(ctx context.Context, composite receipts.CompositeReceipt, witnesses []receipts.LatticeReceipt) (bool, receipts.VerifyReason, error) {
	ok, err := composite.VerifyStateSig()
	if err != nil {
		return false, "", err
	}
	if !ok {
		return false, receipts.ReasonStateSigMismatch, nil
	}

	current, err := db.readDBReceipt()
	if err != nil {
		return false, "", err
	}

	if len(witnesses) > 0 {
		hash, err := db.configHash()
		if err != nil {
			return false, "", err
		}
		rebuilt, err := receipts.BuildDBReceipt(witnesses, hash)
		if err != nil {
			return false, "", err
		}
		if rebuilt.DBRoot != current.DBRoot {
			return false, receipts.ReasonMerkleRootMismatch, nil
		}
	}

	if composite.DBRoot != current.DBRoot {
		return false, receipts.ReasonDBRootMismatch, nil
	}

	return true, receipts.ReasonOK, nil
}
