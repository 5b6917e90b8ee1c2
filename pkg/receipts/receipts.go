// Copyright 2025 Certen Protocol
//
// Package receipts defines the three attested artifact types
// (LatticeReceipt, DBReceipt, CompositeReceipt) and the state_sig /
// db_root computations that tie them together. Every float field that
// enters a hash is stored pre-rendered as a fixed-17-significant-digit
// decimal string (via pkg/canon.Fixed17) rather than as a Go float64, so
// state_sig is reproducible byte-for-byte across platforms.
package receipts

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/canon"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/merkle"
)

// VerifyReason is the closed set of reason codes verify() can return.
type VerifyReason string

const (
	ReasonOK                  VerifyReason = "ok"
	ReasonStateSigMismatch    VerifyReason = "state_sig_mismatch"
	ReasonMerkleRootMismatch  VerifyReason = "merkle_root_mismatch"
	ReasonDBRootMismatch      VerifyReason = "db_root_mismatch"
)

// AbstainReason is the closed set of reason codes compose() can return
// when it declines to produce a Context Pack.
type AbstainReason string

const (
	ReasonWeakCoherence   AbstainReason = "weak_coherence"
	ReasonACLNoCandidates AbstainReason = "acl_no_candidates"
)

// LatticeReceipt attests a single sealed micro-lattice. StateSig must be
// computed last, over the canonical JSON of every other field.
type LatticeReceipt struct {
	Version      int    `json:"version"`
	LatticeID    string `json:"lattice_id"`
	GroupID      string `json:"group_id"`
	Dim          int    `json:"dim"`
	LambdaG      string `json:"lambda_G"`
	LambdaC      string `json:"lambda_C"`
	LambdaQ      string `json:"lambda_Q"`
	EdgeHash     string `json:"edge_hash"`
	DeltaHTotal  string `json:"deltaH_total"`
	CGIters      int    `json:"cg_iters"`
	FinalResid   string `json:"final_residual"`
	FileSHA256   string `json:"file_sha256"`
	ModelSHA256  string `json:"model_sha256"`
	StateSig     string `json:"state_sig,omitempty"`
}

// Seal computes and sets StateSig, overwriting any prior value, and
// returns the receipt for chaining.
func (r *LatticeReceipt) Seal() (*LatticeReceipt, error) {
	r.StateSig = ""
	sig, err := canon.HashCanonical(r)
	if err != nil {
		return nil, err
	}
	r.StateSig = sig
	return r, nil
}

// VerifyStateSig recomputes state_sig over r's other fields and reports
// whether it matches the stored value.
func (r LatticeReceipt) VerifyStateSig() (bool, error) {
	want := r.StateSig
	cp := r
	cp.StateSig = ""
	got, err := canon.HashCanonical(&cp)
	if err != nil {
		return false, err
	}
	return got == want, nil
}

// StateSigLeaf decodes StateSig into a 32-byte Merkle leaf. It reports
// false when StateSig is not a 64-character hex digest, e.g. on a receipt
// that was never sealed.
func (r LatticeReceipt) StateSigLeaf() (merkle.Leaf, bool) {
	return decodeLeaf(r.StateSig)
}

// DBReceipt attests the whole database: a Merkle root over every sealed
// lattice's state_sig plus the trailing config_hash leaf.
type DBReceipt struct {
	DBRoot       string `json:"db_root"`
	ConfigHash   string `json:"config_hash"`
	LatticeCount int    `json:"lattice_count"`
}

// BuildDBReceipt recomputes db_root from the given lattice receipts and
// config hash. Lattice receipts may be supplied in any order; they are
// sorted by state_sig before the tree is built.
func BuildDBReceipt(latticeReceipts []LatticeReceipt, configHash string) (*DBReceipt, error) {
	cfgLeaf, ok := decodeLeaf(configHash)
	if !ok {
		return nil, fmt.Errorf("receipts: invalid config_hash %q", configHash)
	}

	leaves := make([]merkle.Leaf, 0, len(latticeReceipts))
	for _, r := range latticeReceipts {
		leaf, ok := r.StateSigLeaf()
		if !ok {
			return nil, fmt.Errorf("receipts: invalid state_sig for lattice %s", r.LatticeID)
		}
		leaves = append(leaves, leaf)
	}
	sort.Slice(leaves, func(i, j int) bool { return lessLeaf(leaves[i], leaves[j]) })

	root := merkle.BuildRoot(leaves, cfgLeaf)
	return &DBReceipt{
		DBRoot:       encodeLeaf(root),
		ConfigHash:   configHash,
		LatticeCount: len(latticeReceipts),
	}, nil
}

// CompositeReceipt attests a single compose() call, ephemeral but
// verifiable against the DBReceipt it anchors to.
type CompositeReceipt struct {
	DBRoot            string   `json:"db_root"`
	LatticeIDs        []string `json:"lattice_ids"`
	EdgeHashComposite string   `json:"edge_hash_composite"`
	DeltaHTotal       string   `json:"deltaH_total"`
	CGIters           int      `json:"cg_iters"`
	FinalResid        string   `json:"final_residual"`
	Epsilon           string   `json:"epsilon"`
	Tau               string   `json:"tau"`
	Filters           []string `json:"filters,omitempty"`
	ModelSHA256       string   `json:"model_sha256"`
	StateSig          string   `json:"state_sig,omitempty"`
}

// Seal computes and sets StateSig, normalizing LatticeIDs to sorted order
// first.
func (c *CompositeReceipt) Seal() (*CompositeReceipt, error) {
	sort.Strings(c.LatticeIDs)
	c.StateSig = ""
	sig, err := canon.HashCanonical(c)
	if err != nil {
		return nil, err
	}
	c.StateSig = sig
	return c, nil
}

// VerifyStateSig recomputes state_sig over c's other fields and reports
// whether it matches the stored value.
func (c CompositeReceipt) VerifyStateSig() (bool, error) {
	want := c.StateSig
	cp := c
	cp.StateSig = ""
	got, err := canon.HashCanonical(&cp)
	if err != nil {
		return false, err
	}
	return got == want, nil
}

func decodeLeaf(hexSig string) (merkle.Leaf, bool) {
	var leaf merkle.Leaf
	b, err := hex.DecodeString(hexSig)
	if err != nil || len(b) != len(leaf) {
		return leaf, false
	}
	copy(leaf[:], b)
	return leaf, true
}

func encodeLeaf(l merkle.Leaf) string {
	return hex.EncodeToString(l[:])
}

func lessLeaf(a, b merkle.Leaf) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
