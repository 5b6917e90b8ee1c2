// Copyright 2025 Certen Protocol
//
// Package merkle builds the binary Merkle tree used to attest a database's
// sealed lattices: one leaf per LatticeReceipt.state_sig (sorted ascending,
// byte-lex) followed by a trailing config_hash leaf. Internal nodes are
// SHA256(left||right); an odd-length level duplicates its last node before
// combining, so any two conforming implementations produce byte-identical
// roots.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"sort"
)

// Leaf is a 32-byte Merkle leaf (a state_sig or a config_hash).
type Leaf = [32]byte

// BuildRoot computes db_root = merkle(sort(stateSigs) ++ [configHash]).
// configHash is always the last leaf, so if stateSigs is empty (an
// as-yet-empty, unsealed store) the root is configHash itself.
func BuildRoot(stateSigs []Leaf, configHash Leaf) Leaf {
	sorted := make([]Leaf, len(stateSigs))
	copy(sorted, stateSigs)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})

	leaves := make([]Leaf, 0, len(sorted)+1)
	leaves = append(leaves, sorted...)
	leaves = append(leaves, configHash)

	return root(leaves)
}

// root builds the tree bottom-up from an ordered leaf slice and returns the
// final node. Never called with zero leaves by BuildRoot (configHash is
// always appended), but handles it defensively for direct callers.
func root(leaves []Leaf) Leaf {
	if len(leaves) == 0 {
		return sha256.Sum256(nil)
	}

	level := leaves
	for len(level) > 1 {
		next := make([]Leaf, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}

func hashPair(left, right Leaf) Leaf {
	h := sha256.New()
	h.Write(left[:])
	h.Write(right[:])
	var out Leaf
	copy(out[:], h.Sum(nil))
	return out
}
