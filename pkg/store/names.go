// Copyright 2025 Certen Protocol

package store

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/oerrors"
)

// nameOverlay holds metadata/names.json: display names keyed by lattice
// ID. It is explicitly outside the Merkle tree and may be updated freely
// without touching any receipt.
type nameOverlay struct {
	path string
	mu   sync.Mutex
	data map[string]string
}

func loadNameOverlay(path string) (*nameOverlay, error) {
	data := map[string]string{}
	raw, err := os.ReadFile(path)
	if err == nil {
		if jsonErr := json.Unmarshal(raw, &data); jsonErr != nil {
			return nil, oerrors.Wrap(oerrors.Integrity, jsonErr, "parsing names.json")
		}
	} else if !os.IsNotExist(err) {
		return nil, oerrors.Wrap(oerrors.IO, err, "reading names.json")
	}
	return &nameOverlay{path: path, data: data}, nil
}

func (n *nameOverlay) get(latticeID string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.data[latticeID]
}

func (n *nameOverlay) set(latticeID, name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.data[latticeID] = name

	raw, err := json.Marshal(n.data)
	if err != nil {
		return oerrors.Wrap(oerrors.IO, err, "encoding names.json")
	}
	return writeFileAtomic(n.path, raw)
}
