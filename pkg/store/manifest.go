// Copyright 2025 Certen Protocol

package store

import (
	"bufio"
	"encoding/json"
	"os"
	"time"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/oerrors"
)

// ManifestRow is one row of manifest.ndjson: creation is monotonic
// (append-only). DisplayName is not written at ingest; GetManifest fills it
// from the metadata/names.json overlay. Neither DisplayName nor the ACL
// columns enter any receipt.
type ManifestRow struct {
	GroupID     string   `json:"group_id"`
	LatticeID   string   `json:"lattice_id"`
	EdgeHash    string   `json:"edge_hash"`
	DeltaHTotal string   `json:"deltaH_total"`
	CreatedAt   string   `json:"created_at"`
	SourceFile  string   `json:"source_file"`
	ChunkCount  int      `json:"chunk_count"`
	FileBytes   int64    `json:"file_bytes"`
	FileSHA256  string   `json:"file_sha256"`
	ACLTenants  []string `json:"acl_tenants,omitempty"`
	ACLRoles    []string `json:"acl_roles,omitempty"`
	ACLPublic   bool     `json:"acl_public,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
}

// RouterMetaRow is one row of router/meta.ndjson, parallel by position to
// centroids.f32.
type RouterMetaRow struct {
	LatticeID  string   `json:"lattice_id"`
	GroupID    string   `json:"group_id"`
	ACLTenants []string `json:"acl_tenants,omitempty"`
	ACLRoles   []string `json:"acl_roles,omitempty"`
	ACLPublic  bool     `json:"acl_public,omitempty"`
}

func readManifest(path string) ([]ManifestRow, error) {
	var rows []ManifestRow
	err := readNDJSON(path, func(line []byte) error {
		var row ManifestRow
		if err := json.Unmarshal(line, &row); err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	})
	return rows, err
}

func appendManifestRow(path string, row ManifestRow) error {
	return appendNDJSON(path, row)
}

func rewriteManifest(path string, rows []ManifestRow) error {
	return rewriteNDJSON(path, toAnySlice(rows))
}

func readRouterMeta(path string) ([]RouterMetaRow, error) {
	var rows []RouterMetaRow
	err := readNDJSON(path, func(line []byte) error {
		var row RouterMetaRow
		if err := json.Unmarshal(line, &row); err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	})
	return rows, err
}

func rewriteRouterMeta(path string, rows []RouterMetaRow) error {
	return rewriteNDJSON(path, toAnySlice(rows))
}

func toAnySlice[T any](rows []T) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

func readNDJSON(path string, visit func([]byte) error) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return oerrors.Wrap(oerrors.IO, err, "opening ndjson file")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := visit(line); err != nil {
			return oerrors.Wrap(oerrors.Integrity, err, "parsing ndjson row")
		}
	}
	if err := scanner.Err(); err != nil {
		return oerrors.Wrap(oerrors.IO, err, "scanning ndjson file")
	}
	return nil
}

func appendNDJSON(path string, row any) error {
	line, err := json.Marshal(row)
	if err != nil {
		return oerrors.Wrap(oerrors.IO, err, "encoding ndjson row")
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return oerrors.Wrap(oerrors.IO, err, "opening ndjson file for append")
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return oerrors.Wrap(oerrors.IO, err, "appending ndjson row")
	}
	return f.Sync()
}

func rewriteNDJSON(path string, rows []any) error {
	buf := make([]byte, 0, 256*len(rows))
	for _, row := range rows {
		line, err := json.Marshal(row)
		if err != nil {
			return oerrors.Wrap(oerrors.IO, err, "encoding ndjson row")
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return writeFileAtomic(path, buf)
}

func nowISO8601() string {
	return time.Now().UTC().Format(time.RFC3339)
}
