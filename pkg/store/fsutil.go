// Copyright 2025 Certen Protocol

package store

import (
	"os"
	"path/filepath"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/oerrors"
)

// writeFileAtomic writes data to a temp file beside path, fsyncs it, then
// renames it over path and fsyncs the parent directory, so every persisted
// artifact is sealed by a single atomic rename rather than an in-place
// write.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return oerrors.Wrap(oerrors.IO, err, "creating temp file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return oerrors.Wrap(oerrors.IO, err, "writing temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return oerrors.Wrap(oerrors.IO, err, "fsync temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return oerrors.Wrap(oerrors.IO, err, "closing temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return oerrors.Wrap(oerrors.IO, err, "renaming into place")
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return oerrors.Wrap(oerrors.IO, err, "opening directory for fsync")
	}
	defer f.Close()
	if err := f.Sync(); err != nil {
		return oerrors.Wrap(oerrors.IO, err, "fsync directory")
	}
	return nil
}

// sealDir moves tmpDir to finalDir (a single rename, since both are on the
// same filesystem under the store root), fsyncs the parent, and removes
// tmpDir on any failure so a half-built lattice never lingers.
func sealDir(tmpDir, finalDir string) error {
	if err := os.Rename(tmpDir, finalDir); err != nil {
		os.RemoveAll(tmpDir)
		return oerrors.Wrap(oerrors.IO, err, "sealing lattice directory")
	}
	return syncDir(filepath.Dir(finalDir))
}
