// Copyright 2025 Certen Protocol
//
// Package router maintains the centroid table used to shortlist lattices
// for a query: an N×d float32 array, one row per sealed lattice in
// creation order, memory-mapped for lock-free concurrent reads. Writers
// never mutate the mapped file in place — a rebuild writes a new file to a
// temp path and atomically renames it over the old one, and readers pick
// up the new mapping via an atomically swapped pointer.
package router

import (
	"encoding/binary"
	"math"
	"os"
	"sort"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/acl"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/oerrors"
)

// Row is one lattice's router metadata, parallel to its centroid row.
type Row struct {
	LatticeID string
	GroupID   string
	ACL       acl.Row
}

// Result is one scored match from a Query call.
type Result struct {
	LatticeID string
	GroupID   string
	Score     float32
}

// snapshot is the immutable state swapped in atomically on every rebuild.
type snapshot struct {
	mapping mmap.MMap // nil once closed; raw little-endian float32, row-major
	file    *os.File
	n       int
	dim     int
	rows    []Row
}

// Table is a read side handle to the centroid table. The zero value is not
// usable; construct with Open or New.
type Table struct {
	path string
	cur  atomic.Pointer[snapshot]
}

// New constructs an empty, in-memory-only Table (no backing file yet); the
// first Rebuild call creates path.
func New(path string) *Table {
	t := &Table{path: path}
	t.cur.Store(&snapshot{n: 0, dim: 0})
	return t
}

// Open memory-maps the centroid table at path (dim columns per row) for
// reading. If the file does not exist, Open returns an empty Table rather
// than an error, since a freshly initialized store root has no lattices
// yet.
func Open(path string, dim int, rows []Row) (*Table, error) {
	t := &Table{path: path}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		t.cur.Store(&snapshot{n: 0, dim: dim, rows: rows})
		return t, nil
	}
	if err != nil {
		return nil, oerrors.Wrap(oerrors.IO, err, "opening centroid table")
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, oerrors.Wrap(oerrors.IO, err, "stat centroid table")
	}
	if info.Size() == 0 {
		f.Close()
		t.cur.Store(&snapshot{n: 0, dim: dim, rows: rows})
		return t, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, oerrors.Wrap(oerrors.IO, err, "mmap centroid table")
	}

	n := len(m) / (4 * dim)
	if n != len(rows) {
		m.Unmap()
		f.Close()
		return nil, oerrors.Newf(oerrors.Integrity,
			"centroid table has %d rows, router meta has %d", n, len(rows))
	}

	t.cur.Store(&snapshot{mapping: m, file: f, n: n, dim: dim, rows: rows})
	return t, nil
}

// Close unmaps and closes the currently mapped file, if any.
func (t *Table) Close() error {
	snap := t.cur.Load()
	if snap == nil || snap.mapping == nil {
		return nil
	}
	if err := snap.mapping.Unmap(); err != nil {
		return err
	}
	return snap.file.Close()
}

// Rebuild writes centroids (n rows of dim float32 each, row-major) and rows
// to a temp file beside path, fsyncs, and atomically renames over the
// previous table. The caller must hold the store's writer lock. The
// previous mapping (if any) is unmapped only after the swap, so concurrent
// readers never observe a torn view.
func (t *Table) Rebuild(centroids [][]float32, rows []Row, dim int) error {
	tmp := t.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return oerrors.Wrap(oerrors.IO, err, "creating centroid table temp file")
	}

	buf := make([]byte, dim*4)
	for _, row := range centroids {
		for i, v := range row {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
		if _, err := f.Write(buf); err != nil {
			f.Close()
			os.Remove(tmp)
			return oerrors.Wrap(oerrors.IO, err, "writing centroid row")
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return oerrors.Wrap(oerrors.IO, err, "fsync centroid table")
	}
	f.Close()

	if err := os.Rename(tmp, t.path); err != nil {
		os.Remove(tmp)
		return oerrors.Wrap(oerrors.IO, err, "renaming centroid table into place")
	}

	next, err := Open(t.path, dim, rows)
	if err != nil {
		return err
	}
	prev := t.cur.Swap(next.cur.Load())
	if prev != nil && prev.mapping != nil {
		prev.mapping.Unmap()
		prev.file.Close()
	}
	return nil
}

// Query scores every row against q (unit-normalized) via a dot product
// and returns the top-k by descending score, ties broken by smaller row
// index. If filter is non-nil, rows it rejects are excluded before
// ranking. k is clamped to [1, N].
func (t *Table) Query(q []float32, k int, filter *acl.Filter) ([]Result, error) {
	snap := t.cur.Load()
	if snap.n == 0 {
		return nil, nil
	}
	if len(q) != snap.dim {
		return nil, oerrors.Newf(oerrors.EmbedDimMismatch, "query dimension %d does not match table dimension %d", len(q), snap.dim)
	}
	if k < 1 {
		k = 1
	}
	if k > snap.n {
		k = snap.n
	}

	type scored struct {
		idx   int
		score float32
	}
	candidates := make([]scored, 0, snap.n)
	for i := 0; i < snap.n; i++ {
		if filter != nil {
			allowed, err := filter.Allow(snap.rows[i].ACL)
			if err != nil {
				return nil, err
			}
			if !allowed {
				continue
			}
		}
		candidates = append(candidates, scored{idx: i, score: dotRow(snap, i, q)})
	}

	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		return candidates[a].idx < candidates[b].idx
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	out := make([]Result, len(candidates))
	for i, c := range candidates {
		out[i] = Result{
			LatticeID: snap.rows[c.idx].LatticeID,
			GroupID:   snap.rows[c.idx].GroupID,
			Score:     c.score,
		}
	}
	return out, nil
}

// CentroidFor returns a copy of the centroid row for latticeID, if present.
func (t *Table) CentroidFor(latticeID string) ([]float32, bool) {
	snap := t.cur.Load()
	for i, row := range snap.rows {
		if row.LatticeID == latticeID {
			out := make([]float32, snap.dim)
			base := i * snap.dim * 4
			for j := 0; j < snap.dim; j++ {
				bits := binary.LittleEndian.Uint32(snap.mapping[base+j*4 : base+j*4+4])
				out[j] = math.Float32frombits(bits)
			}
			return out, true
		}
	}
	return nil, false
}

func dotRow(snap *snapshot, row int, q []float32) float32 {
	var s float32
	base := row * snap.dim * 4
	for i := 0; i < snap.dim; i++ {
		bits := binary.LittleEndian.Uint32(snap.mapping[base+i*4 : base+i*4+4])
		s += math.Float32frombits(bits) * q[i]
	}
	return s
}
