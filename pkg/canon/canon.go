// Copyright 2025 Certen Protocol
//
// Package canon provides the canonical JSON encoding and hashing primitives
// every receipt and config artifact is built on. Canonical JSON here means:
// object keys sorted by UTF-8 byte order, no insignificant whitespace, and
// numeric fields that are hashed (ΔH, residuals) pre-encoded by the caller
// as fixed-precision decimal strings rather than Go floats, so the same
// value produces the same bytes on any platform.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal takes a Go value, JSON-encodes it, and returns the canonical
// encoding: sorted object keys at every level, array order preserved.
func Marshal(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshal: %w", err)
	}
	return CanonicalizeJSON(raw)
}

// CanonicalizeJSON takes arbitrary JSON bytes and re-emits them with sorted
// object keys and no insignificant whitespace.
func CanonicalizeJSON(raw []byte) ([]byte, error) {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canon: decode: %w", err)
	}
	return json.Marshal(canonicalizeValue(v))
}

// canonicalizeValue recursively sorts map keys; arrays retain order.
// json.Number values pass through unchanged so numeric precision survives
// the round trip exactly as the caller wrote it.
func canonicalizeValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(orderedMap, 0, len(vv))
		for _, k := range keys {
			ordered = append(ordered, orderedEntry{k, canonicalizeValue(vv[k])})
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			out[i] = canonicalizeValue(e)
		}
		return out
	default:
		return vv
	}
}

// orderedMap/orderedEntry implement json.Marshaler to emit object keys in
// the exact sorted order canonicalizeValue chose; a plain Go map would let
// encoding/json re-sort (it already sorts string keys, but relying on that
// implicitly is fragile across stdlib versions) or, worse, silently permit
// non-string keys to slip through untyped interface maps.
type orderedEntry struct {
	Key string
	Val interface{}
}

type orderedMap []orderedEntry

func (m orderedMap) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = append(buf, '{')
	for i, e := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		valJSON, err := json.Marshal(e.Val)
		if err != nil {
			return nil, err
		}
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// SHA256 returns the raw SHA-256 digest of data.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// SHA256Hex returns the lowercase hex-encoded SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashCanonical canonically encodes v and returns its SHA-256 hex digest.
func HashCanonical(v interface{}) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(b), nil
}

// Fixed17 renders f as a fixed-precision decimal string with 17 significant
// digits: hashed floating-point fields (ΔH, residuals) must never carry raw
// IEEE-754 bits into a hash, only a canonical decimal rendering.
func Fixed17(f float64) string {
	return fmt.Sprintf("%.17g", f)
}

