// Copyright 2025 Certen Protocol
//
// Package config holds the normalized configuration for an
// oscillinklattticedb database root. Every field here affects numerics (the
// SPD system, the CG solve, or the graph construction) and therefore enters
// config_hash — the Merkle tree's trailing leaf. Anything that must NOT
// affect attestation (display names, ACL overlays) lives outside this
// struct entirely; see pkg/store.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/canon"
)

// RepresentativePolicy selects how the Composite Settler builds its
// representative-vector set for a lattice. "centroid-only" is the only
// policy implemented: one representative vector per selected lattice, its
// centroid.
type RepresentativePolicy string

const (
	RepresentativeCentroidOnly RepresentativePolicy = "centroid-only"
)

// Config is the normalized, Merkle-attested build/query configuration.
// Field names double as the canonical JSON keys (via the `json` tags) that
// feed config_hash, so renaming a field changes every future config_hash —
// treat this struct as append-only once a database has been sealed against
// a particular schema version.
type Config struct {
	SchemaVersion int `json:"schema_version" yaml:"schema_version"`

	// Dim is the embedding dimension d. Every lattice's vector block and
	// the router's centroid table share this dimension.
	Dim int `json:"d" yaml:"dim"`

	// KNeighbors is k for the per-lattice mutual-kNN graph.
	KNeighbors int `json:"k_neighbors" yaml:"k_neighbors"`

	LambdaG float64 `json:"lambda_g" yaml:"lambda_g"`
	LambdaC float64 `json:"lambda_c" yaml:"lambda_c"`
	LambdaQ float64 `json:"lambda_q" yaml:"lambda_q"`

	CGTolerance float64 `json:"cg_tolerance" yaml:"cg_tolerance"`
	CGMaxIter   int     `json:"cg_max_iter" yaml:"cg_max_iter"`

	// ModelFingerprint identifies the embedding model/revision that
	// produced the vectors this database accepts. Callers derive it with
	// ModelFingerprint(name, revision) before constructing a Config.
	ModelFingerprint string `json:"model_fingerprint" yaml:"model_fingerprint"`

	// CompositeKCDefault is k_c_default for the compose-time mutual-kNN
	// graph over representative vectors; the effective k_c for a call is
	// min(CompositeKCDefault, |candidates|-1).
	CompositeKCDefault int `json:"composite_kc_default" yaml:"composite_kc_default"`

	// RepresentativePolicy selects the compose-time representative-vector
	// policy. Only RepresentativeCentroidOnly is implemented.
	RepresentativePolicy RepresentativePolicy `json:"representative_policy" yaml:"representative_policy"`
}

// Default returns a normalized Config with conservative defaults. Dim and
// ModelFingerprint have no sane default and must be set by the caller.
func Default() *Config {
	return &Config{
		SchemaVersion:         1,
		KNeighbors:            8,
		LambdaG:               1.0,
		LambdaC:               0.5,
		LambdaQ:               2.0,
		CGTolerance:           1e-6,
		CGMaxIter:             200,
		CompositeKCDefault:    4,
		RepresentativePolicy:  RepresentativeCentroidOnly,
	}
}

// Load reads a YAML config file (if path is non-empty and exists) layered
// under Default(), then applies OSCILLINK_* environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Dim = getEnvInt("OSCILLINK_DIM", cfg.Dim)
	cfg.KNeighbors = getEnvInt("OSCILLINK_K_NEIGHBORS", cfg.KNeighbors)
	cfg.LambdaG = getEnvFloat("OSCILLINK_LAMBDA_G", cfg.LambdaG)
	cfg.LambdaC = getEnvFloat("OSCILLINK_LAMBDA_C", cfg.LambdaC)
	cfg.LambdaQ = getEnvFloat("OSCILLINK_LAMBDA_Q", cfg.LambdaQ)
	cfg.CGTolerance = getEnvFloat("OSCILLINK_CG_TOLERANCE", cfg.CGTolerance)
	cfg.CGMaxIter = getEnvInt("OSCILLINK_CG_MAX_ITER", cfg.CGMaxIter)
	cfg.ModelFingerprint = getEnv("OSCILLINK_MODEL_FINGERPRINT", cfg.ModelFingerprint)
	cfg.CompositeKCDefault = getEnvInt("OSCILLINK_COMPOSITE_KC_DEFAULT", cfg.CompositeKCDefault)
}

// Validate checks that every numeric knob is within the range the solver
// and graph builder require. Called by Load and by Store.Open.
func (c *Config) Validate() error {
	switch {
	case c.SchemaVersion <= 0:
		return fmt.Errorf("config: schema_version must be positive")
	case c.Dim <= 0:
		return fmt.Errorf("config: d must be positive")
	case c.KNeighbors <= 0:
		return fmt.Errorf("config: k_neighbors must be positive")
	case c.LambdaG <= 0 || c.LambdaC <= 0 || c.LambdaQ <= 0:
		return fmt.Errorf("config: lambda_G, lambda_C, lambda_Q must all be > 0 for the SPD system")
	case c.CGTolerance <= 0:
		return fmt.Errorf("config: cg_tolerance must be positive")
	case c.CGMaxIter <= 0:
		return fmt.Errorf("config: cg_max_iter must be positive")
	case c.ModelFingerprint == "":
		return fmt.Errorf("config: model_fingerprint is required")
	case c.CompositeKCDefault <= 0:
		return fmt.Errorf("config: composite_kc_default must be positive")
	case c.RepresentativePolicy != RepresentativeCentroidOnly:
		return fmt.Errorf("config: unsupported representative_policy %q", c.RepresentativePolicy)
	}
	return nil
}

// Hash returns config_hash: the hex-encoded SHA-256 of the canonical JSON
// encoding of c. This value is the trailing leaf of every DB Merkle tree.
func (c *Config) Hash() (string, error) {
	return canon.HashCanonical(c)
}

// ModelFingerprint derives model_sha256 as the hash of a model's name and
// revision string.
func ModelFingerprint(name, revision string) string {
	return canon.SHA256Hex([]byte(name + "@" + revision))
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
