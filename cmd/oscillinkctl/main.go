// Copyright 2025 Certen Protocol
//
// oscillinkctl is a thin administrative CLI over a database root: it
// opens a store, prints the readiness report, and exits non-zero if the
// store is not ready. Full query/ingest CLI surface is out of scope; this
// is a flag-based check-the-store entry point, not a transport.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/Maverick0351a/oscillinklattticedb/pkg/config"
	"github.com/Maverick0351a/oscillinklattticedb/pkg/store"
)

func main() {
	root := flag.String("root", "", "database root directory")
	configPath := flag.String("config", "", "path to config.yaml (optional; defaults layered under it)")
	flag.Parse()

	if *root == "" {
		fmt.Fprintln(os.Stderr, "oscillinkctl: -root is required")
		os.Exit(2)
	}

	if err := run(*root, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "oscillinkctl: %v\n", err)
		os.Exit(1)
	}
}

func run(root, configPath string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := store.Open(cfg, root, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	report, err := db.Readiness(context.Background())
	if err != nil {
		return fmt.Errorf("running readiness checks: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encoding readiness report: %w", err)
	}

	if !report.Ready {
		os.Exit(1)
	}
	return nil
}
