// llmgeo - geolocation-driven LLM variability study runner.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nejeja/LLM-Geolocation-Variability/internal/config"
	"github.com/nejeja/LLM-Geolocation-Variability/internal/geo"
	"github.com/nejeja/LLM-Geolocation-Variability/internal/llm"
	"github.com/nejeja/LLM-Geolocation-Variability/internal/runner"
	"github.com/nejeja/LLM-Geolocation-Variability/internal/storage"
	"github.com/nejeja/LLM-Geolocation-Variability/internal/vpn"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	cmd := "run"
	args := os.Args[1:]
	// A leading flag means the implicit run command.
	if len(args) > 0 && args[0][0] != '-' {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "run":
		if err := runStudy(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "version":
		fmt.Printf("llmgeo %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`llmgeo - geolocation-driven LLM variability study runner

Usage:
  llmgeo [run] [-config path]   execute the full study sweep
  llmgeo version                print version information
  llmgeo help                   show this help

The study rotates VPN egress through each configured geography and
queries every configured model with every prompt, appending one CSV
row per query. Toxicity scores are backfilled separately by the
score tool.
`)
}

func runStudy(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "path to the TOML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prober := geo.NewHTTPProber()
	rot := vpn.NewRotator(cfg.VPN, cfg.Policies, prober)
	inv := llm.NewInvoker(cfg.Vendors)

	run := runner.New(cfg, rot, inv)
	if cfg.Storage.Enabled {
		startedAt := time.Now().UTC().Truncate(time.Second).Format(time.RFC3339)
		archive, err := storage.Open(cfg.Storage.Path, startedAt)
		if err != nil {
			return err
		}
		defer archive.Close()
		log.Printf("archiving run %s to %s", archive.RunID(), cfg.Storage.Path)
		run = run.WithArchive(archive)
	}

	return run.Run(ctx)
}
