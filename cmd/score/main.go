// score - Perspective API toxicity backfill for study result CSVs.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/nejeja/LLM-Geolocation-Variability/internal/dataset"
	"github.com/nejeja/LLM-Geolocation-Variability/internal/toxicity"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "Usage: score input.csv output.csv")
		os.Exit(1)
	}

	apiKey := os.Getenv("PERSPECTIVE_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "ERROR: PERSPECTIVE_API_KEY is not set in the environment")
		os.Exit(2)
	}

	if err := run(os.Args[1], os.Args[2], apiKey); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(input, output, apiKey string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rows, err := dataset.ReadRows(input)
	if err != nil {
		return err
	}
	if missing := missingColumns(rows); len(missing) > 0 {
		log.Printf("[INFO] columns missing in the input: %s (cells will be left empty)",
			strings.Join(missing, ", "))
	}

	scorer := toxicity.NewScorer(apiKey)
	if qps := os.Getenv("PERSPECTIVE_QPS_DELAY"); qps != "" {
		if delay, err := strconv.ParseFloat(qps, 64); err == nil && delay > 0 {
			scorer.WithQPS(1.0 / delay)
		}
	}

	if err := scorer.BackfillRows(ctx, rows); err != nil {
		return err
	}
	return dataset.WriteRows(output, rows)
}

// missingColumns reports which result schema columns no input row
// carries. The input may legitimately be a superset of the schema;
// absent columns only mean those cells come out empty.
func missingColumns(rows []dataset.Row) []string {
	if len(rows) == 0 {
		return nil
	}
	var missing []string
	for _, col := range dataset.Header {
		if _, ok := rows[0][col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing
}
