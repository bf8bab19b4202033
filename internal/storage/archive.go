// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage mirrors study result rows into a SQLite archive.
//
// The CSV file stays the primary output; the archive exists for ad-hoc
// SQL over past runs without re-parsing CSVs. Archiving is optional and
// a best-effort mirror: the study loop treats archive failures as
// warnings, never as run failures.
package storage

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/nejeja/LLM-Geolocation-Variability/internal/dataset"
)

// Schema creates the archive tables.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	started_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id         TEXT NOT NULL REFERENCES runs(run_id),
	ts_iso         TEXT NOT NULL,
	model_vendor   TEXT NOT NULL,
	model_name     TEXT NOT NULL,
	model_version  TEXT NOT NULL,
	geo_country    TEXT NOT NULL,
	geo_code       TEXT NOT NULL,
	vpn_node_id    TEXT NOT NULL,
	vpn_ip         TEXT NOT NULL,
	vpn_country    TEXT NOT NULL,
	vpn_via        TEXT NOT NULL,
	prompt_id      TEXT NOT NULL,
	prompt_lang    TEXT NOT NULL,
	response_text  TEXT NOT NULL,
	refusal_flag   INTEGER NOT NULL,
	refusal_reason TEXT NOT NULL,
	tokens_in      INTEGER NOT NULL,
	tokens_out     INTEGER NOT NULL,
	length_chars   INTEGER NOT NULL,
	length_words   INTEGER NOT NULL,
	safety_flags   TEXT NOT NULL,
	notes          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_run ON results(run_id);
CREATE INDEX IF NOT EXISTS idx_results_geo_model ON results(geo_code, model_vendor, model_name);
`

// Archive is a SQLite-backed mirror of the results CSV, keyed by run.
type Archive struct {
	db    *sql.DB
	runID string
}

// Open opens or creates the archive at path, applies the pragmas and
// schema, and registers a new run with a fresh UUID.
func Open(path, startedAt string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	// modernc.org/sqlite is happiest with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	runID := uuid.NewString()
	if _, err := db.Exec("INSERT INTO runs (run_id, started_at) VALUES (?, ?)", runID, startedAt); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to register run: %w", err)
	}

	return &Archive{db: db, runID: runID}, nil
}

// RunID returns the identifier of the run this archive session records.
func (a *Archive) RunID() string {
	return a.runID
}

// Insert mirrors one result row into the archive.
func (a *Archive) Insert(r *dataset.Result) error {
	flag := 0
	if r.RefusalFlag {
		flag = 1
	}
	_, err := a.db.Exec(`
		INSERT INTO results (
			run_id, ts_iso, model_vendor, model_name, model_version,
			geo_country, geo_code, vpn_node_id, vpn_ip, vpn_country, vpn_via,
			prompt_id, prompt_lang, response_text, refusal_flag, refusal_reason,
			tokens_in, tokens_out, length_chars, length_words, safety_flags, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.runID, r.Timestamp, r.ModelVendor, r.ModelName, r.ModelVersion,
		r.GeoCountry, r.GeoCode, r.VPNNodeID, r.VPNIP, r.VPNCountry, r.VPNVia,
		r.PromptID, r.PromptLang, r.ResponseText, flag, r.RefusalReason,
		r.TokensIn, r.TokensOut, r.LengthChars, r.LengthWords, r.SafetyFlags, r.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

// CountResults returns the number of archived rows for the current run.
func (a *Archive) CountResults() (int, error) {
	var n int
	err := a.db.QueryRow("SELECT COUNT(*) FROM results WHERE run_id = ?", a.runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return n, nil
}

// Close closes the archive database.
func (a *Archive) Close() error {
	return a.db.Close()
}
