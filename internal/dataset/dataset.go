// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dataset reads the prompt CSV and appends study result rows.
//
// The result schema is fixed: 22 columns whose order never changes, so
// downstream analysis and the toxicity backfill tool can rely on
// positional stability across runs.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Header is the result CSV schema, in column order.
var Header = []string{
	"ts_iso", "model_vendor", "model_name", "model_version", "geo_country", "geo_code",
	"vpn_node_id", "vpn_ip", "vpn_country", "vpn_via", "prompt_id", "prompt_lang",
	"response_text", "refusal_flag", "refusal_reason", "tokens_in", "tokens_out",
	"length_chars", "length_words", "toxicity_score", "safety_flags", "notes",
}

// Columns the prompt CSV must carry. Extra columns are tolerated.
var promptColumns = []string{"prompt_id", "prompt_en", "prompt_cs"}

// Prompt is one study prompt with both language variants.
type Prompt struct {
	ID string
	EN string
	CS string
}

// Text returns the variant selected by the configured language key.
func (p Prompt) Text(lang string) string {
	if lang == "prompt_cs" {
		return p.CS
	}
	return p.EN
}

// LoadPrompts reads the prompt CSV. Missing required columns are an
// error naming every absent column; extra columns are ignored.
func LoadPrompts(path string) ([]Prompt, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open prompts file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}

	var missing []string
	for _, col := range promptColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s missing columns: %s", path, strings.Join(missing, ", "))
	}

	var prompts []Prompt
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read prompt row: %w", err)
		}
		field := func(col string) string {
			i := index[col]
			if i >= len(record) {
				return ""
			}
			return record[i]
		}
		prompts = append(prompts, Prompt{
			ID: field("prompt_id"),
			EN: field("prompt_en"),
			CS: field("prompt_cs"),
		})
	}
	return prompts, nil
}

// Result is one study row, one vendor query under one verified egress.
type Result struct {
	Timestamp     string
	ModelVendor   string
	ModelName     string
	ModelVersion  string
	GeoCountry    string
	GeoCode       string
	VPNNodeID     string
	VPNIP         string
	VPNCountry    string
	VPNVia        string
	PromptID      string
	PromptLang    string
	ResponseText  string
	RefusalFlag   bool
	RefusalReason string
	TokensIn      int
	TokensOut     int
	LengthChars   int
	LengthWords   int
	// ToxicityScore stays empty at record time; the backfill tool fills
	// it in a later pass.
	ToxicityScore string
	SafetyFlags   string
	Notes         string
}

// record renders the row in Header order.
func (r *Result) record() []string {
	flag := "0"
	if r.RefusalFlag {
		flag = "1"
	}
	return []string{
		r.Timestamp, r.ModelVendor, r.ModelName, r.ModelVersion, r.GeoCountry, r.GeoCode,
		r.VPNNodeID, r.VPNIP, r.VPNCountry, r.VPNVia, r.PromptID, r.PromptLang,
		r.ResponseText, flag, r.RefusalReason,
		strconv.Itoa(r.TokensIn), strconv.Itoa(r.TokensOut),
		strconv.Itoa(r.LengthChars), strconv.Itoa(r.LengthWords),
		r.ToxicityScore, r.SafetyFlags, r.Notes,
	}
}

// AppendResult appends one row to the results CSV, writing the header
// first when the file does not exist yet.
func AppendResult(path string, r *Result) error {
	_, statErr := os.Stat(path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open results file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(Header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	if err := w.Write(r.record()); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush results file: %w", err)
	}
	return nil
}
