// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package runner

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nejeja/LLM-Geolocation-Variability/internal/config"
	"github.com/nejeja/LLM-Geolocation-Variability/internal/dataset"
	"github.com/nejeja/LLM-Geolocation-Variability/internal/llm"
	"github.com/nejeja/LLM-Geolocation-Variability/internal/vpn"
)

type fakeRotator struct {
	rotated []string
	failOn  string
}

func (f *fakeRotator) Rotate(ctx context.Context, nodeID string) (vpn.VerificationResult, error) {
	f.rotated = append(f.rotated, nodeID)
	if nodeID == f.failOn {
		return vpn.VerificationResult{}, &vpn.VerificationError{NodeID: nodeID}
	}
	return vpn.VerificationResult{
		IP:      "10.0.0." + nodeID[len(nodeID)-1:],
		Country: "XX",
		Switch:  vpn.SwitchOutcome{Via: "relay-" + nodeID},
	}, nil
}

type fakeInvoker struct {
	calls int
}

func (f *fakeInvoker) Invoke(ctx context.Context, vendor, model, prompt string, maxTokens int) llm.QueryResult {
	f.calls++
	return llm.QueryResult{
		Text:      fmt.Sprintf("answer from %s/%s", vendor, model),
		TokensIn:  2,
		TokensOut: 4,
	}
}

type recordingArchive struct {
	rows []dataset.Result
}

func (a *recordingArchive) Insert(r *dataset.Result) error {
	a.rows = append(a.rows, *r)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	promptsPath := filepath.Join(dir, "prompts.csv")
	content := "prompt_id,prompt_en,prompt_cs\n" +
		"p1,first question,první otázka\n" +
		"p2,second question,druhá otázka\n"
	if err := os.WriteFile(promptsPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write prompts: %v", err)
	}

	cfg := config.Default()
	cfg.PromptsFile = promptsPath
	cfg.ResultsFile = filepath.Join(dir, "results.csv")
	cfg.RateDelaySecs = 0
	cfg.Endpoints = []config.GeoEndpoint{
		{Country: "Czechia", Code: "CZ", NodeID: "vpn-eu-1"},
		{Country: "Brazil", Code: "BR", NodeID: "vpn-br-1"},
	}
	cfg.Policies = map[string]config.NodePolicy{
		"vpn-eu-1": {Provider: "shark"},
		"vpn-br-1": {Provider: "shark"},
	}
	cfg.Models = []config.ModelSpec{
		{Vendor: "openai", Name: "gpt-5", Version: "latest"},
		{Vendor: "deepseek", Name: "deepseek-chat", Version: "latest"},
	}
	return cfg
}

func readResults(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open results: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read results: %v", err)
	}
	return records
}

func TestRun_FullSweep(t *testing.T) {
	cfg := testConfig(t)
	rot := &fakeRotator{}
	inv := &fakeInvoker{}
	arch := &recordingArchive{}

	r := New(cfg, rot, inv).
		WithArchive(arch).
		WithSleep(func(time.Duration) {}).
		WithClock(func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) })

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rot.rotated) != 2 || rot.rotated[0] != "vpn-eu-1" || rot.rotated[1] != "vpn-br-1" {
		t.Errorf("rotations = %v", rot.rotated)
	}
	// 2 geographies x 2 models x 2 prompts.
	if inv.calls != 8 {
		t.Errorf("invocations = %d, want 8", inv.calls)
	}
	if len(arch.rows) != 8 {
		t.Errorf("archived rows = %d, want 8", len(arch.rows))
	}

	records := readResults(t, cfg.ResultsFile)
	if len(records) != 9 { // header + 8 rows
		t.Fatalf("records = %d", len(records))
	}
	first := records[1]
	if first[0] != "2025-06-01T10:00:00Z" {
		t.Errorf("ts_iso = %q", first[0])
	}
	if first[4] != "Czechia" || first[5] != "CZ" || first[6] != "vpn-eu-1" {
		t.Errorf("geo columns = %v", first[4:7])
	}
	if first[7] != "10.0.0.1" || first[8] != "XX" || first[9] != "relay-vpn-eu-1" {
		t.Errorf("vpn columns = %v", first[7:10])
	}
	if first[11] != "EN" {
		t.Errorf("prompt_lang = %q", first[11])
	}
	if first[12] != "answer from openai/gpt-5" {
		t.Errorf("response_text = %q", first[12])
	}
}

func TestRun_CzechPromptLanguage(t *testing.T) {
	cfg := testConfig(t)
	cfg.PromptLang = "prompt_cs"
	cfg.Endpoints = cfg.Endpoints[:1]
	cfg.Models = cfg.Models[:1]

	var prompts []string
	inv := &capturingInvoker{prompts: &prompts}
	r := New(cfg, &fakeRotator{}, inv).WithSleep(func(time.Duration) {})

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(prompts) != 2 || prompts[0] != "první otázka" {
		t.Errorf("prompts sent = %v", prompts)
	}

	records := readResults(t, cfg.ResultsFile)
	if records[1][11] != "CS" {
		t.Errorf("prompt_lang = %q", records[1][11])
	}
}

type capturingInvoker struct {
	prompts *[]string
}

func (c *capturingInvoker) Invoke(ctx context.Context, vendor, model, prompt string, maxTokens int) llm.QueryResult {
	*c.prompts = append(*c.prompts, prompt)
	return llm.QueryResult{Text: "ok"}
}

func TestRun_RotationFailureIsFatal(t *testing.T) {
	cfg := testConfig(t)
	rot := &fakeRotator{failOn: "vpn-eu-1"}
	inv := &fakeInvoker{}

	r := New(cfg, rot, inv).WithSleep(func(time.Duration) {})
	err := r.Run(context.Background())

	var verr *vpn.VerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected VerificationError, got %v", err)
	}
	if inv.calls != 0 {
		t.Errorf("no queries should run after a failed rotation, got %d", inv.calls)
	}
	if _, statErr := os.Stat(cfg.ResultsFile); !os.IsNotExist(statErr) {
		t.Error("no results file should be created")
	}
}

func TestRun_SecondRotationFailureKeepsEarlierRows(t *testing.T) {
	cfg := testConfig(t)
	rot := &fakeRotator{failOn: "vpn-br-1"}
	inv := &fakeInvoker{}

	r := New(cfg, rot, inv).WithSleep(func(time.Duration) {})
	if err := r.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	// The first geography's rows survive the abort.
	records := readResults(t, cfg.ResultsFile)
	if len(records) != 5 { // header + 2 models x 2 prompts
		t.Errorf("records = %d, want 5", len(records))
	}
}
