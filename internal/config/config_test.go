// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if len(cfg.Endpoints) != 6 {
		t.Errorf("expected 6 endpoints, got %d", len(cfg.Endpoints))
	}
	for _, ep := range cfg.Endpoints {
		if _, ok := cfg.Policies[ep.NodeID]; !ok {
			t.Errorf("endpoint %s has no policy", ep.NodeID)
		}
	}
}

func TestNodePolicy_Strict(t *testing.T) {
	cfg := Default()
	if !cfg.Policies["vpn-ru-1"].Strict() {
		t.Error("vpn-ru-1 must be strict")
	}
	if cfg.Policies["vpn-ru-1"].ExpectedCode != "RU" {
		t.Errorf("vpn-ru-1 expected code = %q", cfg.Policies["vpn-ru-1"].ExpectedCode)
	}
	if cfg.Policies["vpn-eu-1"].Strict() {
		t.Error("vpn-eu-1 must be non-strict")
	}
}

func TestValidate_StrictWithoutCode(t *testing.T) {
	cfg := Default()
	cfg.Policies["vpn-ru-1"] = NodePolicy{Provider: "proton"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("strict provider without expected_code must fail validation")
	}
}

func TestValidate_EndpointWithoutPolicy(t *testing.T) {
	cfg := Default()
	cfg.Endpoints = append(cfg.Endpoints, GeoEndpoint{Country: "Iceland", Code: "IS", NodeID: "vpn-is-1"})
	if err := cfg.Validate(); err == nil {
		t.Fatal("endpoint without policy must fail validation")
	}
}

func TestValidate_PromptLang(t *testing.T) {
	cfg := Default()
	cfg.PromptLang = "prompt_de"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown prompt language must fail validation")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PROMPT_LANG", "prompt_cs")
	t.Setenv("RATE_DELAY_S", "0.25")
	t.Setenv("VERIFY_TRIES", "4")
	t.Setenv("VERIFY_INTERVAL_S", "0.1")
	t.Setenv("OPENAI_MODEL", "gpt-5-mini")
	t.Setenv("DEEPSEEK_API_KEY", "sk-test")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.PromptLang != "prompt_cs" {
		t.Errorf("PromptLang = %q", cfg.PromptLang)
	}
	if cfg.RateDelay() != 250*time.Millisecond {
		t.Errorf("RateDelay = %v", cfg.RateDelay())
	}
	if cfg.VPN.VerifyTries != 4 {
		t.Errorf("VerifyTries = %d", cfg.VPN.VerifyTries)
	}
	if cfg.VPN.VerifyInterval() != 100*time.Millisecond {
		t.Errorf("VerifyInterval = %v", cfg.VPN.VerifyInterval())
	}
	found := false
	for _, m := range cfg.Models {
		if m.Vendor == "openai" && m.Name == "gpt-5-mini" {
			found = true
		}
	}
	if !found {
		t.Error("OPENAI_MODEL override not applied")
	}
	if cfg.Vendors.DeepSeekKey != "sk-test" {
		t.Error("DEEPSEEK_API_KEY override not applied")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "llmgeo.toml")

	cfg := Default()
	cfg.PromptLang = "prompt_cs"
	cfg.VPN.VerifyTries = 7
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Keep env from leaking into the loaded copy.
	os.Unsetenv("PROMPT_LANG")
	os.Unsetenv("VERIFY_TRIES")

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.PromptLang != "prompt_cs" {
		t.Errorf("PromptLang = %q", loaded.PromptLang)
	}
	if loaded.VPN.VerifyTries != 7 {
		t.Errorf("VerifyTries = %d", loaded.VPN.VerifyTries)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxTokens != 600 {
		t.Errorf("MaxTokens = %d", cfg.MaxTokens)
	}
}
