// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for the study runner.
//
// Configuration comes from a TOML file with built-in defaults matching
// the original study setup, plus environment variable overrides. The geo
// endpoint list, node policy table, and model list live here as explicit
// config values handed to the rotator and invoker, so both can be tested
// against synthetic tables.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/nejeja/LLM-Geolocation-Variability/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// GeoEndpoint is one geography in the study: a country, its 2-letter
// code, and the VPN node that provides egress there.
type GeoEndpoint struct {
	Country string `toml:"country"`
	Code    string `toml:"code"`
	NodeID  string `toml:"vpn_node_id"`
}

// NodePolicy describes how a VPN node's rotation is verified.
// Strict nodes must land in a specific country; non-strict nodes only
// need to show that the egress changed at all.
type NodePolicy struct {
	// Provider is the VPN provider class for the node ("proton" nodes
	// are verified strictly, "shark" nodes are not).
	Provider string `toml:"provider"`
	// ExpectedCode is the ISO country code a strict node must reach.
	// Empty for non-strict nodes.
	ExpectedCode string `toml:"expected_code"`
}

// Strict reports whether rotation onto this node requires the observed
// country to match ExpectedCode.
func (p NodePolicy) Strict() bool {
	return p.ExpectedCode != ""
}

// ModelSpec identifies one vendor model queried by the study.
type ModelSpec struct {
	Vendor  string `toml:"vendor"`
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// VPNConfig holds egress rotation settings.
type VPNConfig struct {
	// SwitchCommand is the external executable that activates a node.
	// Invoked with the node id as its sole positional argument.
	SwitchCommand string `toml:"switch_command"`
	// SettleDelaySecs is the wait before probing the baseline IP.
	SettleDelaySecs float64 `toml:"settle_delay_secs"`
	// VerifyTries is the polling attempt budget after a switch.
	VerifyTries int `toml:"verify_tries"`
	// VerifyIntervalSecs is the pause between polling attempts.
	VerifyIntervalSecs float64 `toml:"verify_interval_secs"`
	// SlowNode names the node whose control plane is known to be slow.
	// The switch process gets env overrides for it (skip its internal
	// verification, extend its settle wait) and this runner does the
	// verification instead.
	SlowNode string `toml:"slow_node"`
	// SlowNodeSkipVerify is the RU_SKIP_VERIFY default passed to the
	// switch process for SlowNode when the variable is unset.
	SlowNodeSkipVerify string `toml:"slow_node_skip_verify"`
	// SlowNodeWaitSecs is the RU_WAIT_S default for SlowNode.
	SlowNodeWaitSecs string `toml:"slow_node_wait_secs"`
}

// SettleDelay returns the pre-rotation settle delay as a duration.
func (v VPNConfig) SettleDelay() time.Duration {
	return time.Duration(v.SettleDelaySecs * float64(time.Second))
}

// VerifyInterval returns the polling interval as a duration.
func (v VPNConfig) VerifyInterval() time.Duration {
	return time.Duration(v.VerifyIntervalSecs * float64(time.Second))
}

// VendorConfig holds vendor credentials and model fallbacks.
// Keys are normally supplied via environment, never committed to the file.
type VendorConfig struct {
	OpenAIKey           string `toml:"openai_key"`
	OpenAIFallbackModel string `toml:"openai_fallback_model"`
	AnthropicKey        string `toml:"anthropic_key"`
	DeepSeekKey         string `toml:"deepseek_key"`
	DeepSeekBaseURL     string `toml:"deepseek_base_url"`
	PerspectiveKey      string `toml:"perspective_key"`
}

// StorageConfig controls the optional SQLite results archive.
type StorageConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Config is the complete runner configuration.
type Config struct {
	PromptsFile string `toml:"prompts_file"`
	ResultsFile string `toml:"results_file"`
	// PromptLang selects the prompt column: "prompt_en" or "prompt_cs".
	PromptLang string `toml:"prompt_lang"`
	MaxTokens  int    `toml:"max_tokens"`
	// RateDelaySecs is the fixed pause after every vendor call. It
	// exists to respect external rate limits, not for correctness.
	RateDelaySecs float64 `toml:"rate_delay_secs"`

	Endpoints []GeoEndpoint         `toml:"endpoints"`
	Policies  map[string]NodePolicy `toml:"policies"`
	Models    []ModelSpec           `toml:"models"`

	VPN     VPNConfig     `toml:"vpn"`
	Vendors VendorConfig  `toml:"vendors"`
	Storage StorageConfig `toml:"storage"`
}

// RateDelay returns the inter-request delay as a duration.
func (c *Config) RateDelay() time.Duration {
	return time.Duration(c.RateDelaySecs * float64(time.Second))
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the configuration matching the original study setup:
// six countries, one strict node (the Proton Russia exit), three vendors.
func Default() *Config {
	return &Config{
		PromptsFile:   "prompts.csv",
		ResultsFile:   "results.csv",
		PromptLang:    "prompt_en",
		MaxTokens:     600,
		RateDelaySecs: 2.0,

		Endpoints: []GeoEndpoint{
			{Country: "Czechia", Code: "EU", NodeID: "vpn-eu-1"},
			{Country: "United States", Code: "US", NodeID: "vpn-us-1"},
			{Country: "Singapore", Code: "SG", NodeID: "vpn-cn-1"},
			{Country: "United Arab Emirates", Code: "AE", NodeID: "vpn-ir-1"},
			{Country: "Brazil", Code: "BR", NodeID: "vpn-br-1"},
			{Country: "Russia", Code: "RU", NodeID: "vpn-ru-1"},
		},

		Policies: map[string]NodePolicy{
			"vpn-eu-1": {Provider: "shark"},
			"vpn-us-1": {Provider: "shark"},
			"vpn-cn-1": {Provider: "shark"},
			"vpn-ir-1": {Provider: "shark"},
			"vpn-br-1": {Provider: "shark"},
			"vpn-ru-1": {Provider: "proton", ExpectedCode: "RU"},
		},

		Models: []ModelSpec{
			{Vendor: "openai", Name: "gpt-5", Version: "latest"},
			{Vendor: "anthropic", Name: "claude-sonnet-4-20250514", Version: "20250514"},
			{Vendor: "deepseek", Name: "deepseek-chat", Version: "latest"},
		},

		VPN: VPNConfig{
			SwitchCommand:      "vpn_switch.sh",
			SettleDelaySecs:    1.0,
			VerifyTries:        10,
			VerifyIntervalSecs: 0.5,
			SlowNode:           "vpn-ru-1",
			SlowNodeSkipVerify: "1",
			SlowNodeWaitSecs:   "12",
		},

		Vendors: VendorConfig{
			OpenAIFallbackModel: "gpt-4o",
			DeepSeekBaseURL:     "https://api.deepseek.com/v1",
		},

		Storage: StorageConfig{
			Enabled: false,
			Path:    "results.db",
		},
	}
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// DefaultPath is the config file the runner reads when no path is given.
const DefaultPath = "llmgeo.toml"

// Load reads configuration from path (falling back to defaults when the
// file does not exist), applies environment overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path as TOML.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# llmgeo configuration file\n")
	buf.WriteString("# API keys belong in the environment, not here.\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//
//   - PROMPT_LANG: prompt_en or prompt_cs
//   - RATE_DELAY_S, VERIFY_TRIES, VERIFY_INTERVAL_S: run pacing
//   - OPENAI_MODEL, OPENAI_FALLBACK_MODEL, DEEPSEEK_MODEL: model names
//   - DEEPSEEK_BASE_URL: alternative OpenAI-compatible endpoint
//   - OPENAI_API_KEY, ANTHROPIC_API_KEY, DEEPSEEK_API_KEY,
//     PERSPECTIVE_API_KEY: credentials
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PROMPT_LANG"); v != "" {
		c.PromptLang = v
	}
	if v := os.Getenv("RATE_DELAY_S"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.RateDelaySecs = f
		}
	}
	if v := os.Getenv("VERIFY_TRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.VPN.VerifyTries = n
		}
	}
	if v := os.Getenv("VERIFY_INTERVAL_S"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.VPN.VerifyIntervalSecs = f
		}
	}

	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		c.setModelName("openai", v)
	}
	if v := os.Getenv("OPENAI_FALLBACK_MODEL"); v != "" {
		c.Vendors.OpenAIFallbackModel = v
	}
	if v := os.Getenv("DEEPSEEK_MODEL"); v != "" {
		c.setModelName("deepseek", v)
	}
	if v := os.Getenv("DEEPSEEK_BASE_URL"); v != "" {
		c.Vendors.DeepSeekBaseURL = v
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Vendors.OpenAIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Vendors.AnthropicKey = v
	}
	if v := os.Getenv("DEEPSEEK_API_KEY"); v != "" {
		c.Vendors.DeepSeekKey = v
	}
	if v := os.Getenv("PERSPECTIVE_API_KEY"); v != "" {
		c.Vendors.PerspectiveKey = v
	}
}

func (c *Config) setModelName(vendor, name string) {
	for i := range c.Models {
		if c.Models[i].Vendor == vendor {
			c.Models[i].Name = name
		}
	}
}

// =============================================================================
// DEFAULT FILL + VALIDATION
// =============================================================================

// SetDefaults fills zero values left by a partial config file.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.PromptsFile == "" {
		c.PromptsFile = defaults.PromptsFile
	}
	if c.ResultsFile == "" {
		c.ResultsFile = defaults.ResultsFile
	}
	if c.PromptLang == "" {
		c.PromptLang = defaults.PromptLang
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaults.MaxTokens
	}
	if c.RateDelaySecs == 0 {
		c.RateDelaySecs = defaults.RateDelaySecs
	}
	if len(c.Endpoints) == 0 {
		c.Endpoints = defaults.Endpoints
	}
	if len(c.Policies) == 0 {
		c.Policies = defaults.Policies
	}
	if len(c.Models) == 0 {
		c.Models = defaults.Models
	}

	if c.VPN.SwitchCommand == "" {
		c.VPN.SwitchCommand = defaults.VPN.SwitchCommand
	}
	if c.VPN.SettleDelaySecs == 0 {
		c.VPN.SettleDelaySecs = defaults.VPN.SettleDelaySecs
	}
	if c.VPN.VerifyTries == 0 {
		c.VPN.VerifyTries = defaults.VPN.VerifyTries
	}
	if c.VPN.VerifyIntervalSecs == 0 {
		c.VPN.VerifyIntervalSecs = defaults.VPN.VerifyIntervalSecs
	}
	if c.VPN.SlowNodeSkipVerify == "" {
		c.VPN.SlowNodeSkipVerify = defaults.VPN.SlowNodeSkipVerify
	}
	if c.VPN.SlowNodeWaitSecs == "" {
		c.VPN.SlowNodeWaitSecs = defaults.VPN.SlowNodeWaitSecs
	}

	if c.Vendors.OpenAIFallbackModel == "" {
		c.Vendors.OpenAIFallbackModel = defaults.Vendors.OpenAIFallbackModel
	}
	if c.Vendors.DeepSeekBaseURL == "" {
		c.Vendors.DeepSeekBaseURL = defaults.Vendors.DeepSeekBaseURL
	}

	if c.Storage.Path == "" {
		c.Storage.Path = defaults.Storage.Path
	}
}

// ValidationError reports one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects validation failures.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// strictProviders names the provider classes whose nodes are verified
// against an expected country code.
var strictProviders = map[string]bool{
	"proton": true,
}

// Validate checks the invariants the rotation and query layers rely on:
// every endpoint resolves to exactly one policy, strict policies carry an
// expected code, and the polling budget is usable.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.PromptLang != "prompt_en" && c.PromptLang != "prompt_cs" {
		errs = append(errs, ValidationError{
			Field:   "prompt_lang",
			Message: fmt.Sprintf("must be prompt_en or prompt_cs, got %q", c.PromptLang),
		})
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, ValidationError{
			Field:   "max_tokens",
			Message: fmt.Sprintf("must be positive, got %d", c.MaxTokens),
		})
	}
	if c.RateDelaySecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "rate_delay_secs",
			Message: "cannot be negative",
		})
	}
	if c.VPN.VerifyTries <= 0 {
		errs = append(errs, ValidationError{
			Field:   "vpn.verify_tries",
			Message: fmt.Sprintf("must be positive, got %d", c.VPN.VerifyTries),
		})
	}
	if c.VPN.VerifyIntervalSecs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "vpn.verify_interval_secs",
			Message: "must be positive",
		})
	}

	seen := make(map[string]bool, len(c.Endpoints))
	for _, ep := range c.Endpoints {
		if seen[ep.NodeID] {
			errs = append(errs, ValidationError{
				Field:   "endpoints",
				Message: fmt.Sprintf("duplicate node id %q", ep.NodeID),
			})
		}
		seen[ep.NodeID] = true

		if _, ok := c.Policies[ep.NodeID]; !ok {
			errs = append(errs, ValidationError{
				Field:   "endpoints",
				Message: fmt.Sprintf("node %q has no policy entry", ep.NodeID),
			})
		}
	}

	for nodeID, policy := range c.Policies {
		if strictProviders[policy.Provider] && policy.ExpectedCode == "" {
			errs = append(errs, ValidationError{
				Field:   "policies." + nodeID,
				Message: fmt.Sprintf("provider %q is strict and requires expected_code", policy.Provider),
			})
		}
		if !strictProviders[policy.Provider] && policy.ExpectedCode != "" {
			errs = append(errs, ValidationError{
				Field:   "policies." + nodeID,
				Message: fmt.Sprintf("provider %q is non-strict but carries expected_code %q", policy.Provider, policy.ExpectedCode),
			})
		}
	}

	validVendors := map[string]bool{"openai": true, "anthropic": true, "deepseek": true}
	for _, m := range c.Models {
		if !validVendors[m.Vendor] {
			errs = append(errs, ValidationError{
				Field:   "models",
				Message: fmt.Sprintf("unknown vendor %q", m.Vendor),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
