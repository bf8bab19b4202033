// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"fmt"

	"github.com/nejeja/LLM-Geolocation-Variability/internal/config"
	"github.com/nejeja/LLM-Geolocation-Variability/internal/util"
)

// vendorClient is the common query surface of the vendor clients.
type vendorClient interface {
	Query(ctx context.Context, model, prompt string, maxTokens int) QueryResult
}

// Invoker dispatches prompts to vendor clients by vendor name. Invoke
// never returns an error: every failure mode inside a client degrades
// to a stub text, and an unknown vendor gets a not-implemented stub, so
// the study loop records a row for every query.
type Invoker struct {
	clients map[string]vendorClient
}

// NewInvoker builds the vendor clients from the configured credentials.
func NewInvoker(cfg config.VendorConfig) *Invoker {
	return &Invoker{
		clients: map[string]vendorClient{
			"openai":    NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIFallbackModel),
			"anthropic": NewAnthropicClient(cfg.AnthropicKey),
			"deepseek":  NewDeepSeekClient(cfg.DeepSeekKey, cfg.DeepSeekBaseURL),
		},
	}
}

// WithClient replaces one vendor's client (tests).
func (v *Invoker) WithClient(vendor string, client vendorClient) *Invoker {
	v.clients[vendor] = client
	return v
}

// Invoke queries the named vendor and model.
func (v *Invoker) Invoke(ctx context.Context, vendor, model, prompt string, maxTokens int) QueryResult {
	if client, ok := v.clients[vendor]; ok {
		return client.Query(ctx, model, prompt, maxTokens)
	}
	return QueryResult{
		Text:     fmt.Sprintf("[STUB:%s/%s] vendor not implemented", vendor, model),
		TokensIn: util.WordCount(prompt),
	}
}
