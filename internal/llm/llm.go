// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm queries the study's LLM vendors and degrades every failure
// to a stub row instead of an error.
//
// Each vendor client wraps its HTTP API directly: OpenAI's Responses
// endpoint, Anthropic's Messages endpoint, and DeepSeek's
// OpenAI-compatible chat completions. The Invoker dispatches on vendor
// name and never returns an error: transport failures, auth failures,
// and empty answers all collapse into stub texts carrying diagnostic
// context, so the study pipeline records a row for every query it makes.
package llm

import (
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nejeja/LLM-Geolocation-Variability/internal/util"
)

// Configuration constants shared across vendor clients.
const (
	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxAttempts is the number of attempts the retry wrapper makes.
	DefaultMaxAttempts = 3

	// retryBackoffStep scales the linear backoff: the delay after attempt
	// n is n * retryBackoffStep.
	retryBackoffStep = 2 * time.Second

	// stubPromptLimit caps how much of the prompt is embedded in a stub.
	stubPromptLimit = 2000

	// MaxResponseSize is the maximum allowed response body size.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit
)

// sharedTransport pools connections across all vendor clients.
var sharedTransport = &http.Transport{
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
	TLSClientConfig: &tls.Config{
		MinVersion: tls.VersionTLS12,
	},
}

// newHTTPClient returns a pooled client with the given request timeout.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: sharedTransport,
		Timeout:   timeout,
	}
}

// APIError represents a non-2xx response from a vendor API.
type APIError struct {
	Vendor  string
	Status  int
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s error (HTTP %d): %s", e.Vendor, e.Status, e.Message)
}

// chatMessage is the role/content pair used by the chat-shaped vendor
// APIs (Anthropic messages, DeepSeek chat completions).
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// QueryResult is the outcome of one vendor query. Text is either the
// model's answer or a stub carrying the failure diagnostic; the token
// counts are whitespace-token approximations, not vendor-reported usage.
type QueryResult struct {
	Text          string
	TokensIn      int
	TokensOut     int
	RefusalFlag   bool
	RefusalReason string
	SafetyFlags   string
}

// buildResult classifies the answer text and fills in the approximate
// token counts. Stub texts go through the same classification as real
// answers.
func buildResult(prompt, text string) QueryResult {
	meta := ClassifyRefusal(text)
	return QueryResult{
		Text:          text,
		TokensIn:      util.WordCount(prompt),
		TokensOut:     util.WordCount(text),
		RefusalFlag:   meta.Refusal,
		RefusalReason: meta.Reason,
		SafetyFlags:   meta.SafetyFlags,
	}
}

// errorStub formats the terminal stub for a failed vendor call: the
// vendor/model identifier, a truncated copy of the prompt, and the last
// error seen.
func errorStub(vendor, model, prompt string, err error) string {
	return fmt.Sprintf("[STUB:%s/%s] %s [error:%v]",
		vendor, model, util.TruncateRunesNoEllipsis(prompt, stubPromptLimit), err)
}

// readResponse reads the response body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}
