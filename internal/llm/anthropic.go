// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultAnthropicURL is the base URL for the Anthropic API.
	DefaultAnthropicURL = "https://api.anthropic.com/v1"

	// anthropicVersion is the API version header value.
	anthropicVersion = "2023-06-01"

	// queryTemperature keeps vendor sampling low so run-to-run variance
	// reflects geography rather than sampling noise.
	queryTemperature = 0.2
)

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxAttempts int
	sleep       func(time.Duration)
}

// NewAnthropicClient creates a client with the given API key.
func NewAnthropicClient(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		apiKey:      strings.TrimSpace(apiKey),
		baseURL:     DefaultAnthropicURL,
		httpClient:  newHTTPClient(DefaultTimeout),
		maxAttempts: DefaultMaxAttempts,
		sleep:       time.Sleep,
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *AnthropicClient) WithBaseURL(url string) *AnthropicClient {
	c.baseURL = strings.TrimSuffix(url, "/")
	return c
}

// WithSleep replaces the backoff sleep function (tests).
func (c *AnthropicClient) WithSleep(sleep func(time.Duration)) *AnthropicClient {
	c.sleep = sleep
	return c
}

// messagesRequest is the body of a Messages API request.
type messagesRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

// messagesResponse is the subset of a Messages API response we read.
type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// createMessage performs a single Messages API call and joins the text
// blocks of the answer.
func (c *AnthropicClient) createMessage(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	reqBody := messagesRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: queryTemperature,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Vendor: "anthropic", Status: resp.StatusCode, Message: string(body)}
	}

	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	var parts []string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}

// Query asks the model for an answer through the retry wrapper. No
// fallback model; exhausted retries end in a stub text.
func (c *AnthropicClient) Query(ctx context.Context, model, prompt string, maxTokens int) QueryResult {
	text, err := withRetry(c.sleep, c.maxAttempts, retryBackoffStep, func() (string, error) {
		return c.createMessage(ctx, model, prompt, maxTokens)
	})
	if err != nil {
		text = errorStub("anthropic", model, prompt, err)
	}
	return buildResult(prompt, text)
}
