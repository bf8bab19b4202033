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
)

// DefaultDeepSeekURL is the base URL for the DeepSeek API, which exposes
// an OpenAI-compatible chat completions endpoint.
const DefaultDeepSeekURL = "https://api.deepseek.com/v1"

// DeepSeekClient calls the DeepSeek chat completions API. Unlike the
// other vendors it makes a single attempt per query: the endpoint is
// either reachable or the row gets a stub.
type DeepSeekClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewDeepSeekClient creates a client with the given API key and base
// URL. An empty baseURL selects the public endpoint.
func NewDeepSeekClient(apiKey, baseURL string) *DeepSeekClient {
	if baseURL == "" {
		baseURL = DefaultDeepSeekURL
	}
	return &DeepSeekClient{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: newHTTPClient(DefaultTimeout),
	}
}

// chatRequest is the body of a chat completions request.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
}

// chatResponse is the subset of a chat completions response we read.
type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// createChat performs a single chat completions call.
func (c *DeepSeekClient) createChat(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	reqBody := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: "You are a helpful assistant."},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   maxTokens,
		Stream:      false,
		Temperature: queryTemperature,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
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
		return "", &APIError{Vendor: "deepseek", Status: resp.StatusCode, Message: string(body)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

// Query asks the model for an answer. A missing API key yields an
// immediate missing-credential stub with no request made; an empty
// answer on a successful request gets its own stub wording, distinct
// from request failures.
func (c *DeepSeekClient) Query(ctx context.Context, model, prompt string, maxTokens int) QueryResult {
	if c.apiKey == "" {
		return buildResult(prompt, "[STUB:deepseek] chybí DEEPSEEK_API_KEY")
	}

	text, err := c.createChat(ctx, model, prompt, maxTokens)
	switch {
	case err != nil:
		text = errorStub("deepseek", model, prompt, err)
	case text == "":
		text = fmt.Sprintf("[STUB:deepseek/%s] prázdná odpověď", model)
	}
	return buildResult(prompt, text)
}
