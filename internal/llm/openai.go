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

	"github.com/nejeja/LLM-Geolocation-Variability/internal/util"
)

const (
	// DefaultOpenAIURL is the base URL for the OpenAI API.
	DefaultOpenAIURL = "https://api.openai.com/v1"

	// newGenerationPrefix marks model names whose empty answers trigger
	// the fallback model. New-generation models route short factual
	// prompts through reasoning and sometimes emit no visible text.
	newGenerationPrefix = "gpt-5"
)

// OpenAIClient calls the OpenAI Responses API.
type OpenAIClient struct {
	apiKey        string
	baseURL       string
	fallbackModel string
	httpClient    *http.Client
	maxAttempts   int
	sleep         func(time.Duration)
}

// NewOpenAIClient creates a client with the given API key and fallback
// model name. An empty key still yields a working client whose requests
// fail with an auth error and degrade to stubs.
func NewOpenAIClient(apiKey, fallbackModel string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:        strings.TrimSpace(apiKey),
		baseURL:       DefaultOpenAIURL,
		fallbackModel: fallbackModel,
		httpClient:    newHTTPClient(DefaultTimeout),
		maxAttempts:   DefaultMaxAttempts,
		sleep:         time.Sleep,
	}
}

// WithBaseURL sets a custom base URL for the API.
func (c *OpenAIClient) WithBaseURL(url string) *OpenAIClient {
	c.baseURL = strings.TrimSuffix(url, "/")
	return c
}

// WithSleep replaces the backoff sleep function (tests).
func (c *OpenAIClient) WithSleep(sleep func(time.Duration)) *OpenAIClient {
	c.sleep = sleep
	return c
}

// responsesRequest is the body of a Responses API request.
type responsesRequest struct {
	Model           string           `json:"model"`
	Input           []responsesInput `json:"input"`
	MaxOutputTokens int              `json:"max_output_tokens"`
}

type responsesInput struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// createResponse performs a single Responses API call and extracts the
// answer text.
func (c *OpenAIClient) createResponse(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	reqBody := responsesRequest{
		Model: model,
		Input: []responsesInput{{
			Role:    "user",
			Content: []ContentPart{{Type: "input_text", Text: prompt}},
		}},
		MaxOutputTokens: maxTokens,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(bodyBytes))
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
		return "", &APIError{Vendor: "openai", Status: resp.StatusCode, Message: string(body)}
	}

	var parsed Response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	return ExtractText(&parsed), nil
}

// Query asks the primary model for an answer, cascading to the fallback
// model when a new-generation primary comes back empty or the primary
// fails outright. Every failure mode ends in a stub text; Query itself
// cannot fail.
func (c *OpenAIClient) Query(ctx context.Context, model, prompt string, maxTokens int) QueryResult {
	call := func(m string) func() (string, error) {
		return func() (string, error) {
			return c.createResponse(ctx, m, prompt, maxTokens)
		}
	}

	text, err := withRetry(c.sleep, c.maxAttempts, retryBackoffStep, call(model))
	if err == nil && text == "" && strings.HasPrefix(model, newGenerationPrefix) {
		text, err = withRetry(c.sleep, c.maxAttempts, retryBackoffStep, call(c.fallbackModel))
		if err == nil && text == "" {
			text = fmt.Sprintf("[STUB:openai/%s] (no text; fallback=%s empty)", model, c.fallbackModel)
		}
	}
	if err != nil {
		// Second-chance path: a failed primary still gets one fallback
		// cascade before the stub.
		primaryErr := err
		text, err = withRetry(c.sleep, c.maxAttempts, retryBackoffStep, call(c.fallbackModel))
		switch {
		case err != nil:
			text = errorStub("openai", model, prompt, err)
		case text == "":
			text = fmt.Sprintf("[STUB:openai/%s] %s [error primary:%v]",
				model, truncatedPrompt(prompt), primaryErr)
		}
	}

	return buildResult(prompt, text)
}

func truncatedPrompt(prompt string) string {
	return util.TruncateRunesNoEllipsis(prompt, stubPromptLimit)
}
