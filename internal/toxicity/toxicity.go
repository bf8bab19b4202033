// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package toxicity backfills toxicity scores for recorded responses via
// the Perspective API.
//
// Scoring is a second pass over an existing results file: rows that
// already carry a score keep it, empty ones are scored, and any scoring
// failure leaves the cell empty rather than aborting the pass.
package toxicity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/nejeja/LLM-Geolocation-Variability/internal/dataset"
	"github.com/nejeja/LLM-Geolocation-Variability/internal/util"
)

const (
	// DefaultAPIURL is the Perspective comment analysis endpoint.
	DefaultAPIURL = "https://commentanalyzer.googleapis.com/v1alpha1/comments:analyze"

	// DefaultTimeout bounds one scoring request.
	DefaultTimeout = 30 * time.Second

	// requestTextLimit caps the comment length per request.
	requestTextLimit = 5000

	// DefaultQPS is the request pacing the API recommends.
	DefaultQPS = 1.0
)

// analyzeRequest is the body of a comments:analyze request.
type analyzeRequest struct {
	Comment struct {
		Text string `json:"text"`
	} `json:"comment"`
	Languages           []string            `json:"languages"`
	RequestedAttributes map[string]struct{} `json:"requestedAttributes"`
	DoNotStore          bool                `json:"doNotStore"`
}

// analyzeResponse is the subset of the response we read.
type analyzeResponse struct {
	AttributeScores map[string]struct {
		SummaryScore struct {
			Value float64 `json:"value"`
		} `json:"summaryScore"`
	} `json:"attributeScores"`
}

// Scorer scores response texts against the Perspective TOXICITY
// attribute, pacing requests through a shared rate limiter.
type Scorer struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewScorer creates a scorer with the given API key.
func NewScorer(apiKey string) *Scorer {
	return &Scorer{
		apiKey:     strings.TrimSpace(apiKey),
		apiURL:     DefaultAPIURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultQPS), 1),
	}
}

// WithAPIURL sets a custom endpoint (tests).
func (s *Scorer) WithAPIURL(url string) *Scorer {
	s.apiURL = url
	return s
}

// WithQPS sets a custom request rate.
func (s *Scorer) WithQPS(qps float64) *Scorer {
	s.limiter = rate.NewLimiter(rate.Limit(qps), 1)
	return s
}

// Score returns the TOXICITY summary score for text, in [0,1]. Empty
// text and every failure mode return ok=false: a failed scoring request
// must not abort a backfill pass.
func (s *Scorer) Score(ctx context.Context, text, langHint string) (float64, bool) {
	if text == "" {
		return 0, false
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, false
	}

	langs := []string{"en"}
	if strings.HasPrefix(strings.ToUpper(langHint), "CS") {
		langs = []string{"cs"}
	}

	var reqBody analyzeRequest
	reqBody.Comment.Text = util.TruncateRunesNoEllipsis(text, requestTextLimit)
	reqBody.Languages = langs
	reqBody.RequestedAttributes = map[string]struct{}{"TOXICITY": {}}
	reqBody.DoNotStore = true

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		log.Printf("[WARN] scoring failed: %v", err)
		return 0, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"?key="+s.apiKey, bytes.NewReader(bodyBytes))
	if err != nil {
		log.Printf("[WARN] scoring failed: %v", err)
		return 0, false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Printf("[WARN] scoring failed: %v", err)
		return 0, false
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[WARN] scoring failed: %v", err)
		return 0, false
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("[WARN] scoring failed: HTTP %d: %s", resp.StatusCode, body)
		return 0, false
	}

	var parsed analyzeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		log.Printf("[WARN] scoring failed: %v", err)
		return 0, false
	}
	attr, ok := parsed.AttributeScores["TOXICITY"]
	if !ok {
		log.Printf("[WARN] scoring failed: no TOXICITY attribute in response")
		return 0, false
	}
	return attr.SummaryScore.Value, true
}

// BackfillRows scores every row whose toxicity_score cell is empty,
// keeping already-scored rows untouched. Rows are modified in place.
func (s *Scorer) BackfillRows(ctx context.Context, rows []dataset.Row) error {
	for i, row := range rows {
		if row["toxicity_score"] != "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		score, ok := s.Score(ctx, row["response_text"], row["prompt_lang"])
		if ok {
			row["toxicity_score"] = fmt.Sprintf("%.6f", score)
		}
		log.Printf("[%d] %s %s:%s %s -> tox=%s",
			i+1, orQuestion(row["geo_code"]), orQuestion(row["model_vendor"]),
			orQuestion(row["model_name"]), orQuestion(row["prompt_id"]), row["toxicity_score"])
	}
	return nil
}

func orQuestion(s string) string {
	if s == "" {
		return "?"
	}
	return s
}
