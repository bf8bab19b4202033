// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// DefaultProbeURL is the fixed geolocation endpoint. The fields parameter
// keeps the payload small and the answer uniform across runs.
const DefaultProbeURL = "http://ip-api.com/json/?fields=status,country,countryCode,query"

// DefaultProbeTimeout bounds a single geolocation lookup. The verification
// loop polls many times, so an individual probe must fail fast.
const DefaultProbeTimeout = 1500 * time.Millisecond

// ErrProbeFailed indicates the geolocation service did not return a
// usable answer. Callers treat it as "current egress unknown".
var ErrProbeFailed = errors.New("geolocation probe failed")

// Observation is one public-IP geolocation sample.
type Observation struct {
	// IP is the observed public address.
	IP string
	// Country is the observed ISO country code as reported by the
	// service (normalize before comparing against policy).
	Country string
}

// Prober looks up the current public IP and country. Implementations must
// honor the context deadline; the rotator swallows all probe errors.
type Prober interface {
	Lookup(ctx context.Context) (Observation, error)
}

// =============================================================================
// HTTP PROBER
// =============================================================================

// probeResponse mirrors the ip-api.com JSON payload for the requested fields.
type probeResponse struct {
	Status      string `json:"status"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	Query       string `json:"query"`
}

// HTTPProber queries a public geolocation endpoint over HTTP.
type HTTPProber struct {
	url        string
	httpClient *http.Client
}

// NewHTTPProber creates a prober against the default endpoint.
func NewHTTPProber() *HTTPProber {
	return NewHTTPProberWithURL(DefaultProbeURL)
}

// NewHTTPProberWithURL creates a prober against a custom endpoint,
// used by tests and by deployments behind a mirror.
func NewHTTPProberWithURL(url string) *HTTPProber {
	if url == "" {
		url = DefaultProbeURL
	}
	return &HTTPProber{
		url: url,
		httpClient: &http.Client{
			Timeout: DefaultProbeTimeout,
		},
	}
}

// Lookup performs one geolocation request. Any transport error, non-2xx
// status, malformed body, or non-"success" service status yields
// ErrProbeFailed; the caller decides whether that is fatal (it never is
// in the verification loop).
func (p *HTTPProber) Lookup(ctx context.Context) (Observation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Observation{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	// Some geolocation services rate-limit default Go user agents harder.
	req.Header.Set("User-Agent", "curl/8")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Observation{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Observation{}, fmt.Errorf("%w: status %d", ErrProbeFailed, resp.StatusCode)
	}

	var body probeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Observation{}, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	if body.Status != "success" {
		return Observation{}, fmt.Errorf("%w: service status %q", ErrProbeFailed, body.Status)
	}

	return Observation{IP: body.Query, Country: body.CountryCode}, nil
}
