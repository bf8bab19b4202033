// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Czechia", "CZ"},
		{"Czech Republic", "CZ"},
		{"CZ", "CZ"},
		{"United States of America", "US"},
		{"Russian Federation", "RU"},
		{"Russia", "RU"},
		{"Emirates", "AE"},
		{"Brasil", "BR"},
		{" Singapore ", "SG"},
		{"", ""},
		{"   ", ""},
		// Unknown values pass through trimmed for observability.
		{"Atlantis", "Atlantis"},
		{"  Mars  ", "Mars"},
		// Lookup is case-sensitive by design; lowercase is not a synonym.
		{"czechia", "czechia"},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestHTTPProber_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success","country":"Czechia","countryCode":"CZ","query":"1.2.3.4"}`))
	}))
	defer srv.Close()

	obs, err := NewHTTPProberWithURL(srv.URL).Lookup(context.Background())
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if obs.IP != "1.2.3.4" || obs.Country != "CZ" {
		t.Errorf("unexpected observation: %+v", obs)
	}
}

func TestHTTPProber_ServiceFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"fail","country":"","countryCode":"","query":""}`))
	}))
	defer srv.Close()

	_, err := NewHTTPProberWithURL(srv.URL).Lookup(context.Background())
	if err == nil {
		t.Fatal("expected error for non-success service status")
	}
}

func TestHTTPProber_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPProberWithURL(srv.URL).Lookup(context.Background())
	if err == nil {
		t.Fatal("expected error for HTTP 503")
	}
}

func TestHTTPProber_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewHTTPProberWithURL(srv.URL).Lookup(context.Background())
	if err == nil {
		t.Fatal("expected error for malformed body")
	}
}
