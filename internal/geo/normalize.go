// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package geo provides country normalization and the public-IP
// geolocation probe used to verify VPN egress changes.
package geo

import "strings"

// countryCodes maps country-name and ISO-code synonyms for the six study
// countries to their 2-letter codes. Geolocation services disagree on
// naming ("Russia" vs "Russian Federation"), so every comparison in the
// verification loop goes through this table first.
var countryCodes = map[string]string{
	"Czechia":                  "CZ",
	"Czech Republic":           "CZ",
	"CZ":                       "CZ",
	"United States":            "US",
	"United States of America": "US",
	"US":                       "US",
	"Russia":                   "RU",
	"Russian Federation":       "RU",
	"RU":                       "RU",
	"Singapore":                "SG",
	"SG":                       "SG",
	"United Arab Emirates":     "AE",
	"Emirates":                 "AE",
	"AE":                       "AE",
	"Brazil":                   "BR",
	"Brasil":                   "BR",
	"BR":                       "BR",
}

// Normalize canonicalizes a country string to its 2-letter code.
// Unknown values are returned trimmed but otherwise unchanged so they
// stay visible in recorded rows instead of collapsing to an error.
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if code, ok := countryCodes[trimmed]; ok {
		return code
	}
	return trimmed
}
