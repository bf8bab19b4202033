// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across the study runner.
package util

import "strings"

// UNICODE: Rune-aware truncation preserves multi-byte characters.
// Prompts and responses are bilingual (English/Czech), so byte slicing
// would cut UTF-8 sequences mid-character.

// TruncateRunes truncates a string to a maximum number of runes.
// If the string is truncated, "..." is appended.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// TruncateRunesNoEllipsis truncates a string to a maximum number of runes
// without appending an ellipsis.
func TruncateRunesNoEllipsis(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}

// WordCount returns the number of whitespace-separated tokens in s.
// This is the approximation used for the tokens_in/tokens_out columns;
// it is not vendor-reported token usage.
func WordCount(s string) int {
	return len(strings.Fields(s))
}
