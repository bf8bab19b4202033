// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import "strings"

// ContentPart is one fragment of an output item's content.
type ContentPart struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
}

// OutputItem is one entry in a Responses API output list. Message items
// carry content parts; reasoning items may carry only a summary.
type OutputItem struct {
	Type    string        `json:"type,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	Summary []string      `json:"summary,omitempty"`
}

// Response is the subset of a Responses API payload the extractor reads.
type Response struct {
	OutputText string       `json:"output_text,omitempty"`
	Output     []OutputItem `json:"output,omitempty"`
}

// ExtractText pulls the answer text out of a Responses payload. It tries
// three tiers in priority order: the direct output_text field, then the
// text of all content parts joined with newlines, then a reasoning
// item's summary joined with spaces. A payload with none of these yields
// the empty string; extraction itself never fails.
func ExtractText(r *Response) string {
	if r == nil {
		return ""
	}
	if r.OutputText != "" {
		return strings.TrimSpace(r.OutputText)
	}

	var parts []string
	for _, item := range r.Output {
		for _, part := range item.Content {
			if part.Text != "" {
				parts = append(parts, part.Text)
			}
		}
	}
	if len(parts) > 0 {
		return strings.TrimSpace(strings.Join(parts, "\n"))
	}

	for _, item := range r.Output {
		if item.Type == "reasoning" && len(item.Summary) > 0 {
			return strings.Join(item.Summary, " ")
		}
	}
	return ""
}
