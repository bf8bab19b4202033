// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import "strings"

// refusalCues are lower-case substrings that mark a likely refusal, in
// English and Czech. Substring matching over this list is a heuristic
// with no negative guarantee: a model can refuse without tripping any
// cue, and can use a cue without refusing.
var refusalCues = []string{
	"i can't",
	"i cannot",
	"i won’t",
	"i will not",
	"not able to help",
	"against my policy",
	"as an ai",
	"nemohu",
	"nemůžu",
	"nelze poskytnout",
	"porušuje zásady",
	"policy violation",
}

// RefusalMeta is the outcome of refusal classification.
type RefusalMeta struct {
	Refusal     bool
	Reason      string
	SafetyFlags string
}

// ClassifyRefusal lower-cases the text and checks it against the cue
// list. Any match yields the fixed safety_policy/heuristic_refusal
// tagging; no match yields the zero value.
func ClassifyRefusal(text string) RefusalMeta {
	t := strings.ToLower(text)
	for _, cue := range refusalCues {
		if strings.Contains(t, cue) {
			return RefusalMeta{
				Refusal:     true,
				Reason:      "safety_policy",
				SafetyFlags: "heuristic_refusal",
			}
		}
	}
	return RefusalMeta{}
}
