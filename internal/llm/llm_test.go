// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// RESPONSE EXTRACTION
// =============================================================================

func TestExtractText_DirectOutputText(t *testing.T) {
	r := &Response{OutputText: "  Prague is the capital.  "}
	if got := ExtractText(r); got != "Prague is the capital." {
		t.Errorf("ExtractText = %q", got)
	}
}

func TestExtractText_ContentParts(t *testing.T) {
	r := &Response{
		Output: []OutputItem{
			{Type: "message", Content: []ContentPart{
				{Type: "output_text", Text: "First part."},
				{Type: "output_text", Text: ""},
				{Type: "output_text", Text: "Second part."},
			}},
		},
	}
	want := "First part.\nSecond part."
	if got := ExtractText(r); got != want {
		t.Errorf("ExtractText = %q, want %q", got, want)
	}
}

func TestExtractText_ReasoningSummary(t *testing.T) {
	r := &Response{
		Output: []OutputItem{
			{Type: "reasoning", Summary: []string{"thought about", "the capital"}},
		},
	}
	if got := ExtractText(r); got != "thought about the capital" {
		t.Errorf("ExtractText = %q", got)
	}
}

func TestExtractText_PriorityOrder(t *testing.T) {
	// Direct text wins over content parts; content parts win over a
	// reasoning summary.
	r := &Response{
		OutputText: "direct",
		Output: []OutputItem{
			{Type: "message", Content: []ContentPart{{Text: "part"}}},
			{Type: "reasoning", Summary: []string{"summary"}},
		},
	}
	if got := ExtractText(r); got != "direct" {
		t.Errorf("ExtractText = %q, want direct", got)
	}

	r.OutputText = ""
	if got := ExtractText(r); got != "part" {
		t.Errorf("ExtractText = %q, want part", got)
	}
}

func TestExtractText_Empty(t *testing.T) {
	if got := ExtractText(nil); got != "" {
		t.Errorf("ExtractText(nil) = %q", got)
	}
	if got := ExtractText(&Response{}); got != "" {
		t.Errorf("ExtractText(empty) = %q", got)
	}
}

// =============================================================================
// REFUSAL CLASSIFICATION
// =============================================================================

func TestClassifyRefusal(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"english cue", "I cannot help with that request.", true},
		{"contraction cue", "I can't assist with that.", true},
		{"mixed case", "As an AI, I must decline.", true},
		{"czech cue", "Nemohu odpovědět na tuto otázku.", true},
		{"czech phrase", "Tuto informaci nelze poskytnout.", true},
		{"curly apostrophe", "I won’t provide that.", true},
		{"plain answer", "The capital of Czechia is Prague.", false},
		{"empty", "", false},
		{"cue as fragment of benign text", "The scan int policy violation count was zero last week.", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := ClassifyRefusal(tt.text)
			if meta.Refusal != tt.want {
				t.Errorf("Refusal = %v, want %v", meta.Refusal, tt.want)
			}
			if tt.want {
				if meta.Reason != "safety_policy" || meta.SafetyFlags != "heuristic_refusal" {
					t.Errorf("tagging = %q/%q", meta.Reason, meta.SafetyFlags)
				}
			} else if meta.Reason != "" || meta.SafetyFlags != "" {
				t.Errorf("tagging should be empty: %q/%q", meta.Reason, meta.SafetyFlags)
			}
		})
	}
}

// =============================================================================
// RETRY WRAPPER
// =============================================================================

func TestWithRetry_FirstAttemptSucceeds(t *testing.T) {
	var slept []time.Duration
	calls := 0
	text, err := withRetry(func(d time.Duration) { slept = append(slept, d) }, 3, 2*time.Second, func() (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil || text != "ok" {
		t.Fatalf("got %q, %v", text, err)
	}
	if calls != 1 || len(slept) != 0 {
		t.Errorf("calls = %d, sleeps = %d", calls, len(slept))
	}
}

func TestWithRetry_LinearBackoff(t *testing.T) {
	var slept []time.Duration
	calls := 0
	text, err := withRetry(func(d time.Duration) { slept = append(slept, d) }, 3, 2*time.Second, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "recovered", nil
	})
	if err != nil || text != "recovered" {
		t.Fatalf("got %q, %v", text, err)
	}
	if len(slept) != 2 || slept[0] != 2*time.Second || slept[1] != 4*time.Second {
		t.Errorf("backoff schedule = %v", slept)
	}
}

func TestWithRetry_Exhaustion(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := withRetry(func(time.Duration) {}, 3, time.Second, func() (string, error) {
		calls++
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestWithRetry_EmptyStringIsSuccess(t *testing.T) {
	calls := 0
	text, err := withRetry(func(time.Duration) {}, 3, time.Second, func() (string, error) {
		calls++
		return "", nil
	})
	if err != nil || text != "" || calls != 1 {
		t.Errorf("got %q, %v after %d calls", text, err, calls)
	}
}

// =============================================================================
// RESULT ASSEMBLY
// =============================================================================

func TestBuildResult_TokenCounts(t *testing.T) {
	res := buildResult("what is the capital", "Prague is the capital city.")
	if res.TokensIn != 4 {
		t.Errorf("TokensIn = %d, want 4", res.TokensIn)
	}
	if res.TokensOut != 5 {
		t.Errorf("TokensOut = %d, want 5", res.TokensOut)
	}
	if res.RefusalFlag {
		t.Error("plain answer flagged as refusal")
	}
}

func TestErrorStub_TruncatesPrompt(t *testing.T) {
	long := strings.Repeat("x", 3000)
	stub := errorStub("openai", "gpt-5", long, errors.New("timeout"))
	if !strings.HasPrefix(stub, "[STUB:openai/gpt-5] ") {
		t.Errorf("stub prefix: %q", stub[:40])
	}
	if !strings.HasSuffix(stub, " [error:timeout]") {
		t.Errorf("stub suffix: %q", stub[len(stub)-30:])
	}
	if strings.Contains(stub, strings.Repeat("x", 2001)) {
		t.Error("prompt not truncated to limit")
	}
}
