// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import "time"

// withRetry runs fn up to attempts times with linear backoff (the delay
// after attempt n is n*step, counted from 1). It returns the first
// successful result, or the last error once the budget is spent. An
// empty string from fn is a success here: whether empty text warrants a
// fallback is the caller's policy, not the retry wrapper's.
func withRetry(sleep func(time.Duration), attempts int, step time.Duration, fn func() (string, error)) (string, error) {
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, err := fn()
		if err == nil {
			return text, nil
		}
		last = err
		sleep(time.Duration(attempt) * step)
	}
	return "", last
}
