// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package runner drives the study: for each geography it rotates the
// VPN egress, then queries every model with every prompt and appends
// one result row per query.
//
// The loop is strictly sequential. The VPN tunnel is the process's only
// outbound path, so queries for one geography must finish before the
// next rotation, and a rotation that cannot be verified aborts the run
// rather than recording rows under an ambiguous egress.
package runner

import (
	"context"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/nejeja/LLM-Geolocation-Variability/internal/config"
	"github.com/nejeja/LLM-Geolocation-Variability/internal/dataset"
	"github.com/nejeja/LLM-Geolocation-Variability/internal/llm"
	"github.com/nejeja/LLM-Geolocation-Variability/internal/util"
	"github.com/nejeja/LLM-Geolocation-Variability/internal/vpn"
)

// postRotateSettle is the pause between a verified rotation and the
// first vendor query, giving DNS and keepalive state time to follow the
// tunnel.
const postRotateSettle = time.Second

// Console truncation limits for the per-query progress lines.
const (
	promptLogLimit   = 120
	responseLogLimit = 300
)

// rotator switches egress and verifies the change.
type rotator interface {
	Rotate(ctx context.Context, nodeID string) (vpn.VerificationResult, error)
}

// invoker queries one vendor model.
type invoker interface {
	Invoke(ctx context.Context, vendor, model, prompt string, maxTokens int) llm.QueryResult
}

// archiver mirrors rows into the optional SQLite archive.
type archiver interface {
	Insert(r *dataset.Result) error
}

// Runner executes the study loop.
type Runner struct {
	cfg     *config.Config
	rotator rotator
	invoker invoker
	archive archiver

	limiter *rate.Limiter
	now     func() time.Time
	sleep   func(time.Duration)
}

// New creates a runner for the given configuration and collaborators.
func New(cfg *config.Config, rot rotator, inv invoker) *Runner {
	return &Runner{
		cfg:     cfg,
		rotator: rot,
		invoker: inv,
		limiter: rate.NewLimiter(rate.Every(cfg.RateDelay()), 1),
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// WithArchive mirrors every row into the archive. Archive failures are
// logged, not fatal.
func (r *Runner) WithArchive(a archiver) *Runner {
	r.archive = a
	return r
}

// WithClock replaces the timestamp source (tests).
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// WithSleep replaces the sleep function (tests).
func (r *Runner) WithSleep(sleep func(time.Duration)) *Runner {
	r.sleep = sleep
	return r
}

// Run executes the full study: every geography, every model, every
// prompt. It returns on the first rotation failure or write failure;
// vendor failures never stop the run, they surface as stub rows.
func (r *Runner) Run(ctx context.Context) error {
	prompts, err := dataset.LoadPrompts(r.cfg.PromptsFile)
	if err != nil {
		return err
	}
	if len(prompts) == 0 {
		return fmt.Errorf("no prompts in %s", r.cfg.PromptsFile)
	}

	langTag := "EN"
	if r.cfg.PromptLang == "prompt_cs" {
		langTag = "CS"
	}

	for _, geo := range r.cfg.Endpoints {
		egress, err := r.rotator.Rotate(ctx, geo.NodeID)
		if err != nil {
			return fmt.Errorf("rotation to %s failed: %w", geo.NodeID, err)
		}
		r.sleep(postRotateSettle)

		for _, model := range r.cfg.Models {
			for _, prompt := range prompts {
				if err := r.limiter.Wait(ctx); err != nil {
					return err
				}

				text := prompt.Text(r.cfg.PromptLang)
				now := r.now().UTC().Truncate(time.Second).Format(time.RFC3339)

				log.Printf("%s | %s | %s:%s | %s",
					now, geo.Code, model.Vendor, model.Name, prompt.ID)
				log.Printf("→ Prompt: %s", util.TruncateRunes(text, promptLogLimit))

				qr := r.invoker.Invoke(ctx, model.Vendor, model.Name, text, r.cfg.MaxTokens)

				log.Printf("← Response: %s", util.TruncateRunes(qr.Text, responseLogLimit))

				row := &dataset.Result{
					Timestamp:     now,
					ModelVendor:   model.Vendor,
					ModelName:     model.Name,
					ModelVersion:  model.Version,
					GeoCountry:    geo.Country,
					GeoCode:       geo.Code,
					VPNNodeID:     geo.NodeID,
					VPNIP:         egress.IP,
					VPNCountry:    egress.Country,
					VPNVia:        egress.Switch.Via,
					PromptID:      prompt.ID,
					PromptLang:    langTag,
					ResponseText:  qr.Text,
					RefusalFlag:   qr.RefusalFlag,
					RefusalReason: qr.RefusalReason,
					TokensIn:      qr.TokensIn,
					TokensOut:     qr.TokensOut,
					LengthChars:   utf8.RuneCountInString(qr.Text),
					LengthWords:   util.WordCount(qr.Text),
					SafetyFlags:   qr.SafetyFlags,
				}

				if err := dataset.AppendResult(r.cfg.ResultsFile, row); err != nil {
					return err
				}
				if r.archive != nil {
					if err := r.archive.Insert(row); err != nil {
						log.Printf("runner: archive insert failed: %v", err)
					}
				}
			}
		}
	}
	return nil
}
