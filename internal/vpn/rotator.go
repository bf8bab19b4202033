// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package vpn rotates network egress through named VPN nodes and
// verifies that the observed public IP/country actually changed.
//
// The switch executable is an opaque collaborator: it is invoked with the
// node id, its combined output is parsed on a best-effort basis, and the
// authoritative verification is the polling loop here. The tunnel is the
// process's single outbound path, so rotation is strictly sequential and
// must complete before any vendor call for that geography starts.
package vpn

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/nejeja/LLM-Geolocation-Variability/internal/config"
	"github.com/nejeja/LLM-Geolocation-Variability/internal/geo"
)

// Environment overrides passed to the switch process for the slow node.
// They tell the process to skip its own verification (this rotator does
// it instead) and to extend its settle wait.
const (
	envSkipVerify = "RU_SKIP_VERIFY"
	envWaitSecs   = "RU_WAIT_S"
)

// =============================================================================
// SWITCH OUTPUT GRAMMAR
// =============================================================================

// vpnLinePattern matches the structured status line the switch script
// emits: [VPN] <node> -> <ip> (<country>) via <route>
var vpnLinePattern = regexp.MustCompile(
	`\[VPN\]\s*(?P<node>\S+)\s*->\s*(?P<ip>[0-9a-fA-F\.:]+)\s*\((?P<country>[^)]*)\)\s*via\s*(?P<via>[^\n]+)`,
)

// ipCountryPattern is the looser fallback: <ip>|<country>
var ipCountryPattern = regexp.MustCompile(`(?P<ip>[0-9a-fA-F\.:]+)\|(?P<country>\S+)`)

// SwitchOutcome is the parsed result of one switch invocation. All parsed
// fields may be empty: the output grammar is best-effort and a miss is
// not an error, the polling loop supplies its own values.
type SwitchOutcome struct {
	// RawOutput is the combined stdout+stderr of the switch process.
	RawOutput string
	// IP, Country, Via are filled when one of the output patterns matched.
	IP      string
	Country string
	Via     string
}

// parseSwitchOutput extracts IP/country/route from switch output, trying
// the structured line first and the ip|country fallback second.
func parseSwitchOutput(out string) SwitchOutcome {
	outcome := SwitchOutcome{RawOutput: strings.TrimSpace(out)}

	if m := vpnLinePattern.FindStringSubmatch(outcome.RawOutput); m != nil {
		outcome.IP = m[vpnLinePattern.SubexpIndex("ip")]
		outcome.Country = m[vpnLinePattern.SubexpIndex("country")]
		outcome.Via = strings.TrimSpace(m[vpnLinePattern.SubexpIndex("via")])
		return outcome
	}
	if m := ipCountryPattern.FindStringSubmatch(outcome.RawOutput); m != nil {
		outcome.IP = m[ipCountryPattern.SubexpIndex("ip")]
		outcome.Country = m[ipCountryPattern.SubexpIndex("country")]
	}
	return outcome
}

// =============================================================================
// VERIFICATION ERROR
// =============================================================================

// VerificationError reports that rotation onto a node could not be
// verified within the attempt budget. It is fatal: the caller aborts the
// run rather than recording rows under an ambiguous geography.
type VerificationError struct {
	NodeID       string
	BaselineIP   string
	LastIP       string
	LastCountry  string
	ExpectedCode string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf(
		"VPN switch check failed for %s: prev_ip=%s, cur_ip=%s, country=%s, expected=%s",
		e.NodeID, orUnknown(e.BaselineIP), orUnknown(e.LastIP),
		orUnknown(e.LastCountry), orUnknown(e.ExpectedCode),
	)
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

// =============================================================================
// ROTATOR
// =============================================================================

// VerificationResult is the verified egress after a successful rotation.
type VerificationResult struct {
	// IP is the public address observed once the convergence predicate held.
	IP string
	// Country is the normalized country code observed alongside IP.
	Country string
	// Switch is the parsed outcome of the switch invocation, kept for
	// the recorded rows (route descriptor, raw output).
	Switch SwitchOutcome
}

// switchFunc runs the switch process for a node and returns its combined
// output. Injected in tests.
type switchFunc func(ctx context.Context, nodeID string) string

// Rotator switches egress to named VPN nodes and verifies the change.
type Rotator struct {
	cfg      config.VPNConfig
	policies map[string]config.NodePolicy
	prober   geo.Prober

	// sleep and runSwitch are injectable so tests can drive the polling
	// state machine without wall-clock delays or a real switch binary.
	sleep     func(time.Duration)
	runSwitch switchFunc
}

// NewRotator creates a rotator for the given VPN settings and node
// policy table.
func NewRotator(cfg config.VPNConfig, policies map[string]config.NodePolicy, prober geo.Prober) *Rotator {
	r := &Rotator{
		cfg:      cfg,
		policies: policies,
		prober:   prober,
		sleep:    time.Sleep,
	}
	r.runSwitch = r.execSwitch
	return r
}

// WithSleep replaces the sleep function (tests).
func (r *Rotator) WithSleep(sleep func(time.Duration)) *Rotator {
	r.sleep = sleep
	return r
}

// WithSwitchFunc replaces the switch process invocation (tests).
func (r *Rotator) WithSwitchFunc(fn func(ctx context.Context, nodeID string) string) *Rotator {
	r.runSwitch = fn
	return r
}

// execSwitch invokes the external switch executable with the node id as
// its sole positional argument. The combined output is returned whatever
// the exit status: a non-zero exit may still carry a usable status line,
// and the polling loop is the real arbiter of success.
func (r *Rotator) execSwitch(ctx context.Context, nodeID string) string {
	cmd := exec.CommandContext(ctx, r.cfg.SwitchCommand, nodeID)
	cmd.Env = os.Environ()

	if nodeID == r.cfg.SlowNode {
		if os.Getenv(envSkipVerify) == "" {
			cmd.Env = append(cmd.Env, envSkipVerify+"="+r.cfg.SlowNodeSkipVerify)
		}
		if os.Getenv(envWaitSecs) == "" {
			cmd.Env = append(cmd.Env, envWaitSecs+"="+r.cfg.SlowNodeWaitSecs)
		}
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		log.Printf("vpn: switch process for %s exited with error: %v", nodeID, err)
	}
	return string(out)
}

// converged evaluates the convergence predicate for one polling attempt.
// An IP must have been observed; beyond that, a strict node requires the
// normalized observed country to equal its expected code (an IP can
// change into the wrong country, so churn alone proves nothing), while a
// non-strict node only needs evidence of change: an unknown baseline or
// an IP that differs from it.
func (r *Rotator) converged(nodeID, baselineIP, observedIP, observedCountry string) bool {
	if observedIP == "" {
		return false
	}
	policy, ok := r.policies[nodeID]
	if ok && policy.Strict() {
		return geo.Normalize(observedCountry) == geo.Normalize(policy.ExpectedCode)
	}
	return baselineIP == "" || observedIP != baselineIP
}

// Rotate switches egress to nodeID and polls until the convergence
// predicate holds. Returns a VerificationError when the attempt budget
// is exhausted; that error is fatal to the run.
func (r *Rotator) Rotate(ctx context.Context, nodeID string) (VerificationResult, error) {
	// Let the previous tunnel settle before sampling the baseline.
	r.sleep(r.cfg.SettleDelay())

	// Best-effort baseline; an unreachable probe means "unknown", which
	// lets a non-strict node accept the first observed IP. Strict nodes
	// still have to land in the expected country.
	baselineIP := ""
	if obs, err := r.prober.Lookup(ctx); err == nil {
		baselineIP = obs.IP
	}

	outcome := parseSwitchOutput(r.runSwitch(ctx, nodeID))
	if outcome.RawOutput != "" {
		log.Println(outcome.RawOutput)
	}
	log.Printf("[VPN] %s -> %s (%s) via %s",
		nodeID, orUnknown(outcome.IP), orUnknown(outcome.Country), orUnknown(outcome.Via))

	expected := r.policies[nodeID].ExpectedCode

	var lastIP, lastCountry string
	for attempt := 0; attempt < r.cfg.VerifyTries; attempt++ {
		lastIP, lastCountry = "", ""
		if obs, err := r.prober.Lookup(ctx); err == nil {
			lastIP = obs.IP
			lastCountry = geo.Normalize(obs.Country)
		}

		if r.converged(nodeID, baselineIP, lastIP, lastCountry) {
			result := VerificationResult{
				IP:      lastIP,
				Country: lastCountry,
				Switch:  outcome,
			}
			return result, nil
		}

		r.sleep(r.cfg.VerifyInterval())
	}

	return VerificationResult{}, &VerificationError{
		NodeID:       nodeID,
		BaselineIP:   baselineIP,
		LastIP:       lastIP,
		LastCountry:  lastCountry,
		ExpectedCode: expected,
	}
}
