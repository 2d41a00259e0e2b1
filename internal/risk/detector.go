// Package risk is the fail-closed backstop behind the rule engine: it
// flags requests that look anomalous even though no configured rule
// matched. Four fixed heuristics run in order; the first match wins.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/tjfontaine/agentguard/internal/domain"
	"github.com/tjfontaine/agentguard/internal/ledger"
	"github.com/tjfontaine/agentguard/internal/storage"
)

// Fixed heuristic thresholds, matching the reference behavior. Making
// them policy would invite tuning them off; they stay constants.
const (
	// spikeMultiplier flags amounts above this multiple of the agent's
	// trailing 7-day average cost per allowed call.
	spikeMultiplier = 5
	// offHoursLimit is the absolute amount above which calls in the
	// [0,6) local-hour band are flagged.
	offHoursLimit = 10.0
	// streakLimit is the consecutive-failure count that trips the
	// fail-closed check.
	streakLimit = 5
)

// Result is the detector's answer for one request.
type Result struct {
	Risky    bool
	Reason   string
	Severity domain.Severity
}

// CheckContext carries the request facts the heuristics inspect.
type CheckContext struct {
	AgentID         string
	TargetURL       string
	TargetService   string
	Method          string
	EstimatedAmount float64
}

// Detector runs the risk heuristics.
type Detector struct {
	aliases storage.AliasStore
	ledger  *ledger.Ledger
	streaks *StreakTracker
	logger  *slog.Logger

	// now is swappable for tests of the off-hours check.
	now func() time.Time
}

// New creates a Detector. The streak tracker is shared with the pipeline,
// which owns increments and resets.
func New(aliases storage.AliasStore, l *ledger.Ledger, streaks *StreakTracker, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{aliases: aliases, ledger: l, streaks: streaks, logger: logger, now: time.Now}
}

// Detect runs the four checks in fixed order and returns on the first
// match. Storage errors degrade to "not risky" for the affected check:
// the detector must never turn an infrastructure hiccup into a block.
func (d *Detector) Detect(ctx context.Context, cc CheckContext) Result {
	if r := d.checkUnknownDestination(ctx, cc); r.Risky {
		return r
	}
	if r := d.checkAmountSpike(ctx, cc); r.Risky {
		return r
	}
	if r := d.checkOffHours(cc); r.Risky {
		return r
	}
	if r := d.checkStreak(cc); r.Risky {
		return r
	}
	return Result{}
}

func (d *Detector) checkUnknownDestination(ctx context.Context, cc CheckContext) Result {
	_, err := d.aliases.ResolveAlias(ctx, cc.TargetService)
	if err == nil {
		return Result{}
	}
	if err != storage.ErrNotFound {
		d.logger.Warn("risk: alias lookup failed", slog.String("error", err.Error()))
		return Result{}
	}

	// Not a recognized alias; risky unless the hostname appears in some
	// enabled alias's target URL.
	host := extractHost(cc.TargetURL)
	aliases, err := d.aliases.ListEnabledAliases(ctx)
	if err != nil {
		d.logger.Warn("risk: alias list failed", slog.String("error", err.Error()))
		return Result{}
	}
	for _, a := range aliases {
		if host != "" && strings.Contains(a.TargetURL, host) {
			return Result{}
		}
	}
	return Result{
		Risky:    true,
		Reason:   fmt.Sprintf("request to unknown destination %s", host),
		Severity: domain.SeverityMedium,
	}
}

func (d *Detector) checkAmountSpike(ctx context.Context, cc CheckContext) Result {
	if cc.EstimatedAmount <= 0 {
		return Result{}
	}
	avg, err := d.ledger.AvgCostPerCall7d(ctx, cc.AgentID)
	if err != nil {
		d.logger.Warn("risk: baseline query failed", slog.String("error", err.Error()))
		return Result{}
	}
	if avg > 0 && cc.EstimatedAmount > avg*spikeMultiplier {
		return Result{
			Risky:    true,
			Reason:   fmt.Sprintf("amount $%.2f exceeds %dx the 7-day average $%.2f", cc.EstimatedAmount, spikeMultiplier, avg),
			Severity: domain.SeverityHigh,
		}
	}
	return Result{}
}

func (d *Detector) checkOffHours(cc CheckContext) Result {
	hour := d.now().Hour()
	if hour >= 0 && hour < 6 && cc.EstimatedAmount > offHoursLimit {
		return Result{
			Risky:    true,
			Reason:   fmt.Sprintf("large amount $%.2f during off-hours (%02d:00)", cc.EstimatedAmount, hour),
			Severity: domain.SeverityMedium,
		}
	}
	return Result{}
}

func (d *Detector) checkStreak(cc CheckContext) Result {
	failures := d.streaks.Count(cc.AgentID)
	if failures >= streakLimit {
		return Result{
			Risky:    true,
			Reason:   fmt.Sprintf("agent blocked %d times in a row", failures),
			Severity: domain.SeverityHigh,
		}
	}
	return Result{}
}

func extractHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}
