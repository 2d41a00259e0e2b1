// Package ledger maintains the hourly per-agent spend aggregates backing
// budget rules and risk baselines. Reads are point-in-time approximations:
// budget rules are advisory guards, not exact accounting.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tjfontaine/agentguard/internal/domain"
	"github.com/tjfontaine/agentguard/internal/storage"
)

// Ledger records spend and answers budget/baseline queries.
type Ledger struct {
	store  storage.SnapshotStore
	logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Ledger over the given snapshot store.
func New(store storage.SnapshotStore, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, logger: logger, now: time.Now}
}

// HourKey buckets t to its hour, e.g. "2026-09-01T14:00:00".
func HourKey(t time.Time) string {
	return t.Format("2006-01-02T15") + ":00:00"
}

// DayKey is the date part, "2026-09-01".
func DayKey(t time.Time) string { return t.Format("2006-01-02") }

// MonthKey is the month part, "2026-09".
func MonthKey(t time.Time) string { return t.Format("2006-01") }

// Record upserts the current hour's snapshot for the agent. Errors are
// logged, not returned: ledger writes must never fail a decision that has
// already been made.
func (l *Ledger) Record(ctx context.Context, agentID string, cost float64, allowed bool) {
	if agentID == "" {
		return
	}
	if err := l.store.IncrementSnapshot(ctx, agentID, HourKey(l.now()), cost, allowed); err != nil {
		l.logger.Error("ledger record failed",
			slog.String("agent_id", agentID), slog.String("error", err.Error()))
	}
}

// DailySpend is the agent's spend so far today.
func (l *Ledger) DailySpend(ctx context.Context, agentID string) (float64, error) {
	spend, err := l.store.DailySpend(ctx, agentID, DayKey(l.now()))
	if err != nil {
		return 0, fmt.Errorf("ledger: daily spend: %w", err)
	}
	return spend, nil
}

// MonthSpend is the agent's spend so far this month.
func (l *Ledger) MonthSpend(ctx context.Context, agentID string) (float64, error) {
	spend, err := l.store.MonthSpend(ctx, agentID, MonthKey(l.now()))
	if err != nil {
		return 0, fmt.Errorf("ledger: month spend: %w", err)
	}
	return spend, nil
}

// AvgCostPerCall7d is the agent's trailing 7-day average cost per allowed
// call, the baseline for spike detection. Zero when no history exists.
func (l *Ledger) AvgCostPerCall7d(ctx context.Context, agentID string) (float64, error) {
	since := HourKey(l.now().AddDate(0, 0, -7))
	avg, err := l.store.AvgCostPerAllowedCall(ctx, agentID, since)
	if err != nil {
		return 0, fmt.Errorf("ledger: 7d average: %w", err)
	}
	return avg, nil
}

// Summary is the global today/month rollup across all agents.
func (l *Ledger) Summary(ctx context.Context) (domain.BudgetSummary, error) {
	now := l.now()
	sum, err := l.store.GlobalSummary(ctx, DayKey(now), MonthKey(now))
	if err != nil {
		return sum, fmt.Errorf("ledger: summary: %w", err)
	}
	return sum, nil
}
