package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/tjfontaine/agentguard/internal/storage/sqlite"
)

func newTestLedger(t *testing.T, name string, now time.Time) *Ledger {
	t.Helper()
	store, err := sqlite.New("file:"+name+"?mode=memory&cache=shared", nil)
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if _, err := store.DB().Exec(`INSERT INTO agents (id, name) VALUES ('a1', 'worker')`); err != nil {
		t.Fatalf("insert agent fixture: %v", err)
	}
	l := New(store, nil)
	l.now = func() time.Time { return now }
	return l
}

func TestKeys(t *testing.T) {
	ts := time.Date(2026, 9, 1, 14, 37, 12, 0, time.UTC)
	if got := HourKey(ts); got != "2026-09-01T14:00:00" {
		t.Errorf("HourKey = %q", got)
	}
	if got := DayKey(ts); got != "2026-09-01" {
		t.Errorf("DayKey = %q", got)
	}
	if got := MonthKey(ts); got != "2026-09" {
		t.Errorf("MonthKey = %q", got)
	}
}

func TestRecordAndSums(t *testing.T) {
	now := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)
	l := newTestLedger(t, "ledger1", now)
	ctx := context.Background()

	l.Record(ctx, "a1", 10, true)
	l.Record(ctx, "a1", 5, true)
	l.Record(ctx, "a1", 1, false)
	l.Record(ctx, "", 99, true) // anonymous: dropped

	daily, err := l.DailySpend(ctx, "a1")
	if err != nil {
		t.Fatalf("DailySpend() error = %v", err)
	}
	if daily != 16 {
		t.Errorf("DailySpend = %v, want 16", daily)
	}

	monthly, err := l.MonthSpend(ctx, "a1")
	if err != nil {
		t.Fatalf("MonthSpend() error = %v", err)
	}
	if monthly != 16 {
		t.Errorf("MonthSpend = %v, want 16", monthly)
	}

	sum, err := l.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if sum.TodaySpend != 16 || sum.TodayCalls != 3 || sum.TodayBlocked != 1 {
		t.Errorf("Summary = %+v", sum)
	}
}

func TestAvgCostPerCall7d_WindowExcludesOldRows(t *testing.T) {
	now := time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)
	l := newTestLedger(t, "ledger2", now)
	ctx := context.Background()

	// Within the window: two allowed calls at cost 4 each.
	l.now = func() time.Time { return now.AddDate(0, 0, -2) }
	l.Record(ctx, "a1", 4, true)
	l.Record(ctx, "a1", 4, true)

	// Outside the window: a huge old row that must not skew the average.
	l.now = func() time.Time { return now.AddDate(0, 0, -30) }
	l.Record(ctx, "a1", 1000, true)

	l.now = func() time.Time { return now }
	avg, err := l.AvgCostPerCall7d(ctx, "a1")
	if err != nil {
		t.Fatalf("AvgCostPerCall7d() error = %v", err)
	}
	if avg != 4 {
		t.Errorf("avg = %v, want 4", avg)
	}
}

func TestAvgCostPerCall7d_NoHistory(t *testing.T) {
	l := newTestLedger(t, "ledger3", time.Now())
	avg, err := l.AvgCostPerCall7d(context.Background(), "a1")
	if err != nil {
		t.Fatalf("AvgCostPerCall7d() error = %v", err)
	}
	if avg != 0 {
		t.Errorf("avg = %v, want 0 with no history", avg)
	}
}
