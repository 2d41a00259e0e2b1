package ratelimit

import (
	"testing"
	"time"
)

func newClockedLimiter(start time.Time) (*Limiter, *time.Time) {
	l := New()
	now := start
	l.now = func() time.Time { return now }
	return l, &now
}

func TestCheck_FourthCallDenied(t *testing.T) {
	start := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	l, _ := newClockedLimiter(start)

	for i := 1; i <= 3; i++ {
		res := l.Check("a1", "stripe", 3, 60)
		if !res.Allowed {
			t.Fatalf("call %d should be allowed", i)
		}
		if want := 3 - i; res.Remaining != want {
			t.Errorf("call %d remaining = %d, want %d", i, res.Remaining, want)
		}
	}

	res := l.Check("a1", "stripe", 3, 60)
	if res.Allowed {
		t.Error("4th call within window should be denied")
	}
	if res.Remaining != 0 {
		t.Errorf("denied remaining = %d, want 0", res.Remaining)
	}
	if want := start.Add(60 * time.Second); !res.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", res.ResetAt, want)
	}
}

func TestCheck_WindowElapsesAndResets(t *testing.T) {
	start := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	l, now := newClockedLimiter(start)

	for i := 0; i < 3; i++ {
		l.Check("a1", "stripe", 3, 60)
	}
	if res := l.Check("a1", "stripe", 3, 60); res.Allowed {
		t.Fatal("window should be exhausted")
	}

	*now = start.Add(60 * time.Second)
	res := l.Check("a1", "stripe", 3, 60)
	if !res.Allowed {
		t.Error("first call after window elapses should start a fresh window")
	}
	if res.Remaining != 2 {
		t.Errorf("fresh window remaining = %d, want 2", res.Remaining)
	}
	if want := start.Add(120 * time.Second); !res.ResetAt.Equal(want) {
		t.Errorf("new ResetAt = %v, want %v", res.ResetAt, want)
	}
}

func TestCheck_KeysIndependent(t *testing.T) {
	l, _ := newClockedLimiter(time.Now())

	l.Check("a1", "stripe", 1, 60)
	if res := l.Check("a1", "stripe", 1, 60); res.Allowed {
		t.Error("same key should be exhausted")
	}
	if res := l.Check("a2", "stripe", 1, 60); !res.Allowed {
		t.Error("different agent should have its own window")
	}
	if res := l.Check("a1", "openai", 1, 60); !res.Allowed {
		t.Error("different service should have its own window")
	}
	if res := l.Check("a1", "stripe", 1, 30); !res.Allowed {
		t.Error("different window length should have its own window")
	}
}

func TestClearAgent(t *testing.T) {
	l, _ := newClockedLimiter(time.Now())

	l.Check("a1", "stripe", 1, 60)
	l.Check("a2", "stripe", 1, 60)

	l.ClearAgent("a1")

	if res := l.Check("a1", "stripe", 1, 60); !res.Allowed {
		t.Error("cleared agent should start fresh")
	}
	if res := l.Check("a2", "stripe", 1, 60); res.Allowed {
		t.Error("other agents keep their windows")
	}
}
