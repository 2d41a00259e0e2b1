package alert

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/agentguard/internal/domain"
	"github.com/tjfontaine/agentguard/internal/storage/sqlite"
)

type memAlertStore struct {
	mu       sync.Mutex
	events   []*domain.AlertEvent
	channels []domain.AlertChannel
}

func (s *memAlertStore) InsertAlertEvent(_ context.Context, ev *domain.AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memAlertStore) EnabledChannels(_ context.Context) ([]domain.AlertChannel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels, nil
}

func (s *memAlertStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type memRecorder struct {
	mu    sync.Mutex
	types []string
}

func (r *memRecorder) SystemEvent(_ context.Context, eventType string, _ domain.Severity, _ string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) Notify(_ context.Context, ch domain.AlertChannel, _ *domain.AlertEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, ch.Name)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDedupWindowSuppressesSecondFire(t *testing.T) {
	store := &memAlertStore{}
	rec := &memRecorder{}
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(store, rec, quiet(), WithClock(func() time.Time { return clock }))

	a := Alert{Type: "rule_blocked", Severity: domain.SeverityHigh, AgentID: "agent_1", Title: "blocked"}
	if !m.Fire(context.Background(), a) {
		t.Fatal("first fire suppressed")
	}
	if m.Fire(context.Background(), a) {
		t.Fatal("second fire inside window not suppressed")
	}
	m.Wait()
	if store.count() != 1 {
		t.Fatalf("events = %d, want 1", store.count())
	}

	clock = clock.Add(DefaultDedupWindow)
	if !m.Fire(context.Background(), a) {
		t.Fatal("fire after window elapsed was suppressed")
	}
	m.Wait()
	if store.count() != 2 {
		t.Fatalf("events = %d, want 2", store.count())
	}
}

func TestDedupKeyIsPerTypeAndAgent(t *testing.T) {
	store := &memAlertStore{}
	m := NewManager(store, &memRecorder{}, quiet())

	base := Alert{Type: "risk_detected", Severity: domain.SeverityMedium, AgentID: "agent_1"}
	m.Fire(context.Background(), base)

	other := base
	other.AgentID = "agent_2"
	if !m.Fire(context.Background(), other) {
		t.Error("different agent suppressed")
	}
	otherType := base
	otherType.Type = "rule_blocked"
	if !m.Fire(context.Background(), otherType) {
		t.Error("different type suppressed")
	}
	m.Wait()
}

func TestGlobalAlertsShareDedupKey(t *testing.T) {
	store := &memAlertStore{}
	m := NewManager(store, &memRecorder{}, quiet())

	a := Alert{Type: "kill_switch", Severity: domain.SeverityCritical}
	m.Fire(context.Background(), a)
	if m.Fire(context.Background(), a) {
		t.Error("global alert not deduped")
	}
	m.Wait()
}

func TestFireWritesSystemEvent(t *testing.T) {
	rec := &memRecorder{}
	m := NewManager(&memAlertStore{}, rec, quiet())

	m.Fire(context.Background(), Alert{Type: "rule_blocked", Severity: domain.SeverityHigh, AgentID: "a"})
	m.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.types) != 1 || rec.types[0] != "alert_created" {
		t.Fatalf("system events = %v, want [alert_created]", rec.types)
	}
}

func TestChannelFilteringBySeverityAndType(t *testing.T) {
	store := &memAlertStore{channels: []domain.AlertChannel{
		{ID: "ch1", Name: "high-only", Type: domain.ChannelLocalNotification, Enabled: true, MinSeverity: domain.SeverityHigh},
		{ID: "ch2", Name: "all", Type: domain.ChannelLocalNotification, Enabled: true, MinSeverity: domain.SeverityInfo},
		{ID: "ch3", Name: "risk-only", Type: domain.ChannelLocalNotification, Enabled: true, MinSeverity: domain.SeverityInfo, AlertTypes: []string{"risk_detected"}},
	}}
	n := &recordingNotifier{}
	m := NewManager(store, &memRecorder{}, quiet(), WithNotifier(domain.ChannelLocalNotification, n))

	m.Fire(context.Background(), Alert{Type: "rule_blocked", Severity: domain.SeverityMedium, AgentID: "a"})
	m.Wait()

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.calls) != 1 || n.calls[0] != "all" {
		t.Fatalf("notified channels = %v, want [all]", n.calls)
	}
}

func TestWebhookDeliverySignedPayload(t *testing.T) {
	var (
		mu       sync.Mutex
		body     []byte
		sig      string
		ts       string
		received int
	)
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		received++
		body, _ = io.ReadAll(r.Body)
		sig = r.Header.Get("X-AgentGuard-Signature")
		ts = r.Header.Get("X-AgentGuard-Timestamp")
		w.WriteHeader(http.StatusOK)
	}))
	defer sink.Close()

	store := &memAlertStore{channels: []domain.AlertChannel{{
		ID: "wh", Name: "ops", Type: domain.ChannelWebhook, Enabled: true,
		MinSeverity: domain.SeverityInfo,
		Config:      map[string]string{"url": sink.URL, "secret": "topsecret"},
	}}}
	m := NewManager(store, &memRecorder{}, quiet())

	m.Fire(context.Background(), Alert{
		Type: "budget_exceeded", Severity: domain.SeverityHigh,
		AgentID: "agent_1", Title: "Daily budget exceeded", Message: "spent $120 of $100",
	})
	m.Wait()

	mu.Lock()
	defer mu.Unlock()
	if received != 1 {
		t.Fatalf("deliveries = %d, want 1", received)
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if payload["event"] != "budget_exceeded" || payload["agent_id"] != "agent_1" || payload["source"] != "agentguard" {
		t.Errorf("payload fields wrong: %v", payload)
	}
	if !VerifySignature("topsecret", body, sig) {
		t.Errorf("signature %q does not verify", sig)
	}
	if ts == "" {
		t.Error("timestamp header missing")
	}
}

func TestWebhookFailureIsolated(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	n := &recordingNotifier{}
	store := &memAlertStore{channels: []domain.AlertChannel{
		{ID: "wh", Name: "bad", Type: domain.ChannelWebhook, Enabled: true, MinSeverity: domain.SeverityInfo,
			Config: map[string]string{"url": bad.URL}},
		{ID: "loc", Name: "local", Type: domain.ChannelLocalNotification, Enabled: true, MinSeverity: domain.SeverityInfo},
	}}
	m := NewManager(store, &memRecorder{}, quiet(), WithNotifier(domain.ChannelLocalNotification, n))

	if !m.Fire(context.Background(), Alert{Type: "rule_blocked", Severity: domain.SeverityHigh, AgentID: "a"}) {
		t.Fatal("fire failed")
	}
	m.Wait()
	if n.count() != 1 {
		t.Fatalf("healthy channel deliveries = %d, want 1", n.count())
	}
}

func TestFirePersistsThroughRealStore(t *testing.T) {
	store, err := sqlite.New("file:alertfire?mode=memory&cache=shared", nil)
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	defer store.Close()

	m := NewManager(store, &memRecorder{}, quiet())
	if !m.Fire(context.Background(), Alert{
		Type: "rule_blocked", Severity: domain.SeverityHigh,
		AgentID: "", Title: "blocked", Message: "blocked by rule",
	}) {
		t.Fatal("fire suppressed")
	}
	m.Wait()

	var count int
	var status string
	row := store.DB().QueryRow(`SELECT COUNT(*), COALESCE(MAX(status), '') FROM alert_events`)
	if err := row.Scan(&count, &status); err != nil {
		t.Fatalf("query alert_events: %v", err)
	}
	if count != 1 {
		t.Fatalf("alert_events rows = %d, want 1", count)
	}
	if status != "open" {
		t.Errorf("status = %q, want open", status)
	}
}

func TestSignRoundTrip(t *testing.T) {
	body := []byte(`{"event":"x"}`)
	sig := Sign("s3cret", body)
	if !VerifySignature("s3cret", body, sig) {
		t.Error("valid signature rejected")
	}
	if VerifySignature("wrong", body, sig) {
		t.Error("invalid secret accepted")
	}
	if VerifySignature("s3cret", []byte(`{"event":"y"}`), sig) {
		t.Error("tampered body accepted")
	}
}
