// Package alert turns detections into persisted alert events and fans
// them out to configured notification channels. Repeated firings of the
// same alert type for the same agent are suppressed within a dedup
// window so a misbehaving agent cannot flood the channels.
package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/agentguard/internal/domain"
	"github.com/tjfontaine/agentguard/internal/storage"
)

// DefaultDedupWindow suppresses duplicate alerts fired within it.
const DefaultDedupWindow = 300 * time.Second

// maxConcurrentDispatch bounds the channel fan-out.
const maxConcurrentDispatch = 8

// Notifier delivers one alert to one channel.
type Notifier interface {
	Notify(ctx context.Context, ch domain.AlertChannel, ev *domain.AlertEvent) error
}

// EventRecorder is the side-channel for alert lifecycle events.
type EventRecorder interface {
	SystemEvent(ctx context.Context, eventType string, severity domain.Severity, message string, details map[string]any)
}

// Alert describes a detection to fire.
type Alert struct {
	Type          string
	Severity      domain.Severity
	AgentID       string
	TransactionID string
	Title         string
	Message       string
	Details       map[string]any
}

// Manager deduplicates, persists, and dispatches alerts.
type Manager struct {
	store   storage.AlertStore
	events  EventRecorder
	logger  *slog.Logger
	window  time.Duration
	now     func() time.Time
	timeout time.Duration

	notifiers map[domain.ChannelType]Notifier

	mu        sync.Mutex
	lastFired map[string]time.Time

	sem chan struct{}
	wg  sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithDedupWindow overrides the suppression window.
func WithDedupWindow(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.window = d
		}
	}
}

// WithNotifier registers or replaces the notifier for a channel type.
func WithNotifier(t domain.ChannelType, n Notifier) Option {
	return func(m *Manager) { m.notifiers[t] = n }
}

// WithClock swaps the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a Manager with the default notifier set.
func NewManager(store storage.AlertStore, events EventRecorder, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:     store,
		events:    events,
		logger:    logger,
		window:    DefaultDedupWindow,
		now:       time.Now,
		timeout:   10 * time.Second,
		lastFired: make(map[string]time.Time),
		sem:       make(chan struct{}, maxConcurrentDispatch),
		notifiers: map[domain.ChannelType]Notifier{
			domain.ChannelLocalNotification: &LocalNotifier{Logger: logger},
			domain.ChannelWebhook:           NewWebhookNotifier(),
			domain.ChannelEmail:             &EmailNotifier{},
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Fire records and dispatches an alert unless an identical one fired
// within the dedup window. It returns true when the alert was emitted.
func (m *Manager) Fire(ctx context.Context, a Alert) bool {
	key := a.Type + "|" + agentKey(a.AgentID)
	now := m.now()

	m.mu.Lock()
	if last, ok := m.lastFired[key]; ok && now.Sub(last) < m.window {
		m.mu.Unlock()
		m.logger.Debug("alert suppressed by dedup window",
			slog.String("type", a.Type), slog.String("agent_id", a.AgentID))
		return false
	}
	m.lastFired[key] = now
	m.mu.Unlock()

	ev := &domain.AlertEvent{
		ID:            "alert_" + uuid.New().String(),
		AgentID:       a.AgentID,
		TransactionID: a.TransactionID,
		Severity:      a.Severity,
		Type:          a.Type,
		Title:         a.Title,
		Message:       a.Message,
		Details:       a.Details,
		Status:        "open",
		CreatedAt:     now,
	}
	if err := m.store.InsertAlertEvent(ctx, ev); err != nil {
		m.logger.Error("alert persist failed",
			slog.String("type", a.Type), slog.String("error", err.Error()))
	}
	if m.events != nil {
		m.events.SystemEvent(ctx, "alert_created", a.Severity, a.Title, map[string]any{
			"alert_id": ev.ID,
			"type":     a.Type,
			"agent_id": a.AgentID,
		})
	}

	m.dispatch(ctx, ev)
	return true
}

// dispatch fans the event out to every matching enabled channel. One
// channel failing never blocks or fails the others.
func (m *Manager) dispatch(ctx context.Context, ev *domain.AlertEvent) {
	channels, err := m.store.EnabledChannels(ctx)
	if err != nil {
		m.logger.Error("alert channel load failed", slog.String("error", err.Error()))
		return
	}
	for _, ch := range channels {
		if !matches(ch, ev) {
			continue
		}
		notifier, ok := m.notifiers[ch.Type]
		if !ok {
			m.logger.Warn("no notifier for channel type",
				slog.String("channel", ch.Name), slog.String("type", string(ch.Type)))
			continue
		}
		ch := ch
		m.wg.Add(1)
		m.sem <- struct{}{}
		go func() {
			defer m.wg.Done()
			defer func() { <-m.sem }()
			nctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			defer cancel()
			if err := notifier.Notify(nctx, ch, ev); err != nil {
				m.logger.Error("alert delivery failed",
					slog.String("channel", ch.Name),
					slog.String("alert_id", ev.ID),
					slog.String("error", err.Error()))
			}
		}()
	}
}

// Wait blocks until in-flight deliveries finish. Used during shutdown
// and in tests.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func matches(ch domain.AlertChannel, ev *domain.AlertEvent) bool {
	if !ev.Severity.AtLeast(ch.MinSeverity) {
		return false
	}
	if len(ch.AlertTypes) == 0 {
		return true
	}
	for _, t := range ch.AlertTypes {
		if t == ev.Type {
			return true
		}
	}
	return false
}

func agentKey(agentID string) string {
	if agentID == "" {
		return "global"
	}
	return agentID
}
