// Package killswitch owns the emergency pause state checked before any
// policy or risk computation. Global state persists its boolean flag to
// settings storage; per-agent pauses live and die with the process.
package killswitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tjfontaine/agentguard/internal/storage"
)

// SettingKey is the settings-store key holding the persisted global flag.
const SettingKey = "kill_switch_active"

// PauseState describes one pause axis.
type PauseState struct {
	Paused   bool
	PausedAt time.Time
	PausedBy string
	Reason   string
}

// Manager holds the global and per-agent pause axes.
type Manager struct {
	settings storage.SettingsStore
	logger   *slog.Logger

	mu     sync.RWMutex
	global PauseState
	agents map[string]PauseState
}

// NewManager creates a Manager backed by the given settings store.
func NewManager(settings storage.SettingsStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		settings: settings,
		logger:   logger,
		agents:   make(map[string]PauseState),
	}
}

// Init loads the persisted global flag so an activated switch survives
// restart. A missing setting means inactive.
func (m *Manager) Init(ctx context.Context) error {
	v, err := m.settings.GetSetting(ctx, SettingKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("killswitch: load state: %w", err)
	}
	if v == "1" {
		m.mu.Lock()
		m.global = PauseState{Paused: true, Reason: "Global kill switch active"}
		m.mu.Unlock()
		m.logger.Warn("kill switch restored active from settings")
	}
	return nil
}

// ActivateGlobal pauses all traffic and persists the flag.
func (m *Manager) ActivateGlobal(ctx context.Context, reason, actor string) error {
	m.mu.Lock()
	m.global = PauseState{Paused: true, PausedAt: time.Now(), PausedBy: actor, Reason: reason}
	m.mu.Unlock()

	if err := m.settings.SetSetting(ctx, SettingKey, "1"); err != nil {
		return fmt.Errorf("killswitch: persist activation: %w", err)
	}
	m.logger.Warn("global kill switch activated",
		slog.String("actor", actor), slog.String("reason", reason))
	return nil
}

// DeactivateGlobal resumes traffic and clears the recorded reason.
func (m *Manager) DeactivateGlobal(ctx context.Context) error {
	m.mu.Lock()
	m.global = PauseState{}
	m.mu.Unlock()

	if err := m.settings.SetSetting(ctx, SettingKey, "0"); err != nil {
		return fmt.Errorf("killswitch: persist deactivation: %w", err)
	}
	m.logger.Info("global kill switch deactivated")
	return nil
}

// PauseAgent pauses one agent. Not persisted: per-agent pauses are
// short-lived interventions tied to this process.
func (m *Manager) PauseAgent(agentID, actor string) {
	m.mu.Lock()
	m.agents[agentID] = PauseState{Paused: true, PausedAt: time.Now(), PausedBy: actor}
	m.mu.Unlock()
	m.logger.Warn("agent paused", slog.String("agent_id", agentID), slog.String("actor", actor))
}

// ResumeAgent clears a per-agent pause.
func (m *Manager) ResumeAgent(agentID string) {
	m.mu.Lock()
	delete(m.agents, agentID)
	m.mu.Unlock()
	m.logger.Info("agent resumed", slog.String("agent_id", agentID))
}

// Check reports whether traffic for agentID is blocked, and why. The
// global axis wins over per-agent state.
func (m *Manager) Check(agentID string) (blocked bool, reason string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.global.Paused {
		reason := m.global.Reason
		if reason == "" {
			reason = "Global kill switch active"
		}
		return true, reason
	}
	if agentID != "" {
		if st, ok := m.agents[agentID]; ok && st.Paused {
			return true, "Agent paused"
		}
	}
	return false, ""
}

// GlobalState returns a snapshot of the global axis.
func (m *Manager) GlobalState() PauseState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.global
}
