package killswitch

import (
	"context"
	"testing"

	"github.com/tjfontaine/agentguard/internal/storage"
)

// memSettings is an in-memory storage.SettingsStore.
type memSettings struct {
	values map[string]string
}

func newMemSettings() *memSettings { return &memSettings{values: make(map[string]string)} }

func (m *memSettings) GetSetting(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (m *memSettings) SetSetting(_ context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

func TestGlobalActivation_BlocksEveryone(t *testing.T) {
	m := NewManager(newMemSettings(), nil)
	ctx := context.Background()

	if blocked, _ := m.Check("a1"); blocked {
		t.Fatal("fresh manager should not block")
	}

	if err := m.ActivateGlobal(ctx, "incident response", "ops"); err != nil {
		t.Fatalf("ActivateGlobal() error = %v", err)
	}

	blocked, reason := m.Check("a1")
	if !blocked || reason != "incident response" {
		t.Errorf("Check = (%v, %q), want blocked with reason", blocked, reason)
	}
	// Agent id is irrelevant under a global pause.
	if blocked, _ := m.Check(""); !blocked {
		t.Error("global pause should block anonymous checks too")
	}

	if err := m.DeactivateGlobal(ctx); err != nil {
		t.Fatalf("DeactivateGlobal() error = %v", err)
	}
	if blocked, _ := m.Check("a1"); blocked {
		t.Error("deactivated switch should not block")
	}
	if st := m.GlobalState(); st.Reason != "" {
		t.Errorf("reason not cleared: %q", st.Reason)
	}
}

func TestGlobalFlag_PersistsAcrossRestart(t *testing.T) {
	settings := newMemSettings()
	ctx := context.Background()

	first := NewManager(settings, nil)
	if err := first.ActivateGlobal(ctx, "rotating credentials", "ops"); err != nil {
		t.Fatal(err)
	}

	// Simulated restart: a fresh manager over the same settings store.
	second := NewManager(settings, nil)
	if err := second.Init(ctx); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if blocked, _ := second.Check("a1"); !blocked {
		t.Error("global flag should survive restart via settings store")
	}
}

func TestAgentPause_NotPersisted(t *testing.T) {
	settings := newMemSettings()
	ctx := context.Background()

	first := NewManager(settings, nil)
	first.PauseAgent("a1", "ops")

	blocked, reason := first.Check("a1")
	if !blocked || reason != "Agent paused" {
		t.Errorf("Check = (%v, %q)", blocked, reason)
	}
	if blocked, _ := first.Check("a2"); blocked {
		t.Error("other agents unaffected by per-agent pause")
	}

	first.ResumeAgent("a1")
	if blocked, _ := first.Check("a1"); blocked {
		t.Error("resumed agent should pass")
	}

	// Restart loses per-agent pauses by design.
	first.PauseAgent("a1", "ops")
	second := NewManager(settings, nil)
	if err := second.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if blocked, _ := second.Check("a1"); blocked {
		t.Error("per-agent pause must not survive restart")
	}
}

func TestInit_MissingSettingIsInactive(t *testing.T) {
	m := NewManager(newMemSettings(), nil)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if blocked, _ := m.Check("a1"); blocked {
		t.Error("missing setting should mean inactive")
	}
}
