package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		os.Unsetenv("AGENTGUARD_SERVER__PORT")
		os.Unsetenv("AGENTGUARD_CONFIG")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Server.Port != 8466 {
			t.Errorf("port = %v, want 8466", cfg.Server.Port)
		}
		if cfg.DB.Path != "agentguard.db" {
			t.Errorf("db path = %v", cfg.DB.Path)
		}
		if cfg.Audit.BatchSize != 500 {
			t.Errorf("batch size = %v, want 500", cfg.Audit.BatchSize)
		}
	})

	t.Run("env var override", func(t *testing.T) {
		t.Setenv("AGENTGUARD_SERVER__PORT", "9000")
		t.Setenv("AGENTGUARD_DB__PATH", "/tmp/guard.db")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Server.Port != 9000 {
			t.Errorf("port = %v, want 9000", cfg.Server.Port)
		}
		if cfg.DB.Path != "/tmp/guard.db" {
			t.Errorf("db path = %v", cfg.DB.Path)
		}
	})

	t.Run("yaml file with env overlay", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		data := []byte("server:\n  port: 7000\naudit:\n  batch_size: 100\n")
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("AGENTGUARD_CONFIG", path)
		t.Setenv("AGENTGUARD_SERVER__PORT", "7100")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Server.Port != 7100 {
			t.Errorf("env should win over file: port = %v, want 7100", cfg.Server.Port)
		}
		if cfg.Audit.BatchSize != 100 {
			t.Errorf("file value lost: batch size = %v, want 100", cfg.Audit.BatchSize)
		}
	})
}
