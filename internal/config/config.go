// Package config loads service configuration from an optional YAML file
// overlaid with AGENTGUARD_-prefixed environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server ServerConfig `koanf:"server"`
	DB     DBConfig     `koanf:"db"`
	Proxy  ProxyConfig  `koanf:"proxy"`
	Audit  AuditConfig  `koanf:"audit"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// RequestTimeoutSeconds bounds the whole mediated request.
	RequestTimeoutSeconds int `koanf:"request_timeout_seconds"`
}

type DBConfig struct {
	Path string `koanf:"path"`
}

type ProxyConfig struct {
	// UpstreamTimeoutSeconds bounds the upstream round trip.
	UpstreamTimeoutSeconds int `koanf:"upstream_timeout_seconds"`
}

type AuditConfig struct {
	BatchSize       int `koanf:"batch_size"`
	FlushIntervalMs int `koanf:"flush_interval_ms"`
}

// Load reads the YAML file named by AGENTGUARD_CONFIG (when set and
// present), then overlays environment variables. AGENTGUARD_SERVER__PORT
// maps to server.port.
func Load() (*Config, error) {
	k := koanf.New(".")

	if path := os.Getenv("AGENTGUARD_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("AGENTGUARD_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "AGENTGUARD_"))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	defaults := map[string]any{
		"server.port":                    8466,
		"server.request_timeout_seconds": 120,
		"db.path":                        "agentguard.db",
		"proxy.upstream_timeout_seconds": 60,
		"audit.batch_size":               500,
		"audit.flush_interval_ms":        2000,
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// RequestTimeout is the server-level deadline as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// UpstreamTimeout is the upstream client deadline as a duration.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Proxy.UpstreamTimeoutSeconds) * time.Second
}

// FlushInterval is the audit idle flush timer as a duration.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Audit.FlushIntervalMs) * time.Millisecond
}
