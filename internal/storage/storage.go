// Package storage defines the transactional key/record boundary the core
// reads and writes against. The core treats storage as a collaborator;
// persistence mechanics live in the driver subpackages.
package storage

import (
	"context"
	"errors"

	"github.com/tjfontaine/agentguard/internal/domain"
)

// ErrNotFound is returned by point lookups when no row matches.
var ErrNotFound = errors.New("storage: not found")

// AliasStore resolves and enumerates service aliases. Disabled aliases
// are invisible to resolution.
type AliasStore interface {
	// ResolveAlias returns the enabled alias with the given short name.
	ResolveAlias(ctx context.Context, alias string) (*domain.ServiceAlias, error)
	// ListEnabledAliases returns all enabled aliases.
	ListEnabledAliases(ctx context.Context) ([]domain.ServiceAlias, error)
}

// AgentStore resolves caller identity.
type AgentStore interface {
	// AgentByTokenHash returns the agent owning an active token with the
	// given hash, touching the token's last-used and the agent's
	// last-seen timestamps.
	AgentByTokenHash(ctx context.Context, tokenHash string) (*domain.Agent, error)
	// ActiveAgents returns up to limit active agents. The pipeline uses
	// limit 2 to decide whether the single-tenant fallback applies.
	ActiveAgents(ctx context.Context, limit int) ([]domain.Agent, error)
}

// RuleStore loads policy rules.
type RuleStore interface {
	// RulesForAgent returns the enabled rules from the agent's rule set
	// and the default rule set, ordered by ascending priority. Rule
	// parameters are parsed into their typed variants; rules whose
	// parameter bags fail to parse are skipped.
	RulesForAgent(ctx context.Context, agentID string) ([]domain.Rule, error)
}

// TransactionStore persists audit transactions.
type TransactionStore interface {
	// InsertTransactions writes a batch. Duplicate ids are silently
	// ignored so at-least-once delivery from the batching layer is safe.
	InsertTransactions(ctx context.Context, batch []domain.Transaction) error
}

// SnapshotStore owns hourly budget aggregates.
type SnapshotStore interface {
	// IncrementSnapshot upserts the (agent, hour) row, adding one call
	// and the given cost to the allowed or blocked tally.
	IncrementSnapshot(ctx context.Context, agentID, hourKey string, cost float64, allowed bool) error
	// DailySpend sums spend for the agent on the given day (YYYY-MM-DD).
	DailySpend(ctx context.Context, agentID, day string) (float64, error)
	// MonthSpend sums spend for the agent in the given month (YYYY-MM).
	MonthSpend(ctx context.Context, agentID, month string) (float64, error)
	// AvgCostPerAllowedCall averages total_cost/allowed_calls across
	// snapshots at or after the given hour key. Returns 0 with no data.
	AvgCostPerAllowedCall(ctx context.Context, agentID, sinceHour string) (float64, error)
	// GlobalSummary rolls up today's and this month's aggregates across
	// all agents.
	GlobalSummary(ctx context.Context, day, month string) (domain.BudgetSummary, error)
}

// AlertStore persists alert events and exposes channel configuration.
type AlertStore interface {
	InsertAlertEvent(ctx context.Context, ev *domain.AlertEvent) error
	// EnabledChannels returns all enabled notification channels.
	EnabledChannels(ctx context.Context) ([]domain.AlertChannel, error)
}

// EventStore records administrative and lifecycle side-channel entries.
type EventStore interface {
	InsertConfigChange(ctx context.Context, c *domain.ConfigChange) error
	InsertSystemEvent(ctx context.Context, ev *domain.SystemEvent) error
}

// SettingsStore is the small key/value store for persisted flags and
// secret material.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Store is the full storage surface the core wires against.
type Store interface {
	AliasStore
	AgentStore
	RuleStore
	TransactionStore
	SnapshotStore
	AlertStore
	EventStore
	SettingsStore
	Close() error
}
