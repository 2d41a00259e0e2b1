// Package domain holds the core types shared across the mediation pipeline:
// agents, service aliases, policy rules, transactions, budget snapshots,
// and alert events.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// AgentStatus is the lifecycle status of an agent.
type AgentStatus string

const (
	AgentActive  AgentStatus = "active"
	AgentPaused  AgentStatus = "paused"
	AgentBlocked AgentStatus = "blocked"
)

// Agent is an autonomous caller whose outbound API traffic is mediated.
type Agent struct {
	ID          string
	Name        string
	Description string
	Status      AgentStatus
	RuleSetID   string
	// UpstreamAPIKey is the real credential forwarded to the upstream
	// service in place of the agent's guard token. Empty when the agent
	// calls upstreams that need no credential rewrite.
	UpstreamAPIKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastSeenAt     time.Time
}

// AgentToken is a bearer credential mapped to exactly one agent.
// Only the SHA-256 hash of the raw secret is ever stored.
type AgentToken struct {
	ID         string
	AgentID    string
	TokenHash  string
	Prefix     string
	Active     bool
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// TokenPrefix is the fixed prefix on raw agent tokens. A bearer
// Authorization value carrying this prefix is treated as a guard token
// rather than an upstream credential.
const TokenPrefix = "ag_live_"

// HashToken returns the SHA-256 hex digest stored in place of a raw
// token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ServiceAlias maps a short name to an upstream base URL.
type ServiceAlias struct {
	ID          string
	Alias       string
	TargetURL   string
	Description string
	Builtin     bool
	Enabled     bool
}

// Decision is the terminal outcome of one mediated call.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionBlock Decision = "block"
	DecisionError Decision = "error"
)

// Transaction is the immutable audit record of one mediation decision.
// Written once, never updated.
type Transaction struct {
	ID             string
	AgentID        string
	Timestamp      time.Time
	Method         string
	TargetURL      string
	TargetService  string
	RequestHeaders map[string]string
	RequestSize    int64
	Decision       Decision
	BlockedRuleID  string
	BlockReason    string
	ResponseStatus int
	ResponseSize   int64
	LatencyMs      float64
	ProxyLatencyMs float64
	EstimatedCost  float64
	IPAddress      string
	Streaming      bool
}

// BudgetSnapshot is the hourly spend aggregate for one agent. It is the
// unit of aggregation for budget rules and risk baselines.
type BudgetSnapshot struct {
	AgentID      string
	SnapshotHour string
	TotalCalls   int64
	AllowedCalls int64
	BlockedCalls int64
	TotalCost    float64
}

// BudgetSummary is the global rollup across all agents.
type BudgetSummary struct {
	TodaySpend   float64
	MonthSpend   float64
	TodayCalls   int64
	TodayBlocked int64
}

// Severity orders alert severities from least to most urgent.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is at or above min in severity order.
// Unknown severities rank below info.
func (s Severity) AtLeast(min Severity) bool {
	return severityRank[s] >= severityRank[min]
}

// AlertEvent is a fired alert. Lifecycle transitions past "open" happen
// through the admin surface, not the core.
type AlertEvent struct {
	ID            string
	AgentID       string
	TransactionID string
	Severity      Severity
	Type          string
	Title         string
	Message       string
	Details       map[string]any
	Status        string
	CreatedAt     time.Time
}

// AlertChannel is a configured notification sink. The core only reads
// channels at dispatch time.
type AlertChannel struct {
	ID          string
	Name        string
	Type        ChannelType
	Enabled     bool
	Config      map[string]string
	MinSeverity Severity
	// AlertTypes, when non-empty, restricts the channel to the listed
	// alert types.
	AlertTypes []string
}

// ChannelType identifies the kind of notification sink.
type ChannelType string

const (
	ChannelLocalNotification ChannelType = "local_notification"
	ChannelWebhook           ChannelType = "webhook"
	ChannelEmail             ChannelType = "email"
)

// SystemEvent is a coarse lifecycle or alert record on the audit side
// channel.
type SystemEvent struct {
	ID        string
	Type      string
	Severity  Severity
	Message   string
	Details   map[string]any
	CreatedAt time.Time
}

// ConfigChange is an append-only record of an administrative action,
// carrying a tamper-evident checksum over its fields.
type ConfigChange struct {
	ID           string
	Operator     string
	Action       string
	ResourceType string
	ResourceID   string
	Before       string
	After        string
	IPAddress    string
	Checksum     string
	CreatedAt    time.Time
}
