// Package sqlite implements the storage boundary on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/agentguard/internal/domain"
	"github.com/tjfontaine/agentguard/internal/storage"
)

// Store is the SQLite implementation of storage.Store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath, enables WAL, and applies
// the schema and builtin seeds.
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	if err := s.seed(); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed builtins: %w", err)
	}

	return s, nil
}

// DB exposes the underlying handle for test fixtures.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database file is still reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS agents (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL UNIQUE,
			description      TEXT,
			status           TEXT NOT NULL DEFAULT 'active'
			                 CHECK(status IN ('active','paused','blocked')),
			rule_set_id      TEXT,
			upstream_api_key TEXT,
			created_at       TIMESTAMP NOT NULL DEFAULT (datetime('now')),
			updated_at       TIMESTAMP NOT NULL DEFAULT (datetime('now')),
			last_seen_at     TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS agent_tokens (
			id           TEXT PRIMARY KEY,
			agent_id     TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			token_hash   TEXT NOT NULL UNIQUE,
			token_prefix TEXT NOT NULL,
			is_active    INTEGER NOT NULL DEFAULT 1,
			created_at   TIMESTAMP NOT NULL DEFAULT (datetime('now')),
			last_used_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS rule_sets (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			is_default INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS rules (
			id          TEXT PRIMARY KEY,
			rule_set_id TEXT NOT NULL REFERENCES rule_sets(id) ON DELETE CASCADE,
			name        TEXT NOT NULL,
			type        TEXT NOT NULL,
			is_enabled  INTEGER NOT NULL DEFAULT 1,
			action      TEXT NOT NULL DEFAULT 'block'
			            CHECK(action IN ('block','alert','alert_and_block')),
			priority    INTEGER NOT NULL DEFAULT 100,
			params      TEXT NOT NULL DEFAULT '{}',
			created_at  TIMESTAMP NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id               TEXT PRIMARY KEY,
			agent_id         TEXT REFERENCES agents(id) ON DELETE SET NULL,
			timestamp        TIMESTAMP NOT NULL DEFAULT (datetime('now')),
			method           TEXT NOT NULL,
			target_url       TEXT NOT NULL,
			target_service   TEXT,
			request_headers  TEXT,
			request_size     INTEGER,
			decision         TEXT NOT NULL CHECK(decision IN ('allow','block','error')),
			blocked_rule_id  TEXT,
			block_reason     TEXT,
			response_status  INTEGER,
			response_size    INTEGER,
			latency_ms       REAL,
			proxy_latency_ms REAL,
			estimated_cost   REAL DEFAULT 0,
			ip_address       TEXT,
			is_streaming     INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS budget_snapshots (
			id            TEXT PRIMARY KEY,
			agent_id      TEXT REFERENCES agents(id) ON DELETE CASCADE,
			snapshot_hour TEXT NOT NULL,
			total_calls   INTEGER NOT NULL DEFAULT 0,
			allowed_calls INTEGER NOT NULL DEFAULT 0,
			blocked_calls INTEGER NOT NULL DEFAULT 0,
			total_cost    REAL NOT NULL DEFAULT 0,
			UNIQUE(agent_id, snapshot_hour)
		)`,
		`CREATE TABLE IF NOT EXISTS alert_events (
			id             TEXT PRIMARY KEY,
			agent_id       TEXT,
			transaction_id TEXT,
			severity       TEXT NOT NULL CHECK(severity IN ('critical','high','medium','low','info')),
			type           TEXT NOT NULL,
			title          TEXT NOT NULL,
			message        TEXT NOT NULL,
			details        TEXT,
			status         TEXT NOT NULL DEFAULT 'open'
			               CHECK(status IN ('open','acknowledged','resolved','ignored')),
			created_at     TIMESTAMP NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS alert_channels (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			type         TEXT NOT NULL CHECK(type IN ('local_notification','email','webhook')),
			is_enabled   INTEGER NOT NULL DEFAULT 1,
			config       TEXT NOT NULL DEFAULT '{}',
			min_severity TEXT NOT NULL DEFAULT 'high',
			alert_types  TEXT NOT NULL DEFAULT '[]',
			created_at   TIMESTAMP NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS config_change_logs (
			id            TEXT PRIMARY KEY,
			operator      TEXT NOT NULL DEFAULT 'admin',
			action        TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id   TEXT,
			before_value  TEXT,
			after_value   TEXT,
			ip_address    TEXT,
			checksum      TEXT NOT NULL,
			created_at    TIMESTAMP NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS system_events (
			id         TEXT PRIMARY KEY,
			type       TEXT NOT NULL,
			severity   TEXT NOT NULL DEFAULT 'info',
			message    TEXT NOT NULL,
			details    TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT,
			updated_at TIMESTAMP NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS service_aliases (
			id          TEXT PRIMARY KEY,
			alias       TEXT NOT NULL UNIQUE,
			target_url  TEXT NOT NULL,
			description TEXT,
			is_builtin  INTEGER NOT NULL DEFAULT 0,
			is_enabled  INTEGER NOT NULL DEFAULT 1,
			created_at  TIMESTAMP NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_agent ON transactions(agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_decision ON transactions(decision)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_hour ON budget_snapshots(snapshot_hour)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_events_status ON alert_events(status)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_set ON rules(rule_set_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}

// seed inserts builtin aliases and default settings, ignoring rows that
// already exist.
func (s *Store) seed() error {
	aliases := []struct{ id, alias, target, desc string }{
		{"builtin-stripe", "stripe", "https://api.stripe.com", "Stripe payments API"},
		{"builtin-openai", "openai", "https://api.openai.com", "OpenAI API"},
		{"builtin-anthropic", "anthropic", "https://api.anthropic.com", "Anthropic Claude API"},
		{"builtin-gads", "google-ads", "https://googleads.googleapis.com", "Google Ads API"},
	}
	for _, a := range aliases {
		if _, err := s.db.Exec(
			`INSERT OR IGNORE INTO service_aliases (id, alias, target_url, description, is_builtin) VALUES (?, ?, ?, ?, 1)`,
			a.id, a.alias, a.target, a.desc); err != nil {
			return err
		}
	}

	defaults := [][2]string{
		{"kill_switch_active", "0"},
		{"proxy_port", "8080"},
		{"log_retention_days", "7"},
		{"alert_retention_days", "180"},
	}
	for _, kv := range defaults {
		if _, err := s.db.Exec(`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ResolveAlias(ctx context.Context, alias string) (*domain.ServiceAlias, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, alias, target_url, COALESCE(description, ''), is_builtin, is_enabled
		 FROM service_aliases WHERE alias = ? AND is_enabled = 1`, alias)

	var a domain.ServiceAlias
	var builtin, enabled int
	if err := row.Scan(&a.ID, &a.Alias, &a.TargetURL, &a.Description, &builtin, &enabled); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("resolve alias: %w", err)
	}
	a.Builtin = builtin == 1
	a.Enabled = enabled == 1
	return &a, nil
}

func (s *Store) ListEnabledAliases(ctx context.Context) ([]domain.ServiceAlias, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, alias, target_url, COALESCE(description, ''), is_builtin
		 FROM service_aliases WHERE is_enabled = 1 ORDER BY alias`)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer rows.Close()

	var out []domain.ServiceAlias
	for rows.Next() {
		var a domain.ServiceAlias
		var builtin int
		if err := rows.Scan(&a.ID, &a.Alias, &a.TargetURL, &a.Description, &builtin); err != nil {
			return nil, fmt.Errorf("scan alias: %w", err)
		}
		a.Builtin = builtin == 1
		a.Enabled = true
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) AgentByTokenHash(ctx context.Context, tokenHash string) (*domain.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT a.id, a.name, a.status, COALESCE(a.rule_set_id, ''), COALESCE(a.upstream_api_key, '')
		 FROM agent_tokens t JOIN agents a ON a.id = t.agent_id
		 WHERE t.token_hash = ? AND t.is_active = 1`, tokenHash)

	var a domain.Agent
	var status string
	if err := row.Scan(&a.ID, &a.Name, &status, &a.RuleSetID, &a.UpstreamAPIKey); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("agent by token: %w", err)
	}
	a.Status = domain.AgentStatus(status)

	// Touch timestamps; failures here must not fail identity resolution.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE agents SET last_seen_at = datetime('now') WHERE id = ?`, a.ID); err != nil {
		s.logger.Warn("touch agent last_seen failed", slog.String("agent_id", a.ID), slog.String("error", err.Error()))
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE agent_tokens SET last_used_at = datetime('now') WHERE token_hash = ?`, tokenHash); err != nil {
		s.logger.Warn("touch token last_used failed", slog.String("error", err.Error()))
	}

	return &a, nil
}

func (s *Store) ActiveAgents(ctx context.Context, limit int) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, COALESCE(rule_set_id, ''), COALESCE(upstream_api_key, '')
		 FROM agents WHERE status = 'active' LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("active agents: %w", err)
	}
	defer rows.Close()

	var out []domain.Agent
	for rows.Next() {
		a := domain.Agent{Status: domain.AgentActive}
		if err := rows.Scan(&a.ID, &a.Name, &a.RuleSetID, &a.UpstreamAPIKey); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) RulesForAgent(ctx context.Context, agentID string) ([]domain.Rule, error) {
	var setIDs []any

	var agentSet string
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(rule_set_id, '') FROM agents WHERE id = ?`, agentID).Scan(&agentSet)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("agent rule set: %w", err)
	}
	if agentSet != "" {
		setIDs = append(setIDs, agentSet)
	}

	var defaultSet string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM rule_sets WHERE is_default = 1 LIMIT 1`).Scan(&defaultSet)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("default rule set: %w", err)
	}
	if defaultSet != "" && defaultSet != agentSet {
		setIDs = append(setIDs, defaultSet)
	}

	if len(setIDs) == 0 {
		return nil, nil
	}

	query := `SELECT id, rule_set_id, name, type, action, priority, params
	          FROM rules WHERE rule_set_id IN (?` + repeat(",?", len(setIDs)-1) + `) AND is_enabled = 1
	          ORDER BY priority ASC`
	rows, err := s.db.QueryContext(ctx, query, setIDs...)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		var (
			r                   domain.Rule
			typ, action, params string
		)
		if err := rows.Scan(&r.ID, &r.RuleSetID, &r.Name, &typ, &action, &r.Priority, &params); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Type = domain.RuleType(typ)
		r.Action = domain.RuleAction(action)
		r.Enabled = true

		parsed, err := domain.ParseRuleParams(r.Type, params)
		if err != nil {
			// Malformed configuration is surfaced at load, not enforced.
			s.logger.Warn("skipping rule with bad params",
				slog.String("rule_id", r.ID), slog.String("error", err.Error()))
			continue
		}
		r.Params = parsed
		out = append(out, r)
	}
	return out, rows.Err()
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}

func (s *Store) InsertTransactions(ctx context.Context, batch []domain.Transaction) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO transactions
		   (id, agent_id, timestamp, method, target_url, target_service, request_headers,
		    request_size, decision, blocked_rule_id, block_reason, response_status,
		    response_size, latency_ms, proxy_latency_ms, estimated_cost, ip_address, is_streaming)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range batch {
		headers, err := json.Marshal(t.RequestHeaders)
		if err != nil {
			headers = []byte("{}")
		}
		ts := t.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			t.ID, nullable(t.AgentID), ts.UTC().Format(time.RFC3339Nano), t.Method, t.TargetURL,
			t.TargetService, string(headers), t.RequestSize, string(t.Decision),
			nullable(t.BlockedRuleID), nullable(t.BlockReason), t.ResponseStatus,
			t.ResponseSize, t.LatencyMs, t.ProxyLatencyMs, t.EstimatedCost,
			nullable(t.IPAddress), boolInt(t.Streaming)); err != nil {
			return fmt.Errorf("insert transaction %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *Store) IncrementSnapshot(ctx context.Context, agentID, hourKey string, cost float64, allowed bool) error {
	allowedN, blockedN := 0, 1
	if allowed {
		allowedN, blockedN = 1, 0
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_snapshots (id, agent_id, snapshot_hour, total_calls, allowed_calls, blocked_calls, total_cost)
		 VALUES (?, ?, ?, 1, ?, ?, ?)
		 ON CONFLICT(agent_id, snapshot_hour) DO UPDATE SET
		   total_calls   = total_calls + 1,
		   allowed_calls = allowed_calls + excluded.allowed_calls,
		   blocked_calls = blocked_calls + excluded.blocked_calls,
		   total_cost    = total_cost + excluded.total_cost`,
		uuid.New().String(), agentID, hourKey, allowedN, blockedN, cost)
	if err != nil {
		return fmt.Errorf("increment snapshot: %w", err)
	}
	return nil
}

func (s *Store) DailySpend(ctx context.Context, agentID, day string) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_cost), 0) FROM budget_snapshots
		 WHERE agent_id = ? AND snapshot_hour LIKE ?`, agentID, day+"%").Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("daily spend: %w", err)
	}
	return total, nil
}

func (s *Store) MonthSpend(ctx context.Context, agentID, month string) (float64, error) {
	var total float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_cost), 0) FROM budget_snapshots
		 WHERE agent_id = ? AND snapshot_hour LIKE ?`, agentID, month+"%").Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("month spend: %w", err)
	}
	return total, nil
}

func (s *Store) AvgCostPerAllowedCall(ctx context.Context, agentID, sinceHour string) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx,
		`SELECT AVG(total_cost / NULLIF(allowed_calls, 0)) FROM budget_snapshots
		 WHERE agent_id = ? AND snapshot_hour >= ?`, agentID, sinceHour).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("avg cost: %w", err)
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

func (s *Store) GlobalSummary(ctx context.Context, day, month string) (domain.BudgetSummary, error) {
	var sum domain.BudgetSummary
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_cost), 0), COALESCE(SUM(total_calls), 0), COALESCE(SUM(blocked_calls), 0)
		 FROM budget_snapshots WHERE snapshot_hour LIKE ?`, day+"%").
		Scan(&sum.TodaySpend, &sum.TodayCalls, &sum.TodayBlocked)
	if err != nil {
		return sum, fmt.Errorf("today summary: %w", err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_cost), 0) FROM budget_snapshots WHERE snapshot_hour LIKE ?`, month+"%").
		Scan(&sum.MonthSpend)
	if err != nil {
		return sum, fmt.Errorf("month summary: %w", err)
	}
	return sum, nil
}

func (s *Store) InsertAlertEvent(ctx context.Context, ev *domain.AlertEvent) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		details = []byte("null")
	}
	if ev.Status == "" {
		ev.Status = "open"
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alert_events (id, agent_id, transaction_id, severity, type, title, message, details, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, nullable(ev.AgentID), nullable(ev.TransactionID), string(ev.Severity),
		ev.Type, ev.Title, ev.Message, string(details), ev.Status)
	if err != nil {
		return fmt.Errorf("insert alert event: %w", err)
	}
	return nil
}

func (s *Store) EnabledChannels(ctx context.Context) ([]domain.AlertChannel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, type, config, min_severity, alert_types
		 FROM alert_channels WHERE is_enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []domain.AlertChannel
	for rows.Next() {
		var (
			ch                            domain.AlertChannel
			typ, config, minSev, alertTys string
		)
		if err := rows.Scan(&ch.ID, &ch.Name, &typ, &config, &minSev, &alertTys); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		ch.Type = domain.ChannelType(typ)
		ch.MinSeverity = domain.Severity(minSev)
		ch.Enabled = true
		if err := json.Unmarshal([]byte(config), &ch.Config); err != nil {
			ch.Config = map[string]string{}
		}
		if err := json.Unmarshal([]byte(alertTys), &ch.AlertTypes); err != nil {
			ch.AlertTypes = nil
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (s *Store) InsertConfigChange(ctx context.Context, c *domain.ConfigChange) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Operator == "" {
		c.Operator = "admin"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config_change_logs (id, operator, action, resource_type, resource_id, before_value, after_value, ip_address, checksum)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Operator, c.Action, c.ResourceType, nullable(c.ResourceID),
		nullable(c.Before), nullable(c.After), nullable(c.IPAddress), c.Checksum)
	if err != nil {
		return fmt.Errorf("insert config change: %w", err)
	}
	return nil
}

func (s *Store) InsertSystemEvent(ctx context.Context, ev *domain.SystemEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	details, err := json.Marshal(ev.Details)
	if err != nil {
		details = []byte("null")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO system_events (id, type, severity, message, details) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.Type, string(ev.Severity), ev.Message, string(details))
	if err != nil {
		return fmt.Errorf("insert system event: %w", err)
	}
	return nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(value, '') FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, datetime('now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
