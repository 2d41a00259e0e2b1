// Package proxy implements the mediation pipeline: every request to
// /proxy/{alias}/... is resolved, authenticated, gated, policy-checked,
// risk-checked, and only then forwarded upstream. Exactly one terminal
// audit record is written per request that reached identity resolution.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/agentguard/internal/alert"
	"github.com/tjfontaine/agentguard/internal/audit"
	"github.com/tjfontaine/agentguard/internal/domain"
	"github.com/tjfontaine/agentguard/internal/killswitch"
	"github.com/tjfontaine/agentguard/internal/ledger"
	"github.com/tjfontaine/agentguard/internal/risk"
	"github.com/tjfontaine/agentguard/internal/rules"
	"github.com/tjfontaine/agentguard/internal/server"
	"github.com/tjfontaine/agentguard/internal/storage"
)

// TokenHeader carries the agent credential when the caller cannot use
// the Authorization header (for example when the upstream needs it).
const TokenHeader = "X-AgentGuard-Token"

// maxBodyBytes caps how much of a request body the pipeline buffers.
const maxBodyBytes = 10 << 20

// Stable error codes returned in JSON error bodies.
const (
	CodeUnknownService = "unknown_service"
	CodeUnauthorized   = "unauthorized"
	CodeServicePaused  = "service_paused"
	CodeRuleBlocked    = "rule_blocked"
	CodeRiskDetected   = "risk_detected"
	CodeUpstreamError  = "upstream_error"
)

// Directory is the read surface the pipeline resolves aliases and
// agents against.
type Directory interface {
	storage.AliasStore
	storage.AgentStore
}

// Auditor accepts terminal transaction records.
type Auditor interface {
	Record(t domain.Transaction)
}

// Alerter fires detection alerts.
type Alerter interface {
	Fire(ctx context.Context, a alert.Alert) bool
}

// Handler is the /proxy/{alias}/* endpoint.
type Handler struct {
	dir      Directory
	kill     *killswitch.Manager
	engine   *rules.Engine
	detector *risk.Detector
	ledger   *ledger.Ledger
	streaks  *risk.StreakTracker
	audit    Auditor
	alerts   Alerter
	client   *http.Client
	logger   *slog.Logger
	now      func() time.Time
}

// Deps bundles the pipeline collaborators.
type Deps struct {
	Directory Directory
	Kill      *killswitch.Manager
	Engine    *rules.Engine
	Detector  *risk.Detector
	Ledger    *ledger.Ledger
	Streaks   *risk.StreakTracker
	Audit     Auditor
	Alerts    Alerter
	// Client forwards to upstreams. A default with a 60s timeout is
	// used when nil.
	Client *http.Client
	Logger *slog.Logger
}

// NewHandler builds the pipeline handler.
func NewHandler(d Deps) *Handler {
	if d.Client == nil {
		d.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Handler{
		dir:      d.Directory,
		kill:     d.Kill,
		engine:   d.Engine,
		detector: d.Detector,
		ledger:   d.Ledger,
		streaks:  d.Streaks,
		audit:    d.Audit,
		alerts:   d.Alerts,
		client:   d.Client,
		logger:   d.Logger,
		now:      time.Now,
	}
}

// Mount attaches the proxy routes to a chi router.
func (h *Handler) Mount(r chi.Router) {
	r.HandleFunc("/proxy/{alias}", h.ServeHTTP)
	r.HandleFunc("/proxy/{alias}/*", h.ServeHTTP)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.now()
	ctx := r.Context()

	aliasName := chi.URLParam(r, "alias")
	svc, err := h.dir.ResolveAlias(ctx, aliasName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Nothing to audit: no service, no agent, no decision.
			writeError(w, http.StatusNotFound, CodeUnknownService,
				fmt.Sprintf("no service registered for alias %q", aliasName))
			return
		}
		h.logger.Error("alias lookup failed", slog.String("alias", aliasName), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, CodeUpstreamError, "alias lookup failed")
		return
	}

	agent, viaBearer, err := h.identify(ctx, r)
	if err != nil {
		server.AddError(ctx, err)
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, err.Error())
		return
	}
	server.AddLogField(ctx, "agent_id", agent.ID)
	server.AddLogField(ctx, "service", svc.Alias)

	targetURL := joinTarget(svc.TargetURL, chi.URLParam(r, "*"), r.URL.RawQuery)
	txn := domain.Transaction{
		ID:             audit.NewTransactionID(),
		AgentID:        agent.ID,
		Timestamp:      start,
		Method:         r.Method,
		TargetURL:      targetURL,
		TargetService:  svc.Alias,
		RequestHeaders: flattenHeaders(r.Header),
		IPAddress:      clientIP(r),
	}

	// Gate before everything else: during an incident the pause must not
	// wait on body reads or policy lookups.
	if blocked, reason := h.kill.Check(agent.ID); blocked {
		txn.Decision = domain.DecisionBlock
		txn.BlockReason = reason
		txn.ResponseStatus = http.StatusServiceUnavailable
		h.finishBlocked(ctx, txn)
		writeError(w, http.StatusServiceUnavailable, CodeServicePaused, reason)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeUpstreamError, "unreadable request body")
		return
	}
	r.Body.Close()

	cost := EstimateCost(svc.Alias, r.URL.Path, body)
	txn.RequestSize = int64(len(body))
	txn.EstimatedCost = cost

	verdict, err := h.engine.Evaluate(ctx, rules.CheckContext{
		AgentID:         agent.ID,
		TargetURL:       targetURL,
		TargetService:   svc.Alias,
		Method:          r.Method,
		EstimatedAmount: cost,
	})
	if err != nil {
		// Policy fails open on storage trouble; the risk layer stays as
		// the backstop.
		h.logger.Error("rule evaluation failed", slog.String("agent_id", agent.ID), slog.String("error", err.Error()))
		verdict = rules.Verdict{Allowed: true}
	}
	for _, sig := range verdict.Signals {
		h.alerts.Fire(ctx, alert.Alert{
			Type:          "rule_alert",
			Severity:      domain.SeverityMedium,
			AgentID:       agent.ID,
			TransactionID: txn.ID,
			Title:         "Rule alert",
			Message:       sig.Reason,
			Details:       map[string]any{"rule_id": sig.RuleID, "target": svc.Alias},
		})
	}
	if !verdict.Allowed {
		h.streaks.Record(agent.ID)
		txn.Decision = domain.DecisionBlock
		txn.BlockedRuleID = verdict.RuleID
		txn.BlockReason = verdict.Reason
		txn.ResponseStatus = http.StatusForbidden
		h.finishBlocked(ctx, txn)
		h.alerts.Fire(ctx, alert.Alert{
			Type:          "rule_blocked",
			Severity:      domain.SeverityHigh,
			AgentID:       agent.ID,
			TransactionID: txn.ID,
			Title:         "Request blocked by rule",
			Message:       verdict.Reason,
			Details:       map[string]any{"rule_id": verdict.RuleID, "target": svc.Alias},
		})
		writeError(w, http.StatusForbidden, CodeRuleBlocked, verdict.Reason)
		return
	}

	if res := h.detector.Detect(ctx, risk.CheckContext{
		AgentID:         agent.ID,
		TargetURL:       targetURL,
		TargetService:   svc.Alias,
		Method:          r.Method,
		EstimatedAmount: cost,
	}); res.Risky {
		h.streaks.Record(agent.ID)
		txn.Decision = domain.DecisionBlock
		txn.BlockReason = res.Reason
		txn.ResponseStatus = http.StatusForbidden
		h.finishBlocked(ctx, txn)
		h.alerts.Fire(ctx, alert.Alert{
			Type:          "risk_detected",
			Severity:      res.Severity,
			AgentID:       agent.ID,
			TransactionID: txn.ID,
			Title:         "Risky request blocked",
			Message:       res.Reason,
			Details:       map[string]any{"target": svc.Alias},
		})
		writeError(w, http.StatusForbidden, CodeRiskDetected, res.Reason)
		return
	}

	h.forward(w, r, txn, agent, viaBearer, targetURL, body, start)
}

// identify resolves the calling agent from its credential, falling back
// to the sole active agent when the deployment has exactly one.
func (h *Handler) identify(ctx context.Context, r *http.Request) (agent *domain.Agent, viaBearer bool, err error) {
	raw := r.Header.Get(TokenHeader)
	if raw == "" {
		if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && strings.HasPrefix(bearer, domain.TokenPrefix) {
			raw = bearer
			viaBearer = true
		}
	}
	if raw != "" {
		agent, err := h.dir.AgentByTokenHash(ctx, domain.HashToken(raw))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, false, errors.New("unknown or inactive agent token")
			}
			return nil, false, errors.New("agent lookup failed")
		}
		return agent, viaBearer, nil
	}

	// No credential: permitted only in single-agent deployments.
	active, err := h.dir.ActiveAgents(ctx, 2)
	if err != nil || len(active) != 1 {
		return nil, false, errors.New("agent credential required")
	}
	return &active[0], false, nil
}

// finishBlocked records the terminal audit entry and snapshot tally for
// a denied request.
func (h *Handler) finishBlocked(ctx context.Context, txn domain.Transaction) {
	txn.LatencyMs = h.sinceMs(txn.Timestamp)
	txn.ProxyLatencyMs = txn.LatencyMs
	server.AddLogField(ctx, "decision", string(domain.DecisionBlock))
	server.AddLogField(ctx, "block_reason", txn.BlockReason)
	h.audit.Record(txn)
	h.ledger.Record(ctx, txn.AgentID, 0, false)
}

// forward relays the request upstream and completes the audit record.
func (h *Handler) forward(w http.ResponseWriter, r *http.Request, txn domain.Transaction, agent *domain.Agent, viaBearer bool, targetURL string, body []byte, start time.Time) {
	ctx := r.Context()

	out, err := http.NewRequestWithContext(ctx, r.Method, targetURL, bytes.NewReader(body))
	if err != nil {
		txn.Decision = domain.DecisionError
		txn.BlockReason = "invalid upstream request"
		txn.ResponseStatus = http.StatusBadGateway
		txn.LatencyMs = h.sinceMs(start)
		h.audit.Record(txn)
		writeError(w, http.StatusBadGateway, CodeUpstreamError, "invalid upstream request")
		return
	}
	out.Header = cleanHeaders(r.Header, agent, viaBearer)

	upstreamStart := h.now()
	resp, err := h.client.Do(out)
	if err != nil {
		// The decision was allow but nothing reached the upstream: no
		// spend to tally, streak untouched.
		txn.Decision = domain.DecisionError
		txn.BlockReason = "upstream unreachable"
		txn.ResponseStatus = http.StatusBadGateway
		txn.LatencyMs = h.sinceMs(start)
		txn.ProxyLatencyMs = txn.LatencyMs
		h.audit.Record(txn)
		h.logger.Warn("upstream request failed",
			slog.String("agent_id", agent.ID),
			slog.String("target", txn.TargetService),
			slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, CodeUpstreamError, "upstream request failed")
		return
	}
	defer resp.Body.Close()
	upstreamMs := h.sinceMs(upstreamStart)

	header := w.Header()
	for k, vv := range resp.Header {
		if hopByHop[strings.ToLower(k)] {
			continue
		}
		header[k] = vv
	}
	w.WriteHeader(resp.StatusCode)
	written, _ := io.Copy(w, resp.Body)

	txn.Decision = domain.DecisionAllow
	txn.ResponseStatus = resp.StatusCode
	txn.ResponseSize = written
	txn.LatencyMs = h.sinceMs(start)
	txn.ProxyLatencyMs = txn.LatencyMs - upstreamMs
	txn.Streaming = strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream")
	server.AddLogField(ctx, "decision", string(domain.DecisionAllow))
	h.audit.Record(txn)
	h.ledger.Record(ctx, agent.ID, txn.EstimatedCost, true)
	h.streaks.Reset(agent.ID)
}

func (h *Handler) sinceMs(t time.Time) float64 {
	return float64(h.now().Sub(t)) / float64(time.Millisecond)
}

// hopByHop headers are connection-scoped and never forwarded.
var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// cleanHeaders builds the upstream header set: guard credentials out,
// upstream credential in.
func cleanHeaders(in http.Header, agent *domain.Agent, viaBearer bool) http.Header {
	out := make(http.Header, len(in))
	for k, vv := range in {
		if hopByHop[strings.ToLower(k)] {
			continue
		}
		out[k] = vv
	}
	out.Del(TokenHeader)
	// Only a guard token in the Authorization header gets replaced. With
	// the dedicated header, the caller's own Authorization passes
	// through untouched.
	if viaBearer {
		if agent.UpstreamAPIKey != "" {
			out.Set("Authorization", "Bearer "+agent.UpstreamAPIKey)
		} else {
			out.Del("Authorization")
		}
	}
	return out
}

func joinTarget(base, rest, query string) string {
	u := strings.TrimSuffix(base, "/")
	if rest != "" {
		u += "/" + strings.TrimPrefix(rest, "/")
	}
	if query != "" {
		u += "?" + query
	}
	return u
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if host, _, ok := strings.Cut(fwd, ","); ok {
			return strings.TrimSpace(host)
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// Bare address without a port, e.g. "::1".
		return r.RemoteAddr
	}
	return host
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: code, Message: message})
}
