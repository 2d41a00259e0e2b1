// Package rules implements the ordered policy rule engine. Rules are
// evaluated in ascending priority; the first failing rule with a blocking
// action terminates evaluation. Failing alert-only rules are surfaced as
// non-blocking signals for the caller to turn into side alerts.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/tjfontaine/agentguard/internal/domain"
	"github.com/tjfontaine/agentguard/internal/ledger"
	"github.com/tjfontaine/agentguard/internal/ratelimit"
	"github.com/tjfontaine/agentguard/internal/storage"
)

// CheckContext is the request context a rule is checked against.
type CheckContext struct {
	AgentID         string
	TargetURL       string
	TargetService   string
	Method          string
	EstimatedAmount float64
}

// Signal is a failing alert-only rule: noted, never a verdict.
type Signal struct {
	RuleID string
	Reason string
}

// Verdict is the engine's answer for one request.
type Verdict struct {
	Allowed bool
	RuleID  string
	Reason  string
	Action  domain.RuleAction
	// Signals carries failing alert-only rules encountered before the
	// verdict was reached.
	Signals []Signal
}

// Engine evaluates an agent's rule set against a request context.
type Engine struct {
	store   storage.RuleStore
	ledger  *ledger.Ledger
	limiter *ratelimit.Limiter
	logger  *slog.Logger

	// now is swappable for tests of time-window rules.
	now func() time.Time
}

// New creates an Engine.
func New(store storage.RuleStore, l *ledger.Ledger, limiter *ratelimit.Limiter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, ledger: l, limiter: limiter, logger: logger, now: time.Now}
}

// Evaluate runs the agent's enabled rules (own set plus the default set)
// in priority order. An agent with no rule sets is allowed: the policy
// layer fails open and the risk detector is the backstop.
func (e *Engine) Evaluate(ctx context.Context, cc CheckContext) (Verdict, error) {
	ruleList, err := e.store.RulesForAgent(ctx, cc.AgentID)
	if err != nil {
		return Verdict{}, fmt.Errorf("rules: load for agent: %w", err)
	}

	verdict := Verdict{Allowed: true}
	for _, r := range ruleList {
		reason, err := e.check(ctx, r, cc)
		if err != nil {
			return Verdict{}, err
		}
		if reason == "" {
			continue
		}
		if r.Action.Blocks() {
			verdict.Allowed = false
			verdict.RuleID = r.ID
			verdict.Reason = reason
			verdict.Action = r.Action
			return verdict, nil
		}
		verdict.Signals = append(verdict.Signals, Signal{RuleID: r.ID, Reason: reason})
	}

	return verdict, nil
}

// check returns a non-empty reason when the rule's condition fails.
func (e *Engine) check(ctx context.Context, r domain.Rule, cc CheckContext) (string, error) {
	switch r.Type {
	case domain.RulePerCallLimit:
		limit := r.Params.PerCallLimit.Limit
		if limit > 0 && cc.EstimatedAmount > limit {
			return fmt.Sprintf("per-call amount $%.2f exceeds limit $%.2f", cc.EstimatedAmount, limit), nil
		}

	case domain.RuleDailyBudget:
		limit := r.Params.DailyBudget.Limit
		if limit > 0 {
			spent, err := e.ledger.DailySpend(ctx, cc.AgentID)
			if err != nil {
				return "", err
			}
			if spent+cc.EstimatedAmount > limit {
				return fmt.Sprintf("today's spend $%.2f would exceed daily budget $%.2f", spent, limit), nil
			}
		}

	case domain.RuleMonthlyBudget:
		limit := r.Params.MonthlyBudget.Limit
		if limit > 0 {
			spent, err := e.ledger.MonthSpend(ctx, cc.AgentID)
			if err != nil {
				return "", err
			}
			if spent+cc.EstimatedAmount > limit {
				return fmt.Sprintf("this month's spend $%.2f would exceed monthly budget $%.2f", spent, limit), nil
			}
		}

	case domain.RuleRateLimit:
		p := r.Params.RateLimit
		if p.MaxCalls > 0 {
			res := e.limiter.Check(cc.AgentID, cc.TargetService, p.MaxCalls, p.WindowSeconds)
			if !res.Allowed {
				return fmt.Sprintf("rate limit exceeded: at most %d calls per %ds", p.MaxCalls, p.WindowSeconds), nil
			}
		}

	case domain.RuleDomainWhitelist:
		domains := r.Params.DomainList.Domains
		if len(domains) > 0 {
			host := extractHost(cc.TargetURL)
			allowed := false
			for _, d := range domains {
				if domain.HostMatches(host, d) {
					allowed = true
					break
				}
			}
			if !allowed {
				return fmt.Sprintf("domain %s is not on the whitelist", host), nil
			}
		}

	case domain.RuleDomainBlacklist:
		host := extractHost(cc.TargetURL)
		for _, d := range r.Params.DomainList.Domains {
			if domain.HostMatches(host, d) {
				return fmt.Sprintf("domain %s is blacklisted", host), nil
			}
		}

	case domain.RuleMethodRestriction:
		allowed := r.Params.Methods.AllowedMethods
		if len(allowed) > 0 {
			method := strings.ToUpper(cc.Method)
			found := false
			for _, m := range allowed {
				if m == method {
					found = true
					break
				}
			}
			if !found {
				return fmt.Sprintf("HTTP method %s is not allowed", cc.Method), nil
			}
		}

	case domain.RuleTimeWindowBlock:
		p := r.Params.TimeWindow
		hhmm := e.now().Format("15:04")
		if hhmm >= p.Start && hhmm < p.End {
			return fmt.Sprintf("current time %s falls in blocked window %s-%s", hhmm, p.Start, p.End), nil
		}
	}

	return "", nil
}

// extractHost pulls the hostname out of a URL, falling back to the raw
// string when it does not parse.
func extractHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return raw
	}
	return u.Hostname()
}
