package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// RuleType enumerates the policy rule kinds.
type RuleType string

const (
	RulePerCallLimit      RuleType = "per_call_limit"
	RuleDailyBudget       RuleType = "daily_budget"
	RuleMonthlyBudget     RuleType = "monthly_budget"
	RuleRateLimit         RuleType = "rate_limit"
	RuleDomainWhitelist   RuleType = "domain_whitelist"
	RuleDomainBlacklist   RuleType = "domain_blacklist"
	RuleMethodRestriction RuleType = "method_restriction"
	RuleTimeWindowBlock   RuleType = "time_window_block"
)

// RuleAction is what a failing rule does to the request.
type RuleAction string

const (
	ActionBlock         RuleAction = "block"
	ActionAlert         RuleAction = "alert"
	ActionAlertAndBlock RuleAction = "alert_and_block"
)

// Blocks reports whether the action denies the request.
func (a RuleAction) Blocks() bool {
	return a == ActionBlock || a == ActionAlertAndBlock
}

// RuleParams is the typed parameter union over rule types. Exactly one
// variant is non-nil, matching the rule's Type. Parameters are parsed and
// validated when rules are loaded, not at evaluation time.
type RuleParams struct {
	PerCallLimit  *AmountLimitParams
	DailyBudget   *AmountLimitParams
	MonthlyBudget *AmountLimitParams
	RateLimit     *RateLimitParams
	DomainList    *DomainListParams
	Methods       *MethodParams
	TimeWindow    *TimeWindowParams
}

// AmountLimitParams carries a monetary ceiling. Zero disables the check.
type AmountLimitParams struct {
	Limit float64 `json:"limit"`
}

// RateLimitParams bounds calls per fixed window.
type RateLimitParams struct {
	MaxCalls      int `json:"max_calls"`
	WindowSeconds int `json:"window_seconds"`
}

// DomainListParams lists domains for whitelist/blacklist matching. A host
// matches a listed domain when equal to it or a subdomain of it.
type DomainListParams struct {
	Domains []string `json:"domains"`
}

// MethodParams restricts HTTP methods. An empty allow-list disables the
// check rather than denying everything.
type MethodParams struct {
	AllowedMethods []string `json:"allowed_methods"`
}

// TimeWindowParams blocks requests whose local HH:MM falls in [Start, End).
type TimeWindowParams struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Rule is one typed policy unit inside a rule set. Lower priority
// evaluates first.
type Rule struct {
	ID        string
	RuleSetID string
	Name      string
	Type      RuleType
	Enabled   bool
	Action    RuleAction
	Priority  int
	Params    RuleParams
}

var hhmmRe = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// ParseRuleParams decodes the opaque JSON parameter bag for the given rule
// type into its typed variant, validating it so malformed configuration
// fails at load time.
func ParseRuleParams(typ RuleType, raw string) (RuleParams, error) {
	if strings.TrimSpace(raw) == "" {
		raw = "{}"
	}

	var p RuleParams
	switch typ {
	case RulePerCallLimit, RuleDailyBudget, RuleMonthlyBudget:
		var v AmountLimitParams
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return p, fmt.Errorf("rule params %s: %w", typ, err)
		}
		if v.Limit < 0 {
			return p, fmt.Errorf("rule params %s: negative limit %.2f", typ, v.Limit)
		}
		switch typ {
		case RulePerCallLimit:
			p.PerCallLimit = &v
		case RuleDailyBudget:
			p.DailyBudget = &v
		default:
			p.MonthlyBudget = &v
		}

	case RuleRateLimit:
		var v RateLimitParams
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return p, fmt.Errorf("rule params %s: %w", typ, err)
		}
		if v.WindowSeconds <= 0 {
			v.WindowSeconds = 60
		}
		if v.MaxCalls < 0 {
			return p, fmt.Errorf("rule params %s: negative max_calls %d", typ, v.MaxCalls)
		}
		p.RateLimit = &v

	case RuleDomainWhitelist, RuleDomainBlacklist:
		var v DomainListParams
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return p, fmt.Errorf("rule params %s: %w", typ, err)
		}
		for i, d := range v.Domains {
			v.Domains[i] = strings.ToLower(strings.TrimSpace(d))
		}
		p.DomainList = &v

	case RuleMethodRestriction:
		var v MethodParams
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return p, fmt.Errorf("rule params %s: %w", typ, err)
		}
		for i, m := range v.AllowedMethods {
			v.AllowedMethods[i] = strings.ToUpper(strings.TrimSpace(m))
		}
		p.Methods = &v

	case RuleTimeWindowBlock:
		v := TimeWindowParams{Start: "02:00", End: "06:00"}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return p, fmt.Errorf("rule params %s: %w", typ, err)
		}
		if !hhmmRe.MatchString(v.Start) || !hhmmRe.MatchString(v.End) {
			return p, fmt.Errorf("rule params %s: bad window %q-%q", typ, v.Start, v.End)
		}
		p.TimeWindow = &v

	default:
		return p, fmt.Errorf("unknown rule type %q", typ)
	}

	return p, nil
}

// HostMatches reports whether host equals domain or is a subdomain of it.
func HostMatches(host, domain string) bool {
	host = strings.ToLower(host)
	domain = strings.ToLower(domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}
