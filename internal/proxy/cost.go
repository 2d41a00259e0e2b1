package proxy

import (
	"encoding/json"
	"strings"
)

// defaultTokenEstimate stands in when a completion request does not cap
// max_tokens.
const defaultTokenEstimate = 1000

// perThousandTokenRate is the flat completion pricing used for
// estimation.
const perThousandTokenRate = 0.002

// Aliases whose request shapes the estimator understands.
const (
	paymentAlias    = "stripe"
	completionAlias = "openai"
)

// EstimateCost derives a dollar estimate from the request shape. Only
// shallow, well-known fields of known aliases are read; anything else
// estimates to zero. Payment paths carry an `amount` in cents,
// completion paths a `max_tokens` cap.
func EstimateCost(alias, path string, body []byte) float64 {
	switch {
	case alias == paymentAlias && (strings.Contains(path, "/charges") || strings.Contains(path, "/payment_intents")):
		var payload struct {
			Amount float64 `json:"amount"`
		}
		if err := json.Unmarshal(body, &payload); err != nil || payload.Amount <= 0 {
			return 0
		}
		return payload.Amount / 100
	case alias == completionAlias && strings.Contains(path, "/chat/completions"):
		var payload struct {
			MaxTokens float64 `json:"max_tokens"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return float64(defaultTokenEstimate) / 1000 * perThousandTokenRate
		}
		tokens := payload.MaxTokens
		if tokens <= 0 {
			tokens = defaultTokenEstimate
		}
		return tokens / 1000 * perThousandTokenRate
	}
	return 0
}
