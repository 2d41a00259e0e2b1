package audit

import (
	"net/url"
	"strings"

	"github.com/tjfontaine/agentguard/internal/domain"
)

// secretParams are query parameters scrubbed from logged URLs.
var secretParams = map[string]bool{
	"api_key": true,
	"apikey":  true,
	"key":     true,
	"secret":  true,
}

// sanitize redacts credentials before a transaction is persisted.
func sanitize(t domain.Transaction) domain.Transaction {
	t.TargetURL = SanitizeURL(t.TargetURL)
	if len(t.RequestHeaders) > 0 {
		clean := make(map[string]string, len(t.RequestHeaders))
		for k, v := range t.RequestHeaders {
			clean[k] = RedactHeader(k, v)
		}
		t.RequestHeaders = clean
	}
	return t
}

// RedactHeader masks credential-bearing header values, keeping a short
// prefix and suffix for correlation.
func RedactHeader(name, value string) string {
	switch strings.ToLower(name) {
	case "authorization", "x-api-key", "x-agentguard-token", "cookie":
		return maskValue(value)
	}
	return value
}

func maskValue(v string) string {
	if scheme, rest, ok := strings.Cut(v, " "); ok && rest != "" {
		return scheme + " " + maskToken(rest)
	}
	return maskToken(v)
}

func maskToken(v string) string {
	if len(v) <= 8 {
		return "***"
	}
	return v[:4] + "***" + v[len(v)-4:]
}

// SanitizeURL strips known secret-bearing query parameters from a URL.
// Unparseable input is returned unchanged.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}
	q := u.Query()
	changed := false
	for k := range q {
		if secretParams[strings.ToLower(k)] {
			q.Del(k)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}
