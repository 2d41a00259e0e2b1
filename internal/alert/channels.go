package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/tjfontaine/agentguard/internal/domain"
)

// LocalNotifier surfaces the alert in the service's own log stream.
type LocalNotifier struct {
	Logger *slog.Logger
}

func (n *LocalNotifier) Notify(_ context.Context, _ domain.AlertChannel, ev *domain.AlertEvent) error {
	n.Logger.Warn("ALERT "+ev.Title,
		slog.String("alert_id", ev.ID),
		slog.String("severity", string(ev.Severity)),
		slog.String("type", ev.Type),
		slog.String("agent_id", ev.AgentID),
		slog.String("message", ev.Message))
	return nil
}

// WebhookNotifier POSTs a JSON payload to the channel's configured URL.
// When the channel carries a shared secret, the body is signed with
// HMAC-SHA256 so receivers can verify origin and integrity.
type WebhookNotifier struct {
	Client *http.Client
}

// NewWebhookNotifier builds a notifier with the delivery timeout applied.
func NewWebhookNotifier() *WebhookNotifier {
	return &WebhookNotifier{Client: &http.Client{Timeout: 5 * time.Second}}
}

// webhookPayload is the wire shape delivered to webhook receivers.
type webhookPayload struct {
	Event     string         `json:"event"`
	Severity  string         `json:"severity"`
	AgentID   string         `json:"agent_id,omitempty"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp string         `json:"timestamp"`
	Source    string         `json:"source"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, ch domain.AlertChannel, ev *domain.AlertEvent) error {
	url := ch.Config["url"]
	if url == "" {
		return fmt.Errorf("webhook channel %q has no url", ch.Name)
	}

	body, err := json.Marshal(webhookPayload{
		Event:     ev.Type,
		Severity:  string(ev.Severity),
		AgentID:   ev.AgentID,
		Title:     ev.Title,
		Message:   ev.Message,
		Details:   ev.Details,
		Timestamp: ev.CreatedAt.UTC().Format(time.RFC3339),
		Source:    "agentguard",
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "agentguard-alerts/1.0")
	if secret := ch.Config["secret"]; secret != "" {
		req.Header.Set("X-AgentGuard-Signature", Sign(secret, body))
		req.Header.Set("X-AgentGuard-Timestamp", strconv.FormatInt(ev.CreatedAt.Unix(), 10))
	}

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook receiver returned %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the webhook signature header value for a payload.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature against the payload.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// EmailNotifier delivers alerts over SMTP. Channel config keys:
// smtp_host, smtp_port, from, to (comma separated), and optional
// username/password for plain auth.
type EmailNotifier struct{}

func (n *EmailNotifier) Notify(_ context.Context, ch domain.AlertChannel, ev *domain.AlertEvent) error {
	host := ch.Config["smtp_host"]
	from := ch.Config["from"]
	to := ch.Config["to"]
	if host == "" || from == "" || to == "" {
		return fmt.Errorf("email channel %q missing smtp_host, from, or to", ch.Name)
	}
	port := ch.Config["smtp_port"]
	if port == "" {
		port = "587"
	}
	recipients := strings.Split(to, ",")
	for i := range recipients {
		recipients[i] = strings.TrimSpace(recipients[i])
	}

	var auth smtp.Auth
	if user := ch.Config["username"]; user != "" {
		auth = smtp.PlainAuth("", user, ch.Config["password"], host)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(recipients, ", "))
	fmt.Fprintf(&msg, "Subject: [%s] %s\r\n", strings.ToUpper(string(ev.Severity)), ev.Title)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\n\nAlert: %s\nSeverity: %s\nAgent: %s\nTime: %s\n",
		ev.Message, ev.Type, ev.Severity, ev.AgentID, ev.CreatedAt.UTC().Format(time.RFC3339))

	if err := smtp.SendMail(host+":"+port, auth, from, recipients, msg.Bytes()); err != nil {
		return fmt.Errorf("send alert mail: %w", err)
	}
	return nil
}
