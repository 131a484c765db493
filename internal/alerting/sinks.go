package alerting

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/quantumlayerhq/rollforge/pkg/logger"
	"github.com/quantumlayerhq/rollforge/pkg/models"
)

func severityColor(sev models.AlertSeverity) string {
	switch sev {
	case models.AlertSeverityCritical:
		return "#FF0000"
	case models.AlertSeverityError:
		return "#FF8C00"
	case models.AlertSeverityWarning:
		return "#FFA500"
	default:
		return "#36A64F"
	}
}

// LogSink writes alerts through the structured logger. It has no
// delivery failure mode; it exists mainly as the always-on default sink.
type LogSink struct {
	min models.AlertSeverity
	log *logger.Logger
}

// NewLogSink creates a sink that logs every alert at or above min.
func NewLogSink(min models.AlertSeverity, log *logger.Logger) *LogSink {
	return &LogSink{min: min, log: log.WithComponent("alert-sink-log")}
}

func (s *LogSink) Kind() string                         { return "log" }
func (s *LogSink) MinSeverity() models.AlertSeverity     { return s.min }
func (s *LogSink) Send(ctx context.Context, a models.Alert) error {
	s.log.Info(a.Title, "severity", a.Severity.String(), "message", a.Message, "deployment_id", a.DeploymentID)
	return nil
}

// WebhookSink delivers an alert as a JSON POST, HMAC-SHA256 signed when a
// secret is configured, grounded on notifier.go's sendWebhook/computeHMAC.
type WebhookSink struct {
	min        models.AlertSeverity
	url        string
	secret     string
	headerName string // e.g. "X-RollForge-Signature"
	client     *http.Client
}

// NewWebhookSink creates a generic outbound-webhook sink.
func NewWebhookSink(min models.AlertSeverity, url, secret string) *WebhookSink {
	return &WebhookSink{min: min, url: url, secret: secret, headerName: "X-RollForge-Signature", client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *WebhookSink) Kind() string                     { return "webhook" }
func (s *WebhookSink) MinSeverity() models.AlertSeverity { return s.min }

func (s *WebhookSink) Send(ctx context.Context, a models.Alert) error {
	if s.url == "" {
		return fmt.Errorf("webhook URL not configured")
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-RollForge-Alert-Severity", a.Severity.String())
	if s.secret != "" {
		req.Header.Set(s.headerName, computeHMAC(s.secret, payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func computeHMAC(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// PagerSink is a webhook-shaped sink with no teacher analog: the spec
// lists `pager` as a distinct kind, implemented here as a thin
// specialization of WebhookSink with a bearer token instead of an HMAC
// secret, since most pager integrations (PagerDuty Events API,
// Opsgenie) authenticate that way.
type PagerSink struct {
	min    models.AlertSeverity
	url    string
	token  string
	client *http.Client
}

// NewPagerSink creates a pager-routing sink.
func NewPagerSink(min models.AlertSeverity, url, token string) *PagerSink {
	return &PagerSink{min: min, url: url, token: token, client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *PagerSink) Kind() string                     { return "pager" }
func (s *PagerSink) MinSeverity() models.AlertSeverity { return s.min }

func (s *PagerSink) Send(ctx context.Context, a models.Alert) error {
	if s.url == "" {
		return fmt.Errorf("pager URL not configured")
	}
	payload, err := json.Marshal(map[string]any{
		"summary":  a.Title,
		"details":  a.Message,
		"severity": a.Severity.String(),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("pager endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// EmailSink sends an HTML email via SMTP PlainAuth, grounded on
// notifier.go's sendEmail/buildEmailContent.
type EmailSink struct {
	min        models.AlertSeverity
	host       string
	port       int
	user       string
	password   string
	from       string
	recipients []string
}

// NewEmailSink creates an SMTP-backed email sink.
func NewEmailSink(min models.AlertSeverity, host string, port int, user, password, from string, recipients []string) *EmailSink {
	return &EmailSink{min: min, host: host, port: port, user: user, password: password, from: from, recipients: recipients}
}

func (s *EmailSink) Kind() string                     { return "email" }
func (s *EmailSink) MinSeverity() models.AlertSeverity { return s.min }

func (s *EmailSink) Send(ctx context.Context, a models.Alert) error {
	if s.host == "" || len(s.recipients) == 0 {
		return fmt.Errorf("email sink not configured")
	}

	subject := fmt.Sprintf("[RollForge] %s", a.Title)
	body := fmt.Sprintf(`<html><body>
<h2>%s</h2>
<p><strong>Severity:</strong> %s</p>
<p><strong>Message:</strong> %s</p>
<p><strong>Time:</strong> %s</p>
</body></html>`, a.Title, a.Severity.String(), a.Message, a.CreatedAt.Format(time.RFC3339))

	msg := fmt.Sprintf("From: %s\r\n", s.from)
	msg += fmt.Sprintf("To: %s\r\n", strings.Join(s.recipients, ","))
	msg += fmt.Sprintf("Subject: %s\r\n", subject)
	msg += "MIME-Version: 1.0\r\n"
	msg += "Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n"
	msg += body

	auth := smtp.PlainAuth("", s.user, s.password, s.host)
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	return smtp.SendMail(addr, auth, s.from, s.recipients, []byte(msg))
}

// ChatSink delivers to Slack or Microsoft Teams, selected by which
// webhook URL is configured, grounded on notifier.go's
// sendSlack/buildSlackMessage and sendTeams/buildTeamsMessage.
type ChatSink struct {
	min             models.AlertSeverity
	slackWebhookURL string
	slackChannel    string
	teamsWebhookURL string
	client          *http.Client
}

// NewChatSink creates a sink that posts to Slack, Teams, or both when
// both URLs are configured.
func NewChatSink(min models.AlertSeverity, slackWebhookURL, slackChannel, teamsWebhookURL string) *ChatSink {
	return &ChatSink{min: min, slackWebhookURL: slackWebhookURL, slackChannel: slackChannel, teamsWebhookURL: teamsWebhookURL, client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *ChatSink) Kind() string                     { return "chat" }
func (s *ChatSink) MinSeverity() models.AlertSeverity { return s.min }

func (s *ChatSink) Send(ctx context.Context, a models.Alert) error {
	var errs []string
	if s.slackWebhookURL != "" {
		if err := s.sendSlack(ctx, a); err != nil {
			errs = append(errs, fmt.Sprintf("slack: %v", err))
		}
	}
	if s.teamsWebhookURL != "" {
		if err := s.sendTeams(ctx, a); err != nil {
			errs = append(errs, fmt.Sprintf("teams: %v", err))
		}
	}
	if s.slackWebhookURL == "" && s.teamsWebhookURL == "" {
		return fmt.Errorf("chat sink has neither slack nor teams configured")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func (s *ChatSink) sendSlack(ctx context.Context, a models.Alert) error {
	message := map[string]any{
		"channel": s.slackChannel,
		"attachments": []map[string]any{
			{
				"color":  severityColor(a.Severity),
				"title":  a.Title,
				"text":   a.Message,
				"footer": "RollForge",
				"ts":     a.CreatedAt.Unix(),
			},
		},
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.slackWebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *ChatSink) sendTeams(ctx context.Context, a models.Alert) error {
	card := map[string]any{
		"type": "message",
		"attachments": []map[string]any{
			{
				"contentType": "application/vnd.microsoft.card.adaptive",
				"content": map[string]any{
					"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
					"type":    "AdaptiveCard",
					"version": "1.4",
					"body": []map[string]any{
						{"type": "TextBlock", "text": a.Title, "weight": "Bolder", "size": "Medium", "wrap": true},
						{"type": "TextBlock", "text": a.Message, "wrap": true},
						{"type": "TextBlock", "text": fmt.Sprintf("Severity: %s", a.Severity.String()), "isSubtle": true, "wrap": true},
					},
				},
			},
		},
	}
	payload, err := json.Marshal(card)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.teamsWebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("teams webhook returned status %d", resp.StatusCode)
	}
	return nil
}
