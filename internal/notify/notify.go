// Package notify delivers alerts about loads that could not complete.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	// AlertStructuralFailure is raised when a file cannot be loaded at all,
	// e.g. a mandatory column is missing.
	AlertStructuralFailure AlertType = "structural_failure"
	// AlertLoaderBug is raised when row classification hits an unhandled case.
	AlertLoaderBug AlertType = "loader_bug"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Nop discards every alert.
type Nop struct{}

func (Nop) Notify(context.Context, Alert) error { return nil }

// WebhookNotifier posts alerts as JSON to a webhook URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhook creates a WebhookNotifier. A zero timeout means 10 seconds.
func NewWebhook(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// New returns a WebhookNotifier for url, or Nop when url is empty.
func New(url string, timeout time.Duration) Notifier {
	if url == "" {
		return Nop{}
	}
	return NewWebhook(url, timeout)
}

// Notify posts a single alert to the webhook URL.
func (n *WebhookNotifier) Notify(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "notify: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}

	zap.L().Info("notify: alert sent",
		zap.String("type", string(alert.Type)),
		zap.String("severity", alert.Severity),
	)
	return nil
}
