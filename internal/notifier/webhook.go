package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	perrors "github.com/yairfalse/permitwatch/internal/errors"
	"github.com/yairfalse/permitwatch/pkg/types"
)

// WebhookPayload is the JSON body posted to generic webhooks
type WebhookPayload struct {
	Timestamp time.Time        `json:"timestamp"`
	Source    string           `json:"source"`
	Subject   string           `json:"subject"`
	Body      string           `json:"body"`
	IsError   bool             `json:"is_error"`
	Summary   WebhookSummary   `json:"summary"`
	Report    types.DiffReport `json:"report,omitempty"`
}

// WebhookSummary counts what the report contains
type WebhookSummary struct {
	Permits int `json:"permits"`
	NewDays int `json:"new_days"`
}

// WebhookNotifier posts messages as JSON. Slack incoming webhooks get a
// Slack-formatted body.
type WebhookNotifier struct {
	url      string
	errorURL string
	client   *http.Client
	now      func() time.Time
}

// NewWebhookNotifier creates a webhook notifier. Error messages go to
// errorURL when set, otherwise to url.
func NewWebhookNotifier(url, errorURL string) *WebhookNotifier {
	return &WebhookNotifier{
		url:      url,
		errorURL: errorURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		now:      time.Now,
	}
}

func (w *WebhookNotifier) Send(ctx context.Context, msg Message) error {
	target := w.url
	if msg.IsError && w.errorURL != "" {
		target = w.errorURL
	}
	if target == "" {
		return nil
	}

	var payload interface{}
	if isSlackURL(target) {
		payload = w.buildSlackPayload(msg)
	} else {
		payload = w.buildPayload(msg)
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return perrors.NotificationError("webhook", fmt.Errorf("failed to marshal webhook payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(jsonData))
	if err != nil {
		return perrors.NotificationError("webhook", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return perrors.NotificationError("webhook", fmt.Errorf("failed to send webhook: %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return perrors.NotificationError("webhook", fmt.Errorf("webhook returned error status: %d", resp.StatusCode))
	}
	return nil
}

func (w *WebhookNotifier) buildPayload(msg Message) WebhookPayload {
	return WebhookPayload{
		Timestamp: w.now(),
		Source:    "permitwatch",
		Subject:   msg.Subject,
		Body:      msg.Body,
		IsError:   msg.IsError,
		Summary: WebhookSummary{
			Permits: len(msg.Report),
			NewDays: msg.Report.DayCount(),
		},
		Report: msg.Report,
	}
}

func (w *WebhookNotifier) buildSlackPayload(msg Message) map[string]interface{} {
	color := "good"
	if msg.IsError {
		color = "danger"
	}
	return map[string]interface{}{
		"text": msg.Subject,
		"attachments": []map[string]interface{}{
			{
				"color": color,
				"text":  fmt.Sprintf("```\n%s\n```", strings.TrimRight(msg.Body, "\n")),
			},
		},
	}
}

func isSlackURL(url string) bool {
	return strings.Contains(url, "hooks.slack.com")
}
