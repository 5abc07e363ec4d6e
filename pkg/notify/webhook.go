// Package notify posts deploy outcomes to an optional callback URL.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout   = 10 * time.Second
	maxErrorBodySize = 4096
)

// ErrRejected indicates the callback answered with a client error.
var ErrRejected = errors.New("deploy callback rejected")

// Webhook sends deploy events to a callback endpoint.
type Webhook struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// Event is the callback payload.
type Event struct {
	App        string
	Attempt    string
	Stage      string
	Status     string
	Message    string
	URL        string
	Error      string
	OccurredAt time.Time
}

// NewWebhook creates a Webhook posting to url.
func NewWebhook(url string, client *http.Client) (*Webhook, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, errors.New("deploy callback url required")
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		return nil, fmt.Errorf("deploy callback url must be http(s): %q", trimmed)
	}
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	} else if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}
	return &Webhook{url: trimmed, client: client, now: time.Now}, nil
}

// Send posts the event.
func (w *Webhook) Send(ctx context.Context, event Event) error {
	if w == nil {
		return errors.New("deploy callback not initialised")
	}
	if strings.TrimSpace(event.App) == "" {
		return errors.New("deploy callback requires app")
	}
	body, err := json.Marshal(buildPayload(event, w.now))
	if err != nil {
		return fmt.Errorf("marshal callback event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "kubehost")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send callback request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return errorForStatus(resp)
	}
	return nil
}

func errorForStatus(resp *http.Response) error {
	buf, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	summary := strings.TrimSpace(string(buf))
	if summary == "" {
		summary = resp.Status
	}
	if resp.StatusCode < http.StatusInternalServerError {
		return fmt.Errorf("%w (%d): %s", ErrRejected, resp.StatusCode, summary)
	}
	return fmt.Errorf("deploy callback failed (%d): %s", resp.StatusCode, summary)
}

func buildPayload(event Event, nowFn func() time.Time) map[string]any {
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = nowFn()
	}
	payload := map[string]any{
		"app":         strings.TrimSpace(event.App),
		"attempt_id":  event.Attempt,
		"stage":       event.Stage,
		"status":      event.Status,
		"message":     strings.TrimSpace(event.Message),
		"occurred_at": occurred.UTC().Format(time.RFC3339Nano),
	}
	if event.URL != "" {
		payload["url"] = event.URL
	}
	if event.Error != "" {
		payload["error"] = event.Error
	}
	return payload
}
