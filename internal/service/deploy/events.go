package deploy

import (
	"context"
	"log/slog"
	"time"

	"github.com/splax/kubehost/internal/domain"
	"github.com/splax/kubehost/internal/ws"
	"github.com/splax/kubehost/pkg/notify"
)

// Stage names a pipeline step.
type Stage string

const (
	StageQueued     Stage = "queued"
	StageSource     Stage = "source"
	StageDetect     Stage = "detect"
	StageDockerfile Stage = "dockerfile"
	StageBuild      Stage = "build"
	StageBootstrap  Stage = "bootstrap"
	StageLoad       Stage = "load"
	StageSynthesize Stage = "synthesize"
	StageRollout    Stage = "rollout"
	StageReady      Stage = "ready"
	StageFailed     Stage = "failed"
)

// Event is one progress notification for a deploy attempt. Build output
// lines are sent as build events with Log set.
type Event struct {
	App     string              `json:"app"`
	Attempt string              `json:"attempt_id"`
	Stage   Stage               `json:"stage"`
	Status  domain.DeployStatus `json:"status"`
	Message string              `json:"message,omitempty"`
	Log     string              `json:"log,omitempty"`
	URL     string              `json:"url,omitempty"`
	Failure *FailureReport      `json:"failure,omitempty"`
	Time    time.Time           `json:"time"`
}

// Publisher receives pipeline events. Publish must not block for long.
type Publisher interface {
	Publish(Event)
}

// Publishers fans an event out to every member.
type Publishers []Publisher

func (p Publishers) Publish(e Event) {
	for _, pub := range p {
		if pub != nil {
			pub.Publish(e)
		}
	}
}

// HubPublisher streams events to websocket subscribers of the app.
type HubPublisher struct {
	Hub    *ws.Hub
	Logger *slog.Logger
}

func (h HubPublisher) Publish(e Event) {
	if h.Hub == nil {
		return
	}
	if err := h.Hub.BroadcastJSON(e.App, e); err != nil && h.Logger != nil {
		h.Logger.Warn("failed to broadcast deploy event", "app", e.App, "stage", e.Stage, "error", err)
	}
}

// WebhookPublisher posts terminal events (ready and failed) to a webhook.
type WebhookPublisher struct {
	Hook    *notify.Webhook
	Timeout time.Duration
	Logger  *slog.Logger
}

func (w WebhookPublisher) Publish(e Event) {
	if w.Hook == nil || !e.Status.Terminal() {
		return
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	event := notify.Event{
		App:        e.App,
		Attempt:    e.Attempt,
		Stage:      string(e.Stage),
		Status:     string(e.Status),
		Message:    e.Message,
		URL:        e.URL,
		OccurredAt: e.Time,
	}
	if e.Failure != nil {
		event.Error = e.Failure.Message
	}
	if err := w.Hook.Send(ctx, event); err != nil && w.Logger != nil {
		w.Logger.Warn("deploy webhook failed", "app", e.App, "status", e.Status, "error", err)
	}
}
