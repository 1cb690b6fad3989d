package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Notifier signals the external report pipeline (PDF + completion email)
// that a session just finished. The pipeline does its own work; this side
// only emits the signal, fire-and-forget.
type Notifier interface {
	Trigger(ctx context.Context, sessionID string)
}

// LogNotifier records completions in the log. Used in ENV=local, or when no
// webhook is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func (n *LogNotifier) Trigger(ctx context.Context, sessionID string) {
	n.logger.InfoContext(ctx, "questionnaire completed", "session_id", sessionID)
}

// WebhookNotifier POSTs the session id to the completion pipeline. Failures
// are logged, never surfaced: the questionnaire result is already durable
// and the pipeline reconciles on its own schedule.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

func (n *WebhookNotifier) Trigger(ctx context.Context, sessionID string) {
	payload, err := json.Marshal(map[string]string{"sessionId": sessionID})
	if err != nil {
		n.logger.ErrorContext(ctx, "completion payload", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		n.logger.ErrorContext(ctx, "completion request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.ErrorContext(ctx, "completion webhook", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.ErrorContext(ctx, "completion webhook",
			"error", fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
}

// NewNotifier returns a WebhookNotifier when a URL is configured, otherwise
// a LogNotifier.
func NewNotifier(webhookURL string, logger *slog.Logger) Notifier {
	logger = logger.With("component", "completion")
	if webhookURL == "" {
		return &LogNotifier{logger: logger}
	}
	return &WebhookNotifier{
		url:    webhookURL,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}
