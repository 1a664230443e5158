// Package notify implements the Notification sink consumed interface (§6)
// over HTTP: a best-effort, non-transactional POST of an Event's JSON body
// to a configured webhook URL — one call, no retry, just a status-code
// check, since nothing richer is needed to "POST this payload and look at
// the result."
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/worldforge/orchestrator/internal/aggregator"
	"github.com/worldforge/orchestrator/internal/domain"
)

// HTTPNotifier implements internal/eventbus.Sink and
// internal/aggregator.NotificationSink by POSTing a JSON body to url.
// Failures are returned to the caller, never panicked — per §6,
// notification is best-effort and must not corrupt internal state if the
// sink is unreachable.
type HTTPNotifier struct {
	URL    string
	Client *http.Client
}

// NewHTTPNotifier constructs a notifier posting to url with a default
// client (timeouts are expected to be supplied via context, matching
// HTTPTool's own pattern).
func NewHTTPNotifier(url string) *HTTPNotifier {
	return &HTTPNotifier{URL: url, Client: &http.Client{}}
}

// Publish implements internal/eventbus.Sink: it POSTs the event as JSON and
// swallows the error, since a Sink attached to the bus must never block or
// fail delivery to other consumers. Callers that need the error (e.g. the
// aggregator's Notify, which the run state machine's retry policy acts on)
// should call Post directly instead.
func (h *HTTPNotifier) Publish(event domain.Event) {
	_ = h.Post(context.Background(), event)
}

// Post sends event as a JSON body and returns any transport or non-2xx
// response error.
func (h *HTTPNotifier) Post(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification sink responded %d", resp.StatusCode)
	}
	return nil
}

// Notify implements internal/aggregator.NotificationSink by posting the
// rendered summary as an Event of kind RunCompleted.
func (h *HTTPNotifier) Notify(ctx context.Context, summary aggregator.Summary) error {
	return h.Post(ctx, domain.Event{Kind: domain.EventRunCompleted, RunID: summary.RunID, Message: summary.Text})
}

var _ aggregator.NotificationSink = (*HTTPNotifier)(nil)
