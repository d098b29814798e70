package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	dispute "github.com/goliatone/go-dispute"
)

// Webhook event names.
const (
	EventReviewRequested  = "review.requested"
	EventReviewReminder   = "review.reminder"
	EventDisputeCompleted = "dispute.completed"
	EventDisputeFailed    = "dispute.failed"
)

// Envelope is the JSON body posted to webhooks.
type Envelope struct {
	Event  string    `json:"event"`
	RunID  string    `json:"run_id"`
	CaseID string    `json:"case_id"`
	SentAt time.Time `json:"sent_at"`
	Data   any       `json:"data"`
}

// Webhook posts notifications as JSON to an HTTP endpoint. The
// Idempotency-Key header lets receivers drop retried deliveries.
type Webhook struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
	Now     func() time.Time
}

func (w *Webhook) NotifyPendingReview(ctx context.Context, req dispute.ReviewRequest) error {
	event := EventReviewRequested
	if req.Reminder {
		event = EventReviewReminder
	}
	return w.post(ctx, Envelope{Event: event, RunID: req.RunID, CaseID: req.CaseID, Data: req})
}

func (w *Webhook) NotifyCompletion(ctx context.Context, notice dispute.CompletionNotice) error {
	event := EventDisputeCompleted
	if notice.Status == dispute.StatusFailed {
		event = EventDisputeFailed
	}
	return w.post(ctx, Envelope{Event: event, RunID: notice.RunID, CaseID: notice.CaseID, Data: notice})
}

func (w *Webhook) post(ctx context.Context, env Envelope) error {
	if strings.TrimSpace(w.URL) == "" {
		return fmt.Errorf("webhook url not configured")
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	env.SentAt = now().UTC()

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", env.RunID+":"+env.Event)
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook %s returned %d: %s", env.Event, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
