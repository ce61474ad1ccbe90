// Package notify is the outbound notification boundary. Delivery is strictly
// best-effort: callers log failures and move on, a failed send never unwinds
// the mutation that triggered it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"taskline/internal/config"
)

const userAgent = "Taskline/0.1.0"

// Kind names a notification event.
type Kind string

const (
	KindAssigned         Kind = "assigned"
	KindCompleted        Kind = "completed"
	KindVerified         Kind = "verified"
	KindCancelled        Kind = "cancelled"
	KindReassigned       Kind = "reassigned"
	KindDeadlineReminder Kind = "deadline-reminder"
	KindOverdueFirst     Kind = "overdue-first"
	KindOverdueFollowup  Kind = "overdue-followup"
	KindEscalationTier1  Kind = "escalation-tier1"
	KindEscalationTier2  Kind = "escalation-tier2"
	KindDailyDigest      Kind = "daily-digest"
)

// Payload is the renderable content of one notification.
type Payload struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	TaskRef  string `json:"task_ref,omitempty"`
	Priority string `json:"priority,omitempty"`
}

// Gateway delivers a notification to a set of recipients (email addresses).
type Gateway interface {
	Send(ctx context.Context, kind Kind, recipients []string, p Payload) error
}

// NewGateway builds a webhook-backed gateway when an endpoint is configured,
// otherwise a noop.
func NewGateway(cfg *config.Config) Gateway {
	endpoint := strings.TrimSpace(cfg.Notifier.WebhookURL)
	if endpoint == "" {
		return noopGateway{}
	}
	timeout := time.Duration(cfg.Notifier.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &webhookGateway{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type noopGateway struct{}

func (noopGateway) Send(context.Context, Kind, []string, Payload) error { return nil }

type webhookGateway struct {
	endpoint string
	client   *http.Client
}

type webhookBody struct {
	Kind       Kind     `json:"kind"`
	Recipients []string `json:"recipients"`
	Payload    Payload  `json:"payload"`
	SentAt     string   `json:"sent_at"`
}

func (g *webhookGateway) Send(ctx context.Context, kind Kind, recipients []string, p Payload) error {
	if len(recipients) == 0 {
		return nil
	}
	body, err := json.Marshal(webhookBody{
		Kind:       kind,
		Recipients: recipients,
		Payload:    p,
		SentAt:     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver %s notification: %w", kind, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("deliver %s notification: unexpected status %d", kind, resp.StatusCode)
	}
	return nil
}

// Sent is one delivery captured by a Recorder.
type Sent struct {
	Kind       Kind
	Recipients []string
	Payload    Payload
}

// Recorder is an in-memory Gateway. Tests use it to assert on exact
// notification traffic; the Fail hook simulates delivery outages.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent

	// Fail, when set, is consulted per send; a true result drops the
	// notification and returns an error.
	Fail func(kind Kind) bool
}

func (r *Recorder) Send(_ context.Context, kind Kind, recipients []string, p Payload) error {
	if r.Fail != nil && r.Fail(kind) {
		return fmt.Errorf("delivery refused for %s", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{Kind: kind, Recipients: append([]string(nil), recipients...), Payload: p})
	return nil
}

// All returns a copy of everything sent so far.
func (r *Recorder) All() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

// ByKind returns sends of one kind.
func (r *Recorder) ByKind(kind Kind) []Sent {
	var out []Sent
	for _, s := range r.All() {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// Reset clears the captured log.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
