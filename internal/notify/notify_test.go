package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"taskline/internal/config"
	"taskline/internal/notify"
)

func TestNoopWhenUnconfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Notifier.WebhookURL = ""
	gw := notify.NewGateway(cfg)
	err := gw.Send(context.Background(), notify.KindAssigned, []string{"a@example.test"}, notify.Payload{Title: "x"})
	if err != nil {
		t.Fatalf("noop gateway must never fail: %v", err)
	}
}

func TestWebhookDelivery(t *testing.T) {
	var got struct {
		Kind       string            `json:"kind"`
		Recipients []string          `json:"recipients"`
		Payload    map[string]string `json:"payload"`
		SentAt     string            `json:"sent_at"`
	}
	var contentType string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad webhook body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	cfg := config.Default()
	cfg.Notifier.WebhookURL = ts.URL
	gw := notify.NewGateway(cfg)

	err := gw.Send(context.Background(), notify.KindDeadlineReminder, []string{"emp@example.test"}, notify.Payload{
		Title:   "Deadline approaching",
		Message: "due soon",
		TaskRef: "TASK-20260302-0001",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if contentType != "application/json" {
		t.Fatalf("unexpected content type %q", contentType)
	}
	if got.Kind != "deadline-reminder" {
		t.Fatalf("unexpected kind %q", got.Kind)
	}
	if len(got.Recipients) != 1 || got.Recipients[0] != "emp@example.test" {
		t.Fatalf("unexpected recipients %v", got.Recipients)
	}
	if got.Payload["task_ref"] != "TASK-20260302-0001" {
		t.Fatalf("unexpected payload %v", got.Payload)
	}
	if got.SentAt == "" {
		t.Fatal("sent_at missing")
	}
}

func TestWebhookRejectsErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	cfg := config.Default()
	cfg.Notifier.WebhookURL = ts.URL
	gw := notify.NewGateway(cfg)

	err := gw.Send(context.Background(), notify.KindAssigned, []string{"a@example.test"}, notify.Payload{Title: "x"})
	if err == nil {
		t.Fatal("expected an error for a 502 response")
	}
}

func TestWebhookSkipsEmptyRecipients(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
	}))
	defer ts.Close()

	cfg := config.Default()
	cfg.Notifier.WebhookURL = ts.URL
	gw := notify.NewGateway(cfg)

	if err := gw.Send(context.Background(), notify.KindAssigned, nil, notify.Payload{Title: "x"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no webhook call for zero recipients, got %d", calls)
	}
}
