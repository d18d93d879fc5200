package webhook_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/justapithecus/memtrace/adapter"
	"github.com/justapithecus/memtrace/adapter/webhook"
)

func sampleEvent() *adapter.LeakReportEvent {
	return &adapter.LeakReportEvent{
		EventType:  "leak_report",
		SessionID:  "s-1",
		Strategy:   "global",
		TotalLeaks: 1,
		Leaks: []adapter.LeakEntry{
			{PassportID: "p-1", Address: 0x2000, SizeBytes: 512, LastContext: "ffi"},
		},
	}
}

func TestPublish_PostsJSON(t *testing.T) {
	var received adapter.LeakReportEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := webhook.New(webhook.Config{URL: srv.URL})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := a.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if received.TotalLeaks != 1 || received.Leaks[0].PassportID != "p-1" {
		t.Errorf("payload mismatch: %+v", received)
	}
}

func TestPublish_RetriesOn5xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := webhook.New(webhook.Config{URL: srv.URL, Retries: 3})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := a.Publish(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Publish failed after retries: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestPublish_4xxNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a, err := webhook.New(webhook.Config{URL: srv.URL, Retries: 3})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := a.Publish(context.Background(), sampleEvent()); err == nil {
		t.Fatalf("expected error on 400")
	}
	if calls.Load() != 1 {
		t.Errorf("4xx retried: %d calls", calls.Load())
	}
}

func TestNew_RequiresURL(t *testing.T) {
	if _, err := webhook.New(webhook.Config{}); err == nil {
		t.Errorf("empty URL accepted")
	}
}
