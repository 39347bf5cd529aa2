package sender

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestWebhookSenderRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSender(2 * time.Second)
	if err := s.Send(context.Background(), srv.URL, Payload{EventID: "evt-1", Body: "help"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("call count = %d, want 3", got)
	}
}

func TestWebhookSenderDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewWebhookSender(2 * time.Second)
	if err := s.Send(context.Background(), srv.URL, Payload{EventID: "evt-2"}); err == nil {
		t.Fatalf("Send() should fail on 400")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("call count = %d, want 1 (no retries)", got)
	}
}
