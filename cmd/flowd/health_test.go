package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alfredjeanlab/flowd/internal/client"
)

func useServer(t *testing.T, h http.Handler) {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	prev := flowClient
	flowClient = client.NewHTTPClient(ts.URL, "")
	t.Cleanup(func() { flowClient = prev })
}

func TestPollHealth_WaitsForReady(t *testing.T) {
	var calls atomic.Int32
	useServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, `{"error":"starting"}`, http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	status, err := pollHealth(context.Background(), time.Second, 10*time.Millisecond)
	if err != nil || status != "ok" {
		t.Fatalf("pollHealth = %q, %v", status, err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestPollHealth_SingleAttempt(t *testing.T) {
	var calls atomic.Int32
	useServer(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"status":"degraded"}`))
	}))
	status, err := pollHealth(context.Background(), 0, 10*time.Millisecond)
	if err == nil || status != "degraded" {
		t.Fatalf("pollHealth = %q, %v; want degraded with error", status, err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}
