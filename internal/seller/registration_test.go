package seller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testRegistrationConfig(url string) RegistrationConfig {
	return RegistrationConfig{
		MarketplaceBaseURL: url,
		AgentName:          "xy-archivist",
		BaseURL:            "http://localhost:8010",
		Description:        "Archive research agent",
		Tags:               []string{"research"},
		Attempts:           3,
		Delay:              time.Millisecond,
	}
}

func TestRegisterSuccess(t *testing.T) {
	var calls atomic.Int32
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/register" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   "success",
			"agent_id": "0b7ffca8-0000-0000-0000-000000000001",
			"version":  1,
		})
	}))
	defer srv.Close()

	c := NewRegistrationClient(testRegistrationConfig(srv.URL), nil, nil)
	c.Register(context.Background())

	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
	if gotBody["agent_name"] != "xy-archivist" {
		t.Fatalf("unexpected body: %+v", gotBody)
	}
	if gotBody["base_url"] != "http://localhost:8010" {
		t.Fatalf("unexpected base_url: %+v", gotBody["base_url"])
	}
	if _, hasID := gotBody["agent_id"]; hasID {
		t.Fatalf("registration must not send agent_id: %+v", gotBody)
	}
}

func TestRegisterConflictIsSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := NewRegistrationClient(testRegistrationConfig(srv.URL), nil, nil)
	c.Register(context.Background())

	if calls.Load() != 1 {
		t.Fatalf("409 must not be retried, got %d calls", calls.Load())
	}
}

func TestRegisterRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"success","agent_id":"a","version":1}`))
	}))
	defer srv.Close()

	c := NewRegistrationClient(testRegistrationConfig(srv.URL), nil, nil)
	c.Register(context.Background())

	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestRegisterGivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// Must return (and only log) instead of panicking or hanging.
	c := NewRegistrationClient(testRegistrationConfig(srv.URL), nil, nil)
	c.Register(context.Background())

	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestRegisterStopsOnContextCancel(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testRegistrationConfig(srv.URL)
	cfg.Delay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewRegistrationClient(cfg, nil, nil).Register(ctx)
		close(done)
	}()

	// Give the first attempt time to land, then cancel during the delay.
	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Register did not stop on context cancel")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 attempt before cancel, got %d", calls.Load())
	}
}
