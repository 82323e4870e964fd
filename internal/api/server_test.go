package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tokenflow/internal/auth"
	"tokenflow/internal/journal"

	"github.com/prometheus/client_golang/prometheus"
)

func seededServer(t *testing.T) *Server {
	t.Helper()
	store := journal.NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &journal.Run{ID: "run-success", Network: "anvil", State: "init"}); err != nil {
		t.Fatalf("create sample run: %v", err)
	}
	if err := store.Transition(ctx, "run-success", journal.Step{From: "init", To: "key_generated", Attributes: map[string]string{"signer": "0xabc"}}); err != nil {
		t.Fatalf("transition sample run: %v", err)
	}
	if err := store.Finish(ctx, "run-success", journal.Completion{Status: journal.StatusSucceeded, State: "done"}); err != nil {
		t.Fatalf("finish sample run: %v", err)
	}
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "tokenflow_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()
	return NewServer(":0", store, registry, nil)
}

func TestHandleRunDetailSuccess(t *testing.T) {
	server := seededServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run-success", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var got journal.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != "run-success" || got.Status != journal.StatusSucceeded {
		t.Fatalf("unexpected run: %+v", got)
	}
	if len(got.Steps) != 1 || got.Steps[0].Attributes["signer"] != "0xabc" {
		t.Fatalf("unexpected steps: %+v", got.Steps)
	}
}

func TestHandleRunDetailErrors(t *testing.T) {
	server := seededServer(t)

	t.Run("invalid method", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/runs/run-success", nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/", nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "RUN_NOT_FOUND") {
			t.Fatalf("expected error code in body, got %s", rec.Body.String())
		}
	})
}

func TestHandleRunsList(t *testing.T) {
	server := seededServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=5", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	var runs []journal.Run
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-success" {
		t.Fatalf("unexpected runs: %+v", runs)
	}

	bad := httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=zero", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, bad)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server := seededServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tokenflow_test_total 1") {
		t.Fatalf("metric missing from exposition: %s", rec.Body.String())
	}
}

func TestRunsRequireToken(t *testing.T) {
	store := journal.NewMemoryStore()
	server := NewServer(":0", store, prometheus.NewRegistry(), auth.NewGuard("s3cret"))

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("health check must not need a token, got %d", rec.Code)
	}
}

func TestShutdownRejectsRequests(t *testing.T) {
	server := seededServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	withContext(ctx, server.Handler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
}
