package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
	"github.com/vladislavdragonenkov/agroms/internal/storage/memory"
)

func TestHandler_Healthy(t *testing.T) {
	handler := NewHandler("v1.2.0")
	handler.RegisterChecker("postgres", NewSimpleChecker("postgres", func() error {
		return nil
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", response.Status)
	}
	if response.Version != "v1.2.0" {
		t.Fatalf("expected version v1.2.0, got %s", response.Version)
	}
	if len(response.Checks) != 1 || response.Checks["postgres"].Status != StatusHealthy {
		t.Fatalf("unexpected checks: %+v", response.Checks)
	}
}

func TestHandler_UnhealthyCheckerFails(t *testing.T) {
	handler := NewHandler("")
	handler.RegisterChecker("postgres", NewSimpleChecker("postgres", func() error {
		return errors.New("connection refused")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", response.Status)
	}
	if response.Checks["postgres"].Message != "connection refused" {
		t.Fatalf("expected error message in check, got %+v", response.Checks["postgres"])
	}
}

func TestOutboxChecker_DegradesOnBacklog(t *testing.T) {
	repo := memory.NewOutboxRepository(nil)
	checker := NewOutboxChecker(repo, 2)

	if check := checker.Check(); check.Status != StatusHealthy {
		t.Fatalf("empty outbox must be healthy, got %s", check.Status)
	}

	for i := 0; i < 3; i++ {
		if _, err := repo.Enqueue(domain.OutboxMessage{EventType: "sale.created"}, nil); err != nil {
			t.Fatalf("Enqueue failed: %v", err)
		}
	}

	check := checker.Check()
	if check.Status != StatusDegraded {
		t.Fatalf("backlog above threshold must degrade, got %s", check.Status)
	}
	if check.Message == "" {
		t.Fatalf("expected backlog details in message")
	}
}

func TestReadinessHandler(t *testing.T) {
	handler := NewHandler("")

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("empty handler must be ready, got %d", w.Code)
	}

	// Деградация не выводит сервис из балансировки.
	repo := memory.NewOutboxRepository(nil)
	if _, err := repo.Enqueue(domain.OutboxMessage{EventType: "sale.created"}, nil); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	handler.RegisterChecker("outbox", NewOutboxChecker(repo, 0))
	handler.RegisterChecker("degraded", CheckerFunc(func() Check {
		return Check{Name: "degraded", Status: StatusDegraded}
	}))

	w = httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("degraded service must stay ready, got %d", w.Code)
	}

	handler.RegisterChecker("postgres", NewSimpleChecker("postgres", func() error {
		return errors.New("down")
	}))
	w = httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy service must not be ready, got %d", w.Code)
	}
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
