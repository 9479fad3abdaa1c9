// Package health отдаёт состояние сервиса саги для проб оркестратора:
// /healthz с деталями по компонентам, /livez и /readyz.
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/agroms/internal/domain"
)

// Status — статус компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check — результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response — тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker выполняет проверку одного компонента.
type Checker interface {
	Check() Check
}

// CheckerFunc адаптирует функцию к интерфейсу Checker.
type CheckerFunc func() Check

// Check вызывает функцию.
func (f CheckerFunc) Check() Check {
	return f()
}

// NewSimpleChecker строит Checker из функции-пинга: nil — healthy,
// ошибка — unhealthy с её текстом.
func NewSimpleChecker(name string, ping func() error) Checker {
	return CheckerFunc(func() Check {
		started := time.Now()
		err := ping()
		check := Check{
			Name:       name,
			Status:     StatusHealthy,
			DurationMs: time.Since(started).Milliseconds(),
		}
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		}
		return check
	})
}

// NewOutboxChecker следит за backlog transactional outbox. Растущий backlog
// означает, что события саги не доходят до брокера: сервис ещё жив, но
// деградирует, а при недоступной статистике — unhealthy.
func NewOutboxChecker(repo domain.OutboxRepository, maxPending int) Checker {
	return CheckerFunc(func() Check {
		started := time.Now()
		check := Check{Name: "outbox", Status: StatusHealthy}

		stats, err := repo.Stats()
		check.DurationMs = time.Since(started).Milliseconds()
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
			return check
		}
		if maxPending > 0 && stats.PendingCount > maxPending {
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("%d pending events, oldest from %s",
				stats.PendingCount, stats.OldestPendingAt.Format(time.RFC3339))
		}
		return check
	})
}

// Handler агрегирует зарегистрированные проверки.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	startedAt time.Time
}

// NewHandler создаёт handler без проверок; сервис с пустым набором healthy.
func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		startedAt: time.Now(),
	}
}

// RegisterChecker добавляет проверку под именем name.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// run выполняет все проверки и сводит общий статус: unhealthy перебивает
// degraded, degraded перебивает healthy.
func (h *Handler) run() (Status, map[string]Check) {
	h.mu.RLock()
	checkers := make(map[string]Checker, len(h.checkers))
	for name, checker := range h.checkers {
		checkers[name] = checker
	}
	h.mu.RUnlock()

	overall := StatusHealthy
	checks := make(map[string]Check, len(checkers))
	for name, checker := range checkers {
		check := checker.Check()
		checks[name] = check

		switch check.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return overall, checks
}

// ServeHTTP отдаёт подробный отчёт; 503 только при unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	overall, checks := h.run()

	code := http.StatusOK
	if overall == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Response{
		Status:        overall,
		Timestamp:     time.Now(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	})
}

// ReadinessHandler — проба готовности: degraded сервис продолжает
// принимать трафик, unhealthy выводится из балансировки.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	overall, _ := h.run()
	if overall == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// LivenessHandler — проба живости процесса, всегда 200.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
