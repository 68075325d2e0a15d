// Package health отдаёт состояние сервиса и его зависимостей для проб оркестратора.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout ограничивает одну проверку.
const DefaultCheckTimeout = 2 * time.Second

var dependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "payflow_dependency_up",
	Help: "Result of the last health check per dependency: 1 healthy, 0 failing.",
}, []string{"check"})

// Status: итог проверки.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check: результат проверки одного компонента.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	Optional   bool   `json:"optional,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response: тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Ready сообщает, можно ли направлять трафик: degraded считается готовым.
func (r Response) Ready() bool { return r.Status != StatusUnhealthy }

// Checker: проверка одной зависимости; nil означает здоровое состояние.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckFunc превращает функцию в Checker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Option настраивает Handler.
type Option func(*Handler)

// WithCheckTimeout задаёт ограничение на одну проверку.
func WithCheckTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

type registration struct {
	checker  Checker
	optional bool
}

// Handler выполняет зарегистрированные проверки параллельно.
type Handler struct {
	mu      sync.RWMutex
	entries map[string]registration
	version string
	timeout time.Duration
	started time.Time
	now     func() time.Time
}

// NewHandler создаёт пустой набор проверок.
func NewHandler(version string, opts ...Option) *Handler {
	h := &Handler{
		entries: make(map[string]registration),
		version: version,
		timeout: DefaultCheckTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.started = h.now()
	return h
}

// RegisterChecker регистрирует обязательную проверку: её отказ делает сервис неготовым.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.register(name, checker, false)
}

// RegisterOptional регистрирует проверку, отказ которой понижает статус до degraded.
func (h *Handler) RegisterOptional(name string, checker Checker) {
	h.register(name, checker, true)
}

func (h *Handler) register(name string, checker Checker, optional bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[name] = registration{checker: checker, optional: optional}
}

// Run выполняет все проверки и вычисляет общий статус.
func (h *Handler) Run(ctx context.Context) Response {
	h.mu.RLock()
	entries := make(map[string]registration, len(h.entries))
	for name, p := range h.entries {
		entries[name] = p
	}
	h.mu.RUnlock()

	var (
		mu     sync.Mutex
		g      errgroup.Group
		checks = make(map[string]Check, len(entries))
	)
	for name, p := range entries {
		g.Go(func() error {
			check := h.runOne(ctx, name, p)
			mu.Lock()
			checks[name] = check
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return Response{
		Status:        aggregate(checks),
		Timestamp:     h.now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(h.now().Sub(h.started).Seconds()),
	}
}

func (h *Handler) runOne(ctx context.Context, name string, p registration) Check {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := h.now()
	err := p.checker.Check(ctx)
	check := Check{
		Name:       name,
		Status:     StatusHealthy,
		Optional:   p.optional,
		DurationMs: h.now().Sub(start).Milliseconds(),
	}
	if err == nil {
		dependencyUp.WithLabelValues(name).Set(1)
		return check
	}
	dependencyUp.WithLabelValues(name).Set(0)
	check.Message = err.Error()
	check.Status = StatusUnhealthy
	if p.optional {
		check.Status = StatusDegraded
	}
	return check
}

func aggregate(checks map[string]Check) Status {
	overall := StatusHealthy
	for _, c := range checks {
		switch c.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// ServeHTTP отдаёт подробный отчёт; 503 только при отказе обязательной проверки.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.Run(r.Context())
	code := http.StatusOK
	if !response.Ready() {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler отвечает 200, пока процесс обслуживает HTTP.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

// ReadinessHandler: проверка готовности без тела отчёта.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !h.Run(r.Context()).Ready() {
		writeText(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writeText(w, http.StatusOK, "ready")
}

func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}
