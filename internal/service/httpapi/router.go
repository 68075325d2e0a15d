// Package httpapi обслуживает HTTP-часть сервиса: уведомления процессора, метрики и пробы.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payflow/internal/health"
)

// WebhookPath: адрес уведомлений платёжного процессора.
const WebhookPath = "/webhooks/processor"

// Options задаёт обработчики роутера. Nil-поля отключают соответствующие маршруты.
type Options struct {
	Callbacks CallbackSink
	Health    *health.Handler
	Metrics   http.Handler
	Logger    *log.Entry
}

// NewRouter собирает chi-роутер.
func NewRouter(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "http")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	metricsHandler := opts.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Get("/livez", health.LivenessHandler)
	if opts.Health != nil {
		r.Method(http.MethodGet, "/healthz", opts.Health)
		r.Get("/readyz", opts.Health.ReadinessHandler)
	}

	if opts.Callbacks != nil {
		r.Post(WebhookPath, NewWebhookHandler(opts.Callbacks, logger).ServeHTTP)
	}

	return r
}

func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			// Пробы и метрики опрашиваются постоянно и засоряют лог.
			if r.URL.Path != WebhookPath {
				return
			}
			logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			}).Debug("http request")
		})
	}
}
