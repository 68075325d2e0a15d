package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CredentialMetrics считает обновления сервисного токена.
type CredentialMetrics struct {
	refreshes *prometheus.CounterVec
}

// NewCredentialMetrics создаёт метрики кеша токена.
func NewCredentialMetrics(registerer prometheus.Registerer) *CredentialMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &CredentialMetrics{
		refreshes: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payflow_credential_refresh_total",
			Help: "Total number of service credential fetches by result",
		}, []string{"result"})),
	}
}

// RecordRefresh учитывает результат похода за токеном.
func (m *CredentialMetrics) RecordRefresh(ok bool) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(resultLabel(ok)).Inc()
}

// GatewayMetrics описывает запросы к внешнему шлюзу.
type GatewayMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewGatewayMetrics создаёт метрики клиента шлюза.
func NewGatewayMetrics(registerer prometheus.Registerer) *GatewayMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &GatewayMetrics{
		requests: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payflow_gateway_requests_total",
			Help: "Total number of gateway requests by endpoint and outcome",
		}, []string{"endpoint", "outcome"})),
		duration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payflow_gateway_request_duration_seconds",
			Help:    "Duration of gateway requests in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"endpoint"})),
	}
}

// Исходы запроса к шлюзу.
const (
	OutcomeOK           = "ok"
	OutcomeUnauthorized = "unauthorized"
	OutcomeRejected     = "rejected"
	OutcomeError        = "error"
)

// RecordRequest учитывает одну попытку запроса.
func (m *GatewayMetrics) RecordRequest(endpoint, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, outcome).Inc()
	m.duration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// PaymentMetrics считает исполнения стратегий оплаты.
type PaymentMetrics struct {
	payments *prometheus.CounterVec
}

// NewPaymentMetrics создаёт метрики роутера оплаты.
func NewPaymentMetrics(registerer prometheus.Registerer) *PaymentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &PaymentMetrics{
		payments: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payflow_payments_total",
			Help: "Total number of payment executions by strategy and outcome",
		}, []string{"strategy", "outcome"})),
	}
}

// RecordPayment учитывает исход оплаты.
func (m *PaymentMetrics) RecordPayment(strategy, outcome string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(strategy, outcome).Inc()
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
