package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики оформления заказов.
type OrderMetrics struct {
	// Счётчики операций
	ordersCreated   prometheus.Counter
	ordersFailed    *prometheus.CounterVec
	ordersCancelled prometheus.Counter
	ordersConfirmed prometheus.Counter

	// Гистограммы времени выполнения
	createDuration prometheus.Histogram
	stepDuration   *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	activeCreations prometheus.Gauge
}

// NewOrderMetrics создаёт метрики в DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer создаёт метрики в заданном реестре.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		ordersCreated: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payflow_orders_created_total",
			Help: "Total number of orders persisted",
		})),
		ordersFailed: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payflow_orders_failed_total",
			Help: "Total number of order creations that failed, by step",
		}, []string{"step"})),
		ordersCancelled: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payflow_orders_cancelled_total",
			Help: "Total number of orders cancelled",
		})),
		ordersConfirmed: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payflow_orders_confirmed_total",
			Help: "Total number of orders confirmed",
		})),
		createDuration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "payflow_order_create_duration_seconds",
			Help:    "Duration of order creation in seconds",
			Buckets: prometheus.DefBuckets,
		})),
		stepDuration: register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payflow_order_step_duration_seconds",
			Help:    "Duration of individual order creation steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"})),
		timelineEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payflow_timeline_events_total",
			Help: "Total number of timeline events recorded",
		})),
		outboxEvents: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payflow_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		})),
		activeCreations: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "payflow_active_order_creations",
			Help: "Number of order creations in flight",
		})),
	}
}

// RecordCreateStarted отмечает начало оформления.
func (m *OrderMetrics) RecordCreateStarted() {
	m.activeCreations.Inc()
}

// RecordCreateFinished отмечает завершение оформления и его длительность.
func (m *OrderMetrics) RecordCreateFinished(duration time.Duration) {
	m.activeCreations.Dec()
	m.createDuration.Observe(duration.Seconds())
}

// RecordOrderCreated увеличивает счётчик сохранённых заказов.
func (m *OrderMetrics) RecordOrderCreated() {
	m.ordersCreated.Inc()
}

// RecordOrderFailed увеличивает счётчик неудач на шаге step.
func (m *OrderMetrics) RecordOrderFailed(step string) {
	m.ordersFailed.WithLabelValues(step).Inc()
}

func (m *OrderMetrics) RecordOrderCancelled() {
	m.ordersCancelled.Inc()
}

func (m *OrderMetrics) RecordOrderConfirmed() {
	m.ordersConfirmed.Inc()
}

// RecordStepDuration записывает время выполнения шага.
func (m *OrderMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

func (m *OrderMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

func (m *OrderMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
