package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewOrderMetricsWithRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewOrderMetricsWithRegisterer(reg)

	if metrics == nil {
		t.Fatal("NewOrderMetricsWithRegisterer should not return nil")
	}
	if metrics.ordersCreated == nil || metrics.ordersFailed == nil || metrics.stepDuration == nil {
		t.Fatal("order metrics collectors should not be nil")
	}

	// повторная регистрация возвращает уже существующие коллекторы
	again := NewOrderMetricsWithRegisterer(reg)
	if again.ordersCreated != metrics.ordersCreated {
		t.Fatal("expected existing counter to be reused")
	}
}

func TestOrderMetricsLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewOrderMetricsWithRegisterer(reg)

	metrics.RecordCreateStarted()
	metrics.RecordCreateStarted()
	metrics.RecordOrderCreated()
	metrics.RecordCreateFinished(100 * time.Millisecond)
	metrics.RecordOrderFailed("pay")

	gaugeMetric := &dto.Metric{}
	if err := metrics.activeCreations.Write(gaugeMetric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if gaugeMetric.Gauge.GetValue() != 1.0 {
		t.Errorf("expected 1 active creation, got %f", gaugeMetric.Gauge.GetValue())
	}

	histMetric := &dto.Metric{}
	if err := metrics.createDuration.Write(histMetric); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if histMetric.Histogram.GetSampleCount() != 1 {
		t.Errorf("expected 1 sample, got %d", histMetric.Histogram.GetSampleCount())
	}

	failedMetric := &dto.Metric{}
	if err := metrics.ordersFailed.WithLabelValues("pay").Write(failedMetric); err != nil {
		t.Fatalf("failed to write counter: %v", err)
	}
	if failedMetric.Counter.GetValue() != 1.0 {
		t.Errorf("expected 1 failure on pay, got %f", failedMetric.Counter.GetValue())
	}
}

func TestRecordStepDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewOrderMetricsWithRegisterer(reg)

	metrics.RecordStepDuration("reserve", 50*time.Millisecond)
	metrics.RecordStepDuration("pay", 100*time.Millisecond)

	reserveMetric := &dto.Metric{}
	observer := metrics.stepDuration.WithLabelValues("reserve")
	if err := observer.(prometheus.Histogram).Write(reserveMetric); err != nil {
		t.Fatalf("failed to write reserve metric: %v", err)
	}
	if reserveMetric.Histogram.GetSampleCount() != 1 {
		t.Errorf("expected 1 sample for reserve, got %d", reserveMetric.Histogram.GetSampleCount())
	}
}

func TestGatewayMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewGatewayMetrics(reg)

	metrics.RecordRequest("/debit", OutcomeUnauthorized, 10*time.Millisecond)
	metrics.RecordRequest("/debit", OutcomeOK, 20*time.Millisecond)

	metric := &dto.Metric{}
	if err := metrics.requests.WithLabelValues("/debit", OutcomeOK).Write(metric); err != nil {
		t.Fatalf("failed to write counter: %v", err)
	}
	if metric.Counter.GetValue() != 1.0 {
		t.Errorf("expected 1 ok request, got %f", metric.Counter.GetValue())
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var gateway *GatewayMetrics
	var credential *CredentialMetrics
	var payment *PaymentMetrics

	gateway.RecordRequest("/debit", OutcomeOK, time.Millisecond)
	credential.RecordRefresh(true)
	payment.RecordPayment("internal", "ok")
}

func TestCredentialAndPaymentMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	credential := NewCredentialMetrics(reg)
	payment := NewPaymentMetrics(reg)

	credential.RecordRefresh(true)
	credential.RecordRefresh(false)
	credential.RecordRefresh(true)
	payment.RecordPayment("redirect", "ok")

	metric := &dto.Metric{}
	if err := credential.refreshes.WithLabelValues("success").Write(metric); err != nil {
		t.Fatalf("failed to write counter: %v", err)
	}
	if metric.Counter.GetValue() != 2.0 {
		t.Errorf("expected 2 successful refreshes, got %f", metric.Counter.GetValue())
	}

	paymentMetric := &dto.Metric{}
	if err := payment.payments.WithLabelValues("redirect", "ok").Write(paymentMetric); err != nil {
		t.Fatalf("failed to write counter: %v", err)
	}
	if paymentMetric.Counter.GetValue() != 1.0 {
		t.Errorf("expected 1 redirect payment, got %f", paymentMetric.Counter.GetValue())
	}
}
