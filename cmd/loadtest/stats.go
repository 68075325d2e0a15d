package main

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	latencyMetric = "payflow_loadtest_call_seconds"
	callsMetric   = "payflow_loadtest_calls_total"
)

type latencySummary struct {
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt       time.Time               `json:"started_at"`
	DurationSeconds float64                 `json:"duration_seconds"`
	Scenarios       int64                   `json:"scenarios"`
	Failed          int64                   `json:"failed"`
	ErrorRate       float64                 `json:"error_rate"`
	RPS             float64                 `json:"rps"`
	Methods         map[string]methodReport `json:"methods"`
}

// collector пишет длительности и коды в собственный реестр Prometheus,
// отчёт строится из его снимка.
type collector struct {
	reg     *prometheus.Registry
	latency *prometheus.SummaryVec
	calls   *prometheus.CounterVec
}

func newCollector() *collector {
	c := &collector{
		reg: prometheus.NewRegistry(),
		latency: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       latencyMetric,
			Help:       "Client-side call latency by method.",
			Objectives: map[float64]float64{0.5: 0.01, 0.95: 0.005, 0.99: 0.001},
		}, []string{"method"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: callsMetric,
			Help: "Calls by method and gRPC status code.",
		}, []string{"method", "code"}),
	}
	c.reg.MustRegister(c.latency, c.calls)
	return c
}

func (c *collector) record(method string, latency time.Duration, err error) {
	c.latency.WithLabelValues(method).Observe(latency.Seconds())
	c.calls.WithLabelValues(method, status.Code(err).String()).Inc()
}

func (c *collector) report(startedAt time.Time, elapsed time.Duration) (report, error) {
	families, err := c.reg.Gather()
	if err != nil {
		return report{}, err
	}

	methods := make(map[string]methodReport)
	entry := func(name string) methodReport {
		if m, ok := methods[name]; ok {
			return m
		}
		return methodReport{Codes: make(map[string]int64)}
	}
	for _, family := range families {
		for _, m := range family.GetMetric() {
			switch family.GetName() {
			case callsMetric:
				name, code := label(m, "method"), label(m, "code")
				r := entry(name)
				n := int64(m.GetCounter().GetValue())
				r.Codes[code] += n
				r.Calls += n
				if code != codes.OK.String() {
					r.Failed += n
				}
				methods[name] = r
			case latencyMetric:
				name := label(m, "method")
				r := entry(name)
				r.LatencyMs = fromSummary(m.GetSummary())
				methods[name] = r
			}
		}
	}

	out := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Methods:         methods,
	}
	for name, m := range methods {
		m.ErrorRate = ratio(m.Failed, m.Calls)
		methods[name] = m
	}
	if s, ok := methods[scenarioMethod]; ok {
		out.Scenarios, out.Failed, out.ErrorRate = s.Calls, s.Failed, s.ErrorRate
	}
	if elapsed > 0 {
		out.RPS = float64(out.Scenarios) / elapsed.Seconds()
	}
	return out, nil
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func fromSummary(s *dto.Summary) latencySummary {
	var out latencySummary
	if s.GetSampleCount() == 0 {
		return out
	}
	out.Avg = s.GetSampleSum() / float64(s.GetSampleCount()) * 1000
	for _, q := range s.GetQuantile() {
		v := q.GetValue() * 1000
		if math.IsNaN(v) {
			continue
		}
		switch q.GetQuantile() {
		case 0.5:
			out.P50 = v
		case 0.95:
			out.P95 = v
		case 0.99:
			out.P99 = v
		}
	}
	return out
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
