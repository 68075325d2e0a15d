// Package outbox доставляет события transactional outbox в брокер.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

var (
	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payflow_outbox_deliveries_total",
		Help: "Outbox delivery attempts by event type and outcome: delivered, retried, dead, dlq_error.",
	}, []string{"event_type", "outcome"})
	backlogPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payflow_outbox_pending_records",
		Help: "Pending records in the transactional outbox.",
	})
	backlogDead = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payflow_outbox_dead_records",
		Help: "Outbox records that exhausted their attempts.",
	})
	backlogAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payflow_outbox_oldest_pending_age_seconds",
		Help: "Age of the oldest pending outbox record.",
	})
)

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDLQPublisher задаёт получателя записей, исчерпавших попытки.
func WithDLQPublisher(p domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlq = p }
}

// WithPollInterval задаёт паузу между проходами.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithBatchSize задаёт число записей за проход.
func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batch = n
		}
	}
}

// WithMaxAttempts задаёт число попыток до отправки в DLQ.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithRetryBaseDelay задаёт задержку после первой неудачи; дальше она удваивается.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(w *Worker) {
		if d >= 0 {
			w.baseDelay = d
		}
	}
}

// WithMaxRetryDelay ограничивает рост задержки.
func WithMaxRetryDelay(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.maxDelay = d
		}
	}
}

// Result: итог одного прохода.
type Result struct {
	Delivered int
	Retried   int
	Dead      int
}

// Worker публикует созревшие записи outbox. Каждая запись получает одну попытку
// за проход; неудача откладывает её с экспоненциальной задержкой, а после
// maxAttempts запись уходит в DLQ.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	dlq       domain.OutboxPublisher
	logger    *log.Entry
	now       func() time.Time

	interval    time.Duration
	batch       int
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewWorker создаёт Worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	w := &Worker{
		repo:        repo,
		publisher:   publisher,
		logger:      log.WithField("component", "outbox-worker"),
		now:         func() time.Time { return time.Now().UTC() },
		interval:    time.Second,
		batch:       100,
		maxAttempts: 5,
		baseDelay:   200 * time.Millisecond,
		maxDelay:    5 * time.Minute,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run делает проходы каждые interval до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker disabled: no repository or publisher")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce делает одну попытку для каждой созревшей записи.
func (w *Worker) ProcessOnce(ctx context.Context) Result {
	var res Result
	if ctx.Err() != nil {
		return res
	}

	now := w.now()
	due, err := w.repo.Due(ctx, now, w.batch)
	if err != nil {
		w.logger.WithError(err).Warn("failed to load due outbox records")
		return res
	}

	for _, msg := range due {
		if ctx.Err() != nil {
			break
		}
		logger := w.logger.WithFields(log.Fields{"outbox_id": msg.ID, "event_type": msg.EventType})

		pubErr := w.publisher.Publish(ctx, msg)
		if pubErr == nil {
			if err := w.repo.MarkDelivered(ctx, msg.ID); err != nil {
				logger.WithError(err).Warn("published outbox record could not be marked delivered")
				continue
			}
			deliveries.WithLabelValues(msg.EventType, "delivered").Inc()
			res.Delivered++
			continue
		}
		if ctx.Err() != nil {
			break
		}

		attempt := msg.Attempts + 1
		if attempt < w.maxAttempts {
			next := now.Add(w.retryDelay(attempt))
			if err := w.repo.Retry(ctx, msg.ID, next, pubErr.Error()); err != nil {
				logger.WithError(err).Warn("failed to reschedule outbox record")
				continue
			}
			deliveries.WithLabelValues(msg.EventType, "retried").Inc()
			logger.WithError(pubErr).WithFields(log.Fields{"attempt": attempt, "next_attempt_at": next}).Debug("outbox publish failed, retry scheduled")
			res.Retried++
			continue
		}

		if w.bury(ctx, logger, msg, attempt, pubErr) {
			res.Dead++
		}
	}

	w.observeBacklog(ctx)
	if len(due) > 0 {
		w.logger.WithFields(log.Fields{"delivered": res.Delivered, "retried": res.Retried, "dead": res.Dead}).Debug("outbox pass finished")
	}
	return res
}

// bury отправляет запись в DLQ и выводит её из очереди. Если DLQ не принял
// запись, она остаётся pending с максимальной задержкой.
func (w *Worker) bury(ctx context.Context, logger *log.Entry, msg domain.OutboxMessage, attempt int, pubErr error) bool {
	logger = logger.WithField("attempts", attempt)
	if err := w.deadLetter(ctx, msg, attempt, pubErr); err != nil {
		deliveries.WithLabelValues(msg.EventType, "dlq_error").Inc()
		logger.WithError(err).Error("outbox record exhausted attempts and DLQ rejected it")
		if err := w.repo.Retry(ctx, msg.ID, w.now().Add(w.maxDelay), pubErr.Error()); err != nil {
			logger.WithError(err).Warn("failed to reschedule outbox record")
		}
		return false
	}
	if err := w.repo.Bury(ctx, msg.ID, pubErr.Error()); err != nil {
		logger.WithError(err).Warn("dead-lettered outbox record could not be buried")
		return false
	}
	deliveries.WithLabelValues(msg.EventType, "dead").Inc()
	logger.WithError(pubErr).Error("outbox record moved to DLQ")
	return true
}

func (w *Worker) deadLetter(ctx context.Context, msg domain.OutboxMessage, attempts int, pubErr error) error {
	if w.dlq == nil {
		return nil
	}
	body, err := json.Marshal(deadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishError:  pubErr.Error(),
		Attempts:      attempts,
		DeadAt:        w.now(),
	})
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	letter := msg
	letter.Payload = body
	return w.dlq.Publish(ctx, letter)
}

type deadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	Attempts      int             `json:"attempts"`
	DeadAt        time.Time       `json:"dlq_published_at"`
}

// retryDelay: base * 2^(attempt-1), но не больше maxDelay.
func (w *Worker) retryDelay(attempt int) time.Duration {
	delay := w.baseDelay
	for i := 1; i < attempt && delay < w.maxDelay; i++ {
		delay *= 2
	}
	return min(delay, w.maxDelay)
}

func (w *Worker) observeBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to read outbox backlog")
		return
	}
	backlogPending.Set(float64(stats.Pending))
	backlogDead.Set(float64(stats.Dead))
	if stats.OldestPendingAt.IsZero() {
		backlogAge.Set(0)
		return
	}
	backlogAge.Set(max(w.now().Sub(stats.OldestPendingAt).Seconds(), 0))
}
