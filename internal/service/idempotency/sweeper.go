package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

var (
	sweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payflow_idempotency_sweeps_total",
		Help: "Expired idempotency key sweeps by result.",
	}, []string{"result"})
	sweptKeysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payflow_idempotency_swept_keys_total",
		Help: "Expired idempotency keys removed.",
	})
)

// Sweeper удаляет истёкшие ключи. Истёкший ключ и без него можно занять
// заново, так что он только ограничивает рост хранилища.
type Sweeper struct {
	repo     domain.IdempotencyRepository
	interval time.Duration
	batch    int
	now      func() time.Time
	logger   *log.Entry
}

// SweeperOption настраивает Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval задаёт паузу между проходами.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSweepBatch задаёт число ключей, удаляемых одним запросом.
func WithSweepBatch(n int) SweeperOption {
	return func(s *Sweeper) {
		if n > 0 {
			s.batch = n
		}
	}
}

// WithSweepLogger задаёт logger.
func WithSweepLogger(logger *log.Entry) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSweeper создаёт Sweeper; по умолчанию проход раз в 10 минут пачками по 500.
func NewSweeper(repo domain.IdempotencyRepository, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		repo:     repo,
		interval: 10 * time.Minute,
		batch:    500,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   log.WithField("component", "idempotency-sweeper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run делает проход сразу и затем каждые interval до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.repo == nil {
		s.logger.Warn("idempotency sweeper disabled: no repository")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	cutoff := s.now()
	removed, err := s.Sweep(ctx, cutoff)
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		sweepsTotal.WithLabelValues("error").Inc()
		s.logger.WithError(err).WithField("removed", removed).Warn("idempotency sweep failed")
		return
	}
	sweepsTotal.WithLabelValues("ok").Inc()
	if removed > 0 {
		s.logger.WithFields(log.Fields{"removed": removed, "cutoff": cutoff.Format(time.RFC3339)}).Info("expired idempotency keys removed")
	}
}

// Sweep удаляет все ключи, истёкшие к cutoff, пачками по batch и возвращает их число.
func (s *Sweeper) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := s.repo.PurgeExpired(ctx, cutoff, s.batch)
		total += n
		sweptKeysTotal.Add(float64(n))
		if err != nil {
			return total, err
		}
		if n < s.batch {
			return total, nil
		}
	}
}
