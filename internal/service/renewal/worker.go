// Package renewal продлевает подписки списанием со счёта во внешнем банке.
package renewal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
	"github.com/vladislavdragonenkov/payflow/internal/service/pricing"
	"github.com/vladislavdragonenkov/payflow/internal/service/saga"
)

const (
	defaultInterval  = time.Hour
	defaultBatchSize = 100
)

var (
	renewalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payflow_subscription_renewals_total",
		Help: "Subscription renewal attempts grouped by result.",
	}, []string{"result"})
	lastSweepDue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "payflow_subscription_renewal_last_due",
		Help: "Due subscriptions found by the last renewal sweep.",
	})
)

// ErrInvalidSubscription: подписку нельзя продлить из-за неполных данных.
var ErrInvalidSubscription = fmt.Errorf("%w: subscription cannot be renewed", domain.ErrValidation)

// Report: итог одного прохода.
type Report struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Dependencies: хранилища и внешние сервисы, нужные для продления.
type Dependencies struct {
	Subscriptions domain.SubscriptionRepository
	Orders        domain.OrderRepository
	Bank          domain.BankGateway
	Outbox        domain.OutboxRepository
	Timeline      domain.TimelineRepository
	Services      domain.CatalogService
}

// WorkerOptions задаёт параметры воркера продлений.
type WorkerOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	TaxRate   decimal.Decimal
	Clock     func() time.Time
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithInterval задаёт период между проходами.
func WithInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.Interval = interval
	}
}

// WithBatchSize ограничивает число подписок за проход.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithTaxRate задаёт ставку налога, добавляемого к цене подписки.
func WithTaxRate(rate decimal.Decimal) Option {
	return func(opts *WorkerOptions) {
		opts.TaxRate = rate
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *WorkerOptions) {
		opts.Clock = clock
	}
}

// Worker периодически продлевает подписки, срок которых наступил.
type Worker struct {
	subs       domain.SubscriptionRepository
	orders     domain.OrderRepository
	bank       domain.BankGateway
	journal    *saga.Journal
	fulfilment *saga.Fulfilment
	logger     *log.Entry
	interval   time.Duration
	batchSize  int
	taxRate    decimal.Decimal
	clock      func() time.Time

	// mu не даёт ручному запуску пересечься с плановым.
	mu sync.Mutex
}

// NewWorker создаёт воркер продлений.
func NewWorker(deps Dependencies, options ...Option) *Worker {
	opts := WorkerOptions{
		Interval:  defaultInterval,
		BatchSize: defaultBatchSize,
		TaxRate:   pricing.DefaultTaxRate,
		Clock:     time.Now,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "renewal-worker")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.TaxRate.IsNegative() {
		opts.TaxRate = pricing.DefaultTaxRate
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Worker{
		subs:       deps.Subscriptions,
		orders:     deps.Orders,
		bank:       deps.Bank,
		journal:    saga.NewJournal(deps.Outbox, deps.Timeline, nil, logger),
		fulfilment: saga.NewFulfilment(nil, deps.Services, logger),
		logger:     logger,
		interval:   opts.Interval,
		batchSize:  opts.BatchSize,
		taxRate:    opts.TaxRate,
		clock:      opts.Clock,
	}
}

// Run выполняет проходы по таймеру до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	report, err := w.RunOnce(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			w.logger.WithError(err).Warn("renewal sweep failed")
		}
		return
	}
	if report.Processed > 0 {
		w.logger.WithFields(log.Fields{
			"processed": report.Processed,
			"succeeded": report.Succeeded,
			"failed":    report.Failed,
		}).Info("renewal sweep completed")
	}
}

// RunOnce продлевает подписки, срок которых наступил. Ошибка одной подписки не прерывает проход.
func (w *Worker) RunOnce(ctx context.Context) (Report, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	due, err := w.subs.ListDue(ctx, w.clock().UTC(), w.batchSize)
	if err != nil {
		return Report{}, fmt.Errorf("list due subscriptions: %w", err)
	}
	lastSweepDue.Set(float64(len(due)))

	var report Report
	for _, sub := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Processed++

		if err := w.renew(ctx, sub); err != nil {
			report.Failed++
			renewalsTotal.WithLabelValues("failed").Inc()
			w.logger.WithError(err).WithFields(log.Fields{
				"subscription_id": sub.ID,
				"client_id":       sub.ClientID,
			}).Warn("subscription renewal failed")
			continue
		}
		report.Succeeded++
		renewalsTotal.WithLabelValues("succeeded").Inc()
	}
	return report, nil
}

func (w *Worker) renew(ctx context.Context, sub domain.Subscription) error {
	if sub.ServiceID == "" || sub.CustomerTaxID == "" || sub.SourceAccountNumber == "" || !sub.Amount.IsPositive() {
		return ErrInvalidSubscription
	}

	order := w.renewalOrder(uuid.NewString(), sub)
	receipt, err := w.bank.Debit(ctx, domain.BankDebitRequest{
		CustomerTaxID:       sub.CustomerTaxID,
		SourceAccountNumber: sub.SourceAccountNumber,
		Amount:              order.Total,
		Description:         "subscription " + sub.ID + " renewal",
	})
	if err != nil {
		return fmt.Errorf("debit subscription: %w", err)
	}

	// Деньги списаны: дальнейшие шаги выполняются до конца независимо от ctx.
	ctx = context.WithoutCancel(ctx)

	// Период сдвигается в любом случае, иначе следующий проход спишет повторно.
	next := sub.NextAfterRenewal()
	if err := w.subs.MarkRenewed(ctx, sub.ID, next); err != nil {
		w.logger.WithError(err).WithFields(log.Fields{
			"subscription_id": sub.ID,
			"authorization":   receipt.AuthorizationCode,
		}).Error("subscription debited but renewal date not advanced")
		return fmt.Errorf("mark subscription renewed: %w", err)
	}

	created, err := w.orders.Create(ctx, order)
	if err != nil {
		w.logger.WithError(err).WithFields(log.Fields{
			"subscription_id": sub.ID,
			"order_id":        order.ID,
			"authorization":   receipt.AuthorizationCode,
		}).Error("subscription debited but renewal order not persisted")
		return fmt.Errorf("persist renewal order: %w", err)
	}

	w.fulfilment.Apply(ctx, created)
	w.journal.RecordRenewal(ctx, sub, created)

	w.logger.WithFields(log.Fields{
		"subscription_id": sub.ID,
		"order_id":        created.ID,
		"next_renewal_at": next.Format(time.RFC3339),
	}).Info("subscription renewed")
	return nil
}

// renewalOrder оценивает период так же, как каталог: цена подписки это подытог,
// налог считается от него, списывается итог.
func (w *Worker) renewalOrder(orderID string, sub domain.Subscription) domain.Order {
	subtotal := domain.RoundMoney(sub.Amount)
	tax := domain.ComputeTax(subtotal, w.taxRate)
	now := w.clock().UTC()

	return domain.Order{
		ID:       orderID,
		ClientID: sub.ClientID,
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal.Add(tax),
		Status:   domain.OrderStatusConfirmed,
		Note:     "subscription " + sub.ID,
		Lines: []domain.OrderLine{{
			ID:        uuid.NewString(),
			Kind:      domain.LineKindService,
			ServiceID: sub.ServiceID,
			Qty:       1,
			UnitPrice: subtotal,
			Subtotal:  subtotal,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
