// Package reconcile сверяет заказы с авторитетным состоянием платежей процессора.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
	"github.com/vladislavdragonenkov/payflow/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/payflow/internal/metrics"
	"github.com/vladislavdragonenkov/payflow/internal/service/saga"
)

const tracerName = "payflow/reconcile"

// Outcome: результат сверки одного уведомления.
type Outcome string

const (
	// OutcomeConfirmed: этот вызов перевёл заказ в confirmed.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeAlreadyConfirmed: заказ уже был подтверждён ранее.
	OutcomeAlreadyConfirmed Outcome = "already_confirmed"
	// OutcomeIgnored: платёж не одобрен, заказ не меняется.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeNotPending: платёж одобрен, но заказ уже отменён или выполнен.
	OutcomeNotPending Outcome = "not_pending"
)

// Reconciler подтверждает заказы по одобренным платежам.
type Reconciler struct {
	processor  domain.PaymentProcessor
	orders     domain.OrderRepository
	fulfilment *saga.Fulfilment
	journal    *saga.Journal
	metrics    *metrics.OrderMetrics
	logger     *log.Entry
	tracer     trace.Tracer
}

// Option модифицирует Reconciler.
type Option func(*Reconciler)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics включает учёт подтверждений.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// Dependencies: сервисы и хранилища сверки.
type Dependencies struct {
	Processor domain.PaymentProcessor
	Orders    domain.OrderRepository
	Outbox    domain.OutboxRepository
	Timeline  domain.TimelineRepository
	Products  domain.CatalogService
	Services  domain.CatalogService
}

// NewReconciler создаёт Reconciler.
func NewReconciler(deps Dependencies, opts ...Option) *Reconciler {
	r := &Reconciler{
		processor: deps.Processor,
		orders:    deps.Orders,
		logger:    log.WithField("component", "reconciler"),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.fulfilment = saga.NewFulfilment(deps.Products, deps.Services, r.logger)
	r.journal = saga.NewJournal(deps.Outbox, deps.Timeline, r.metrics, r.logger)
	return r
}

// Reconcile перечитывает платёж у процессора и подтверждает заказ.
// Повторные уведомления по одному платежу не повторяют побочные эффекты.
func (r *Reconciler) Reconcile(ctx context.Context, paymentID string) (outcome Outcome, err error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return "", fmt.Errorf("%w: payment id is required", domain.ErrValidation)
	}

	ctx, span := r.tracer.Start(ctx, "reconcile.payment", trace.WithAttributes(
		attribute.String("payment.id", paymentID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("reconcile.outcome", string(outcome)))
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	pay, err := r.processor.GetPayment(ctx, paymentID)
	if err != nil {
		return "", fmt.Errorf("get payment %s: %w", paymentID, err)
	}

	entry := r.logger.WithFields(log.Fields{
		"payment_id": paymentID,
		"order_id":   pay.ExternalReference,
		"status":     pay.Status,
	})
	if pay.Status != domain.ProcessorPaymentApproved {
		entry.Info("payment not approved, order unchanged")
		return OutcomeIgnored, nil
	}
	if pay.ExternalReference == "" {
		return "", fmt.Errorf("%w: payment %s has no external reference", domain.ErrValidation, paymentID)
	}

	confirmed, err := r.orders.ConfirmIfPending(ctx, pay.ExternalReference)
	if err != nil {
		return "", fmt.Errorf("confirm order %s: %w", pay.ExternalReference, err)
	}
	if !confirmed {
		return r.notPending(ctx, entry, pay.ExternalReference)
	}

	order, err := r.orders.Get(ctx, pay.ExternalReference)
	if err != nil {
		entry.WithError(err).Error("confirmed order could not be reloaded")
		return OutcomeConfirmed, nil
	}

	sideCtx := context.WithoutCancel(ctx)
	r.fulfilment.Apply(sideCtx, order)
	r.journal.Note(sideCtx, order.ID, domain.TimelinePaymentDone, string(domain.PaymentStrategyRedirect))
	r.journal.Record(sideCtx, order, kafka.EventTypeOrderConfirmed, "", map[string]any{
		"payment_id": paymentID,
		"strategy":   string(domain.PaymentStrategyRedirect),
	})
	if r.metrics != nil {
		r.metrics.RecordOrderConfirmed()
	}
	entry.Info("order confirmed by processor")

	return OutcomeConfirmed, nil
}

// notPending классифицирует одобренный платёж, который не сдвинул заказ.
func (r *Reconciler) notPending(ctx context.Context, entry *log.Entry, orderID string) (Outcome, error) {
	order, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("get order %s: %w", orderID, err)
	}
	if order.Status == domain.OrderStatusConfirmed {
		entry.Debug("order already confirmed")
		return OutcomeAlreadyConfirmed, nil
	}
	entry.WithField("order_status", order.Status).Warn("approved payment for an order that is no longer pending")
	return OutcomeNotPending, nil
}
