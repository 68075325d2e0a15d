// Package saga оформляет заказы: расчёт цены, места, оплата, сохранение и компенсации.
package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
	"github.com/vladislavdragonenkov/payflow/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/payflow/internal/metrics"
	"github.com/vladislavdragonenkov/payflow/internal/service/payment"
	"github.com/vladislavdragonenkov/payflow/internal/service/pricing"
)

const tracerName = "payflow/saga"

// Orchestrator описывает операции над заказами.
type Orchestrator interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateResult, error)
	CancelOrder(ctx context.Context, id string) (domain.Order, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	Timeline(ctx context.Context, id string) ([]domain.TimelineEvent, error)
	// ListOrders возвращает заказы клиента или, если clientID пуст, все заказы.
	ListOrders(ctx context.Context, clientID string, limit int) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, note *string) (domain.Order, error)
}

// CreateOrderCommand: запрос на оформление заказа.
type CreateOrderCommand struct {
	ClientID  string
	Lines     []domain.LineRequest
	Note      string
	Origin    domain.PaymentOrigin
	AuthToken string
}

// CreateResult: сохранённый заказ и результат оплаты.
type CreateResult struct {
	Order       domain.Order
	Receipt     *domain.PaymentReceipt
	RedirectURL string
}

// Pricer рассчитывает позиции и итоги.
type Pricer interface {
	Resolve(ctx context.Context, lines []domain.LineRequest) (pricing.Quote, error)
}

// Payments исполняет оплату заказа.
type Payments interface {
	Execute(ctx context.Context, req payment.Request) (domain.PaymentResult, error)
	CreateRedirect(ctx context.Context, order domain.Order) (string, error)
	SettleDebt(ctx context.Context, orderID string, settlement domain.DebtSettlement)
}

// Dependencies: хранилища и сервисы оркестратора.
type Dependencies struct {
	Orders   domain.OrderRepository
	Seats    domain.SeatRepository
	Outbox   domain.OutboxRepository
	Timeline domain.TimelineRepository
	Pricer   Pricer
	Payments Payments
	Products domain.CatalogService
	Services domain.CatalogService
}

// Option модифицирует оркестратор.
type Option func(*orchestrator)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(o *orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics включает метрики оформления.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(o *orchestrator) {
		o.metrics = m
	}
}

type orchestrator struct {
	orders     domain.OrderRepository
	seats      domain.SeatRepository
	timeline   domain.TimelineRepository
	pricer     Pricer
	payments   Payments
	fulfilment *Fulfilment
	journal    *Journal
	logger     *log.Entry
	metrics    *metrics.OrderMetrics
	tracer     trace.Tracer

	background sync.WaitGroup
}

// NewOrchestrator создаёт оркестратор заказов.
func NewOrchestrator(deps Dependencies, opts ...Option) Orchestrator {
	o := &orchestrator{
		orders:   deps.Orders,
		seats:    deps.Seats,
		timeline: deps.Timeline,
		pricer:   deps.Pricer,
		payments: deps.Payments,
		logger:   log.WithField("component", "saga"),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.fulfilment = NewFulfilment(deps.Products, deps.Services, o.logger)
	o.journal = NewJournal(deps.Outbox, deps.Timeline, o.metrics, o.logger)
	return o
}

// CreateOrder оформляет заказ. До сохранения заказа ошибка не оставляет следов:
// занятые места освобождаются, строка заказа не пишется.
func (o *orchestrator) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (result CreateResult, err error) {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.RecordCreateStarted()
	}
	ctx, span := o.tracer.Start(ctx, "saga.create_order", trace.WithAttributes(
		attribute.String("client.id", cmd.ClientID),
		attribute.Int("order.lines", len(cmd.Lines)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("order.id", result.Order.ID))
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		if o.metrics != nil {
			o.metrics.RecordCreateFinished(time.Since(start))
		}
	}()

	strategy, err := o.validate(cmd)
	if err != nil {
		return CreateResult{}, o.fail(cmd.ClientID, domain.OrderStepValidate, err)
	}

	stepStart := time.Now()
	quote, err := o.pricer.Resolve(ctx, cmd.Lines)
	o.observeStep(domain.OrderStepPrice, stepStart)
	if err != nil {
		return CreateResult{}, o.fail(cmd.ClientID, domain.OrderStepPrice, err)
	}
	if len(quote.MissingTicketTypes) > 0 {
		err = fmt.Errorf("%w: %s", domain.ErrTicketTypeNotFound, strings.Join(quote.MissingTicketTypes, ", "))
		return CreateResult{}, o.fail(cmd.ClientID, domain.OrderStepPrice, err)
	}

	order := domain.Order{
		ID:       uuid.NewString(),
		ClientID: cmd.ClientID,
		Subtotal: quote.Subtotal,
		Tax:      quote.Tax,
		Total:    quote.Total,
		Note:     cmd.Note,
		Lines:    quote.Lines,
	}

	stepStart = time.Now()
	reserved, err := o.reserveSeats(ctx, order)
	o.observeStep(domain.OrderStepReserve, stepStart)
	if err != nil {
		return CreateResult{}, o.fail(order.ID, domain.OrderStepReserve, err)
	}

	if strategy == domain.PaymentStrategyRedirect {
		return o.createWithRedirect(ctx, order, reserved)
	}
	return o.createWithPayment(ctx, order, cmd, reserved)
}

func (o *orchestrator) validate(cmd CreateOrderCommand) (domain.PaymentStrategy, error) {
	if strings.TrimSpace(cmd.ClientID) == "" {
		return "", domain.ErrClientRequired
	}
	if len(cmd.Lines) == 0 {
		return "", domain.ErrLinesRequired
	}
	for i, line := range cmd.Lines {
		if err := line.Validate(); err != nil {
			return "", fmt.Errorf("line %d: %w", i, err)
		}
	}
	return payment.CheckOrigin(cmd.Origin, cmd.Lines)
}

// reserveSeats занимает места всех билетных позиций под идентификатором заказа.
// При отказе на любой позиции уже занятые места освобождаются.
func (o *orchestrator) reserveSeats(ctx context.Context, order domain.Order) (bool, error) {
	reserved := false
	for _, line := range order.Lines {
		if line.Kind != domain.LineKindTicketed {
			continue
		}
		if err := o.seats.Reserve(ctx, line.ServiceID, order.ID, order.ClientID, line.Seats); err != nil {
			if reserved {
				o.releaseSeats(ctx, order.ID)
			}
			return false, err
		}
		reserved = true
	}
	return reserved, nil
}

func (o *orchestrator) releaseSeats(ctx context.Context, orderID string) {
	released, err := o.seats.ReleaseByOrder(context.WithoutCancel(ctx), orderID)
	if err != nil {
		o.logger.WithError(err).WithField("order_id", orderID).Error("release seats failed")
		return
	}
	o.logger.WithFields(log.Fields{
		"order_id": orderID,
		"released": released,
	}).Debug("seats released")
}

func (o *orchestrator) createWithPayment(ctx context.Context, order domain.Order, cmd CreateOrderCommand, reserved bool) (CreateResult, error) {
	stepStart := time.Now()
	paid, err := o.payments.Execute(ctx, payment.Request{
		Order:     order,
		Origin:    cmd.Origin,
		AuthToken: cmd.AuthToken,
	})
	o.observeStep(domain.OrderStepPay, stepStart)
	if err != nil {
		if reserved {
			o.releaseSeats(ctx, order.ID)
		}
		return CreateResult{}, o.fail(order.ID, domain.OrderStepPay, err)
	}

	order.Status = domain.OrderStatusConfirmed
	persisted, err := o.orders.Create(context.WithoutCancel(ctx), order)
	if err != nil {
		fields := log.Fields{"order_id": order.ID, "total": order.Total.StringFixed(domain.MoneyScale)}
		if paid.Receipt != nil {
			fields["authorization_code"] = paid.Receipt.AuthorizationCode
		}
		o.logger.WithError(err).WithFields(fields).Error("order paid but not persisted")
		if reserved {
			o.releaseSeats(ctx, order.ID)
		}
		return CreateResult{}, o.fail(order.ID, domain.OrderStepPersist, err)
	}

	// После сохранения всё best-effort: ошибки не откатывают заказ.
	sideCtx := context.WithoutCancel(ctx)
	stepStart = time.Now()
	o.fulfilment.Apply(sideCtx, persisted)
	o.observeStep(domain.OrderStepFulfilment, stepStart)
	if paid.Settlement != nil {
		o.settleDebt(sideCtx, persisted.ID, *paid.Settlement)
	}

	strategy := string(paid.Strategy)
	o.journal.Record(sideCtx, persisted, kafka.EventTypeOrderCreated, "", map[string]any{"strategy": strategy})
	if reserved {
		o.journal.Note(sideCtx, persisted.ID, domain.TimelineSeatsReserved, "")
	}
	o.journal.Note(sideCtx, persisted.ID, domain.TimelinePaymentDone, strategy)
	o.journal.Record(sideCtx, persisted, kafka.EventTypeOrderConfirmed, "", map[string]any{"strategy": strategy})

	if o.metrics != nil {
		o.metrics.RecordOrderCreated()
		o.metrics.RecordOrderConfirmed()
	}
	o.logger.WithFields(log.Fields{
		"order_id": persisted.ID,
		"strategy": strategy,
		"total":    persisted.Total.StringFixed(domain.MoneyScale),
	}).Info("order confirmed")

	return CreateResult{Order: persisted, Receipt: paid.Receipt}, nil
}

// settleDebt уведомляет банк в фоне: ответ клиенту не ждёт шлюз.
func (o *orchestrator) settleDebt(ctx context.Context, orderID string, settlement domain.DebtSettlement) {
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		o.payments.SettleDebt(ctx, orderID, settlement)
	}()
}

// Wait дожидается фоновых уведомлений банка.
func (o *orchestrator) Wait() {
	o.background.Wait()
}

func (o *orchestrator) createWithRedirect(ctx context.Context, order domain.Order, reserved bool) (CreateResult, error) {
	order.Status = domain.OrderStatusPendingPayment
	persisted, err := o.orders.Create(ctx, order)
	if err != nil {
		if reserved {
			o.releaseSeats(ctx, order.ID)
		}
		return CreateResult{}, o.fail(order.ID, domain.OrderStepPersist, err)
	}

	stepStart := time.Now()
	redirectURL, err := o.payments.CreateRedirect(ctx, persisted)
	o.observeStep(domain.OrderStepRedirect, stepStart)
	if err != nil {
		compensateCtx := context.WithoutCancel(ctx)
		if _, _, cancelErr := o.orders.CancelIfCancellable(compensateCtx, persisted.ID); cancelErr != nil {
			o.logger.WithError(cancelErr).WithField("order_id", persisted.ID).Error("cancel after redirect failure failed")
		} else {
			persisted.Status = domain.OrderStatusCancelled
			o.journal.Record(compensateCtx, persisted, kafka.EventTypeOrderCancelled, "redirect creation failed", nil)
		}
		if reserved {
			o.releaseSeats(ctx, persisted.ID)
		}
		return CreateResult{}, o.fail(persisted.ID, domain.OrderStepRedirect, err)
	}

	sideCtx := context.WithoutCancel(ctx)
	o.journal.Record(sideCtx, persisted, kafka.EventTypeOrderCreated, "", map[string]any{"strategy": string(domain.PaymentStrategyRedirect)})
	if reserved {
		o.journal.Note(sideCtx, persisted.ID, domain.TimelineSeatsReserved, "")
	}
	o.journal.Note(sideCtx, persisted.ID, domain.TimelineRedirectIssued, "")

	if o.metrics != nil {
		o.metrics.RecordOrderCreated()
	}
	o.logger.WithField("order_id", persisted.ID).Info("order awaiting redirect payment")

	return CreateResult{Order: persisted, RedirectURL: redirectURL}, nil
}

// CancelOrder отменяет заказ. Повторная отмена ничего не делает, завершённый заказ отменить нельзя.
func (o *orchestrator) CancelOrder(ctx context.Context, id string) (domain.Order, error) {
	previous, cancelled, err := o.orders.CancelIfCancellable(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if !cancelled {
		if previous.Status == domain.OrderStatusCompleted {
			return domain.Order{}, domain.ErrOrderNotCancellable
		}
		return previous, nil
	}

	stepStart := time.Now()
	sideCtx := context.WithoutCancel(ctx)
	o.releaseSeats(sideCtx, id)
	if previous.Status == domain.OrderStatusConfirmed {
		o.fulfilment.Restock(sideCtx, previous)
	}
	o.observeStep(domain.OrderStepCancel, stepStart)

	current := previous
	current.Status = domain.OrderStatusCancelled
	o.journal.Record(sideCtx, current, kafka.EventTypeOrderCancelled, "", map[string]any{
		"previous_status": string(previous.Status),
	})
	if o.metrics != nil {
		o.metrics.RecordOrderCancelled()
	}
	o.logger.WithFields(log.Fields{
		"order_id":        id,
		"previous_status": previous.Status,
	}).Info("order cancelled")

	return o.orders.Get(ctx, id)
}

func (o *orchestrator) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return o.orders.Get(ctx, id)
}

func (o *orchestrator) Timeline(ctx context.Context, id string) ([]domain.TimelineEvent, error) {
	if o.timeline == nil {
		return nil, nil
	}
	return o.timeline.List(ctx, id)
}

func (o *orchestrator) ListOrders(ctx context.Context, clientID string, limit int) ([]domain.Order, error) {
	if clientID == "" {
		return o.orders.ListAll(ctx, limit)
	}
	return o.orders.ListByClient(ctx, clientID, limit)
}

// UpdateStatus: административная смена статуса без побочных эффектов в каталогах.
func (o *orchestrator) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, note *string) (domain.Order, error) {
	if !status.Valid() {
		return domain.Order{}, domain.ErrOrderStatusInvalid
	}
	if err := o.orders.UpdateStatus(ctx, id, status, note); err != nil {
		return domain.Order{}, err
	}
	order, err := o.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	o.journal.Record(context.WithoutCancel(ctx), order, kafka.EventTypeOrderStatusChanged, "", map[string]any{
		"status": string(status),
	})
	return order, nil
}

func (o *orchestrator) fail(ref string, step domain.OrderStep, err error) error {
	if o.metrics != nil {
		o.metrics.RecordOrderFailed(string(step))
	}
	entry := o.logger.WithError(err).WithFields(log.Fields{
		"ref":  ref,
		"step": step,
	})
	if domain.IsValidation(err) || errors.Is(err, domain.ErrPaymentDeclined) || errors.Is(err, domain.ErrSeatsAlreadyTaken) {
		entry.Info("order rejected")
	} else {
		entry.Warn("order creation failed")
	}
	return err
}

func (o *orchestrator) observeStep(step domain.OrderStep, start time.Time) {
	if o.metrics != nil {
		o.metrics.RecordStepDuration(string(step), time.Since(start))
	}
}

var _ Orchestrator = (*orchestrator)(nil)
