// Package payment выбирает и исполняет протокол оплаты заказа.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
	"github.com/vladislavdragonenkov/payflow/internal/gateway"
	"github.com/vladislavdragonenkov/payflow/internal/metrics"
)

const (
	tracerName = "payflow/payment"

	settleTimeout = 10 * time.Second
)

// Request: оплата уже рассчитанного заказа.
type Request struct {
	Order  domain.Order
	Origin domain.PaymentOrigin
	// AuthToken: заголовок Authorization клиента, пробрасывается во внутренние счета.
	AuthToken string
}

// Router исполняет ровно одну стратегию оплаты на заказ.
type Router struct {
	accounts  domain.AccountsService
	bank      domain.BankGateway
	processor domain.PaymentProcessor
	logger    *log.Entry
	metrics   *metrics.PaymentMetrics
	tracer    trace.Tracer
}

// Option модифицирует Router.
type Option func(*Router)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics включает учёт оплат.
func WithMetrics(m *metrics.PaymentMetrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// NewRouter создаёт роутер оплаты.
func NewRouter(accounts domain.AccountsService, bank domain.BankGateway, processor domain.PaymentProcessor, opts ...Option) *Router {
	r := &Router{
		accounts:  accounts,
		bank:      bank,
		processor: processor,
		logger:    log.WithField("component", "payment-router"),
		tracer:    otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Strategy определяет протокол оплаты. Неизвестный или пустой способ: ошибка валидации.
func Strategy(origin domain.PaymentOrigin) (domain.PaymentStrategy, error) {
	switch origin.(type) {
	case domain.InternalOrigin:
		return domain.PaymentStrategyInternal, nil
	case domain.ExternalBankOrigin:
		return domain.PaymentStrategyExternalBank, nil
	case domain.RedirectOrigin:
		return domain.PaymentStrategyRedirect, nil
	case nil:
		return "", domain.ErrPaymentOriginRequired
	default:
		return "", fmt.Errorf("%w: %T", domain.ErrPaymentOriginMismatch, origin)
	}
}

// CheckOrigin проверяет способ оплаты и его совместимость с позициями до любых побочных эффектов.
func CheckOrigin(origin domain.PaymentOrigin, lines []domain.LineRequest) (domain.PaymentStrategy, error) {
	strategy, err := Strategy(origin)
	if err != nil {
		return "", err
	}
	if err := origin.Validate(); err != nil {
		return "", err
	}
	if strategy == domain.PaymentStrategyRedirect {
		for _, line := range lines {
			if line.Kind == domain.LineKindDebt {
				return "", fmt.Errorf("%w: debt lines cannot be paid by redirect", domain.ErrPaymentOriginMismatch)
			}
		}
	}
	return strategy, nil
}

// Execute исполняет синхронную стратегию (internal или external_bank).
func (r *Router) Execute(ctx context.Context, req Request) (result domain.PaymentResult, err error) {
	strategy, err := Strategy(req.Origin)
	if err != nil {
		return domain.PaymentResult{}, err
	}

	ctx, span := r.tracer.Start(ctx, "payment."+string(strategy), trace.WithAttributes(
		attribute.String("order.id", req.Order.ID),
		attribute.String("payment.strategy", string(strategy)),
		attribute.String("payment.amount", req.Order.Total.StringFixed(domain.MoneyScale)),
	))
	defer func() {
		r.finish(span, strategy, err)
	}()

	var receipt domain.PaymentReceipt
	switch origin := req.Origin.(type) {
	case domain.InternalOrigin:
		receipt, err = r.payInternal(ctx, req, origin)
	case domain.ExternalBankOrigin:
		receipt, err = r.payExternalBank(ctx, req, origin)
	case domain.RedirectOrigin:
		return domain.PaymentResult{}, fmt.Errorf("%w: redirect payments are created with CreateRedirect", domain.ErrValidation)
	}
	if err != nil {
		return domain.PaymentResult{}, classify(err)
	}

	result = domain.PaymentResult{Strategy: strategy, Receipt: &receipt}
	if debt, ok := req.Order.DebtLine(); ok && strategy == domain.PaymentStrategyInternal {
		result.Settlement = &domain.DebtSettlement{DebtRef: debt.DebtRef, Amount: debt.Subtotal}
	}
	return result, nil
}

func (r *Router) payInternal(ctx context.Context, req Request, origin domain.InternalOrigin) (domain.PaymentReceipt, error) {
	receipt, err := r.accounts.Debit(ctx, domain.InternalDebitRequest{
		AccountID: origin.AccountID,
		Amount:    req.Order.Total,
	}, req.AuthToken)
	if err != nil {
		return domain.PaymentReceipt{}, err
	}
	if receipt.Description == "" {
		receipt.Description = req.Order.Description()
	}

	return receipt, nil
}

// SettleDebt уведомляет банк о погашении долга. Вызывается после сохранения заказа;
// ошибка только логируется, деньги уже списаны.
func (r *Router) SettleDebt(ctx context.Context, orderID string, settlement domain.DebtSettlement) {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	ctx, span := r.tracer.Start(ctx, "payment.settle_debt", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("debt.ref", settlement.DebtRef),
	))
	defer span.End()

	entry := r.logger.WithFields(log.Fields{
		"order_id": orderID,
		"debt_ref": settlement.DebtRef,
	})
	if err := r.bank.SettleDebt(ctx, settlement.DebtRef, settlement.Amount); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		entry.WithError(err).Warn("debt settlement notification failed")
		return
	}
	entry.Debug("debt settlement notified")
}

func (r *Router) payExternalBank(ctx context.Context, req Request, origin domain.ExternalBankOrigin) (domain.PaymentReceipt, error) {
	debit := domain.BankDebitRequest{
		CustomerTaxID:       origin.CustomerTaxID,
		SourceAccountNumber: origin.SourceAccountNumber,
		Amount:              req.Order.Total,
		Description:         req.Order.Description(),
	}

	debtRef := origin.ExternalDebtRef
	if debt, ok := req.Order.DebtLine(); ok {
		debtRef = debt.DebtRef
	}
	if debtRef != "" {
		debit.DebtRef = debtRef
		return r.bank.DebitByDebtRef(ctx, debit)
	}
	return r.bank.Debit(ctx, debit)
}

// CreateRedirect создаёт оплату у процессора и возвращает адрес редиректа.
func (r *Router) CreateRedirect(ctx context.Context, order domain.Order) (redirectURL string, err error) {
	ctx, span := r.tracer.Start(ctx, "payment.redirect", trace.WithAttributes(
		attribute.String("order.id", order.ID),
		attribute.String("payment.amount", order.Total.StringFixed(domain.MoneyScale)),
	))
	defer func() {
		r.finish(span, domain.PaymentStrategyRedirect, err)
	}()

	if order.HasDebtLine() {
		return "", fmt.Errorf("%w: debt lines cannot be paid by redirect", domain.ErrPaymentOriginMismatch)
	}

	items := make([]domain.PreferenceItem, 0, len(order.Lines)+1)
	for _, line := range order.Lines {
		items = append(items, domain.PreferenceItem{
			Title:     string(line.Kind) + " " + line.ItemID(),
			Quantity:  line.Qty,
			UnitPrice: line.UnitPrice,
		})
	}
	if order.Tax.IsPositive() {
		items = append(items, domain.PreferenceItem{Title: "tax", Quantity: 1, UnitPrice: order.Tax})
	}

	result, err := r.processor.CreatePreference(ctx, domain.Preference{
		Items:             items,
		ExternalReference: order.ID,
	})
	if err != nil {
		return "", classify(err)
	}
	return result.RedirectURL, nil
}

func (r *Router) finish(span trace.Span, strategy domain.PaymentStrategy, err error) {
	outcome := "ok"
	if err != nil {
		outcome = outcomeOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.WithError(err).WithFields(log.Fields{
			"strategy": strategy,
			"outcome":  outcome,
		}).Warn("payment failed")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	r.metrics.RecordPayment(string(strategy), outcome)
}

// classify приводит ошибки шлюзов к доменным. Отказ банка становится ErrPaymentDeclined.
func classify(err error) error {
	switch {
	case errors.Is(err, domain.ErrGatewayAuthFailure), errors.Is(err, domain.ErrCredentialUnavailable):
		return err
	case gateway.IsRejection(err):
		return fmt.Errorf("%w: %v", domain.ErrPaymentDeclined, err)
	default:
		return err
	}
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrPaymentDeclined):
		return "declined"
	case domain.IsValidation(err):
		return "invalid"
	default:
		return "error"
	}
}
