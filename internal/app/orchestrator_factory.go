package app

import (
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payflow/internal/metrics"
	"github.com/vladislavdragonenkov/payflow/internal/service/payment"
	"github.com/vladislavdragonenkov/payflow/internal/service/pricing"
	"github.com/vladislavdragonenkov/payflow/internal/service/saga"
)

// createOrchestrator собирает оформление заказа: цены, маршрутизация оплаты, saga
// и внешняя граница из таймаута и circuit breaker.
func createOrchestrator(
	cfg Config,
	taxRate decimal.Decimal,
	deps *runtimeDependencies,
	in *integrations,
	orderMetrics *metrics.OrderMetrics,
	paymentMetrics *metrics.PaymentMetrics,
	logger *log.Entry,
) saga.Orchestrator {
	resolver := pricing.NewResolver(in.products, in.services,
		pricing.WithTaxRate(taxRate),
		pricing.WithLogger(logger.WithField("component", "pricing")),
	)
	router := payment.NewRouter(in.accounts, in.bank, in.processor,
		payment.WithLogger(logger.WithField("component", "payment-router")),
		payment.WithMetrics(paymentMetrics),
	)

	inner := saga.NewOrchestrator(saga.Dependencies{
		Orders:   deps.orders,
		Seats:    deps.seats,
		Outbox:   deps.outboxRepo,
		Timeline: deps.timelineRepo,
		Pricer:   resolver,
		Payments: router,
		Products: in.products,
		Services: in.services,
	},
		saga.WithLogger(logger.WithField("component", "saga")),
		saga.WithMetrics(orderMetrics),
	)

	breaker := saga.NewCircuitBreaker(cfg.BreakerMaxFailures, cfg.BreakerResetTimeout, logger.WithField("component", "circuit-breaker"))
	return saga.NewBreakerOrchestrator(inner, breaker, cfg.CreateOrderTimeout, logger.WithField("component", "breaker-orchestrator"))
}
