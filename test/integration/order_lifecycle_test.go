package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
	"github.com/vladislavdragonenkov/payflow/internal/gateway"
	"github.com/vladislavdragonenkov/payflow/internal/service/accounts"
	"github.com/vladislavdragonenkov/payflow/internal/service/catalog"
	grpcsvc "github.com/vladislavdragonenkov/payflow/internal/service/grpc"
	"github.com/vladislavdragonenkov/payflow/internal/service/httpapi"
	"github.com/vladislavdragonenkov/payflow/internal/service/idempotency"
	"github.com/vladislavdragonenkov/payflow/internal/service/outbox"
	"github.com/vladislavdragonenkov/payflow/internal/service/payment"
	"github.com/vladislavdragonenkov/payflow/internal/service/pricing"
	"github.com/vladislavdragonenkov/payflow/internal/service/processor"
	"github.com/vladislavdragonenkov/payflow/internal/service/reconcile"
	"github.com/vladislavdragonenkov/payflow/internal/service/saga"
	"github.com/vladislavdragonenkov/payflow/internal/storage/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OutboxMessage
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types(orderID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var types []string
	for _, event := range p.events {
		if event.AggregateID == orderID {
			types = append(types, event.EventType)
		}
	}
	return types
}

// OrderLifecycleTestSuite прогоняет заказы через gRPC-сервис, webhook и outbox на in-memory хранилищах.
type OrderLifecycleTestSuite struct {
	suite.Suite

	service    *grpcsvc.OrderService
	webhook    *httptest.Server
	dispatcher *reconcile.Dispatcher
	outbox     *outbox.Worker
	published  *recordingPublisher

	products  *catalog.MockService
	services  *catalog.MockService
	accounts  *accounts.MockService
	processor *processor.MockService
	seats     domain.SeatRepository
	keys      int
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	base := log.New()
	base.SetLevel(log.WarnLevel)
	logger := base.WithField("component", "integration-test")

	s.products = catalog.NewMockService()
	s.products.Prices["p-1"] = decimal.RequireFromString("10.00")
	s.services = catalog.NewMockService()
	s.services.TicketTypes["concert"] = []domain.TicketType{{ID: "vip", Name: "VIP", Price: decimal.RequireFromString("50.00")}}
	s.accounts = accounts.NewMockService()
	s.processor = processor.NewMockService()
	s.seats = memory.NewSeatRepository()

	orders := memory.NewOrderRepository()
	outboxRepo := memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()

	orchestrator := saga.NewOrchestrator(saga.Dependencies{
		Orders:   orders,
		Seats:    s.seats,
		Outbox:   outboxRepo,
		Timeline: timeline,
		Pricer:   pricing.NewResolver(s.products, s.services, pricing.WithLogger(logger)),
		Payments: payment.NewRouter(s.accounts, gateway.NewMockBank(), s.processor, payment.WithLogger(logger)),
		Products: s.products,
		Services: s.services,
	}, saga.WithLogger(logger))

	reconciler := reconcile.NewReconciler(reconcile.Dependencies{
		Processor: s.processor,
		Orders:    orders,
		Outbox:    outboxRepo,
		Timeline:  timeline,
		Products:  s.products,
		Services:  s.services,
	}, reconcile.WithLogger(logger))
	s.dispatcher = reconcile.NewDispatcher(reconciler, logger)

	s.service = grpcsvc.NewOrderService(grpcsvc.Dependencies{
		Orders:      orchestrator,
		Idempotency: idempotency.NewGuard(memory.NewIdempotencyRepository(), idempotency.WithGuardLogger(logger)),
	}, logger)

	s.webhook = httptest.NewServer(httpapi.NewRouter(httpapi.Options{Callbacks: s.dispatcher, Logger: logger}))

	s.published = &recordingPublisher{}
	s.outbox = outbox.NewWorker(outboxRepo, s.published, outbox.WithLogger(logger))
}

func (s *OrderLifecycleTestSuite) TearDownTest() {
	s.webhook.Close()
	_ = s.dispatcher.Shutdown(context.Background())
}

func (s *OrderLifecycleTestSuite) ctx() context.Context {
	s.keys++
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("idempotency-key", fmt.Sprintf("%s-%d", s.T().Name(), s.keys)))
}

func (s *OrderLifecycleTestSuite) create(req *grpcsvc.CreateOrderRequest) *grpcsvc.CreateOrderResponse {
	resp, err := s.service.CreateOrder(s.ctx(), req)
	s.Require().NoError(err)
	s.Require().NotNil(resp.Order)
	return resp
}

// flushCallbacks дожидается фоновых сверок, запущенных webhook.
func (s *OrderLifecycleTestSuite) flushCallbacks() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Require().NoError(s.dispatcher.Shutdown(ctx))
}

func (s *OrderLifecycleTestSuite) postWebhook(body string) {
	resp, err := http.Post(s.webhook.URL+httpapi.WebhookPath, "application/json", strings.NewReader(body))
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Require().Equal(http.StatusOK, resp.StatusCode)
}

func productLine(qty int32) grpcsvc.LineRequest {
	return grpcsvc.LineRequest{Kind: string(domain.LineKindProduct), ItemID: "p-1", Qty: qty}
}

func (s *OrderLifecycleTestSuite) TestInternalOrderConfirmedThenCancelledRestocks() {
	resp := s.create(&grpcsvc.CreateOrderRequest{
		ClientID: "client-1",
		Lines:    []grpcsvc.LineRequest{productLine(2)},
		Origin:   &grpcsvc.PaymentOrigin{Type: "internal", AccountID: "acc-1"},
	})
	order := resp.Order
	s.Equal(string(domain.OrderStatusConfirmed), order.Status)
	s.True(order.Total.Equal(decimal.RequireFromString("23.60")), "total %s", order.Total)
	s.Require().NotNil(resp.Receipt)
	s.Equal(1, s.accounts.Calls())
	s.EqualValues(-2, s.products.StockDelta("p-1"))

	cancelled, err := s.service.CancelOrder(s.ctx(), &grpcsvc.CancelOrderRequest{OrderID: order.ID})
	s.Require().NoError(err)
	s.Equal(string(domain.OrderStatusCancelled), cancelled.Order.Status)
	s.EqualValues(0, s.products.StockDelta("p-1"))

	got, err := s.service.GetOrder(context.Background(), &grpcsvc.GetOrderRequest{OrderID: order.ID})
	s.Require().NoError(err)
	var types []string
	for _, event := range got.Timeline {
		types = append(types, event.Type)
	}
	s.Subset(types, []string{domain.TimelineOrderCreated, domain.TimelineOrderConfirmed, domain.TimelineOrderCancelled})

	for pass := 0; pass < 5; pass++ {
		result := s.outbox.ProcessOnce(context.Background())
		s.Zero(result.Retried + result.Dead)
		if result.Delivered == 0 {
			break
		}
	}
	s.ElementsMatch([]string{"order.created", "order.confirmed", "order.cancelled"}, s.published.types(order.ID))
}

func (s *OrderLifecycleTestSuite) TestRedirectOrderConfirmedByWebhook() {
	resp := s.create(&grpcsvc.CreateOrderRequest{
		ClientID: "client-2",
		Lines:    []grpcsvc.LineRequest{productLine(1)},
		Origin:   &grpcsvc.PaymentOrigin{Type: "redirect"},
	})
	orderID := resp.Order.ID
	s.Equal(string(domain.OrderStatusPendingPayment), resp.Order.Status)
	s.Contains(resp.RedirectURL, orderID)
	s.Zero(s.products.StockDelta("p-1"), "stock is untouched until payment is approved")

	s.processor.SetPayment(domain.ProcessorPayment{ID: "pay-1", Status: domain.ProcessorPaymentApproved, ExternalReference: orderID})
	s.postWebhook(`{"data":{"id":"pay-1"}}`)
	s.postWebhook(`{"data":{"id":"pay-1"}}`)
	s.flushCallbacks()

	got, err := s.service.GetOrder(context.Background(), &grpcsvc.GetOrderRequest{OrderID: orderID})
	s.Require().NoError(err)
	s.Equal(string(domain.OrderStatusConfirmed), got.Order.Status)
	s.EqualValues(-1, s.products.StockDelta("p-1"), "repeated callbacks must not fulfil twice")
}

func (s *OrderLifecycleTestSuite) TestRejectedPaymentLeavesOrderPending() {
	resp := s.create(&grpcsvc.CreateOrderRequest{
		ClientID: "client-3",
		Lines:    []grpcsvc.LineRequest{productLine(1)},
		Origin:   &grpcsvc.PaymentOrigin{Type: "redirect"},
	})

	s.processor.SetPayment(domain.ProcessorPayment{ID: "pay-2", Status: domain.ProcessorPaymentRejected, ExternalReference: resp.Order.ID})
	s.postWebhook(`{"data":{"id":"pay-2"}}`)
	s.postWebhook(`{"data":{"id":"unknown"}}`)
	s.flushCallbacks()

	got, err := s.service.GetOrder(context.Background(), &grpcsvc.GetOrderRequest{OrderID: resp.Order.ID})
	s.Require().NoError(err)
	s.Equal(string(domain.OrderStatusPendingPayment), got.Order.Status)
}

func (s *OrderLifecycleTestSuite) TestSeatsReleasedOnCancelCanBeTakenAgain() {
	ticketed := func(clientID string) *grpcsvc.CreateOrderRequest {
		return &grpcsvc.CreateOrderRequest{
			ClientID: clientID,
			Lines: []grpcsvc.LineRequest{{
				Kind:         string(domain.LineKindTicketed),
				ItemID:       "concert",
				TicketTypeID: "vip",
				Qty:          2,
				Seats:        []grpcsvc.Seat{{Row: "A", Column: 1}, {Row: "A", Column: 2}},
			}},
			Origin: &grpcsvc.PaymentOrigin{Type: "internal", AccountID: "acc-1"},
		}
	}

	first := s.create(ticketed("client-4"))
	s.True(first.Order.Total.Equal(decimal.RequireFromString("118.00")), "total %s", first.Order.Total)

	_, err := s.service.CreateOrder(s.ctx(), ticketed("client-5"))
	s.Equal(codes.AlreadyExists, status.Code(err))

	_, err = s.service.CancelOrder(s.ctx(), &grpcsvc.CancelOrderRequest{OrderID: first.Order.ID})
	s.Require().NoError(err)
	reserved, err := s.seats.ListByService(context.Background(), "concert")
	s.Require().NoError(err)
	s.Empty(reserved)

	second := s.create(ticketed("client-5"))
	s.Equal(string(domain.OrderStatusConfirmed), second.Order.Status)
}

func (s *OrderLifecycleTestSuite) TestIdempotentCreateReplaysResponse() {
	req := &grpcsvc.CreateOrderRequest{
		ClientID: "client-6",
		Lines:    []grpcsvc.LineRequest{productLine(1)},
		Origin:   &grpcsvc.PaymentOrigin{Type: "internal", AccountID: "acc-1"},
	}
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("idempotency-key", "same-key"))

	first, err := s.service.CreateOrder(ctx, req)
	s.Require().NoError(err)
	second, err := s.service.CreateOrder(ctx, req)
	s.Require().NoError(err)
	s.Equal(first.Order.ID, second.Order.ID)
	s.Equal(1, s.accounts.Calls(), "replayed request must not debit again")

	changed := *req
	changed.ClientID = "client-7"
	_, err = s.service.CreateOrder(ctx, &changed)
	s.Equal(codes.AlreadyExists, status.Code(err))
}

func (s *OrderLifecycleTestSuite) TestPricingFailureCreatesNothing() {
	_, err := s.service.CreateOrder(s.ctx(), &grpcsvc.CreateOrderRequest{
		ClientID: "client-8",
		Lines:    []grpcsvc.LineRequest{{Kind: string(domain.LineKindProduct), ItemID: "missing", Qty: 1}},
		Origin:   &grpcsvc.PaymentOrigin{Type: "internal", AccountID: "acc-1"},
	})
	s.Require().Error(err)

	list, err := s.service.ListOrders(context.Background(), &grpcsvc.ListOrdersRequest{ClientID: "client-8"})
	s.Require().NoError(err)
	s.Empty(list.Orders)
	s.Zero(s.accounts.Calls())
}

func TestOrderLifecycleSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}

func TestWebhookAlwaysAcknowledges(t *testing.T) {
	sink := reconcile.NewDispatcher(reconcile.NewReconciler(reconcile.Dependencies{
		Processor: processor.NewMockService(),
		Orders:    memory.NewOrderRepository(),
	}), nil)
	srv := httptest.NewServer(httpapi.NewRouter(httpapi.Options{Callbacks: sink}))
	defer srv.Close()

	for _, body := range []string{`{"data":{"id":"nope"}}`, `garbage`, ``} {
		resp, err := http.Post(srv.URL+httpapi.WebhookPath, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, "body %q", body)
	}
	require.NoError(t, sink.Shutdown(context.Background()))
}
