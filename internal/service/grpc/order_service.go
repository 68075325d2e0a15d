// Package grpcsvc публикует оформление заказов как gRPC-сервис payflow.v1.OrderService.
package grpcsvc

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
	"github.com/vladislavdragonenkov/payflow/internal/service/idempotency"
	"github.com/vladislavdragonenkov/payflow/internal/service/renewal"
	"github.com/vladislavdragonenkov/payflow/internal/service/saga"
)

const (
	idempotencyKeyHeader = "idempotency-key"
	authorizationHeader  = "authorization"

	defaultListOrdersLimit = 100
	maxListOrdersLimit     = 1000
)

// Renewer запускает проход продления подписок.
type Renewer interface {
	RunOnce(ctx context.Context) (renewal.Report, error)
}

// AccountDirectory ищет счета клиента во внешнем банке.
type AccountDirectory interface {
	ListAccounts(ctx context.Context, customerTaxID string) ([]domain.BankAccount, error)
}

// Dependencies: сервисы, на которые опирается API.
type Dependencies struct {
	Orders      saga.Orchestrator
	Renewals    Renewer
	Accounts    AccountDirectory
	Idempotency *idempotency.Guard
}

// OrderService реализует OrderServiceServer поверх оркестратора заказов.
type OrderService struct {
	orders   saga.Orchestrator
	renewals Renewer
	accounts AccountDirectory
	guard    *idempotency.Guard
	logger   *log.Entry
}

// NewOrderService конструирует сервис с зависимостями.
func NewOrderService(deps Dependencies, logger *log.Entry) *OrderService {
	if logger == nil {
		logger = log.WithField("component", "order-service")
	}
	return &OrderService{
		orders:   deps.Orders,
		renewals: deps.Renewals,
		accounts: deps.Accounts,
		guard:    deps.Idempotency,
		logger:   logger,
	}
}

// CreateOrder оформляет и оплачивает заказ.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	return idempotency.Do(ctx, s.guard, readIdempotencyKey(ctx), MethodCreateOrder, req,
		func(ctx context.Context) (*CreateOrderResponse, error) {
			origin, err := toDomainOrigin(req.Origin)
			if err != nil {
				return nil, s.fail(err, "CreateOrder", log.Fields{"client_id": req.ClientID})
			}

			result, err := s.orders.CreateOrder(ctx, saga.CreateOrderCommand{
				ClientID:  req.ClientID,
				Lines:     toDomainLines(req.Lines),
				Note:      req.Note,
				Origin:    origin,
				AuthToken: readMetadata(ctx, authorizationHeader),
			})
			if err != nil {
				return nil, s.fail(err, "CreateOrder", log.Fields{"client_id": req.ClientID})
			}
			return toCreateResponse(result), nil
		},
	)
}

// GetOrder возвращает заказ и его таймлайн.
func (s *OrderService) GetOrder(ctx context.Context, req *GetOrderRequest) (*GetOrderResponse, error) {
	if req == nil || req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	order, err := s.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, s.fail(err, "GetOrder", log.Fields{"order_id": req.OrderID})
	}

	events, err := s.orders.Timeline(ctx, req.OrderID)
	if err != nil {
		// Заказ важнее таймлайна: отдаём его без истории.
		s.logger.WithError(err).WithField("order_id", req.OrderID).Warn("failed to list timeline events")
	}

	return &GetOrderResponse{
		Order:    toAPIOrder(order),
		Timeline: toAPITimeline(events),
	}, nil
}

// ListOrders возвращает заказы клиента или все заказы, если клиент не указан.
func (s *OrderService) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	if req == nil {
		req = &ListOrdersRequest{}
	}

	limit := int(req.Limit)
	switch {
	case limit <= 0:
		limit = defaultListOrdersLimit
	case limit > maxListOrdersLimit:
		limit = maxListOrdersLimit
	}

	orders, err := s.orders.ListOrders(ctx, strings.TrimSpace(req.ClientID), limit)
	if err != nil {
		return nil, s.fail(err, "ListOrders", log.Fields{"client_id": req.ClientID})
	}

	result := make([]*Order, 0, len(orders))
	for _, order := range orders {
		result = append(result, toAPIOrder(order))
	}
	return &ListOrdersResponse{Orders: result}, nil
}

// CancelOrder отменяет заказ и освобождает его ресурсы.
func (s *OrderService) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*CancelOrderResponse, error) {
	if req == nil || req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	return idempotency.Do(ctx, s.guard, readIdempotencyKey(ctx), MethodCancelOrder, req,
		func(ctx context.Context) (*CancelOrderResponse, error) {
			order, err := s.orders.CancelOrder(ctx, req.OrderID)
			if err != nil {
				return nil, s.fail(err, "CancelOrder", log.Fields{"order_id": req.OrderID})
			}
			return &CancelOrderResponse{Order: toAPIOrder(order)}, nil
		},
	)
}

// UpdateOrderStatus: административная смена статуса заказа.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, req *UpdateOrderStatusRequest) (*UpdateOrderStatusResponse, error) {
	if req == nil || req.OrderID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}

	return idempotency.Do(ctx, s.guard, readIdempotencyKey(ctx), MethodUpdateOrderStatus, req,
		func(ctx context.Context) (*UpdateOrderStatusResponse, error) {
			order, err := s.orders.UpdateStatus(ctx, req.OrderID, domain.OrderStatus(req.Status), req.Note)
			if err != nil {
				return nil, s.fail(err, "UpdateOrderStatus", log.Fields{
					"order_id": req.OrderID,
					"status":   req.Status,
				})
			}
			return &UpdateOrderStatusResponse{Order: toAPIOrder(order)}, nil
		},
	)
}

// RenewSubscriptions запускает продление подписок вне расписания.
func (s *OrderService) RenewSubscriptions(ctx context.Context, req *RenewSubscriptionsRequest) (*RenewSubscriptionsResponse, error) {
	if s.renewals == nil {
		return nil, status.Error(codes.Unimplemented, "subscription renewal is disabled")
	}
	if req == nil {
		req = &RenewSubscriptionsRequest{}
	}

	return idempotency.Do(ctx, s.guard, readIdempotencyKey(ctx), MethodRenewSubscriptions, req,
		func(ctx context.Context) (*RenewSubscriptionsResponse, error) {
			report, err := s.renewals.RunOnce(ctx)
			if err != nil {
				return nil, s.fail(err, "RenewSubscriptions", nil)
			}
			return toRenewResponse(report), nil
		},
	)
}

// ListBankAccounts возвращает счета клиента во внешнем банке.
func (s *OrderService) ListBankAccounts(ctx context.Context, req *ListBankAccountsRequest) (*ListBankAccountsResponse, error) {
	if req == nil || strings.TrimSpace(req.CustomerTaxID) == "" {
		return nil, status.Error(codes.InvalidArgument, "customer_tax_id is required")
	}
	if s.accounts == nil {
		return nil, status.Error(codes.Unimplemented, "bank accounts lookup is disabled")
	}

	accounts, err := s.accounts.ListAccounts(ctx, strings.TrimSpace(req.CustomerTaxID))
	if err != nil {
		return nil, s.fail(err, "ListBankAccounts", nil)
	}
	if accounts == nil {
		accounts = []domain.BankAccount{}
	}
	return &ListBankAccountsResponse{Accounts: accounts}, nil
}

// fail логирует ошибку с уровнем по её природе и переводит её в gRPC status.
func (s *OrderService) fail(err error, operation string, fields log.Fields) error {
	st := toStatusError(err)
	entry := s.logger.WithError(err).WithField("operation", operation)
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}

	switch status.Code(st) {
	case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists, codes.FailedPrecondition:
		entry.Info("request rejected")
	case codes.Internal:
		entry.Error("request failed")
	default:
		entry.Warn("request failed")
	}
	return st
}

func readIdempotencyKey(ctx context.Context) string {
	return readMetadata(ctx, idempotencyKeyHeader)
}

func readMetadata(ctx context.Context, key string) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(key); len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

var _ OrderServiceServer = (*OrderService)(nil)
