package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create атомарно сохраняет заказ вместе со всеми позициями.
	Create(ctx context.Context, order Order) (Order, error)
	// Get возвращает заказ с позициями или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// ListByClient возвращает заказы клиента, новые первыми.
	ListByClient(ctx context.Context, clientID string, limit int) ([]Order, error)
	// ListAll возвращает все заказы, новые первыми.
	ListAll(ctx context.Context, limit int) ([]Order, error)
	// UpdateStatus меняет статус и, если note != nil, примечание.
	UpdateStatus(ctx context.Context, id string, status OrderStatus, note *string) error
	// ConfirmIfPending переводит заказ из pending_payment в confirmed и сообщает,
	// выполнил ли переход именно этот вызов. Заказы в других статусах не меняются.
	ConfirmIfPending(ctx context.Context, id string) (bool, error)
	// CancelIfCancellable переводит заказ в cancelled, если он не cancelled и не completed.
	// Возвращает состояние до перехода и признак выполненного перехода.
	CancelIfCancellable(ctx context.Context, id string) (Order, bool, error)
}

// SeatRepository хранит занятые места.
type SeatRepository interface {
	// Reserve занимает все места или ни одного (ErrSeatsAlreadyTaken).
	Reserve(ctx context.Context, serviceID, orderID, holderID string, seats []Seat) error
	// ReleaseByOrder освобождает места заказа и возвращает их количество.
	ReleaseByOrder(ctx context.Context, orderID string) (int, error)
	ListByService(ctx context.Context, serviceID string) ([]SeatReservation, error)
}

// SubscriptionRepository хранит подписки для продления.
type SubscriptionRepository interface {
	Upsert(ctx context.Context, sub Subscription) error
	Get(ctx context.Context, id string) (Subscription, error)
	// ListDue возвращает активные подписки с NextRenewalAt <= now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Subscription, error)
	MarkRenewed(ctx context.Context, id string, next time.Time) error
}
