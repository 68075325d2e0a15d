package grpcsvc

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
	"github.com/vladislavdragonenkov/payflow/internal/service/renewal"
	"github.com/vladislavdragonenkov/payflow/internal/service/saga"
)

// Seat: место в зале.
type Seat struct {
	Row    string `json:"row"`
	Column int    `json:"column"`
}

// LineRequest: позиция корзины.
type LineRequest struct {
	Kind         string          `json:"kind"`
	ItemID       string          `json:"itemId"`
	TicketTypeID string          `json:"ticketTypeId,omitempty"`
	Seats        []Seat          `json:"seats,omitempty"`
	Qty          int32           `json:"qty"`
	DebtRef      string          `json:"debtRef,omitempty"`
	DebtAmount   decimal.Decimal `json:"debtAmount"`
}

// PaymentOrigin: способ оплаты. Type: internal, external_bank или redirect.
type PaymentOrigin struct {
	Type                string `json:"type"`
	AccountID           string `json:"accountId,omitempty"`
	CustomerTaxID       string `json:"customerTaxId,omitempty"`
	SourceAccountNumber string `json:"sourceAccountNumber,omitempty"`
	ExternalDebtRef     string `json:"externalDebtRef,omitempty"`
}

// CreateOrderRequest: запрос на оформление заказа.
type CreateOrderRequest struct {
	ClientID string         `json:"clientId"`
	Lines    []LineRequest  `json:"lines"`
	Note     string         `json:"note,omitempty"`
	Origin   *PaymentOrigin `json:"origin"`
}

// OrderLine: сохранённая позиция заказа.
type OrderLine struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	ProductID    string          `json:"productId,omitempty"`
	ServiceID    string          `json:"serviceId,omitempty"`
	TicketTypeID string          `json:"ticketTypeId,omitempty"`
	Seats        []Seat          `json:"seats,omitempty"`
	DebtRef      string          `json:"debtRef,omitempty"`
	Qty          int32           `json:"qty"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

// Order: заказ в ответах API.
type Order struct {
	ID        string          `json:"id"`
	ClientID  string          `json:"clientId"`
	Status    string          `json:"status"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Total     decimal.Decimal `json:"total"`
	Note      string          `json:"note,omitempty"`
	Lines     []OrderLine     `json:"lines"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Receipt: квитанция синхронной оплаты.
type Receipt struct {
	Amount            decimal.Decimal `json:"amount"`
	AuthorizationCode string          `json:"authorizationCode"`
	Timestamp         time.Time       `json:"timestamp"`
	Description       string          `json:"description"`
	Origin            string          `json:"origin"`
}

// CreateOrderResponse: заказ и результат оплаты.
type CreateOrderResponse struct {
	Order       *Order   `json:"order"`
	Receipt     *Receipt `json:"receipt,omitempty"`
	RedirectURL string   `json:"redirectUrl,omitempty"`
}

// GetOrderRequest: запрос заказа.
type GetOrderRequest struct {
	OrderID string `json:"orderId"`
}

// TimelineEvent: запись таймлайна заказа.
type TimelineEvent struct {
	Seq        int64     `json:"seq"`
	Type       string    `json:"type"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// GetOrderResponse: заказ с таймлайном.
type GetOrderResponse struct {
	Order    *Order          `json:"order"`
	Timeline []TimelineEvent `json:"timeline"`
}

// ListOrdersRequest: пустой ClientID означает все заказы.
type ListOrdersRequest struct {
	ClientID string `json:"clientId,omitempty"`
	Limit    int32  `json:"limit,omitempty"`
}

type ListOrdersResponse struct {
	Orders []*Order `json:"orders"`
}

type CancelOrderRequest struct {
	OrderID string `json:"orderId"`
}

type CancelOrderResponse struct {
	Order *Order `json:"order"`
}

// UpdateOrderStatusRequest: административная смена статуса. Nil Note оставляет примечание как есть.
type UpdateOrderStatusRequest struct {
	OrderID string  `json:"orderId"`
	Status  string  `json:"status"`
	Note    *string `json:"note,omitempty"`
}

type UpdateOrderStatusResponse struct {
	Order *Order `json:"order"`
}

type RenewSubscriptionsRequest struct{}

type RenewSubscriptionsResponse struct {
	Processed int32 `json:"processed"`
	Succeeded int32 `json:"succeeded"`
	Failed    int32 `json:"failed"`
}

type ListBankAccountsRequest struct {
	CustomerTaxID string `json:"customerTaxId"`
}

type ListBankAccountsResponse struct {
	Accounts []domain.BankAccount `json:"accounts"`
}

func toDomainLines(lines []LineRequest) []domain.LineRequest {
	result := make([]domain.LineRequest, 0, len(lines))
	for _, line := range lines {
		result = append(result, domain.LineRequest{
			Kind:         domain.LineKind(line.Kind),
			ItemID:       line.ItemID,
			TicketTypeID: line.TicketTypeID,
			Seats:        toDomainSeats(line.Seats),
			Qty:          line.Qty,
			DebtRef:      line.DebtRef,
			DebtAmount:   line.DebtAmount,
		})
	}
	return result
}

func toDomainSeats(seats []Seat) []domain.Seat {
	if len(seats) == 0 {
		return nil
	}
	result := make([]domain.Seat, 0, len(seats))
	for _, seat := range seats {
		result = append(result, domain.Seat{Row: seat.Row, Column: seat.Column})
	}
	return result
}

func toDomainOrigin(origin *PaymentOrigin) (domain.PaymentOrigin, error) {
	if origin == nil {
		return nil, domain.ErrPaymentOriginRequired
	}
	switch domain.PaymentStrategy(origin.Type) {
	case domain.PaymentStrategyInternal:
		return domain.InternalOrigin{AccountID: origin.AccountID}, nil
	case domain.PaymentStrategyExternalBank:
		return domain.ExternalBankOrigin{
			CustomerTaxID:       origin.CustomerTaxID,
			SourceAccountNumber: origin.SourceAccountNumber,
			ExternalDebtRef:     origin.ExternalDebtRef,
		}, nil
	case domain.PaymentStrategyRedirect:
		return domain.RedirectOrigin{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown payment origin type %q", domain.ErrValidation, origin.Type)
	}
}

func toAPIOrder(order domain.Order) *Order {
	lines := make([]OrderLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		var seats []Seat
		for _, seat := range line.Seats {
			seats = append(seats, Seat{Row: seat.Row, Column: seat.Column})
		}
		lines = append(lines, OrderLine{
			ID:           line.ID,
			Kind:         string(line.Kind),
			ProductID:    line.ProductID,
			ServiceID:    line.ServiceID,
			TicketTypeID: line.TicketTypeID,
			Seats:        seats,
			DebtRef:      line.DebtRef,
			Qty:          line.Qty,
			UnitPrice:    line.UnitPrice,
			Subtotal:     line.Subtotal,
		})
	}

	return &Order{
		ID:        order.ID,
		ClientID:  order.ClientID,
		Status:    string(order.Status),
		Subtotal:  order.Subtotal,
		Tax:       order.Tax,
		Total:     order.Total,
		Note:      order.Note,
		Lines:     lines,
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	}
}

func toAPIReceipt(receipt *domain.PaymentReceipt) *Receipt {
	if receipt == nil {
		return nil
	}
	return &Receipt{
		Amount:            receipt.Amount,
		AuthorizationCode: receipt.AuthorizationCode,
		Timestamp:         receipt.Timestamp,
		Description:       receipt.Description,
		Origin:            string(receipt.Origin),
	}
}

func toCreateResponse(result saga.CreateResult) *CreateOrderResponse {
	return &CreateOrderResponse{
		Order:       toAPIOrder(result.Order),
		Receipt:     toAPIReceipt(result.Receipt),
		RedirectURL: result.RedirectURL,
	}
}

func toAPITimeline(events []domain.TimelineEvent) []TimelineEvent {
	result := make([]TimelineEvent, 0, len(events))
	for _, event := range events {
		result = append(result, TimelineEvent{
			Seq:        event.Seq,
			Type:       event.Type,
			Reason:     event.Reason,
			OccurredAt: event.Occurred,
		})
	}
	return result
}

func toRenewResponse(report renewal.Report) *RenewSubscriptionsResponse {
	return &RenewSubscriptionsResponse{
		Processed: int32(report.Processed), //nolint:gosec // bounded by renewal batch size.
		Succeeded: int32(report.Succeeded), //nolint:gosec // bounded by renewal batch size.
		Failed:    int32(report.Failed),    //nolint:gosec // bounded by renewal batch size.
	}
}
