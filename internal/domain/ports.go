package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TicketType: тариф билетной услуги.
type TicketType struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// CatalogService описывает каталог товаров или услуг.
type CatalogService interface {
	// GetPrice возвращает текущую цену позиции каталога.
	GetPrice(ctx context.Context, itemID string) (decimal.Decimal, error)
	// GetTicketTypes возвращает тарифы билетной услуги.
	GetTicketTypes(ctx context.Context, itemID string) ([]TicketType, error)
	// AdjustStock меняет остаток на delta (отрицательное: списание).
	AdjustStock(ctx context.Context, itemID string, delta int32) error
	// MarkPaid помечает услугу оплаченной.
	MarkPaid(ctx context.Context, itemID string) error
}

// InternalDebitRequest: списание с внутреннего баланса.
type InternalDebitRequest struct {
	AccountID string
	Amount    decimal.Decimal
}

// AccountsService описывает сервис внутренних счетов.
type AccountsService interface {
	// Debit списывает сумму, пробрасывая авторизацию вызывающего клиента.
	Debit(ctx context.Context, req InternalDebitRequest, authToken string) (PaymentReceipt, error)
}

// BankDebitRequest: S2S списание во внешнем банке.
type BankDebitRequest struct {
	CustomerTaxID       string
	SourceAccountNumber string
	Amount              decimal.Decimal
	Description         string
	DebtRef             string
}

// BankGateway описывает API внешнего банка.
type BankGateway interface {
	Debit(ctx context.Context, req BankDebitRequest) (PaymentReceipt, error)
	DebitByDebtRef(ctx context.Context, req BankDebitRequest) (PaymentReceipt, error)
	// SettleDebt уведомляет банк о погашении долга.
	SettleDebt(ctx context.Context, debtRef string, amount decimal.Decimal) error
	ListAccounts(ctx context.Context, customerTaxID string) ([]BankAccount, error)
}

// PreferenceItem: позиция в платёжном предпочтении процессора.
type PreferenceItem struct {
	Title     string          `json:"title"`
	Quantity  int32           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Preference: запрос на создание редирект-оплаты.
type Preference struct {
	Items             []PreferenceItem
	ExternalReference string
}

// PreferenceResult: созданная у процессора оплата.
type PreferenceResult struct {
	ID          string
	RedirectURL string
}

// PaymentProcessor описывает редирект-процессор.
type PaymentProcessor interface {
	CreatePreference(ctx context.Context, pref Preference) (PreferenceResult, error)
	// GetPayment читает авторитетное состояние платежа.
	GetPayment(ctx context.Context, paymentID string) (ProcessorPayment, error)
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит ключи идемпотентности gRPC-вызовов.
type IdempotencyRepository interface {
	// Claim занимает ключ под новый вызов. Если живая запись уже есть, она
	// возвращается вместе с ErrIdempotencyKeyAlreadyExists или ErrIdempotencyHashMismatch.
	Claim(ctx context.Context, entry IdempotencyEntry) (IdempotencyEntry, error)
	Lookup(ctx context.Context, key string) (IdempotencyEntry, error)
	// Settle фиксирует итог вызова, занявшего ключ.
	Settle(ctx context.Context, key string, state IdempotencyState, result []byte, code uint32) error
	PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OrderStep задаёт константы шагов оформления для метрик/логов.
type OrderStep string

const (
	OrderStepValidate   OrderStep = "validate"
	OrderStepPrice      OrderStep = "price"
	OrderStepReserve    OrderStep = "reserve"
	OrderStepPay        OrderStep = "pay"
	OrderStepPersist    OrderStep = "persist"
	OrderStepRedirect   OrderStep = "redirect"
	OrderStepRelease    OrderStep = "release"
	OrderStepCancel     OrderStep = "cancel"
	OrderStepFulfilment OrderStep = "fulfilment"
)
