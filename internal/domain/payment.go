package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStrategy: протокол оплаты, выбранный по способу оплаты заказа.
type PaymentStrategy string

const (
	// PaymentStrategyInternal: списание с внутреннего баланса клиента.
	PaymentStrategyInternal PaymentStrategy = "internal"
	// PaymentStrategyExternalBank: S2S списание через банковский шлюз.
	PaymentStrategyExternalBank PaymentStrategy = "external_bank"
	// PaymentStrategyRedirect: оплата через редирект на платёжный процессор.
	PaymentStrategyRedirect PaymentStrategy = "redirect"
)

// PaymentOrigin: закрытый вариант способа оплаты.
// Реализации существуют только в пакете domain.
type PaymentOrigin interface {
	Strategy() PaymentStrategy
	Validate() error
	isPaymentOrigin()
}

// InternalOrigin: оплата с внутреннего счёта.
type InternalOrigin struct {
	AccountID string
}

// ExternalBankOrigin: оплата со счёта во внешнем банке.
type ExternalBankOrigin struct {
	CustomerTaxID       string
	SourceAccountNumber string
	// ExternalDebtRef опционален: заполняется при погашении долга.
	ExternalDebtRef string
}

// RedirectOrigin: оплата через платёжный процессор.
type RedirectOrigin struct{}

func (InternalOrigin) Strategy() PaymentStrategy     { return PaymentStrategyInternal }
func (ExternalBankOrigin) Strategy() PaymentStrategy { return PaymentStrategyExternalBank }
func (RedirectOrigin) Strategy() PaymentStrategy     { return PaymentStrategyRedirect }

func (InternalOrigin) isPaymentOrigin()     {}
func (ExternalBankOrigin) isPaymentOrigin() {}
func (RedirectOrigin) isPaymentOrigin()     {}

// Validate проверяет обязательные поля внутреннего счёта.
func (o InternalOrigin) Validate() error {
	if o.AccountID == "" {
		return ErrPaymentOriginIncomplete
	}
	return nil
}

// Validate проверяет обязательные поля банковского списания.
func (o ExternalBankOrigin) Validate() error {
	if o.CustomerTaxID == "" || o.SourceAccountNumber == "" {
		return ErrPaymentOriginIncomplete
	}
	return nil
}

// Validate для редиректа всегда успешен.
func (RedirectOrigin) Validate() error { return nil }

// ValidateOrigin проверяет, что способ оплаты задан и заполнен.
func ValidateOrigin(origin PaymentOrigin) error {
	if origin == nil {
		return ErrPaymentOriginRequired
	}
	return origin.Validate()
}

// PaymentReceipt: квитанция синхронной оплаты. Не сохраняется.
type PaymentReceipt struct {
	Amount            decimal.Decimal
	AuthorizationCode string
	Timestamp         time.Time
	Description       string
	Origin            PaymentStrategy
}

// PaymentResult: результат исполнения стратегии оплаты.
type PaymentResult struct {
	Strategy PaymentStrategy
	// Receipt заполнен для синхронных стратегий.
	Receipt *PaymentReceipt
	// RedirectURL заполнен для редиректа.
	RedirectURL string
	// Settlement: долг, о погашении которого банк уведомляется после сохранения заказа.
	Settlement *DebtSettlement
}

// DebtSettlement: погашенный со внутреннего счёта внешний долг.
type DebtSettlement struct {
	DebtRef string
	Amount  decimal.Decimal
}

// ProcessorPaymentStatus: статус платежа у процессора.
type ProcessorPaymentStatus string

const (
	ProcessorPaymentApproved ProcessorPaymentStatus = "approved"
	ProcessorPaymentPending  ProcessorPaymentStatus = "pending"
	ProcessorPaymentRejected ProcessorPaymentStatus = "rejected"
)

// ProcessorPayment: состояние платежа, прочитанное у процессора.
type ProcessorPayment struct {
	ID                string
	Status            ProcessorPaymentStatus
	ExternalReference string
}

// BankAccount: счёт клиента во внешнем банке.
type BankAccount struct {
	Number   string          `json:"number"`
	Type     string          `json:"type"`
	Currency string          `json:"currency"`
	Balance  decimal.Decimal `json:"balance"`
}
