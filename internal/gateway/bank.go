package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

// Bank: API внешнего банка поверх устойчивого клиента.
type Bank struct {
	client *Client
}

// NewBank создаёт адаптер банковского API.
func NewBank(client *Client) *Bank {
	return &Bank{client: client}
}

var _ domain.BankGateway = (*Bank)(nil)

type debitPayload struct {
	TaxID         string          `json:"taxId"`
	SourceAccount string          `json:"sourceAccount"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description,omitempty"`
	DebtRef       string          `json:"debtRef,omitempty"`
}

type receiptPayload struct {
	AuthorizationCode string          `json:"authorizationCode"`
	Amount            decimal.Decimal `json:"amount"`
	Timestamp         time.Time       `json:"timestamp"`
	Description       string          `json:"description"`
}

// Debit списывает сумму со счёта клиента.
func (b *Bank) Debit(ctx context.Context, req domain.BankDebitRequest) (domain.PaymentReceipt, error) {
	return b.debit(ctx, "/debit", debitPayload{
		TaxID:         req.CustomerTaxID,
		SourceAccount: req.SourceAccountNumber,
		Amount:        domain.RoundMoney(req.Amount),
		Description:   req.Description,
	})
}

// DebitByDebtRef списывает сумму в счёт погашения долга.
func (b *Bank) DebitByDebtRef(ctx context.Context, req domain.BankDebitRequest) (domain.PaymentReceipt, error) {
	if req.DebtRef == "" {
		return domain.PaymentReceipt{}, fmt.Errorf("%w: debt reference is required", domain.ErrValidation)
	}
	return b.debit(ctx, "/debit/by-debt-ref", debitPayload{
		TaxID:         req.CustomerTaxID,
		SourceAccount: req.SourceAccountNumber,
		Amount:        domain.RoundMoney(req.Amount),
		Description:   req.Description,
		DebtRef:       req.DebtRef,
	})
}

func (b *Bank) debit(ctx context.Context, path string, payload debitPayload) (domain.PaymentReceipt, error) {
	resp, err := b.client.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: payload})
	if err != nil {
		return domain.PaymentReceipt{}, err
	}

	var receipt receiptPayload
	if err := resp.Decode(&receipt); err != nil {
		return domain.PaymentReceipt{}, &domain.GatewayError{Endpoint: path, Status: resp.Status, Err: err}
	}
	if receipt.Amount.IsZero() {
		receipt.Amount = payload.Amount
	}
	if receipt.Timestamp.IsZero() {
		receipt.Timestamp = time.Now().UTC()
	}
	if receipt.Description == "" {
		receipt.Description = payload.Description
	}

	return domain.PaymentReceipt{
		Amount:            receipt.Amount,
		AuthorizationCode: receipt.AuthorizationCode,
		Timestamp:         receipt.Timestamp,
		Description:       receipt.Description,
		Origin:            domain.PaymentStrategyExternalBank,
	}, nil
}

// SettleDebt уведомляет банк о погашении долга.
func (b *Bank) SettleDebt(ctx context.Context, debtRef string, amount decimal.Decimal) error {
	_, err := b.client.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/debts/" + url.PathEscape(debtRef) + "/settlement",
		Body:   map[string]decimal.Decimal{"amount": domain.RoundMoney(amount)},
	})
	return err
}

// ListAccounts возвращает счета клиента по налоговому идентификатору.
func (b *Bank) ListAccounts(ctx context.Context, customerTaxID string) ([]domain.BankAccount, error) {
	if customerTaxID == "" {
		return nil, fmt.Errorf("%w: tax id is required", domain.ErrValidation)
	}
	resp, err := b.client.Do(ctx, Request{
		Method: http.MethodGet,
		Path:   "/accounts",
		Query:  url.Values{"taxId": []string{customerTaxID}},
	})
	if err != nil {
		return nil, err
	}

	var accounts []domain.BankAccount
	if err := resp.Decode(&accounts); err != nil {
		return nil, &domain.GatewayError{Endpoint: "/accounts", Status: resp.Status, Err: err}
	}
	return accounts, nil
}
