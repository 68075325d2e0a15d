// Package accounts содержит клиент сервиса внутренних счетов.
package accounts

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
	"github.com/vladislavdragonenkov/payflow/internal/service/rest"
)

// Client списывает средства с внутреннего баланса от имени клиента.
type Client struct {
	rest *rest.Client
}

// NewClient создаёт клиент сервиса счетов.
func NewClient(r *rest.Client) *Client {
	return &Client{rest: r}
}

var _ domain.AccountsService = (*Client)(nil)

type debitRequest struct {
	AccountID string          `json:"accountId"`
	Amount    decimal.Decimal `json:"amount"`
}

type debitResponse struct {
	AuthorizationCode string          `json:"authorizationCode"`
	Amount            decimal.Decimal `json:"amount"`
	Timestamp         time.Time       `json:"timestamp"`
	Description       string          `json:"description"`
}

// Debit выполняет POST /accounts/debit с авторизацией клиента.
func (c *Client) Debit(ctx context.Context, req domain.InternalDebitRequest, authToken string) (domain.PaymentReceipt, error) {
	var out debitResponse
	err := c.rest.Do(ctx, rest.Call{
		Method:        http.MethodPost,
		Path:          "/accounts/debit",
		Body:          debitRequest{AccountID: req.AccountID, Amount: domain.RoundMoney(req.Amount)},
		Out:           &out,
		Authorization: authToken,
	})
	if err != nil {
		return domain.PaymentReceipt{}, err
	}

	if out.Amount.IsZero() {
		out.Amount = domain.RoundMoney(req.Amount)
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}
	return domain.PaymentReceipt{
		Amount:            out.Amount,
		AuthorizationCode: out.AuthorizationCode,
		Timestamp:         out.Timestamp,
		Description:       out.Description,
		Origin:            domain.PaymentStrategyInternal,
	}, nil
}
