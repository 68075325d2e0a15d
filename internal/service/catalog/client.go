// Package catalog содержит клиент каталога товаров и услуг.
package catalog

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
	"github.com/vladislavdragonenkov/payflow/internal/service/rest"
)

// Client: HTTP-клиент одного каталога (товары или услуги).
type Client struct {
	rest *rest.Client
}

// NewClient создаёт клиент каталога.
func NewClient(r *rest.Client) *Client {
	return &Client{rest: r}
}

var _ domain.CatalogService = (*Client)(nil)

type priceResponse struct {
	Price decimal.Decimal `json:"price"`
}

// GetPrice выполняет GET /items/{id}.
func (c *Client) GetPrice(ctx context.Context, itemID string) (decimal.Decimal, error) {
	var out priceResponse
	err := c.rest.Do(ctx, rest.Call{Method: http.MethodGet, Path: itemPath(itemID), Out: &out})
	if err != nil {
		return decimal.Zero, err
	}
	return out.Price, nil
}

// GetTicketTypes выполняет GET /items/{id}/ticket-types.
func (c *Client) GetTicketTypes(ctx context.Context, itemID string) ([]domain.TicketType, error) {
	var out []domain.TicketType
	err := c.rest.Do(ctx, rest.Call{Method: http.MethodGet, Path: itemPath(itemID) + "/ticket-types", Out: &out})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AdjustStock выполняет PATCH /items/{id}/stock.
func (c *Client) AdjustStock(ctx context.Context, itemID string, delta int32) error {
	return c.rest.Do(ctx, rest.Call{
		Method: http.MethodPatch,
		Path:   itemPath(itemID) + "/stock",
		Body:   map[string]int32{"delta": delta},
	})
}

// MarkPaid выполняет PATCH /services/{id}/mark-paid.
func (c *Client) MarkPaid(ctx context.Context, itemID string) error {
	return c.rest.Do(ctx, rest.Call{
		Method: http.MethodPatch,
		Path:   "/services/" + url.PathEscape(itemID) + "/mark-paid",
	})
}

func itemPath(itemID string) string {
	return "/items/" + url.PathEscape(itemID)
}
