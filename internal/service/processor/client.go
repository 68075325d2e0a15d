// Package processor содержит клиент редирект-процессора платежей.
package processor

import (
	"context"
	"net/http"
	"net/url"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
	"github.com/vladislavdragonenkov/payflow/internal/service/rest"
)

// BackURLs: адреса возврата покупателя после оплаты.
type BackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
	Pending string `json:"pending,omitempty"`
}

// Client работает с API процессора по access token из конфигурации.
type Client struct {
	rest     *rest.Client
	backURLs BackURLs
}

// NewClient создаёт клиент процессора.
func NewClient(r *rest.Client, backURLs BackURLs) *Client {
	return &Client{rest: r, backURLs: backURLs}
}

var _ domain.PaymentProcessor = (*Client)(nil)

type preferenceRequest struct {
	Items             []domain.PreferenceItem `json:"items"`
	ExternalReference string                  `json:"externalReference"`
	BackURLs          BackURLs                `json:"backUrls"`
}

type preferenceResponse struct {
	ID          string `json:"id"`
	RedirectURL string `json:"redirectUrl"`
}

type paymentResponse struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	ExternalReference string `json:"externalReference"`
}

// CreatePreference выполняет POST /checkout/preferences.
func (c *Client) CreatePreference(ctx context.Context, pref domain.Preference) (domain.PreferenceResult, error) {
	var out preferenceResponse
	err := c.rest.Do(ctx, rest.Call{
		Method: http.MethodPost,
		Path:   "/checkout/preferences",
		Body: preferenceRequest{
			Items:             pref.Items,
			ExternalReference: pref.ExternalReference,
			BackURLs:          c.backURLs,
		},
		Out: &out,
	})
	if err != nil {
		return domain.PreferenceResult{}, err
	}
	if out.RedirectURL == "" {
		return domain.PreferenceResult{}, &domain.GatewayError{Endpoint: "/checkout/preferences", Status: http.StatusOK, Body: "empty redirect url"}
	}
	return domain.PreferenceResult{ID: out.ID, RedirectURL: out.RedirectURL}, nil
}

// GetPayment выполняет GET /payments/{id}.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (domain.ProcessorPayment, error) {
	var out paymentResponse
	err := c.rest.Do(ctx, rest.Call{
		Method: http.MethodGet,
		Path:   "/payments/" + url.PathEscape(paymentID),
		Out:    &out,
	})
	if err != nil {
		return domain.ProcessorPayment{}, err
	}
	return domain.ProcessorPayment{
		ID:                out.ID,
		Status:            domain.ProcessorPaymentStatus(out.Status),
		ExternalReference: out.ExternalReference,
	}, nil
}
