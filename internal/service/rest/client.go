// Package rest содержит JSON-клиент для HTTP-сервисов-соседей (каталог, счета, процессор).
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

// DefaultTimeout ограничивает один запрос к соседнему сервису.
const DefaultTimeout = 5 * time.Second

const maxErrorBodyLen = 512

// Client выполняет JSON-запросы к одному базовому URL.
type Client struct {
	baseURL string
	http    *http.Client
	// bearer: статический токен; пустой означает, что токен передаётся в каждом вызове.
	bearer string
}

// Option модифицирует клиент.
type Option func(*Client)

// WithHTTPClient задаёт http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBearer задаёт статический Bearer-токен.
func WithBearer(token string) Option {
	return func(c *Client) {
		c.bearer = token
	}
}

// WithTimeout задаёт таймаут запроса.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http = &http.Client{Timeout: timeout}
		}
	}
}

// New создаёт клиент.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call описывает один запрос.
type Call struct {
	Method string
	Path   string
	Body   any
	// Out: приёмник JSON-ответа, может быть nil.
	Out any
	// Authorization перекрывает статический токен (проброс авторизации клиента).
	Authorization string
}

// Do выполняет запрос. Не-2xx ответы и сетевые ошибки возвращаются как *domain.GatewayError.
func (c *Client) Do(ctx context.Context, call Call) error {
	var body io.Reader
	if call.Body != nil {
		payload, err := json.Marshal(call.Body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", call.Method, call.Path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, c.baseURL+call.Path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", call.Method, call.Path, err)
	}
	req.Header.Set("Accept", "application/json")
	if call.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case call.Authorization != "":
		req.Header.Set("Authorization", call.Authorization)
	case c.bearer != "":
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.GatewayError{Endpoint: call.Path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return &domain.GatewayError{Endpoint: call.Path, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if call.Out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(call.Out); err != nil {
		return &domain.GatewayError{Endpoint: call.Path, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
