// Package gateway реализует клиент внешнего банковского шлюза с сервисным токеном.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
	"github.com/vladislavdragonenkov/payflow/internal/metrics"
)

const (
	// DefaultTimeout ограничивает один HTTP-запрос к шлюзу.
	DefaultTimeout  = 5 * time.Second
	maxErrorBodyLen = 512
)

// Credentials: кеш сервисного токена.
type Credentials interface {
	Get(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
	Invalidate()
}

// Request описывает вызов шлюза.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body сериализуется в JSON, nil: без тела.
	Body any
}

// Response: успешный (2xx) ответ шлюза.
type Response struct {
	Status int
	Body   []byte
}

// Decode разбирает JSON-тело ответа.
func (r Response) Decode(dst any) error {
	if len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, dst); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

// ClientOption модифицирует клиент.
type ClientOption func(*Client)

// WithHTTPClient задаёт собственный http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger задаёт логгер клиента.
func WithLogger(logger *log.Entry) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics включает метрики запросов.
func WithMetrics(m *metrics.GatewayMetrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// Client выполняет запросы с Bearer-токеном и один раз повторяет запрос после 401.
type Client struct {
	baseURL string
	creds   Credentials
	http    *http.Client
	logger  *log.Entry
	metrics *metrics.GatewayMetrics
}

// NewClient создаёт клиент шлюза.
func NewClient(baseURL string, creds Credentials, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  log.WithField("component", "bank-gateway"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do выполняет запрос. Ответ 401 приводит к сбросу токена, обновлению и ровно одному повтору.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	payload, err := encodeBody(req.Body)
	if err != nil {
		return Response{}, err
	}

	token, err := c.creds.Get(ctx)
	if err != nil {
		return Response{}, err
	}

	resp, err := c.send(ctx, req, payload, token)
	if err != nil {
		return Response{}, err
	}
	if resp.Status != http.StatusUnauthorized {
		return c.result(req, resp)
	}

	c.logger.WithFields(log.Fields{"path": req.Path}).Info("gateway rejected service token, refreshing")
	c.creds.Invalidate()
	token, err = c.creds.Refresh(ctx)
	if err != nil {
		return Response{}, err
	}

	resp, err = c.send(ctx, req, payload, token)
	if err != nil {
		return Response{}, err
	}
	if resp.Status == http.StatusUnauthorized {
		c.creds.Invalidate()
		return Response{}, fmt.Errorf("%w: %s %s rejected after token refresh", domain.ErrGatewayAuthFailure, req.Method, req.Path)
	}
	return c.result(req, resp)
}

func (c *Client) result(req Request, resp Response) (Response, error) {
	if resp.Status >= 200 && resp.Status < 300 {
		return resp, nil
	}
	return Response{}, &domain.GatewayError{
		Endpoint: req.Path,
		Status:   resp.Status,
		Body:     truncate(string(resp.Body), maxErrorBodyLen),
	}
}

func (c *Client) send(ctx context.Context, req Request, payload []byte, token string) (Response, error) {
	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return Response{}, fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.metrics.RecordRequest(req.Path, metrics.OutcomeError, time.Since(start))
		return Response{}, &domain.GatewayError{Endpoint: req.Path, Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		c.metrics.RecordRequest(req.Path, metrics.OutcomeError, time.Since(start))
		return Response{}, &domain.GatewayError{Endpoint: req.Path, Status: httpResp.StatusCode, Err: err}
	}
	c.metrics.RecordRequest(req.Path, outcomeFor(httpResp.StatusCode), time.Since(start))

	return Response{Status: httpResp.StatusCode, Body: data}, nil
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode gateway request: %w", err)
	}
	return payload, nil
}

func outcomeFor(status int) string {
	switch {
	case status >= 200 && status < 300:
		return metrics.OutcomeOK
	case status == http.StatusUnauthorized:
		return metrics.OutcomeUnauthorized
	case status >= 400 && status < 500:
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

// IsRejection сообщает, что банк отклонил операцию по бизнес-причине (402/409/422).
func IsRejection(err error) bool {
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) {
		return false
	}
	switch gwErr.Status {
	case http.StatusPaymentRequired, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}
