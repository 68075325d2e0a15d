// Package credential хранит сервисный токен для внешнего банковского шлюза.
package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
	"github.com/vladislavdragonenkov/payflow/internal/metrics"
)

const (
	// MaxFetchTimeout: верхняя граница ожидания получения токена.
	MaxFetchTimeout = 5 * time.Second
	refreshKey      = "service-token"
)

// TokenSource получает новый сервисный токен по сети.
type TokenSource interface {
	FetchToken(ctx context.Context) (string, error)
}

// TokenSourceFunc адаптирует функцию к TokenSource.
type TokenSourceFunc func(ctx context.Context) (string, error)

// FetchToken вызывает f(ctx).
func (f TokenSourceFunc) FetchToken(ctx context.Context) (string, error) { return f(ctx) }

// Options настраивает кеш.
type Options struct {
	FetchTimeout time.Duration
	Logger       *log.Entry
	Metrics      *metrics.CredentialMetrics
}

// Option модифицирует Options.
type Option func(*Options)

// WithFetchTimeout задаёт таймаут получения токена (не больше MaxFetchTimeout).
func WithFetchTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.FetchTimeout = timeout
	}
}

// WithLogger задаёт логгер кеша.
func WithLogger(logger *log.Entry) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithMetrics включает учёт обновлений токена.
func WithMetrics(m *metrics.CredentialMetrics) Option {
	return func(o *Options) {
		o.Metrics = m
	}
}

// Cache хранит токен и гарантирует не более одного сетевого запроса на обновление.
type Cache struct {
	source  TokenSource
	timeout time.Duration
	logger  *log.Entry
	metrics *metrics.CredentialMetrics

	mu    sync.RWMutex
	token string

	group singleflight.Group
}

// NewCache создаёт кеш поверх источника токенов.
func NewCache(source TokenSource, opts ...Option) *Cache {
	options := Options{FetchTimeout: MaxFetchTimeout}
	for _, opt := range opts {
		opt(&options)
	}
	if options.FetchTimeout <= 0 || options.FetchTimeout > MaxFetchTimeout {
		options.FetchTimeout = MaxFetchTimeout
	}
	if options.Logger == nil {
		options.Logger = log.WithField("component", "credential-cache")
	}

	return &Cache{
		source:  source,
		timeout: options.FetchTimeout,
		logger:  options.Logger,
		metrics: options.Metrics,
	}
}

// Get возвращает закешированный токен или получает новый.
func (c *Cache) Get(ctx context.Context) (string, error) {
	if token := c.Token(); token != "" {
		return token, nil
	}
	return c.Refresh(ctx)
}

// Refresh получает новый токен. Параллельные вызовы ждут один общий запрос.
func (c *Cache) Refresh(ctx context.Context) (string, error) {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.fetch()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", domain.ErrCredentialUnavailable, ctx.Err())
	}
}

// fetch не зависит от контекста вызывающего: запрос разделяется между ожидающими.
func (c *Cache) fetch() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	token, err := c.source.FetchToken(ctx)
	if err == nil && token == "" {
		err = fmt.Errorf("empty token")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.token = ""
		c.metrics.RecordRefresh(false)
		c.logger.WithError(err).Warn("service token refresh failed")
		return "", fmt.Errorf("%w: %v", domain.ErrCredentialUnavailable, err)
	}

	c.token = token
	c.metrics.RecordRefresh(true)
	c.logger.Debug("service token refreshed")
	return token, nil
}

// Invalidate сбрасывает токен, следующий Get пойдёт за новым.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// Token возвращает текущий токен без похода в сеть.
func (c *Cache) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}
