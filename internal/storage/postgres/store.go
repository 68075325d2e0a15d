package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// opTimeout ограничивает каждую операцию репозиториев.
const opTimeout = 5 * time.Second

var errStoreNotInitialized = errors.New("postgres store is not initialized")

type storeOptions struct {
	maxConns     int
	idleConns    int
	connLifetime time.Duration
	idleLifetime time.Duration
	pingTimeout  time.Duration
}

// Option настраивает пул соединений Store.
type Option func(*storeOptions)

// WithMaxConns ограничивает число открытых и простаивающих соединений.
func WithMaxConns(n int) Option {
	return func(o *storeOptions) {
		if n > 0 {
			o.maxConns, o.idleConns = n, n
		}
	}
}

// WithConnMaxLifetime задаёт время жизни соединения.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(o *storeOptions) {
		if d > 0 {
			o.connLifetime = d
		}
	}
}

// WithPingTimeout задаёт таймаут проверки соединения при открытии и в Ping.
func WithPingTimeout(d time.Duration) Option {
	return func(o *storeOptions) {
		if d > 0 {
			o.pingTimeout = d
		}
	}
}

// Store: пул соединений к PostgreSQL поверх драйвера pgx.
type Store struct {
	db          *sql.DB
	pingTimeout time.Duration
}

// Open подключается к базе по dsn и проверяет её доступность.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	o := storeOptions{
		maxConns:     25,
		idleConns:    25,
		connLifetime: 30 * time.Minute,
		idleLifetime: 5 * time.Minute,
		pingTimeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(o.maxConns)
	db.SetMaxIdleConns(o.idleConns)
	db.SetConnMaxLifetime(o.connLifetime)
	db.SetConnMaxIdleTime(o.idleLifetime)

	store := &Store{db: db, pingTimeout: o.pingTimeout}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// DB отдаёт пул для репозиториев и тестов.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет соединение; используется health-проверкой.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	timeout := s.pingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// EnsureSchema накатывает все ожидающие миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает пул; nil-Store закрывать безопасно.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
