package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

const (
	idempotencyColumns = `key, method, request_hash, state, result, grpc_code, expires_at, created_at, updated_at`
	defaultKeyTTL      = 24 * time.Hour
)

type idempotencyRepository struct {
	db *sql.DB
}

// NewIdempotencyRepository создаёт PostgreSQL-реализацию IdempotencyRepository.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{db: store.DB()}
}

func (r *idempotencyRepository) Claim(ctx context.Context, entry domain.IdempotencyEntry) (domain.IdempotencyEntry, error) {
	entry, err := entry.Normalize(time.Now().UTC(), defaultKeyTTL)
	if err != nil {
		return domain.IdempotencyEntry{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// Строка перезаписывается, только если прежний ключ уже истёк.
	var claimed string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO idempotency_keys (`+idempotencyColumns+`)
		VALUES ($1,$2,$3,$4,NULL,0,$5,$6,$6)
		ON CONFLICT (key) DO UPDATE SET
			method = EXCLUDED.method,
			request_hash = EXCLUDED.request_hash,
			state = EXCLUDED.state,
			result = NULL,
			grpc_code = 0,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
		WHERE idempotency_keys.expires_at <= EXCLUDED.created_at
		RETURNING key
	`, entry.Key, entry.Method, entry.RequestHash, string(entry.State), entry.ExpiresAt, entry.CreatedAt).Scan(&claimed)
	switch {
	case err == nil:
		return entry, nil
	case !errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyEntry{}, fmt.Errorf("claim idempotency key: %w", err)
	}

	held, err := r.Lookup(ctx, entry.Key)
	if err != nil {
		return domain.IdempotencyEntry{}, fmt.Errorf("load held idempotency key: %w", err)
	}
	if !held.SameRequest(entry) {
		return held, domain.ErrIdempotencyHashMismatch
	}
	return held, domain.ErrIdempotencyKeyAlreadyExists
}

func (r *idempotencyRepository) Lookup(ctx context.Context, key string) (domain.IdempotencyEntry, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyEntry{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		entry domain.IdempotencyEntry
		state string
		code  int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE key = $1
	`, key).Scan(
		&entry.Key, &entry.Method, &entry.RequestHash, &state, &entry.Result,
		&code, &entry.ExpiresAt, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyEntry{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyEntry{}, fmt.Errorf("lookup idempotency key: %w", err)
	}

	entry.State = domain.IdempotencyState(state)
	if !entry.State.Valid() {
		return domain.IdempotencyEntry{}, fmt.Errorf("idempotency key %s has unknown state %q", key, state)
	}
	entry.Code = uint32(code) //nolint:gosec // grpc_code хранит codes.Code.
	entry.ExpiresAt = entry.ExpiresAt.UTC()
	entry.CreatedAt = entry.CreatedAt.UTC()
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return entry, nil
}

func (r *idempotencyRepository) Settle(ctx context.Context, key string, state domain.IdempotencyState, result []byte, code uint32) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	if !state.Settled() {
		return domain.ErrIdempotencyStateInvalid
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET state = $2, result = $3, grpc_code = $4, updated_at = NOW()
		WHERE key = $1
	`, key, string(state), result, int64(code))
	if err != nil {
		return fmt.Errorf("settle idempotency key: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("settle idempotency key: %w", err)
	} else if n == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

func (r *idempotencyRepository) PurgeExpired(ctx context.Context, before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = time.Now().UTC()
	}
	if limit <= 0 {
		limit = -1
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	// LIMIT NULL в PostgreSQL означает отсутствие ограничения.
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM idempotency_keys
		WHERE key IN (
			SELECT key FROM idempotency_keys
			WHERE expires_at <= $1
			ORDER BY expires_at
			LIMIT NULLIF($2, -1)
		)
	`, before, limit)
	if err != nil {
		return 0, fmt.Errorf("purge expired idempotency keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge expired idempotency keys: %w", err)
	}
	return int(n), nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
