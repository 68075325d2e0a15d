package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

func (r *outboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Attempts, msg.LastError, msg.NextAttemptAt = 0, "", msg.CreatedAt

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, next_attempt_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, msg.CreatedAt); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message: %w", err)
	}
	return msg, nil
}

// Due берёт голову очереди каждого агрегата, если её время пришло.
func (r *outboxRepository) Due(ctx context.Context, now time.Time, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT m.id, m.aggregate_type, m.aggregate_id, m.event_type, m.payload,
		       m.created_at, m.attempts, m.next_attempt_at, m.last_error
		FROM outbox_messages m
		WHERE m.state = 'pending'
		  AND m.next_attempt_at <= $1
		  AND NOT EXISTS (
			SELECT 1 FROM outbox_messages e
			WHERE e.state = 'pending'
			  AND e.aggregate_type = m.aggregate_type
			  AND e.aggregate_id = m.aggregate_id
			  AND (e.created_at, e.id) < (m.created_at, m.id)
		  )
		ORDER BY m.created_at, m.id
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due outbox messages: %w", err)
	}
	defer rows.Close()

	var due []domain.OutboxMessage
	for rows.Next() {
		var m domain.OutboxMessage
		if err := rows.Scan(&m.ID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.Payload,
			&m.CreatedAt, &m.Attempts, &m.NextAttemptAt, &m.LastError); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		m.CreatedAt, m.NextAttemptAt = m.CreatedAt.UTC(), m.NextAttemptAt.UTC()
		due = append(due, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select due outbox messages: %w", err)
	}
	return due, nil
}

func (r *outboxRepository) MarkDelivered(ctx context.Context, id string) error {
	return r.transition(ctx, id, `state = 'delivered'`)
}

func (r *outboxRepository) Retry(ctx context.Context, id string, next time.Time, lastErr string) error {
	return r.transition(ctx, id, `attempts = attempts + 1, next_attempt_at = $2, last_error = $3`, next, lastErr)
}

func (r *outboxRepository) Bury(ctx context.Context, id string, lastErr string) error {
	return r.transition(ctx, id, `state = 'dead', attempts = attempts + 1, last_error = $2`, lastErr)
}

// transition обновляет только записи в состоянии pending; $1 всегда id.
func (r *outboxRepository) transition(ctx context.Context, id, set string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox_messages SET `+set+`, updated_at = NOW() WHERE id = $1 AND state = 'pending'`,
		append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update outbox message %s: %w", id, err)
	}
	return requireAffected(res, domain.ErrOutboxMessageNotFound)
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE state = 'pending'),
		       COUNT(*) FILTER (WHERE state = 'dead'),
		       MIN(created_at) FILTER (WHERE state = 'pending')
		FROM outbox_messages
	`).Scan(&stats.Pending, &stats.Dead, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}
	return stats, nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
