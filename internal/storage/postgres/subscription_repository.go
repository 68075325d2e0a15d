package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

const subscriptionColumns = `id, client_id, service_id, customer_tax_id, source_account_number,
	amount, period_days, next_renewal_at, active`

type subscriptionRepository struct {
	db *sql.DB
}

// NewSubscriptionRepository создаёт PostgreSQL-реализацию SubscriptionRepository.
func NewSubscriptionRepository(store *Store) domain.SubscriptionRepository {
	return &subscriptionRepository{db: store.DB()}
}

func (r *subscriptionRepository) Upsert(ctx context.Context, sub domain.Subscription) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())
		ON CONFLICT (id) DO UPDATE SET
			client_id = EXCLUDED.client_id,
			service_id = EXCLUDED.service_id,
			customer_tax_id = EXCLUDED.customer_tax_id,
			source_account_number = EXCLUDED.source_account_number,
			amount = EXCLUDED.amount,
			period_days = EXCLUDED.period_days,
			next_renewal_at = EXCLUDED.next_renewal_at,
			active = EXCLUDED.active,
			updated_at = NOW()
	`,
		sub.ID, sub.ClientID, sub.ServiceID, sub.CustomerTaxID, sub.SourceAccountNumber,
		sub.Amount, sub.PeriodDays, sub.NextRenewalAt, sub.Active,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id string) (domain.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	sub, err := scanSubscription(r.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Subscription{}, domain.ErrSubscriptionNotFound
		}
		return domain.Subscription{}, fmt.Errorf("select subscription: %w", err)
	}
	return sub, nil
}

func (r *subscriptionRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE active AND next_renewal_at <= $1
		ORDER BY next_renewal_at ASC, id ASC
	`
	args := []any{now}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		result = append(result, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return result, nil
}

func (r *subscriptionRepository) MarkRenewed(ctx context.Context, id string, next time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET next_renewal_at = $2, updated_at = NOW()
		WHERE id = $1
	`, id, next)
	if err != nil {
		return fmt.Errorf("mark subscription renewed: %w", err)
	}
	return requireAffected(res, domain.ErrSubscriptionNotFound)
}

func scanSubscription(row rowScanner) (domain.Subscription, error) {
	var sub domain.Subscription
	if err := row.Scan(
		&sub.ID, &sub.ClientID, &sub.ServiceID, &sub.CustomerTaxID, &sub.SourceAccountNumber,
		&sub.Amount, &sub.PeriodDays, &sub.NextRenewalAt, &sub.Active,
	); err != nil {
		return domain.Subscription{}, err
	}
	sub.NextRenewalAt = sub.NextRenewalAt.UTC()
	return sub, nil
}

var _ domain.SubscriptionRepository = (*subscriptionRepository)(nil)
