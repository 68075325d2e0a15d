package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

// SeatRepository резервирует места в seat_reservations. Место уникально
// в пределах сервиса за счёт ограничения seat_reservations_seat_key.
type SeatRepository struct {
	db *sql.DB
}

// NewSeatRepository создаёт репозиторий поверх открытого Store.
func NewSeatRepository(store *Store) *SeatRepository {
	return &SeatRepository{db: store.DB()}
}

// Reserve вставляет все места одним INSERT: либо заняты все, либо ни одного.
func (r *SeatRepository) Reserve(ctx context.Context, serviceID, orderID, holderID string, seats []domain.Seat) error {
	if err := domain.ValidateSeats(seats); err != nil {
		return err
	}
	rows := make([]string, len(seats))
	cols := make([]int32, len(seats))
	for i, s := range seats {
		rows[i], cols[i] = s.Row, int32(s.Column) //nolint:gosec // seat columns are small positive numbers.
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	const q = `
		INSERT INTO seat_reservations (service_id, seat_row, seat_col, holder_id, order_id)
		SELECT $1, s.seat_row, s.seat_col, $4, $5
		FROM unnest($2::text[], $3::int[]) AS s(seat_row, seat_col)`
	if _, err := r.db.ExecContext(ctx, q, serviceID, rows, cols, holderID, orderID); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSeatsAlreadyTaken
		}
		return fmt.Errorf("reserve seats for %s: %w", orderID, err)
	}
	return nil
}

// ReleaseByOrder снимает все брони заказа и возвращает их число.
func (r *SeatRepository) ReleaseByOrder(ctx context.Context, orderID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM seat_reservations WHERE order_id = $1`, orderID)
	if err != nil {
		return 0, fmt.Errorf("release seats of %s: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func (r *SeatRepository) ListByService(ctx context.Context, serviceID string) ([]domain.SeatReservation, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	const q = `
		SELECT service_id, seat_row, seat_col, holder_id, order_id, created_at
		FROM seat_reservations WHERE service_id = $1
		ORDER BY seat_row, seat_col`
	rows, err := r.db.QueryContext(ctx, q, serviceID)
	if err != nil {
		return nil, fmt.Errorf("list seats of %s: %w", serviceID, err)
	}
	defer rows.Close()

	out := []domain.SeatReservation{}
	for rows.Next() {
		var s domain.SeatReservation
		if err := rows.Scan(&s.ServiceID, &s.Row, &s.Column, &s.HolderID, &s.OrderID, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan seat: %w", err)
		}
		s.CreatedAt = s.CreatedAt.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

var _ domain.SeatRepository = (*SeatRepository)(nil)
