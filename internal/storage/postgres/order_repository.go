package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

const (
	orderColumns = `id, client_id, subtotal, tax, total, status, note, created_at, updated_at`
	lineColumns  = `order_id, id, kind, product_id, service_id, ticket_type_id, seats, debt_ref, qty, unit_price, subtotal`
)

// OrderRepository хранит шапку заказа в orders, позиции в order_lines.
type OrderRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) *OrderRepository {
	return &OrderRepository{db: store.DB(), now: time.Now}
}

// Create пишет шапку и позиции одной транзакцией.
func (r *OrderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if order.CreatedAt.IsZero() {
		order.CreatedAt = r.now().UTC()
	}
	order.UpdatedAt = order.CreatedAt

	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO orders (`+orderColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			order.ID, order.ClientID, order.Subtotal, order.Tax, order.Total,
			string(order.Status), order.Note, order.CreatedAt, order.UpdatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderAlreadyExists
			}
			return fmt.Errorf("insert order %s: %w", order.ID, err)
		}
		for pos, line := range order.Lines {
			if err := insertLine(ctx, tx, order.ID, pos, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func insertLine(ctx context.Context, tx *sql.Tx, orderID string, pos int, line domain.OrderLine) error {
	seats := line.Seats
	if seats == nil {
		seats = []domain.Seat{}
	}
	raw, err := json.Marshal(seats)
	if err != nil {
		return fmt.Errorf("encode seats: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_lines (
			id, order_id, position, kind, product_id, service_id,
			ticket_type_id, seats, debt_ref, qty, unit_price, subtotal
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		line.ID, orderID, pos, string(line.Kind), nullString(line.ProductID), nullString(line.ServiceID),
		line.TicketTypeID, raw, line.DebtRef, line.Qty, line.UnitPrice, line.Subtotal,
	)
	if err != nil {
		return fmt.Errorf("insert line %d of %s: %w", pos, orderID, err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	orders, err := r.query(ctx, `WHERE id = $1`, []any{id}, 0)
	if err != nil {
		return domain.Order{}, err
	}
	if len(orders) == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return orders[0], nil
}

func (r *OrderRepository) ListByClient(ctx context.Context, clientID string, limit int) ([]domain.Order, error) {
	return r.query(ctx, `WHERE client_id = $1`, []any{clientID}, limit)
}

func (r *OrderRepository) ListAll(ctx context.Context, limit int) ([]domain.Order, error) {
	return r.query(ctx, ``, nil, limit)
}

// query читает шапки и затем позиции всех найденных заказов одним запросом.
func (r *OrderRepository) query(ctx context.Context, where string, args []any, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	q := `SELECT ` + orderColumns + ` FROM orders ` + where + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	orders := []domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	if err := r.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *OrderRepository) attachLines(ctx context.Context, orders []domain.Order) error {
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+lineColumns+` FROM order_lines WHERE order_id = ANY($1) ORDER BY order_id, position`, ids)
	if err != nil {
		return fmt.Errorf("select order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		orderID, line, err := scanLine(rows)
		if err != nil {
			return err
		}
		if i, ok := index[orderID]; ok {
			orders[i].Lines = append(orders[i].Lines, line)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate order lines: %w", err)
	}
	return nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, note *string) error {
	if !status.Valid() {
		return domain.ErrOrderStatusInvalid
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = $2, note = COALESCE($3, note), updated_at = NOW() WHERE id = $1`,
		id, string(status), note)
	if err != nil {
		return fmt.Errorf("update status of %s: %w", id, err)
	}
	return requireAffected(res, domain.ErrOrderNotFound)
}

// ConfirmIfPending: условный UPDATE из pending_payment, из конкурентных вызовов true получит один.
func (r *OrderRepository) ConfirmIfPending(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`,
		id, string(domain.OrderStatusConfirmed), string(domain.OrderStatusPendingPayment))
	if err != nil {
		return false, fmt.Errorf("confirm %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	} else if n > 0 {
		return true, nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check order %s: %w", id, err)
	}
	if !exists {
		return false, domain.ErrOrderNotFound
	}
	return false, nil
}

// CancelIfCancellable блокирует строку в CTE и возвращает её состояние до UPDATE.
// Пустой результат означает либо отсутствие заказа, либо терминальный статус.
func (r *OrderRepository) CancelIfCancellable(ctx context.Context, id string) (domain.Order, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	const q = `
		WITH prev AS (
			SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE
		)
		UPDATE orders o
		SET status = $2, updated_at = NOW()
		FROM prev
		WHERE o.id = prev.id AND prev.status NOT IN ($3, $4)
		RETURNING prev.id, prev.client_id, prev.subtotal, prev.tax, prev.total,
		          prev.status, prev.note, prev.created_at, prev.updated_at`
	before, err := scanOrder(r.db.QueryRowContext(ctx, q, id,
		string(domain.OrderStatusCancelled),
		string(domain.OrderStatusCancelled),
		string(domain.OrderStatusCompleted)))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current, getErr := r.Get(ctx, id)
		if getErr != nil {
			return domain.Order{}, false, getErr
		}
		return current, false, nil
	case err != nil:
		return domain.Order{}, false, fmt.Errorf("cancel %s: %w", id, err)
	}

	orders := []domain.Order{before}
	if err := r.attachLines(ctx, orders); err != nil {
		return domain.Order{}, false, err
	}
	return orders[0], true, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	if err := row.Scan(&o.ID, &o.ClientID, &o.Subtotal, &o.Tax, &o.Total,
		&status, &o.Note, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

func scanLine(row rowScanner) (string, domain.OrderLine, error) {
	var (
		orderID, kind        string
		productID, serviceID sql.NullString
		seats                []byte
		line                 domain.OrderLine
	)
	if err := row.Scan(&orderID, &line.ID, &kind, &productID, &serviceID, &line.TicketTypeID,
		&seats, &line.DebtRef, &line.Qty, &line.UnitPrice, &line.Subtotal); err != nil {
		return "", domain.OrderLine{}, fmt.Errorf("scan order line: %w", err)
	}
	line.Kind = domain.LineKind(kind)
	line.ProductID = productID.String
	line.ServiceID = serviceID.String
	if len(seats) > 0 {
		if err := json.Unmarshal(seats, &line.Seats); err != nil {
			return "", domain.OrderLine{}, fmt.Errorf("decode seats of %s: %w", line.ID, err)
		}
	}
	if len(line.Seats) == 0 {
		line.Seats = nil
	}
	return orderID, line, nil
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
