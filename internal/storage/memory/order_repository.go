package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

// OrderRepository хранит заказы в памяти. Наружу отдаются только копии.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	now    func() time.Time
}

// NewOrderRepository создаёт пустой репозиторий заказов.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[string]domain.Order),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *OrderRepository) Create(_ context.Context, order domain.Order) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.orders[order.ID]; taken {
		return domain.Order{}, domain.ErrOrderAlreadyExists
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = r.now()
	}
	order.UpdatedAt = order.CreatedAt
	r.orders[order.ID] = cloneOrder(order)
	return cloneOrder(order), nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if order, ok := r.orders[id]; ok {
		return cloneOrder(order), nil
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

// ListByClient отдаёт заказы клиента от новых к старым; limit <= 0 снимает ограничение.
func (r *OrderRepository) ListByClient(_ context.Context, clientID string, limit int) ([]domain.Order, error) {
	return r.collect(limit, func(o domain.Order) bool { return o.ClientID == clientID }), nil
}

func (r *OrderRepository) ListAll(_ context.Context, limit int) ([]domain.Order, error) {
	return r.collect(limit, nil), nil
}

func (r *OrderRepository) collect(limit int, keep func(domain.Order) bool) []domain.Order {
	r.mu.RLock()
	out := make([]domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		if keep == nil || keep(o) {
			out = append(out, cloneOrder(o))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return newerFirst(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// newerFirst совпадает с ORDER BY created_at DESC, id DESC в postgres.
func newerFirst(a, b domain.Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (r *OrderRepository) UpdateStatus(_ context.Context, id string, status domain.OrderStatus, note *string) error {
	if !status.Valid() {
		return domain.ErrOrderStatusInvalid
	}
	_, _, err := r.mutate(id, func(o *domain.Order) bool {
		o.Status = status
		if note != nil {
			o.Note = *note
		}
		return true
	})
	return err
}

// ConfirmIfPending переводит заказ из pending_payment в confirmed; false для любого другого статуса.
func (r *OrderRepository) ConfirmIfPending(_ context.Context, id string) (bool, error) {
	_, changed, err := r.mutate(id, func(o *domain.Order) bool {
		if o.Status != domain.OrderStatusPendingPayment {
			return false
		}
		o.Status = domain.OrderStatusConfirmed
		return true
	})
	return changed, err
}

// CancelIfCancellable отменяет заказ, если он не отменён и не завершён.
// Возвращает состояние до отмены.
func (r *OrderRepository) CancelIfCancellable(_ context.Context, id string) (domain.Order, bool, error) {
	return r.mutate(id, func(o *domain.Order) bool {
		switch o.Status {
		case domain.OrderStatusCancelled, domain.OrderStatusCompleted:
			return false
		}
		o.Status = domain.OrderStatusCancelled
		return true
	})
}

// mutate применяет change к заказу под блокировкой и сохраняет его, если change вернул true.
func (r *OrderRepository) mutate(id string, change func(*domain.Order) bool) (domain.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[id]
	if !ok {
		return domain.Order{}, false, domain.ErrOrderNotFound
	}
	before := cloneOrder(current)
	if !change(&current) {
		return before, false, nil
	}
	current.UpdatedAt = r.now()
	r.orders[id] = current
	return before, true, nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Lines = make([]domain.OrderLine, len(src.Lines))
	for i, line := range src.Lines {
		line.Seats = append([]domain.Seat(nil), line.Seats...)
		dst.Lines[i] = line
	}
	return dst
}

var _ domain.OrderRepository = (*OrderRepository)(nil)
