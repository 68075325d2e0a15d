package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

type outboxEntry struct {
	msg   domain.OutboxMessage
	state domain.OutboxState
}

// OutboxRepository: outbox в памяти процесса.
type OutboxRepository struct {
	mu      sync.Mutex
	entries map[string]*outboxEntry
}

// NewOutboxRepository создаёт пустой outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{entries: make(map[string]*outboxEntry)}
}

// Enqueue ставит событие в очередь; ID и время создания заполняются при отсутствии.
func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Attempts, msg.LastError = 0, ""
	msg.NextAttemptAt = msg.CreatedAt

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[msg.ID] = &outboxEntry{msg: msg, state: domain.OutboxPending}
	return msg, nil
}

// Due выдаёт готовые записи, по одной голове очереди на агрегат.
func (r *OutboxRepository) Due(_ context.Context, now time.Time, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var due []domain.OutboxMessage
	seen := make(map[string]bool)
	for _, msg := range r.pendingLocked() {
		key := msg.AggregateType + "/" + msg.AggregateID
		if seen[key] {
			continue
		}
		seen[key] = true
		if msg.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, msg)
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

// MarkDelivered снимает запись с очереди после публикации.
func (r *OutboxRepository) MarkDelivered(_ context.Context, id string) error {
	return r.update(id, func(e *outboxEntry) { e.state = domain.OutboxDelivered })
}

// Retry откладывает запись до next.
func (r *OutboxRepository) Retry(_ context.Context, id string, next time.Time, lastErr string) error {
	return r.update(id, func(e *outboxEntry) {
		e.msg.Attempts++
		e.msg.NextAttemptAt = next
		e.msg.LastError = lastErr
	})
}

// Bury выводит запись из очереди окончательно.
func (r *OutboxRepository) Bury(_ context.Context, id string, lastErr string) error {
	return r.update(id, func(e *outboxEntry) {
		e.msg.Attempts++
		e.msg.LastError = lastErr
		e.state = domain.OutboxDead
	})
}

// Stats считает backlog.
func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats domain.OutboxStats
	for _, e := range r.entries {
		switch e.state {
		case domain.OutboxPending:
			stats.Pending++
			if stats.OldestPendingAt.IsZero() || e.msg.CreatedAt.Before(stats.OldestPendingAt) {
				stats.OldestPendingAt = e.msg.CreatedAt
			}
		case domain.OutboxDead:
			stats.Dead++
		}
	}
	return stats, nil
}

// AllPending возвращает все неотправленные записи в порядке создания.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingLocked()
}

func (r *OutboxRepository) update(id string, apply func(*outboxEntry)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || e.state != domain.OutboxPending {
		return domain.ErrOutboxMessageNotFound
	}
	apply(e)
	return nil
}

func (r *OutboxRepository) pendingLocked() []domain.OutboxMessage {
	out := make([]domain.OutboxMessage, 0, len(r.entries))
	for _, e := range r.entries {
		if e.state == domain.OutboxPending {
			out = append(out, e.msg)
		}
	}
	slices.SortFunc(out, func(a, b domain.OutboxMessage) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
