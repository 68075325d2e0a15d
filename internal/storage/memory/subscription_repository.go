package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

// SubscriptionRepository держит подписки в map под RWMutex.
type SubscriptionRepository struct {
	mu   sync.RWMutex
	subs map[string]domain.Subscription
}

func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{subs: make(map[string]domain.Subscription)}
}

func (r *SubscriptionRepository) Upsert(_ context.Context, sub domain.Subscription) error {
	r.mu.Lock()
	r.subs[sub.ID] = sub
	r.mu.Unlock()
	return nil
}

func (r *SubscriptionRepository) Get(_ context.Context, id string) (domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sub, ok := r.subs[id]; ok {
		return sub, nil
	}
	return domain.Subscription{}, domain.ErrSubscriptionNotFound
}

// ListDue отдаёт подписки к продлению: самые просроченные первыми, при равенстве по ID.
func (r *SubscriptionRepository) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Subscription, error) {
	r.mu.RLock()
	due := make([]domain.Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		if sub.Due(now) {
			due = append(due, sub)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(due, func(a, b domain.Subscription) int {
		if c := a.NextRenewalAt.Compare(b.NextRenewalAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 {
		due = due[:min(limit, len(due))]
	}
	return due, nil
}

func (r *SubscriptionRepository) MarkRenewed(_ context.Context, id string, next time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return domain.ErrSubscriptionNotFound
	}
	sub.NextRenewalAt = next
	r.subs[id] = sub
	return nil
}

var _ domain.SubscriptionRepository = (*SubscriptionRepository)(nil)
