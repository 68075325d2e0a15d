package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

// TimelineRepository держит таймлайны заказов упорядоченными при вставке.
type TimelineRepository struct {
	mu   sync.RWMutex
	seq  int64
	byID map[string][]domain.TimelineEvent
	now  func() time.Time
}

// NewTimelineRepository создаёт пустой таймлайн.
func NewTimelineRepository() *TimelineRepository {
	return &TimelineRepository{
		byID: make(map[string][]domain.TimelineEvent),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Append вставляет запись на её место по (Occurred, Seq).
func (r *TimelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	event, err := event.Normalize(r.now())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	event.Seq = r.seq
	events := r.byID[event.OrderID]
	at := sort.Search(len(events), func(i int) bool { return event.Before(events[i]) })
	events = append(events, domain.TimelineEvent{})
	copy(events[at+1:], events[at:])
	events[at] = event
	r.byID[event.OrderID] = events
	return nil
}

// List возвращает копию таймлайна; для неизвестного заказа: пустой срез.
func (r *TimelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.TimelineEvent{}, r.byID[orderID]...), nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
