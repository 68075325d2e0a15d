package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

type seatKey struct {
	serviceID string
	row       string
	column    int
}

// seatRepositoryInMemory занимает места атомарно под одним мьютексом.
type seatRepositoryInMemory struct {
	mu    sync.Mutex
	seats map[seatKey]domain.SeatReservation
}

// NewSeatRepository создаёт in-memory реализацию SeatRepository.
func NewSeatRepository() domain.SeatRepository {
	return &seatRepositoryInMemory{seats: make(map[seatKey]domain.SeatReservation)}
}

// Reserve занимает все места или ни одного.
func (r *seatRepositoryInMemory) Reserve(_ context.Context, serviceID, orderID, holderID string, seats []domain.Seat) error {
	if err := domain.ValidateSeats(seats); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, seat := range seats {
		if _, taken := r.seats[seatKey{serviceID, seat.Row, seat.Column}]; taken {
			return domain.ErrSeatsAlreadyTaken
		}
	}

	now := time.Now().UTC()
	for _, seat := range seats {
		r.seats[seatKey{serviceID, seat.Row, seat.Column}] = domain.SeatReservation{
			ServiceID: serviceID,
			Row:       seat.Row,
			Column:    seat.Column,
			HolderID:  holderID,
			OrderID:   orderID,
			CreatedAt: now,
		}
	}
	return nil
}

// ReleaseByOrder освобождает места заказа.
func (r *seatRepositoryInMemory) ReleaseByOrder(_ context.Context, orderID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	released := 0
	for key, reservation := range r.seats {
		if reservation.OrderID == orderID {
			delete(r.seats, key)
			released++
		}
	}
	return released, nil
}

// ListByService возвращает занятые места услуги, отсортированные по ряду и колонке.
func (r *seatRepositoryInMemory) ListByService(_ context.Context, serviceID string) ([]domain.SeatReservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]domain.SeatReservation, 0)
	for key, reservation := range r.seats {
		if key.serviceID == serviceID {
			result = append(result, reservation)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Row != result[j].Row {
			return result[i].Row < result[j].Row
		}
		return result[i].Column < result[j].Column
	})
	return result, nil
}

var _ domain.SeatRepository = (*seatRepositoryInMemory)(nil)
