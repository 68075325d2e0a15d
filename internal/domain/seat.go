package domain

import "time"

// SeatReservation: занятое место на услуге. Уникально по (ServiceID, Row, Column).
type SeatReservation struct {
	ServiceID string
	Row       string
	Column    int
	HolderID  string
	OrderID   string
	CreatedAt time.Time
}

// Seat возвращает координаты места.
func (r SeatReservation) Seat() Seat {
	return Seat{Row: r.Row, Column: r.Column}
}

// ValidateSeats проверяет, что места заданы и не повторяются внутри запроса.
func ValidateSeats(seats []Seat) error {
	if len(seats) == 0 {
		return ErrSeatsInvalid
	}
	seen := make(map[Seat]struct{}, len(seats))
	for _, seat := range seats {
		if seat.Row == "" || seat.Column <= 0 {
			return ErrSeatsInvalid
		}
		if _, dup := seen[seat]; dup {
			return ErrSeatsInvalid
		}
		seen[seat] = struct{}{}
	}
	return nil
}
