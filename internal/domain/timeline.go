package domain

import (
	"strings"
	"time"
)

// Типы событий таймлайна заказа.
const (
	TimelineOrderCreated   = "order.created"
	TimelineOrderConfirmed = "order.confirmed"
	TimelineOrderCancelled = "order.cancelled"
	TimelineStatusChanged  = "order.status_changed"
	TimelineSeatsReserved  = "seats.reserved"
	TimelineSeatsReleased  = "seats.released"
	TimelinePaymentDone    = "payment.done"
	TimelineRedirectIssued = "payment.redirect_issued"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
// Seq присваивает хранилище; при равном Occurred порядок определяет Seq.
type TimelineEvent struct {
	Seq      int64
	OrderID  string
	Type     string
	Reason   string
	Occurred time.Time
}

// Normalize проверяет запись перед сохранением и проставляет время в UTC.
func (e TimelineEvent) Normalize(now time.Time) (TimelineEvent, error) {
	e.OrderID = strings.TrimSpace(e.OrderID)
	e.Type = strings.TrimSpace(e.Type)
	if e.OrderID == "" || e.Type == "" {
		return TimelineEvent{}, ErrTimelineEventInvalid
	}
	if e.Occurred.IsZero() {
		e.Occurred = now
	}
	e.Occurred = e.Occurred.UTC()
	e.Seq = 0
	return e, nil
}

// Before задаёт порядок выдачи таймлайна.
func (e TimelineEvent) Before(other TimelineEvent) bool {
	if !e.Occurred.Equal(other.Occurred) {
		return e.Occurred.Before(other.Occurred)
	}
	return e.Seq < other.Seq
}
