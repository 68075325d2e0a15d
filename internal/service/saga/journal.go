package saga

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
	"github.com/vladislavdragonenkov/payflow/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/payflow/internal/metrics"
)

// Journal пишет события заказа в outbox и таймлайн. Ошибки только логируются:
// к моменту записи заказ уже сохранён.
type Journal struct {
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
}

// NewJournal создаёт журнал событий. outbox и timeline могут быть nil.
func NewJournal(outbox domain.OutboxRepository, timeline domain.TimelineRepository, m *metrics.OrderMetrics, logger *log.Entry) *Journal {
	if logger == nil {
		logger = log.WithField("component", "order-journal")
	}
	return &Journal{
		outbox:   outbox,
		timeline: timeline,
		metrics:  m,
		logger:   logger,
	}
}

// Record публикует событие заказа через outbox и добавляет его в таймлайн.
func (j *Journal) Record(ctx context.Context, order domain.Order, eventType kafka.EventType, reason string, metadata map[string]any) {
	if j == nil {
		return
	}
	if reason != "" {
		if metadata == nil {
			metadata = make(map[string]any, 1)
		}
		metadata["reason"] = reason
	}

	event := kafka.NewOrderEvent(eventType, order, metadata)
	j.enqueue(ctx, order.ID, eventType, event)
	j.Note(ctx, order.ID, string(eventType), reason)
}

// RecordRenewal публикует продление подписки. Таймлайн получает запись о созданном заказе.
func (j *Journal) RecordRenewal(ctx context.Context, sub domain.Subscription, order domain.Order) {
	if j == nil {
		return
	}
	event := kafka.NewOrderEvent(kafka.EventTypeSubscriptionRenewed, order, map[string]any{
		"subscription_id": sub.ID,
		"service_id":      sub.ServiceID,
	})
	j.enqueue(ctx, order.ID, kafka.EventTypeSubscriptionRenewed, event)
	j.Note(ctx, order.ID, domain.TimelineOrderCreated, "subscription "+sub.ID+" renewed")
}

// Note добавляет запись только в таймлайн; время ставит репозиторий.
func (j *Journal) Note(ctx context.Context, orderID, eventType, reason string) {
	if j == nil || j.timeline == nil {
		return
	}
	event := domain.TimelineEvent{OrderID: orderID, Type: eventType, Reason: reason}
	if err := j.timeline.Append(ctx, event); err != nil {
		j.failed(orderID, eventType, err).Warn("append timeline event failed")
		return
	}
	if j.metrics != nil {
		j.metrics.RecordTimelineEvent()
	}
}

func (j *Journal) enqueue(ctx context.Context, orderID string, eventType kafka.EventType, event *kafka.OrderEvent) {
	if j.outbox == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err == nil {
		_, err = j.outbox.Enqueue(ctx, domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   orderID,
			EventType:     string(eventType),
			Payload:       payload,
		})
	}
	if err != nil {
		j.failed(orderID, string(eventType), err).Error("enqueue order event failed")
		return
	}
	if j.metrics != nil {
		j.metrics.RecordOutboxEvent()
	}
}

func (j *Journal) failed(orderID, eventType string, err error) *log.Entry {
	return j.logger.WithError(err).WithFields(log.Fields{"order_id": orderID, "event": eventType})
}
