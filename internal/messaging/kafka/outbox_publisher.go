package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

// HeaderEventType дублирует тип события в заголовке, чтобы фильтровать без разбора тела.
const HeaderEventType = "x-event-type"

// outboxEnvelope: формат события на проводе.
type outboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	PublishedAt   time.Time       `json:"published_at"`
}

// OutboxPublisher отправляет записи outbox в один топик.
// Ключ записи равен идентификатору агрегата, поэтому события заказа идут в одну партицию.
type OutboxPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт паблишер; пустой topic означает TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxPublisher{producer: producer, topic: topic}
}

// Publish реализует domain.OutboxPublisher.
func (p *OutboxPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errProducerClosed
	}
	key := msg.AggregateID
	if key == "" {
		key = msg.ID
	}
	envelope := outboxEnvelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		CreatedAt:     msg.CreatedAt,
		PublishedAt:   p.producer.now().UTC(),
	}
	return p.producer.SendJSON(ctx, p.topic, key, envelope, map[string]string{HeaderEventType: msg.EventType})
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
