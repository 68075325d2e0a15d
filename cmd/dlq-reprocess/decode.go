package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/payflow/internal/messaging/kafka"
)

// errNotReplayable: запись не похожа ни на один известный формат DLQ.
var errNotReplayable = errors.New("not a replayable record")

// candidate: запись, готовая к повторной публикации.
type candidate struct {
	topic  string
	key    string
	value  []byte
	reason string
}

// outboxDeadLetter: конверт outbox, в payload которого лежит
// исходное событие и причина, по которой его не удалось доставить.
type outboxDeadLetter struct {
	ID            string `json:"id"`
	AggregateType string `json:"aggregate_type"`
	AggregateID   string `json:"aggregate_id"`
	EventType     string `json:"event_type"`
	Payload       struct {
		OutboxID     string          `json:"outbox_id"`
		Event        json.RawMessage `json:"payload"`
		PublishError string          `json:"publish_error"`
		Attempts     int             `json:"attempts"`
	} `json:"payload"`
}

// replayedEvent совпадает с конвертом, который публикует outbox.
type replayedEvent struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
	Replayed      bool            `json:"replayed"`
}

// decode разбирает запись DLQ. Записи consumer несут x-original-topic и
// исходное значение, записи outbox распознаются по payload.outbox_id.
func decode(msg *sarama.ConsumerMessage, fallback string, now time.Time) (candidate, error) {
	if origin := header(msg, kafka.HeaderOriginalTopic); origin != "" {
		if origin == kafka.TopicProcessorCallbacks {
			if _, err := kafka.ParseProcessorCallback(msg); err != nil {
				return candidate{}, err
			}
		}
		return candidate{
			topic:  origin,
			key:    string(msg.Key),
			value:  msg.Value,
			reason: header(msg, kafka.HeaderErrorMessage),
		}, nil
	}

	var dead outboxDeadLetter
	if json.Unmarshal(msg.Value, &dead) != nil || dead.Payload.OutboxID == "" {
		return candidate{}, errNotReplayable
	}
	if len(dead.Payload.Event) == 0 {
		return candidate{}, fmt.Errorf("outbox record %s has no event payload", dead.Payload.OutboxID)
	}

	value, err := json.Marshal(replayedEvent{
		ID:            dead.Payload.OutboxID,
		AggregateType: dead.AggregateType,
		AggregateID:   dead.AggregateID,
		EventType:     dead.EventType,
		Payload:       dead.Payload.Event,
		PublishedAt:   now.UTC(),
		Replayed:      true,
	})
	if err != nil {
		return candidate{}, fmt.Errorf("encode replayed event: %w", err)
	}
	key := dead.AggregateID
	if key == "" {
		key = dead.Payload.OutboxID
	}
	return candidate{topic: fallback, key: key, value: value, reason: dead.Payload.PublishError}, nil
}

func header(msg *sarama.ConsumerMessage, key string) string {
	return strings.TrimSpace(kafka.HeaderValue(msg, key))
}
