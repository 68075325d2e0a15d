package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
)

// EventType определяет тип события
type EventType string

const (
	EventTypeOrderCreated        EventType = "order.created"
	EventTypeOrderConfirmed      EventType = "order.confirmed"
	EventTypeOrderCancelled      EventType = "order.cancelled"
	EventTypeOrderStatusChanged  EventType = "order.status_changed"
	EventTypeSubscriptionRenewed EventType = "subscription.renewed"
)

// Topics для Kafka
const (
	TopicOrderEvents        = "payflow.order.events"
	TopicProcessorCallbacks = "payflow.processor.callbacks"
	TopicDeadLetterQueue    = "payflow.dlq"
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent: полезная нагрузка outbox-события заказа.
type OrderEvent struct {
	EventType EventType      `json:"event_type"`
	OrderID   string         `json:"order_id"`
	ClientID  string         `json:"client_id"`
	Status    string         `json:"status"`
	Total     string         `json:"total"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewOrderEvent собирает событие по текущему состоянию заказа.
func NewOrderEvent(eventType EventType, order domain.Order, metadata map[string]any) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   order.ID,
		ClientID:  order.ClientID,
		Status:    string(order.Status),
		Total:     order.Total.StringFixed(domain.MoneyScale),
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
}

// ProcessorCallback: уведомление платёжного процессора, поставленное в очередь.
// Содержит только идентификатор платежа: статус всегда перечитывается у процессора.
type ProcessorCallback struct {
	PaymentID  string    `json:"payment_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// ParseOrderEvent парсит OrderEvent из сообщения
func ParseOrderEvent(message *sarama.ConsumerMessage) (*OrderEvent, error) {
	var event OrderEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order event: %w", err)
	}
	return &event, nil
}

// ParseProcessorCallback парсит уведомление процессора.
func ParseProcessorCallback(message *sarama.ConsumerMessage) (*ProcessorCallback, error) {
	var callback ProcessorCallback
	if err := json.Unmarshal(message.Value, &callback); err != nil {
		return nil, fmt.Errorf("failed to unmarshal processor callback: %w", err)
	}
	callback.PaymentID = strings.TrimSpace(callback.PaymentID)
	if callback.PaymentID == "" {
		return nil, errors.New("processor callback without payment_id")
	}
	return &callback, nil
}
