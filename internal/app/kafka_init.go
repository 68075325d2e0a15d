package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/vladislavdragonenkov/payflow/internal/domain"
	"github.com/vladislavdragonenkov/payflow/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/payflow/internal/service/reconcile"
)

// initKafkaProducer создаёт producer, если брокеры заданы.
// Возвращает nil, nil без брокеров; при ошибке сервис продолжает работу без Kafka.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	// Контекст трассировки saga и сверки уходит в заголовки сообщений.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	producer, err := kafka.NewProducer(brokers, kafka.WithClientID("payflow-server"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// startCallbackConsumer читает топик уведомлений процессора и сверяет платежи.
// Сообщения, не прошедшие сверку после повторов, уходят в DLQ.
func startCallbackConsumer(ctx context.Context, cfg Config, reconciler reconcile.PaymentReconciler, dlq *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	handler := kafka.CallbackHandler(func(ctx context.Context, paymentID string) error {
		outcome, err := reconciler.Reconcile(ctx, paymentID)
		if err != nil {
			return err
		}
		logger.WithFields(log.Fields{
			"payment_id": paymentID,
			"outcome":    outcome,
		}).Debug("processor callback reconciled")
		return nil
	})

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:    cfg.KafkaBrokerList(),
		GroupID:    cfg.KafkaConsumerGroup,
		Topics:     []string{cfg.KafkaCallbackTopic},
		MaxRetries: cfg.KafkaMaxRetries,
	}, handler, dlq)
	if err != nil {
		return nil, fmt.Errorf("create callback consumer: %w", err)
	}
	if err := consumer.Start(ctx); err != nil {
		_ = consumer.Stop()
		return nil, fmt.Errorf("start callback consumer: %w", err)
	}
	return consumer, nil
}

// logPublisher заменяет Kafka без брокеров: события outbox только логируются.
type logPublisher struct {
	logger *log.Entry
}

func (p logPublisher) Publish(_ context.Context, event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"event_id":       event.ID,
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
	}).Info("outbox event (kafka disabled)")
	return nil
}
