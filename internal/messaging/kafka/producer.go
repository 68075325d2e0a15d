// Package kafka связывает payflow с брокером: публикация outbox и уведомлений
// процессора, consumer group с повторами и dead letter очередью.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var sentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payflow_kafka_sent_total",
	Help: "Messages handed to Kafka by topic and result.",
}, []string{"topic", "result"})

var errProducerClosed = errors.New("kafka producer is not initialized")

// Message: запись для отправки. Заголовки дополняются контекстом трассировки.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Producer: синхронный producer поверх sarama.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
	now    func() time.Time
}

// NewProducer подключается к брокерам с ReliableProducerConfig.
func NewProducer(brokers []string, opts ...ProducerOption) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka producer: brokers are required")
	}
	sp, err := sarama.NewSyncProducer(brokers, ReliableProducerConfig(opts...))
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return newProducer(sp), nil
}

func newProducer(sp sarama.SyncProducer) *Producer {
	return &Producer{
		sync:   sp,
		logger: log.WithField("component", "kafka-producer"),
		now:    time.Now,
	}
}

// Send отправляет запись и ждёт подтверждения брокера.
func (p *Producer) Send(ctx context.Context, msg Message) error {
	if p == nil || p.sync == nil {
		return errProducerClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	record := &sarama.ProducerMessage{
		Topic:     msg.Topic,
		Key:       sarama.StringEncoder(msg.Key),
		Value:     sarama.ByteEncoder(msg.Value),
		Headers:   recordHeaders(injectTrace(ctx, msg.Headers)),
		Timestamp: p.now(),
	}
	fields := log.Fields{"topic": msg.Topic, "key": msg.Key}

	partition, offset, err := p.sync.SendMessage(record)
	if err != nil {
		sentTotal.WithLabelValues(msg.Topic, "error").Inc()
		p.logger.WithError(err).WithFields(fields).Error("kafka send failed")
		return fmt.Errorf("kafka send to %s: %w", msg.Topic, err)
	}
	sentTotal.WithLabelValues(msg.Topic, "ok").Inc()
	fields["partition"], fields["offset"] = partition, offset
	p.logger.WithFields(fields).Debug("kafka message acknowledged")
	return nil
}

// SendJSON сериализует v и отправляет его как значение записи.
func (p *Producer) SendJSON(ctx context.Context, topic, key string, v any, headers map[string]string) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kafka encode %T: %w", v, err)
	}
	return p.Send(ctx, Message{Topic: topic, Key: key, Value: raw, Headers: headers})
}

// Close сбрасывает буферы и закрывает соединения.
func (p *Producer) Close() error {
	if p == nil || p.sync == nil {
		return nil
	}
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("kafka producer close: %w", err)
	}
	return nil
}
