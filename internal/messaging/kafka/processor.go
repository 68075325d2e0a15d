package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var consumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "payflow_kafka_consumed_total",
	Help: "Consumed messages by topic and outcome: handled, dead_lettered, unacked.",
}, []string{"topic", "outcome"})

// deadLetterer принимает сообщения, исчерпавшие попытки.
type deadLetterer interface {
	deadLetter(ctx context.Context, msg *sarama.ConsumerMessage, cause error, attempts int) error
}

// processor прогоняет сообщение через handler с повторами в процессе.
// Бюджет попыток уменьшается на x-retry-count: сообщение, возвращённое из DLQ,
// не получает полный бюджет заново.
type processor struct {
	handler    MessageHandler
	dead       deadLetterer
	maxRetries int
	retryDelay time.Duration
	logger     *log.Entry
}

// run возвращает ошибку, только если сообщение нельзя подтверждать.
func (p *processor) run(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ctx = extractTrace(ctx, msg)
	spent := retryCount(msg)
	budget := max(p.maxRetries-spent, 1)

	var err error
	attempt := 0
	for attempt < budget {
		attempt++
		if err = p.handler(ctx, msg); err == nil {
			consumedTotal.WithLabelValues(msg.Topic, "handled").Inc()
			return nil
		}
		if errors.Is(err, ErrPoisonMessage) || attempt == budget {
			break
		}
		p.logger.WithError(err).WithFields(log.Fields{
			"topic":   msg.Topic,
			"offset":  msg.Offset,
			"attempt": spent + attempt,
		}).Warn("handler failed, retrying")
		if !sleep(ctx, p.retryDelay) {
			consumedTotal.WithLabelValues(msg.Topic, "unacked").Inc()
			return ctx.Err()
		}
	}

	if p.dead == nil {
		consumedTotal.WithLabelValues(msg.Topic, "unacked").Inc()
		return err
	}
	if dlqErr := p.dead.deadLetter(ctx, msg, err, spent+attempt); dlqErr != nil {
		consumedTotal.WithLabelValues(msg.Topic, "unacked").Inc()
		return fmt.Errorf("dead letter after %v: %w", err, dlqErr)
	}
	consumedTotal.WithLabelValues(msg.Topic, "dead_lettered").Inc()
	p.logger.WithError(err).WithFields(log.Fields{
		"topic":    msg.Topic,
		"offset":   msg.Offset,
		"attempts": spent + attempt,
	}).Warn("message moved to dead letter queue")
	return nil
}

func retryCount(msg *sarama.ConsumerMessage) int {
	n, err := strconv.Atoi(HeaderValue(msg, HeaderRetryCount))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// producerDLQ публикует исходное значение без изменений, причину отказа
// кладёт в заголовки: так dlq-reprocess вернёт запись в исходный топик.
type producerDLQ struct {
	producer *Producer
	topic    string
}

func (d producerDLQ) deadLetter(ctx context.Context, msg *sarama.ConsumerMessage, cause error, attempts int) error {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	return d.producer.Send(ctx, Message{
		Topic: d.topic,
		Key:   string(msg.Key),
		Value: msg.Value,
		Headers: map[string]string{
			HeaderOriginalTopic: msg.Topic,
			HeaderErrorMessage:  reason,
			HeaderFailedAt:      d.producer.now().UTC().Format(time.RFC3339),
			HeaderRetryCount:    strconv.Itoa(attempts),
		},
	})
}
