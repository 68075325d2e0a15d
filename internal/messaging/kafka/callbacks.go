package kafka

import (
	"context"
	"errors"
	"strings"

	"github.com/IBM/sarama"
)

// CallbackPublisher ставит уведомления процессора в очередь на сверку.
type CallbackPublisher struct {
	producer *Producer
	topic    string
}

// NewCallbackPublisher создаёт паблишер уведомлений процессора.
func NewCallbackPublisher(producer *Producer, topic string) *CallbackPublisher {
	if topic == "" {
		topic = TopicProcessorCallbacks
	}
	return &CallbackPublisher{producer: producer, topic: topic}
}

// Enqueue публикует payment id. Ключ сообщения: payment id, поэтому повторы
// одного платежа попадают в одну партицию и обрабатываются по порядку.
func (p *CallbackPublisher) Enqueue(ctx context.Context, paymentID string) error {
	if p == nil || p.producer == nil {
		return errProducerClosed
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return errors.New("payment id is required")
	}
	return p.producer.SendJSON(ctx, p.topic, paymentID, ProcessorCallback{
		PaymentID:  paymentID,
		ReceivedAt: p.producer.now().UTC(),
	}, nil)
}

// CallbackHandler превращает функцию сверки в обработчик сообщений consumer'а.
// Битые сообщения не ретраятся: они логируются и подтверждаются.
func CallbackHandler(reconcile func(ctx context.Context, paymentID string) error) MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		callback, err := ParseProcessorCallback(message)
		if err != nil {
			return errors.Join(ErrPoisonMessage, err)
		}
		return reconcile(ctx, callback.PaymentID)
	}
}
