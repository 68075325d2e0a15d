package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/payflow/internal/messaging/kafka"
)

// sender: та часть kafka.Producer, что нужна для повторной публикации.
type sender interface {
	Send(ctx context.Context, msg kafka.Message) error
	Close() error
}

type summary struct {
	scanned  int
	replayed int
	skipped  int
}

func (s *summary) merge(o summary) {
	s.scanned += o.scanned
	s.replayed += o.replayed
	s.skipped += o.skipped
}

type replayer struct {
	opts     options
	client   sarama.Client
	consumer sarama.Consumer
	out      sender
	logger   *log.Entry
	now      func() time.Time
}

func dialKafka(opts options) (*replayer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "payflow-dlq-reprocess"
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(opts.brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to kafka: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	r := newReplayer(opts, client, consumer, nil)
	if !opts.execute {
		return r, nil
	}

	producer, err := kafka.NewProducer(opts.brokers, kafka.WithClientID("payflow-dlq-reprocess"))
	if err != nil {
		r.close()
		return nil, err
	}
	r.out = producer
	return r, nil
}

func newReplayer(opts options, client sarama.Client, consumer sarama.Consumer, out sender) *replayer {
	return &replayer{
		opts:     opts,
		client:   client,
		consumer: consumer,
		out:      out,
		logger:   log.WithField("component", "dlq-reprocess"),
		now:      time.Now,
	}
}

func (r *replayer) close() {
	if r.out != nil {
		_ = r.out.Close()
	}
	if r.consumer != nil {
		_ = r.consumer.Close()
	}
	if r.client != nil {
		_ = r.client.Close()
	}
}

// run обходит партиции по возрастанию номера, пока не исчерпан limit.
func (r *replayer) run(ctx context.Context) (summary, error) {
	var total summary
	if r.client == nil || r.consumer == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if r.opts.execute && r.out == nil {
		return total, errors.New("producer is required in execute mode")
	}

	r.logger.WithFields(log.Fields{
		"source_topic": r.opts.source,
		"target_topic": r.opts.fallback,
		"only_from":    r.opts.onlyFrom,
		"limit":        r.opts.limit,
		"mode":         r.opts.mode(),
	}).Info("starting dlq replay")

	partitions, err := r.client.Partitions(r.opts.source)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.opts.source, err)
	}
	slices.Sort(partitions)

	for _, p := range partitions {
		left := r.opts.limit - total.scanned
		if left <= 0 {
			break
		}
		got, err := r.partition(ctx, p, left)
		total.merge(got)
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"mode":     r.opts.mode(),
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
	}).Info("dlq replay finished")
	return total, nil
}

// partition читает записи между oldest и зафиксированным на старте newest,
// не дожидаясь новых: молчание дольше idle завершает чтение.
func (r *replayer) partition(ctx context.Context, p int32, budget int) (summary, error) {
	var s summary
	oldest, err := r.client.GetOffset(r.opts.source, p, sarama.OffsetOldest)
	if err != nil {
		return s, fmt.Errorf("oldest offset of partition %d: %w", p, err)
	}
	newest, err := r.client.GetOffset(r.opts.source, p, sarama.OffsetNewest)
	if err != nil {
		return s, fmt.Errorf("newest offset of partition %d: %w", p, err)
	}
	if newest <= oldest {
		return s, nil
	}
	start := oldest
	if r.opts.tail {
		start = max(newest-int64(budget), oldest)
	}

	pc, err := r.consumer.ConsumePartition(r.opts.source, p, start)
	if err != nil {
		return s, fmt.Errorf("consume partition %d: %w", p, err)
	}
	defer func() { _ = pc.Close() }()

	idle := time.NewTimer(r.opts.idle)
	defer idle.Stop()

	for s.scanned < budget {
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-idle.C:
			return s, nil
		case cerr := <-pc.Errors():
			if cerr != nil {
				return s, fmt.Errorf("partition %d: %w", p, cerr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil || msg.Offset >= newest {
				return s, nil
			}
			idle.Reset(r.opts.idle)
			s.scanned++
			replayed, err := r.handle(ctx, msg)
			if err != nil {
				return s, err
			}
			if replayed {
				s.replayed++
			} else {
				s.skipped++
			}
			if msg.Offset+1 >= newest {
				return s, nil
			}
		}
	}
	return s, nil
}

// handle публикует запись заново без служебных заголовков, поэтому
// consumer начинает отсчёт попыток с нуля.
func (r *replayer) handle(ctx context.Context, msg *sarama.ConsumerMessage) (bool, error) {
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	c, err := decode(msg, r.opts.fallback, r.now())
	switch {
	case errors.Is(err, errNotReplayable):
		return false, nil
	case err != nil:
		entry.WithError(err).Warn("skip malformed dlq record")
		return false, nil
	case r.opts.onlyFrom != "" && c.topic != r.opts.onlyFrom:
		return false, nil
	}

	if !r.opts.execute {
		entry.WithFields(log.Fields{
			"target_topic": c.topic,
			"key":          c.key,
			"reason":       c.reason,
		}).Info("dlq replay candidate")
		return true, nil
	}
	if err := r.out.Send(ctx, kafka.Message{Topic: c.topic, Key: c.key, Value: c.value}); err != nil {
		return false, fmt.Errorf("publish replay of offset %d: %w", msg.Offset, err)
	}
	return true, nil
}
