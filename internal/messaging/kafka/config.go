package kafka

import (
	"errors"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

const (
	defaultClientID   = "payflow"
	defaultSendRetry  = 5
	defaultMaxRetries = 3
	defaultRetryDelay = 200 * time.Millisecond
)

// ProducerOption меняет sarama-конфигурацию producer'а.
type ProducerOption func(*sarama.Config)

// WithClientID задаёт client.id, под которым producer виден брокеру.
func WithClientID(id string) ProducerOption {
	return func(c *sarama.Config) {
		if id = strings.TrimSpace(id); id != "" {
			c.ClientID = id
		}
	}
}

// WithCompression задаёт кодек сжатия батчей.
func WithCompression(codec sarama.CompressionCodec) ProducerOption {
	return func(c *sarama.Config) { c.Producer.Compression = codec }
}

// WithSendRetries задаёт число повторов отправки внутри sarama.
func WithSendRetries(n int) ProducerOption {
	return func(c *sarama.Config) {
		if n >= 0 {
			c.Producer.Retry.Max = n
		}
	}
}

// ReliableProducerConfig собирает конфигурацию идемпотентного producer'а:
// подтверждение всеми репликами и один запрос в полёте на соединение,
// чтобы повтор не переставил сообщения внутри партиции.
func ReliableProducerConfig(opts ...ProducerOption) *sarama.Config {
	c := sarama.NewConfig()
	c.ClientID = defaultClientID
	c.Producer.RequiredAcks = sarama.WaitForAll
	c.Producer.Retry.Max = defaultSendRetry
	c.Producer.Return.Successes = true
	c.Producer.Compression = sarama.CompressionSnappy
	c.Producer.Idempotent = true
	c.Net.MaxOpenRequests = 1
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ConsumerConfig описывает подписку consumer group.
type ConsumerConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
	// MaxRetries: общий бюджет попыток на сообщение с учётом x-retry-count.
	MaxRetries int
	RetryDelay time.Duration
}

func (c ConsumerConfig) normalize() (ConsumerConfig, error) {
	c.GroupID = strings.TrimSpace(c.GroupID)
	switch {
	case len(c.Brokers) == 0:
		return c, errors.New("kafka consumer: brokers are required")
	case c.GroupID == "":
		return c, errors.New("kafka consumer: group id is required")
	case len(c.Topics) == 0:
		return c, errors.New("kafka consumer: at least one topic is required")
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	} else if c.RetryDelay == 0 {
		c.RetryDelay = defaultRetryDelay
	}
	return c, nil
}

func (c ConsumerConfig) sarama() *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = defaultClientID
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	sc.Consumer.Return.Errors = true
	return sc
}
