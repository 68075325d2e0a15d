package main

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/payflow/internal/messaging/kafka"
)

type offsetRange struct{ oldest, newest int64 }

type stubClient struct {
	sarama.Client

	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     error
	closed        bool
}

func (c *stubClient) Partitions(string) ([]int32, error) {
	return append([]int32(nil), c.partitions...), c.partitionsErr
}

func (c *stubClient) GetOffset(_ string, p int32, at int64) (int64, error) {
	if c.offsetErr != nil {
		return 0, c.offsetErr
	}
	if at == sarama.OffsetOldest {
		return c.offsets[p].oldest, nil
	}
	return c.offsets[p].newest, nil
}

func (c *stubClient) Close() error {
	c.closed = true
	return nil
}

type stubConsumer struct {
	sarama.Consumer

	partitions map[int32]*stubPartition
	err        error
	starts     []int64
}

func (c *stubConsumer) ConsumePartition(_ string, p int32, offset int64) (sarama.PartitionConsumer, error) {
	c.starts = append(c.starts, offset)
	if c.err != nil {
		return nil, c.err
	}
	pc, ok := c.partitions[p]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", p)
	}
	return pc, nil
}

func (c *stubConsumer) Close() error { return nil }

type stubPartition struct {
	sarama.PartitionConsumer

	messages chan *sarama.ConsumerMessage
	errs     chan *sarama.ConsumerError
}

func buffered(msgs ...*sarama.ConsumerMessage) *stubPartition {
	ch := make(chan *sarama.ConsumerMessage, len(msgs))
	for _, m := range msgs {
		ch <- m
	}
	close(ch)
	return &stubPartition{messages: ch, errs: make(chan *sarama.ConsumerError)}
}

func (p *stubPartition) Messages() <-chan *sarama.ConsumerMessage { return p.messages }
func (p *stubPartition) Errors() <-chan *sarama.ConsumerError     { return p.errs }
func (p *stubPartition) Close() error                             { return nil }

type stubSender struct {
	err    error
	sent   []kafka.Message
	closed bool
}

func (s *stubSender) Send(_ context.Context, msg kafka.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *stubSender) Close() error {
	s.closed = true
	return nil
}
