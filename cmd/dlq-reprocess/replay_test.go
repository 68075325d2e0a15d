package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/payflow/internal/messaging/kafka"
)

var replayNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testOptions(execute bool) options {
	return options{
		brokers:  []string{"localhost:9092"},
		source:   kafka.TopicDeadLetterQueue,
		fallback: kafka.TopicOrderEvents,
		limit:    10,
		execute:  execute,
		idle:     20 * time.Millisecond,
	}
}

func consumerRecord(offset int64, origin, key, value string) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{
		Offset: offset,
		Key:    []byte(key),
		Value:  []byte(value),
		Headers: []*sarama.RecordHeader{
			{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte(origin)},
			{Key: []byte(kafka.HeaderErrorMessage), Value: []byte("handler failed")},
			{Key: []byte(kafka.HeaderRetryCount), Value: []byte("3")},
		},
	}
}

func outboxRecord(t *testing.T, outboxID, orderID string) *sarama.ConsumerMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":             outboxID,
		"aggregate_type": "order",
		"aggregate_id":   orderID,
		"event_type":     "order.confirmed",
		"payload": map[string]any{
			"outbox_id":     outboxID,
			"payload":       map[string]any{"status": "confirmed"},
			"publish_error": "timeout",
			"attempts":      5,
		},
	})
	require.NoError(t, err)
	return &sarama.ConsumerMessage{Value: raw}
}

// onePartition собирает replayer над партицией 0, содержащей msgs.
func onePartition(out sender, execute bool, msgs ...*sarama.ConsumerMessage) (*replayer, *stubClient, *stubConsumer) {
	client := &stubClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: int64(len(msgs)) + 1}},
	}
	consumer := &stubConsumer{partitions: map[int32]*stubPartition{0: buffered(msgs...)}}
	r := newReplayer(testOptions(execute), client, consumer, out)
	r.now = func() time.Time { return replayNow }
	return r, client, consumer
}

func TestSplitList(t *testing.T) {
	require.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, splitList(" broker-1:9092, ,broker-2:9092 "))
	require.Empty(t, splitList(" , "))
}

func TestDecode(t *testing.T) {
	c, err := decode(consumerRecord(0, kafka.TopicProcessorCallbacks, "pay-1", `{"payment_id":"pay-1"}`), kafka.TopicOrderEvents, replayNow)
	require.NoError(t, err)
	require.Equal(t, candidate{
		topic:  kafka.TopicProcessorCallbacks,
		key:    "pay-1",
		value:  []byte(`{"payment_id":"pay-1"}`),
		reason: "handler failed",
	}, c)

	_, err = decode(consumerRecord(0, kafka.TopicProcessorCallbacks, "", `{"payment_id":"  "}`), kafka.TopicOrderEvents, replayNow)
	require.Error(t, err)
	require.NotErrorIs(t, err, errNotReplayable)

	for _, value := range []string{`{"foo":"bar"}`, `not json`} {
		_, err := decode(&sarama.ConsumerMessage{Value: []byte(value)}, kafka.TopicOrderEvents, replayNow)
		require.ErrorIs(t, err, errNotReplayable, value)
	}

	_, err = decode(&sarama.ConsumerMessage{Value: []byte(`{"payload":{"outbox_id":"evt-1"}}`)}, kafka.TopicOrderEvents, replayNow)
	require.ErrorContains(t, err, "no event payload")
}

func TestDecodeOutboxRecord(t *testing.T) {
	c, err := decode(outboxRecord(t, "evt-1", "order-1"), kafka.TopicOrderEvents, replayNow)
	require.NoError(t, err)
	require.Equal(t, kafka.TopicOrderEvents, c.topic)
	require.Equal(t, "order-1", c.key)
	require.Equal(t, "timeout", c.reason)

	var event replayedEvent
	require.NoError(t, json.Unmarshal(c.value, &event))
	require.Equal(t, "evt-1", event.ID)
	require.Equal(t, "order.confirmed", event.EventType)
	require.True(t, event.Replayed)
	require.True(t, event.PublishedAt.Equal(replayNow))
	require.JSONEq(t, `{"status":"confirmed"}`, string(event.Payload))

	c, err = decode(outboxRecord(t, "evt-2", ""), kafka.TopicOrderEvents, replayNow)
	require.NoError(t, err)
	require.Equal(t, "evt-2", c.key, "outbox id is the key without aggregate")
}

func TestPartitionDryRun(t *testing.T) {
	r, _, _ := onePartition(nil, false,
		consumerRecord(0, kafka.TopicProcessorCallbacks, "pay-1", `{"payment_id":"pay-1"}`),
		&sarama.ConsumerMessage{Offset: 1, Value: []byte(`{"foo":"bar"}`)},
	)
	s, err := r.partition(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Equal(t, summary{scanned: 2, replayed: 1, skipped: 1}, s)
}

func TestPartitionExecuteDropsServiceHeaders(t *testing.T) {
	out := &stubSender{}
	r, _, _ := onePartition(out, true, consumerRecord(0, kafka.TopicOrderEvents, "order-1", `{"id":"evt-1"}`))

	s, err := r.partition(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Equal(t, 1, s.replayed)
	require.Equal(t, []kafka.Message{{Topic: kafka.TopicOrderEvents, Key: "order-1", Value: []byte(`{"id":"evt-1"}`)}}, out.sent)
}

func TestPartitionOnlyFrom(t *testing.T) {
	out := &stubSender{}
	r, _, _ := onePartition(out, true,
		consumerRecord(0, kafka.TopicOrderEvents, "order-1", `{"id":"evt-1"}`),
		consumerRecord(1, kafka.TopicProcessorCallbacks, "pay-1", `{"payment_id":"pay-1"}`),
	)
	r.opts.onlyFrom = kafka.TopicProcessorCallbacks

	s, err := r.partition(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Equal(t, summary{scanned: 2, replayed: 1, skipped: 1}, s)
	require.Len(t, out.sent, 1)
	require.Equal(t, kafka.TopicProcessorCallbacks, out.sent[0].Topic)
}

func TestPartitionTailStart(t *testing.T) {
	r, client, consumer := onePartition(nil, false)
	client.offsets[0] = offsetRange{oldest: 0, newest: 50}
	r.opts.tail = true

	_, err := r.partition(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{40}, consumer.starts)
}

func TestPartitionErrors(t *testing.T) {
	r, client, _ := onePartition(&stubSender{}, true)
	client.offsetErr = errors.New("offset")
	_, err := r.partition(context.Background(), 0, 10)
	require.ErrorContains(t, err, "oldest offset")

	r, _, consumer := onePartition(&stubSender{}, true)
	consumer.err = errors.New("consume")
	_, err = r.partition(context.Background(), 0, 10)
	require.ErrorContains(t, err, "consume partition 0")

	r, _, _ = onePartition(&stubSender{err: sarama.ErrOutOfBrokers}, true,
		consumerRecord(0, kafka.TopicOrderEvents, "order-1", `{"id":"evt-1"}`))
	_, err = r.partition(context.Background(), 0, 10)
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestPartitionIdleAndCancel(t *testing.T) {
	r, _, consumer := onePartition(nil, false)
	consumer.partitions[0] = &stubPartition{
		messages: make(chan *sarama.ConsumerMessage),
		errs:     make(chan *sarama.ConsumerError),
	}

	s, err := r.partition(context.Background(), 0, 10)
	require.NoError(t, err, "silent partition ends quietly")
	require.Zero(t, s.scanned)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.opts.idle = time.Minute
	_, err = r.partition(ctx, 0, 10)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun(t *testing.T) {
	_, err := newReplayer(testOptions(false), nil, nil, nil).run(context.Background())
	require.ErrorContains(t, err, "client and consumer are required")

	r, client, _ := onePartition(nil, true)
	_, err = r.run(context.Background())
	require.ErrorContains(t, err, "producer is required")

	r, client, _ = onePartition(nil, false)
	client.partitionsErr = errors.New("metadata")
	_, err = r.run(context.Background())
	require.ErrorContains(t, err, "metadata")

	r, client, _ = onePartition(nil, false)
	client.partitions = nil
	s, err := r.run(context.Background())
	require.NoError(t, err)
	require.Zero(t, s)
}

func TestRunStopsAtLimit(t *testing.T) {
	client := &stubClient{
		partitions: []int32{1, 0},
		offsets:    map[int32]offsetRange{0: {0, 3}, 1: {0, 3}},
	}
	consumer := &stubConsumer{partitions: map[int32]*stubPartition{
		0: buffered(
			consumerRecord(0, kafka.TopicOrderEvents, "a", `{}`),
			consumerRecord(1, kafka.TopicOrderEvents, "b", `{}`),
		),
		1: buffered(consumerRecord(0, kafka.TopicOrderEvents, "c", `{}`)),
	}}
	opts := testOptions(false)
	opts.limit = 2

	s, err := newReplayer(opts, client, consumer, nil).run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, s.scanned)
	require.Equal(t, []int64{0}, consumer.starts, "partition 0 is read first and exhausts the limit")
}

func TestRootCommand(t *testing.T) {
	t.Setenv(brokersEnv, "")
	cmd := newRootCmd(func(options) (*replayer, error) { return nil, errors.New("must not dial") })
	cmd.SetArgs([]string{"--limit", "0"})
	err := cmd.Execute()
	require.ErrorContains(t, err, "brokers are required")
	require.ErrorContains(t, err, "limit must be > 0")

	t.Setenv(brokersEnv, "broker-1:9092, broker-2:9092")
	out := &stubSender{}
	var got options
	cmd = newRootCmd(func(opts options) (*replayer, error) {
		got = opts
		r, _, _ := onePartition(out, opts.execute, consumerRecord(0, kafka.TopicOrderEvents, "order-1", `{"id":"evt-1"}`))
		return r, nil
	})
	cmd.SetArgs([]string{"--execute", "--idle-timeout", "20ms"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	require.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, got.brokers)
	require.Equal(t, kafka.TopicDeadLetterQueue, got.source)
	require.Len(t, out.sent, 1)
	require.True(t, out.closed)
}

func TestFailExits(t *testing.T) {
	if os.Getenv("DLQ_REPROCESS_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}
	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "DLQ_REPROCESS_FAIL_EXIT=1")
	var exitErr *exec.ExitError
	require.ErrorAs(t, cmd.Run(), &exitErr)
	require.NotZero(t, exitErr.ExitCode())
}
