package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"reply-bridge/internal/dispatch"
	"reply-bridge/internal/observability"
	"reply-bridge/pkg/models"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestConsumer(reader messageReader, d Dispatcher, workers int) (*Consumer, *observability.InMemoryMetrics, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	metrics := observability.NewInMemoryMetrics()
	c := newConsumerWithReader(reader, d, ConsumerConfig{
		Workers: workers,
		Metrics: metrics,
		Logger:  zap.New(core),
	})
	return c, metrics, logs
}

func runUntilDone(t *testing.T, c *Consumer, ctx context.Context) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestConsumer_Start_SerialFetchDispatchCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	msgs := []kafka.Message{
		{Topic: "test", Partition: 0, Offset: 10, Key: []byte("k1"), Value: []byte("one")},
		{Topic: "another", Partition: 1, Offset: 3, Key: []byte("k2"), Value: []byte("two")},
		{Topic: "test", Partition: 0, Offset: 11, Key: []byte("k3"), Value: []byte("three")},
	}
	reader := NewMockReader(msgs...)
	next := 0
	reader.FetchFunc = func(ctx context.Context) (kafka.Message, error) {
		if next < len(msgs) {
			m := msgs[next]
			next++
			record(fmt.Sprintf("fetch %d", m.Offset))
			return m, nil
		}
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	reader.CommitFunc = func(_ context.Context, ms ...kafka.Message) error {
		record(fmt.Sprintf("commit %d", ms[0].Offset))
		return nil
	}

	dispatcher := NewMockDispatcher()
	dispatcher.DispatchFunc = func(_ context.Context, msg *models.InboundMessage) dispatch.Result {
		record(fmt.Sprintf("dispatch %d", msg.Offset))
		if len(dispatcher.GetDispatched()) == len(msgs) {
			cancel()
		}
		return dispatch.Result{Outcome: dispatch.HandledOK, Topic: msg.Topic}
	}

	c, metrics, _ := newTestConsumer(reader, dispatcher, 1)
	runUntilDone(t, c, ctx)

	assert.Equal(t, []string{
		"fetch 10", "dispatch 10", "commit 10",
		"fetch 3", "dispatch 3", "commit 3",
		"fetch 11", "dispatch 11", "commit 11",
	}, events)
	assert.Len(t, reader.Committed(), 3)
	assert.Equal(t, int64(3), metrics.GetReceived())

	dispatched := dispatcher.GetDispatched()
	require.Len(t, dispatched, 3)
	assert.Equal(t, "another", dispatched[1].Topic)
	assert.Equal(t, []byte("k2"), dispatched[1].Key)
	assert.Equal(t, []byte("two"), dispatched[1].Payload)
}

func TestConsumer_Start_FetchFailureContinues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failures := 2
	reader := NewMockReader()
	reader.FetchFunc = func(ctx context.Context) (kafka.Message, error) {
		if failures > 0 {
			failures--
			return kafka.Message{}, errors.New("broker not available")
		}
		if failures == 0 {
			failures--
			return kafka.Message{Topic: "test", Offset: 1}, nil
		}
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}

	dispatcher := NewMockDispatcher()
	dispatcher.DispatchFunc = func(_ context.Context, msg *models.InboundMessage) dispatch.Result {
		cancel()
		return dispatch.Result{Outcome: dispatch.NoHandler, Topic: msg.Topic}
	}

	c, metrics, logs := newTestConsumer(reader, dispatcher, 1)
	runUntilDone(t, c, ctx)

	assert.Equal(t, int64(2), metrics.GetFetchFailed())
	assert.Equal(t, int64(1), metrics.GetReceived())
	assert.Len(t, dispatcher.GetDispatched(), 1)
	assert.Equal(t, 2, logs.FilterMessage("Kafka error").Len())
	// Unrouted messages are committed too.
	assert.Len(t, reader.Committed(), 1)
}

func TestConsumer_Start_CommitFailureIsReported(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := NewMockReader(
		kafka.Message{Topic: "test", Offset: 1},
		kafka.Message{Topic: "test", Offset: 2},
	)
	reader.CommitFunc = func(_ context.Context, ms ...kafka.Message) error {
		if ms[0].Offset == 1 {
			return errors.New("rebalance in progress")
		}
		return nil
	}

	dispatcher := NewMockDispatcher()
	dispatcher.DispatchFunc = func(_ context.Context, msg *models.InboundMessage) dispatch.Result {
		if msg.Offset == 2 {
			cancel()
		}
		return dispatch.Result{Outcome: dispatch.HandledOK, Topic: msg.Topic}
	}

	c, metrics, logs := newTestConsumer(reader, dispatcher, 1)
	runUntilDone(t, c, ctx)

	assert.Equal(t, int64(1), metrics.GetCommitFailed())
	assert.Len(t, dispatcher.GetDispatched(), 2)
	require.Len(t, reader.Committed(), 1)
	assert.Equal(t, int64(2), reader.Committed()[0].Offset)
	assert.Equal(t, 1, logs.FilterMessage("Error while committing offsets").Len())
}

func TestConsumer_Start_DispatchNotCancelledByShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := NewMockReader(kafka.Message{Topic: "test", Offset: 1})

	var dispatchCtxErr error
	dispatcher := NewMockDispatcher()
	dispatcher.DispatchFunc = func(dctx context.Context, msg *models.InboundMessage) dispatch.Result {
		cancel()
		dispatchCtxErr = dctx.Err()
		return dispatch.Result{Outcome: dispatch.HandledOK, Topic: msg.Topic}
	}

	c, _, _ := newTestConsumer(reader, dispatcher, 1)
	runUntilDone(t, c, ctx)

	assert.NoError(t, dispatchCtxErr)
	assert.Len(t, reader.Committed(), 1)
}

func TestConsumer_Start_WorkersKeepPartitionOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var msgs []kafka.Message
	for offset := int64(0); offset < 5; offset++ {
		for partition := 0; partition < 4; partition++ {
			msgs = append(msgs, kafka.Message{Topic: "test", Partition: partition, Offset: offset})
		}
	}
	reader := NewMockReader(msgs...)

	var mu sync.Mutex
	seen := make(map[int][]int64)
	total := 0
	dispatcher := NewMockDispatcher()
	dispatcher.DispatchFunc = func(_ context.Context, msg *models.InboundMessage) dispatch.Result {
		mu.Lock()
		seen[msg.Partition] = append(seen[msg.Partition], msg.Offset)
		total++
		if total == len(msgs) {
			cancel()
		}
		mu.Unlock()
		return dispatch.Result{Outcome: dispatch.HandledOK, Topic: msg.Topic}
	}

	c, metrics, _ := newTestConsumer(reader, dispatcher, 3)
	runUntilDone(t, c, ctx)

	require.Len(t, seen, 4)
	for partition, offsets := range seen {
		assert.Equal(t, []int64{0, 1, 2, 3, 4}, offsets, "partition %d", partition)
	}
	assert.Equal(t, int64(len(msgs)), metrics.GetReceived())
	assert.Len(t, reader.Committed(), len(msgs))
}

func TestConsumer_Close(t *testing.T) {
	reader := NewMockReader()
	c, _, _ := newTestConsumer(reader, NewMockDispatcher(), 1)

	require.NoError(t, c.Close())
	assert.True(t, reader.Closed())
}

func TestToInboundMessage(t *testing.T) {
	ts := time.Now()
	msg := toInboundMessage(kafka.Message{
		Topic:     "test",
		Partition: 2,
		Offset:    7,
		Key:       []byte("k1"),
		Value:     []byte("hello"),
		Headers:   []kafka.Header{{Key: "trace", Value: []byte("abc")}},
		Time:      ts,
	})

	assert.Equal(t, &models.InboundMessage{
		Topic:     "test",
		Key:       []byte("k1"),
		Payload:   []byte("hello"),
		Partition: 2,
		Offset:    7,
		Headers:   map[string]string{"trace": "abc"},
		Timestamp: ts,
	}, msg)

	empty := toInboundMessage(kafka.Message{Topic: "test"})
	assert.Nil(t, empty.Key)
	assert.Nil(t, empty.Payload)
	assert.Nil(t, empty.Headers)
}

func TestWithConsumerDefaults(t *testing.T) {
	cfg := withConsumerDefaults(ConsumerConfig{ReceiveBackoff: -time.Second})

	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, 6*time.Second, cfg.SessionTimeout)
	assert.Equal(t, time.Duration(0), cfg.ReceiveBackoff)
	assert.NotNil(t, cfg.Metrics)
	assert.NotNil(t, cfg.Logger)
}
