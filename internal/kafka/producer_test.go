package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"reply-bridge/internal/dispatch"
	"reply-bridge/internal/observability"
	"reply-bridge/internal/service"
	"reply-bridge/pkg/models"

	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var _ dispatch.Publisher = (*Producer)(nil)

func TestNewProducer_WriterConfiguration(t *testing.T) {
	producer := NewProducer(ProducerConfig{
		Brokers:                []string{"localhost:9092"},
		Acks:                   -1,
		PublishTimeout:         2 * time.Second,
		AllowAutoTopicCreation: true,
	})
	defer producer.Close()

	writer, ok := producer.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, kafka.RequireAll, writer.RequiredAcks)
	assert.Equal(t, 1, writer.MaxAttempts)
	assert.Equal(t, 1, writer.BatchSize)
	assert.Equal(t, 2*time.Second, writer.WriteTimeout)
	assert.True(t, writer.AllowAutoTopicCreation)
	assert.False(t, writer.Async)
	assert.IsType(t, &kafka.CRC32Balancer{}, writer.Balancer)
	assert.NotNil(t, writer.Completion)
	assert.Equal(t, 2*time.Second, producer.defaultDeadline)
}

func TestNewProducer_DefaultDeadline(t *testing.T) {
	producer := NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}})
	defer producer.Close()

	assert.Equal(t, dispatch.DefaultPublishDeadline, producer.defaultDeadline)
}

func TestProducer_PublishReturnsDeliveryCoordinates(t *testing.T) {
	writer := NewMockWriter()
	producer := newProducerWithWriter(writer, zap.NewNop(), time.Second)

	// Simulates what kafka.Writer does on a successful synchronous write.
	writer.WriteFunc = func(ctx context.Context, msgs ...kafka.Message) error {
		acked := make([]kafka.Message, len(msgs))
		copy(acked, msgs)
		for i := range acked {
			acked[i].Partition = 2
			acked[i].Offset = 99
		}
		producer.complete(acked, nil)
		return nil
	}

	delivery, err := producer.Publish(context.Background(), models.ReplyRecord{
		Topic:   "test.reply",
		Key:     []byte("k1"),
		Payload: []byte(`{"status":true}`),
		Headers: map[string]string{models.HeaderReplyForTopic: "test"},
	}, 0)

	require.NoError(t, err)
	assert.Equal(t, models.Delivery{Topic: "test.reply", Partition: 2, Offset: 99}, delivery)

	written := writer.GetWritten()
	require.Len(t, written, 1)
	assert.Equal(t, "test.reply", written[0].Topic)
	assert.Equal(t, []byte("k1"), written[0].Key)
	assert.Equal(t, []byte(`{"status":true}`), written[0].Value)
	assert.Equal(t, "test", headerValue(written[0].Headers, models.HeaderReplyForTopic))
	assert.NotEmpty(t, headerValue(written[0].Headers, models.HeaderReplyID))
}

func TestProducer_PublishWithoutCompletion(t *testing.T) {
	producer := newProducerWithWriter(NewMockWriter(), zap.NewNop(), time.Second)

	delivery, err := producer.Publish(context.Background(), models.ReplyRecord{Topic: "test.reply"}, time.Second)

	require.NoError(t, err)
	assert.Equal(t, models.Delivery{Topic: "test.reply", Partition: -1, Offset: -1}, delivery)
}

func TestProducer_PublishFailureCarriesRecord(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	writer := NewMockWriter()
	writer.WriteFunc = func(ctx context.Context, msgs ...kafka.Message) error {
		return kafka.MessageSizeTooLarge
	}
	producer := newProducerWithWriter(writer, zap.New(core), time.Second)

	record := models.ReplyRecord{Topic: "test.reply", Key: []byte("k1"), Payload: []byte("hello")}
	_, err := producer.Publish(context.Background(), record, time.Second)

	var pubErr *dispatch.PublishError
	require.True(t, errors.As(err, &pubErr))
	assert.Equal(t, record, pubErr.Record)
	assert.ErrorIs(t, err, kafka.MessageSizeTooLarge)
	assert.False(t, dispatch.IsTimeout(err))
	assert.Equal(t, 1, logs.FilterMessage("Failed to publish reply").Len())
	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
	// Exactly one attempt.
	assert.Len(t, writer.GetWritten(), 1)
}

func TestProducer_FailedReplyLogsOneErrorEvent(t *testing.T) {
	core, zapLogs := observer.New(zapcore.DebugLevel)
	writer := NewMockWriter()
	writer.WriteFunc = func(ctx context.Context, msgs ...kafka.Message) error {
		return kafka.MessageSizeTooLarge
	}
	producer := newProducerWithWriter(writer, zap.New(core), time.Second)

	logger, hook := test.NewNullLogger()
	engine := dispatch.NewEngine(producer,
		dispatch.WithLogger(logger.WithField(observability.LabelField, "dispatch")),
	)
	service.RegisterDefaults(engine, service.DefaultReplySuffix)

	res := engine.Dispatch(context.Background(), &models.InboundMessage{
		Topic:   "test",
		Key:     []byte("k1"),
		Payload: []byte("hello"),
	})

	require.Equal(t, dispatch.HandledErr, res.Outcome)
	require.NotNil(t, res.FailedRecord)
	assert.Equal(t, "test.reply", res.FailedRecord.Topic)

	var logrusErrors int
	for _, e := range hook.AllEntries() {
		if e.Level <= logrus.ErrorLevel {
			logrusErrors++
		}
	}
	zapErrors := zapLogs.Filter(func(e observer.LoggedEntry) bool {
		return e.Level >= zapcore.ErrorLevel
	}).Len()

	assert.Equal(t, 1, logrusErrors+zapErrors)
	assert.Equal(t, 1, logrusErrors)
}

func TestProducer_PublishDeadlineExpires(t *testing.T) {
	writer := NewMockWriter()
	writer.WriteFunc = func(ctx context.Context, msgs ...kafka.Message) error {
		<-ctx.Done()
		return ctx.Err()
	}
	producer := newProducerWithWriter(writer, zap.NewNop(), time.Second)

	start := time.Now()
	_, err := producer.Publish(context.Background(), models.ReplyRecord{Topic: "test.reply", Payload: []byte("hello")}, 50*time.Millisecond)

	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, dispatch.IsTimeout(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var pubErr *dispatch.PublishError
	require.True(t, errors.As(err, &pubErr))
	assert.Equal(t, []byte("hello"), pubErr.Record.Payload)
}

func TestProducer_ContextCancellation(t *testing.T) {
	producer := NewProducer(ProducerConfig{
		Brokers:        []string{"localhost:9092"},
		Acks:           -1,
		PublishTimeout: 100 * time.Millisecond,
	})
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := producer.Publish(ctx, models.ReplyRecord{Topic: "test.reply", Payload: []byte("hello")}, 0)

	var pubErr *dispatch.PublishError
	require.True(t, errors.As(err, &pubErr))
	assert.Equal(t, "test.reply", pubErr.Record.Topic)
}

func TestProducer_CompleteIgnoresUnknownAndFailedWrites(t *testing.T) {
	producer := newProducerWithWriter(NewMockWriter(), zap.NewNop(), time.Second)

	slot := make(chan models.Delivery, 1)
	producer.pending.Store("known", slot)

	producer.complete([]kafka.Message{{Headers: []kafka.Header{{Key: models.HeaderReplyID, Value: []byte("known")}}}}, errors.New("failed"))
	producer.complete([]kafka.Message{{Headers: []kafka.Header{{Key: models.HeaderReplyID, Value: []byte("other")}}}}, nil)
	assert.Len(t, slot, 0)

	producer.complete([]kafka.Message{{Topic: "t", Partition: 1, Offset: 5, Headers: []kafka.Header{{Key: models.HeaderReplyID, Value: []byte("known")}}}}, nil)
	require.Len(t, slot, 1)
	assert.Equal(t, models.Delivery{Topic: "t", Partition: 1, Offset: 5}, <-slot)
}

func TestToHeaders(t *testing.T) {
	headers := toHeaders(map[string]string{
		"b":                  "2",
		"a":                  "1",
		models.HeaderReplyID: "spoofed",
	}, "id-1")

	assert.Equal(t, []kafka.Header{
		{Key: "a", Value: []byte("1")},
		{Key: "b", Value: []byte("2")},
		{Key: models.HeaderReplyID, Value: []byte("id-1")},
	}, headers)
}
