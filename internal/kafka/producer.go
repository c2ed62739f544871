package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"reply-bridge/internal/dispatch"
	"reply-bridge/pkg/models"

	"github.com/google/uuid"
	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageWriter is the subset of *kafka.Writer the producer needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer implements dispatch.Publisher over one shared kafka-go Writer.
// The writer is safe for concurrent use, so a single Producer serves every handler.
type Producer struct {
	writer          messageWriter
	logger          *zap.Logger
	defaultDeadline time.Duration
	// pending pairs an in-flight write, by reply id, with the slot its
	// delivery coordinates are reported to.
	pending sync.Map
}

type ProducerConfig struct {
	Brokers                []string
	Acks                   int // -1 for all, 0 for none, 1 for leader
	PublishTimeout         time.Duration
	AllowAutoTopicCreation bool
	Logger                 *zap.Logger
}

func NewProducer(cfg ProducerConfig) *Producer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = dispatch.DefaultPublishDeadline
	}

	p := &Producer{
		logger:          cfg.Logger,
		defaultDeadline: cfg.PublishTimeout,
	}

	sugar := cfg.Logger.Sugar()
	// One attempt per publish and no batching delay: replies go out as soon as
	// they are written and a failure is reported rather than retried.
	// Failed publishes are logged at error by the dispatch engine, so the
	// writer's own error output is kept at warn.
	p.writer = &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.CRC32Balancer{},
		RequiredAcks:           kafka.RequiredAcks(cfg.Acks),
		MaxAttempts:            1,
		BatchSize:              1,
		BatchTimeout:           time.Millisecond,
		WriteTimeout:           cfg.PublishTimeout,
		ReadTimeout:            cfg.PublishTimeout,
		AllowAutoTopicCreation: cfg.AllowAutoTopicCreation,
		Async:                  false,
		Completion:             p.complete,
		Logger:                 kafka.LoggerFunc(sugar.Debugf),
		ErrorLogger:            kafka.LoggerFunc(sugar.Warnf),
	}

	return p
}

func newProducerWithWriter(w messageWriter, logger *zap.Logger, deadline time.Duration) *Producer {
	return &Producer{writer: w, logger: logger, defaultDeadline: deadline}
}

// Publish writes record once and waits up to deadline for the acknowledgment.
// Failures are returned as *dispatch.PublishError carrying record.
func (p *Producer) Publish(ctx context.Context, record models.ReplyRecord, deadline time.Duration) (models.Delivery, error) {
	if deadline <= 0 {
		deadline = p.defaultDeadline
	}

	id := uuid.NewString()
	msg := kafka.Message{
		Topic:   record.Topic,
		Key:     record.Key,
		Value:   record.Payload,
		Headers: toHeaders(record.Headers, id),
		Time:    time.Now(),
	}

	slot := make(chan models.Delivery, 1)
	p.pending.Store(id, slot)
	defer p.pending.Delete(id)

	writeCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	if err := p.writer.WriteMessages(writeCtx, msg); err != nil {
		if isTimeout(writeCtx, err) {
			err = fmt.Errorf("%w after %s: %w", dispatch.ErrPublishTimeout, deadline, err)
		}
		p.logger.Debug("Failed to publish reply",
			zap.String("topic", record.Topic),
			zap.ByteString("key", record.Key),
			zap.Duration("deadline", deadline),
			zap.Error(err),
		)
		return models.Delivery{}, &dispatch.PublishError{Record: record, Err: err}
	}

	delivery := models.Delivery{Topic: record.Topic, Partition: -1, Offset: -1}
	select {
	case d := <-slot:
		delivery = d
	default:
		p.logger.Warn("Reply acknowledged without delivery coordinates", zap.String("topic", record.Topic))
	}

	p.logger.Debug("Reply published",
		zap.String("topic", delivery.Topic),
		zap.Int("partition", delivery.Partition),
		zap.Int64("offset", delivery.Offset),
	)
	return delivery, nil
}

// complete is the writer's Completion callback. It runs before WriteMessages
// returns for synchronous writes.
func (p *Producer) complete(messages []kafka.Message, err error) {
	if err != nil {
		return
	}
	for _, m := range messages {
		id := headerValue(m.Headers, models.HeaderReplyID)
		v, ok := p.pending.Load(id)
		if !ok {
			continue
		}
		select {
		case v.(chan models.Delivery) <- models.Delivery{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset}:
		default:
		}
	}
}

// Close gracefully shuts down the producer
func (p *Producer) Close() error {
	p.logger.Info("Closing producer")
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close producer: %w", err)
	}
	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, kafka.RequestTimedOut)
}

func toHeaders(headers map[string]string, replyID string) []kafka.Header {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		if k != models.HeaderReplyID {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]kafka.Header, 0, len(keys)+1)
	for _, k := range keys {
		out = append(out, kafka.Header{Key: k, Value: []byte(headers[k])})
	}
	return append(out, kafka.Header{Key: models.HeaderReplyID, Value: []byte(replyID)})
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
