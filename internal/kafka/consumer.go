package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"reply-bridge/internal/dispatch"
	"reply-bridge/internal/observability"
	"reply-bridge/pkg/models"

	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Dispatcher handles one inbound message; *dispatch.Engine implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg *models.InboundMessage) dispatch.Result
}

// messageReader is the subset of *kafka.Reader the consumer needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer is the consumption loop: fetch, dispatch, commit.
type Consumer struct {
	reader         messageReader
	dispatcher     Dispatcher
	logger         *zap.Logger
	metrics        observability.MetricsCollector
	workers        int
	receiveBackoff time.Duration
	wg             sync.WaitGroup
}

type ConsumerConfig struct {
	Brokers        []string
	GroupID        string
	Topics         []string
	Workers        int
	FetchMinBytes  int
	FetchMaxBytes  int
	SessionTimeout time.Duration
	CommitInterval time.Duration
	ReceiveBackoff time.Duration
	Metrics        observability.MetricsCollector
	Logger         *zap.Logger
}

func NewConsumer(cfg ConsumerConfig, dispatcher Dispatcher) *Consumer {
	cfg = withConsumerDefaults(cfg)
	sugar := cfg.Logger.Sugar()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    cfg.Topics,
		MinBytes:       cfg.FetchMinBytes,
		MaxBytes:       cfg.FetchMaxBytes,
		SessionTimeout: cfg.SessionTimeout,
		CommitInterval: cfg.CommitInterval,
		StartOffset:    kafka.LastOffset,
		Logger:         kafka.LoggerFunc(sugar.Debugf),
		ErrorLogger:    kafka.LoggerFunc(sugar.Errorf),
	})

	return newConsumerWithReader(reader, dispatcher, cfg)
}

func newConsumerWithReader(reader messageReader, dispatcher Dispatcher, cfg ConsumerConfig) *Consumer {
	cfg = withConsumerDefaults(cfg)
	return &Consumer{
		reader:         reader,
		dispatcher:     dispatcher,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		workers:        cfg.Workers,
		receiveBackoff: cfg.ReceiveBackoff,
	}
}

func withConsumerDefaults(cfg ConsumerConfig) ConsumerConfig {
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewInMemoryMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.FetchMinBytes == 0 {
		cfg.FetchMinBytes = 1
	}
	if cfg.FetchMaxBytes == 0 {
		cfg.FetchMaxBytes = 10e6
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 6 * time.Second
	}
	if cfg.ReceiveBackoff < 0 {
		cfg.ReceiveBackoff = 0
	}
	return cfg
}

// Start consumes until ctx is cancelled. With one worker every message is
// dispatched and committed before the next fetch. With more workers each
// partition is pinned to one worker, so per-partition order is kept.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting consumer", zap.Int("workers", c.workers))

	if c.workers == 1 {
		for {
			msg, ok := c.fetch(ctx)
			if !ok {
				c.logger.Info("Consumer stopped")
				return nil
			}
			c.processMessage(ctx, msg, 0)
		}
	}

	queues := make([]chan kafka.Message, c.workers)
	for i := range queues {
		queues[i] = make(chan kafka.Message, 16)
		c.wg.Add(1)
		go c.worker(ctx, i, queues[i])
	}

	c.wg.Add(1)
	go c.fetcher(ctx, queues)

	c.wg.Wait()
	c.logger.Info("Consumer stopped")
	return nil
}

// fetcher reads messages from Kafka and routes them to their partition's worker
func (c *Consumer) fetcher(ctx context.Context, queues []chan kafka.Message) {
	defer c.wg.Done()
	defer func() {
		for _, q := range queues {
			close(q)
		}
	}()

	for {
		msg, ok := c.fetch(ctx)
		if !ok {
			return
		}

		select {
		case queues[msg.Partition%len(queues)] <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// fetch returns the next message, retrying fetch failures until ctx ends.
func (c *Consumer) fetch(ctx context.Context) (kafka.Message, bool) {
	for {
		if ctx.Err() != nil {
			return kafka.Message{}, false
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err == nil {
			c.metrics.IncReceived()
			return msg, true
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
			return kafka.Message{}, false
		}

		c.metrics.IncFetchFailed()
		c.logger.Error("Kafka error", zap.Error(err))

		if c.receiveBackoff > 0 {
			select {
			case <-ctx.Done():
				return kafka.Message{}, false
			case <-time.After(c.receiveBackoff):
			}
		}
	}
}

// worker processes messages from the channel
func (c *Consumer) worker(ctx context.Context, id int, queue <-chan kafka.Message) {
	defer c.wg.Done()
	c.logger.Debug("Worker started", zap.Int("worker_id", id))

	for msg := range queue {
		// Queued messages are left uncommitted once shutdown starts.
		if ctx.Err() != nil {
			continue
		}
		c.processMessage(ctx, msg, id)
	}
}

// processMessage dispatches one message and commits its offset whatever the
// outcome. The dispatch and commit are not cut short by shutdown.
func (c *Consumer) processMessage(ctx context.Context, kafkaMsg kafka.Message, workerID int) {
	ctx = context.WithoutCancel(ctx)
	logger := c.logger.With(
		zap.String("topic", kafkaMsg.Topic),
		zap.Int("partition", kafkaMsg.Partition),
		zap.Int64("offset", kafkaMsg.Offset),
		zap.Int("worker_id", workerID),
	)
	logger.Debug("Message received")

	msg := toInboundMessage(kafkaMsg)
	res := c.dispatcher.Dispatch(ctx, msg)
	logger.Debug("Message dispatched", zap.Stringer("outcome", res.Outcome))

	c.commitMessage(ctx, kafkaMsg, logger)
}

// commitMessage commits the message offset
func (c *Consumer) commitMessage(ctx context.Context, msg kafka.Message, logger *zap.Logger) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.metrics.IncCommitFailed()
		logger.Error("Error while committing offsets", zap.Error(err))
		return
	}
	logger.Debug("Offsets committed successfully")
}

// toInboundMessage converts Kafka message to internal format
func toInboundMessage(kafkaMsg kafka.Message) *models.InboundMessage {
	var headers map[string]string
	if len(kafkaMsg.Headers) > 0 {
		headers = make(map[string]string, len(kafkaMsg.Headers))
		for _, h := range kafkaMsg.Headers {
			headers[h.Key] = string(h.Value)
		}
	}

	return &models.InboundMessage{
		Topic:     kafkaMsg.Topic,
		Key:       kafkaMsg.Key,
		Payload:   kafkaMsg.Value,
		Partition: kafkaMsg.Partition,
		Offset:    kafkaMsg.Offset,
		Headers:   headers,
		Timestamp: kafkaMsg.Time,
	}
}

// Close gracefully shuts down the consumer
func (c *Consumer) Close() error {
	c.logger.Info("Closing consumer")
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close consumer: %w", err)
	}
	return nil
}
