package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"reply-bridge/internal/config"
	"reply-bridge/internal/kafka"
	"reply-bridge/internal/observability"
	"reply-bridge/internal/service"
	"reply-bridge/pkg/models"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	topic        string
	key          string
	payload      string
	await        bool
	awaitTimeout time.Duration
)

func main() {
	if err := newRequestCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reply-request",
		Short: "Send a request record to the reply bridge",
		Long: `Send one request record to a topic served by the reply bridge and
optionally wait for the reply on the matching reply topic.

Examples:
  reply-request --topic test --payload hello --await
  reply-request --topic another --key order-1 --payload '{"id":1}'`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return request(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&topic, "topic", "t", service.TopicTest, "Topic to send the request to")
	cmd.Flags().StringVarP(&key, "key", "k", "", "Record key (random UUID when empty)")
	cmd.Flags().StringVarP(&payload, "payload", "p", "hello", "Record payload")
	cmd.Flags().BoolVar(&await, "await", false, "Wait for the reply")
	cmd.Flags().DurationVar(&awaitTimeout, "timeout", 30*time.Second, "How long to wait for the reply")
	return cmd
}

func request(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logOpts := observability.LoggerOptions{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Env:    cfg.Logging.Env,
		LogFor: cfg.Logging.LogFor,
	}
	observability.InitLogger(logOpts)
	log := observability.Component("request")

	zapLogger, err := observability.NewZapLogger(logOpts)
	if err != nil {
		return fmt.Errorf("failed to build adapter logger: %w", err)
	}
	defer zapLogger.Sync()

	if key == "" {
		key = uuid.NewString()
	}

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:                cfg.Kafka.Brokers,
		Acks:                   cfg.Producer.Acks,
		PublishTimeout:         cfg.Producer.PublishTimeout,
		AllowAutoTopicCreation: cfg.Producer.AllowAutoTopicCreation,
		Logger:                 zapLogger.Named("producer"),
	})
	defer producer.Close()

	delivery, err := producer.Publish(ctx, models.ReplyRecord{
		Topic:   topic,
		Key:     []byte(key),
		Payload: []byte(payload),
	}, 0)
	if err != nil {
		return err
	}
	log.WithField("key", key).Infof("Request sent to: %s [%d] @ %d", delivery.Topic, delivery.Partition, delivery.Offset)

	if !await {
		return nil
	}

	replyTopic := service.ReplyTopic(topic, cfg.Consumer.ReplyTopicSuffix)
	awaitCtx, cancel := context.WithTimeout(ctx, awaitTimeout)
	defer cancel()

	reply, err := kafka.AwaitReply(awaitCtx, cfg.Kafka.Brokers, replyTopic, []byte(key))
	if err != nil {
		return fmt.Errorf("no reply on %s: %w", replyTopic, err)
	}

	env, err := service.DecodeEnvelope(reply.Payload)
	if err != nil {
		fmt.Printf("📥 Reply from %s [%d] @ %d\n%s\n", reply.Topic, reply.Partition, reply.Offset, reply.Payload)
		return nil
	}
	fmt.Printf("📥 Reply from %s [%d] @ %d\nTopic: %s\nKey: %s\nMessage: %s\nStatus: %t\n",
		reply.Topic, reply.Partition, reply.Offset, env.Topic, env.ReplyForKey, env.Message, env.Status)
	return nil
}
