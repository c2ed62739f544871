package kafka

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"reply-bridge/pkg/models"

	"github.com/google/uuid"
	kafka "github.com/segmentio/kafka-go"
)

// AwaitReply reads replyTopic from its first offset with a throwaway consumer
// group and returns the first record whose key equals key.
func AwaitReply(ctx context.Context, brokers []string, replyTopic string, key []byte) (*models.InboundMessage, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     "reply-await-" + uuid.NewString(),
		Topic:       replyTopic,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	return awaitKey(ctx, reader, key)
}

func awaitKey(ctx context.Context, reader messageReader, key []byte) (*models.InboundMessage, error) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read reply: %w", err)
		}
		if bytes.Equal(msg.Key, key) {
			return toInboundMessage(msg), nil
		}
	}
}
