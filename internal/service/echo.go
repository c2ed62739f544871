package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"reply-bridge/internal/dispatch"
	"reply-bridge/internal/observability"
	"reply-bridge/pkg/models"

	"github.com/bytedance/sonic"
	"github.com/sirupsen/logrus"
)

// Topics served by the reference handlers.
const (
	TopicTest    = "test"
	TopicAnother = "another"

	DefaultReplySuffix = ".reply"
)

// Placeholders used in the envelope when the inbound record has no key or payload.
const (
	NoKeyFound     = "No Key Found"
	NoPayloadFound = "No Payload Found"
)

// Envelope is the JSON reply body produced by Echo.
type Envelope struct {
	Message     string `json:"message"`
	Topic       string `json:"topic"`
	ReplyForKey string `json:"reply_for_key"`
	Status      bool   `json:"status"`
}

// Echo wraps the inbound payload in an Envelope and publishes it to its reply topic.
type Echo struct {
	publisher  dispatch.Publisher
	replyTopic string
	deadline   time.Duration
	logger     logrus.FieldLogger
}

func NewEcho(publisher dispatch.Publisher, replyTopic string, deadline time.Duration) *Echo {
	if deadline <= 0 {
		deadline = dispatch.DefaultPublishDeadline
	}
	return &Echo{
		publisher:  publisher,
		replyTopic: replyTopic,
		deadline:   deadline,
		logger:     observability.Component("(service) reply: " + replyTopic),
	}
}

func (h *Echo) Handle(ctx context.Context, topic string, msg *models.InboundMessage) (*models.Delivery, error) {
	h.logger.WithField("topic", topic).Debugf("Listened by topic: %s", topic)

	key, payload, err := KeyAndPayload(msg)
	if err != nil {
		return nil, err
	}

	body, err := EncodeEnvelope(Envelope{
		Message:     payload,
		Topic:       topic,
		ReplyForKey: key,
		Status:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode reply: %w", err)
	}

	// A keyless request gets a keyless reply. The placeholder only goes in the
	// envelope so it never becomes a partitioning key.
	var replyKey []byte
	if msg.Key != nil {
		replyKey = []byte(key)
	}

	delivery, err := h.publisher.Publish(ctx, models.ReplyRecord{
		Topic:   h.replyTopic,
		Key:     replyKey,
		Payload: body,
		Headers: map[string]string{models.HeaderReplyForTopic: topic},
	}, h.deadline)
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

// KeyAndPayload decodes the message key and payload as text, substituting the
// placeholders for absent values.
func KeyAndPayload(msg *models.InboundMessage) (string, string, error) {
	key := NoKeyFound
	if msg.Key != nil {
		if !utf8.Valid(msg.Key) {
			return "", "", fmt.Errorf("%w: key on topic %s is not valid UTF-8", dispatch.ErrMalformedMessage, msg.Topic)
		}
		key = string(msg.Key)
	}

	payload := NoPayloadFound
	if msg.Payload != nil {
		if !utf8.Valid(msg.Payload) {
			return "", "", fmt.Errorf("%w: payload on topic %s is not valid UTF-8", dispatch.ErrMalformedMessage, msg.Topic)
		}
		payload = string(msg.Payload)
	}

	return key, payload, nil
}

func EncodeEnvelope(env Envelope) ([]byte, error) {
	return sonic.ConfigStd.Marshal(env)
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := sonic.ConfigStd.Unmarshal(data, &env)
	return env, err
}

// ReplyTopic names the output topic for an input topic.
func ReplyTopic(topic, suffix string) string {
	if suffix == "" {
		suffix = DefaultReplySuffix
	}
	return topic + suffix
}

// RegisterDefaults binds Echo handlers for the reference topics to engine,
// sharing the engine's publisher and publish deadline.
func RegisterDefaults(engine *dispatch.Engine, suffix string) {
	for _, topic := range []string{TopicTest, TopicAnother} {
		engine.Register(topic, NewEcho(engine.Publisher(), ReplyTopic(topic, suffix), engine.PublishDeadline()))
	}
}
