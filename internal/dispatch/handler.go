// Package dispatch routes inbound messages to per-topic handlers and reports
// the outcome of the reply each handler publishes.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reply-bridge/pkg/models"
)

// Handler turns one inbound message into zero or one published reply.
//
// Implementations publish through a Publisher injected at construction time.
// Handle returns (nil, nil) when the message is intentionally not replied to,
// the delivery coordinates when the reply was published, or an error.
// msg must not be retained after Handle returns.
type Handler interface {
	Handle(ctx context.Context, topic string, msg *models.InboundMessage) (*models.Delivery, error)
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, topic string, msg *models.InboundMessage) (*models.Delivery, error)

func (f HandlerFunc) Handle(ctx context.Context, topic string, msg *models.InboundMessage) (*models.Delivery, error) {
	return f(ctx, topic, msg)
}

// Publisher sends a reply record and waits up to deadline for the broker
// acknowledgment. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, record models.ReplyRecord, deadline time.Duration) (models.Delivery, error)
}

var (
	// ErrPublishTimeout reports that the broker did not acknowledge in time.
	ErrPublishTimeout = errors.New("publish deadline exceeded")
	// ErrMalformedMessage reports key or payload bytes a handler cannot decode.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrHandlerPanic reports a handler that panicked during dispatch.
	ErrHandlerPanic = errors.New("handler panicked")
)

// PublishError carries the record that could not be sent.
type PublishError struct {
	Record models.ReplyRecord
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s failed: %v", e.Record.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a publish deadline expiry.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrPublishTimeout)
}
