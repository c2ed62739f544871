package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"reply-bridge/internal/observability"
	"reply-bridge/pkg/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultPublishDeadline bounds how long a reply publish waits for the broker.
const DefaultPublishDeadline = time.Second

const tracerName = "reply-bridge/dispatch"

// Engine owns the handler registry and the publisher shared by all handlers.
type Engine struct {
	registry  *Registry
	publisher Publisher
	deadline  time.Duration
	logger    logrus.FieldLogger
	metrics   observability.MetricsCollector
	tracer    trace.Tracer
}

type Option func(*Engine)

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m observability.MetricsCollector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPublishDeadline sets the deadline handlers built from the engine pass to
// Publish. Non-positive values keep DefaultPublishDeadline.
func WithPublishDeadline(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.deadline = d
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func NewEngine(publisher Publisher, opts ...Option) *Engine {
	e := &Engine{
		registry:  NewRegistry(),
		publisher: publisher,
		deadline:  DefaultPublishDeadline,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = observability.Component("dispatch")
	}
	if e.metrics == nil {
		e.metrics = observability.NewInMemoryMetrics()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e
}

// Publisher returns the publisher to inject into handlers.
func (e *Engine) Publisher() Publisher {
	return e.publisher
}

func (e *Engine) PublishDeadline() time.Duration {
	return e.deadline
}

// Register binds h to topic, replacing any handler already bound to it.
// It must not be called once Dispatch is in use.
func (e *Engine) Register(topic string, h Handler) {
	e.registry.Register(topic, h)
}

func (e *Engine) Topics() []string {
	return e.registry.Topics()
}

// Dispatch runs the handler registered for msg.Topic on the calling goroutine
// and reports what happened. msg is not retained after Dispatch returns.
func (e *Engine) Dispatch(ctx context.Context, msg *models.InboundMessage) Result {
	topic := msg.Topic
	log := e.logger.WithFields(logrus.Fields{
		"topic":     topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	h, ok := e.registry.Lookup(topic)
	if !ok {
		e.metrics.IncNoHandler(topic)
		log.Warnf("no handler for topic %s", topic)
		return Result{Outcome: NoHandler, Topic: topic}
	}

	ctx, span := e.tracer.Start(ctx, "dispatch "+topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.source.name", topic),
			attribute.Int("messaging.kafka.partition", msg.Partition),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
	defer span.End()

	e.metrics.IncDispatched(topic)
	log.Debug("Delivering to subscriber")

	start := time.Now()
	delivery, err := e.invoke(ctx, h, topic, msg)
	e.metrics.ObserveDispatch(topic, time.Since(start))

	if err != nil {
		res := Result{Outcome: HandledErr, Topic: topic, Err: err}
		fields := logrus.Fields{}

		var pubErr *PublishError
		if errors.As(err, &pubErr) {
			record := pubErr.Record.Clone()
			res.FailedRecord = &record
			fields["reply_topic"] = record.Topic
			fields["reply_key"] = string(record.Key)
			fields["reply_payload"] = string(record.Payload)
		}
		var pe *panicError
		if errors.As(err, &pe) {
			fields["stack"] = string(pe.stack)
		}

		e.metrics.IncReplyFailed(topic)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithFields(fields).WithError(err).Error(failureMessage(err))
		return res
	}

	if delivery == nil {
		e.metrics.IncNoReply(topic)
		log.Debug("Handler produced no reply")
		return Result{Outcome: NoReply, Topic: topic}
	}

	e.metrics.IncReplied(topic)
	span.SetAttributes(
		attribute.String("messaging.destination.name", delivery.Topic),
		attribute.Int64("reply.offset", delivery.Offset),
	)
	log.WithFields(logrus.Fields{
		"reply_topic":     delivery.Topic,
		"reply_partition": delivery.Partition,
		"reply_offset":    delivery.Offset,
	}).Infof("Response sent to: %s", delivery.Topic)

	return Result{Outcome: HandledOK, Topic: topic, Delivery: *delivery}
}

func failureMessage(err error) string {
	var pubErr *PublishError
	switch {
	case errors.As(err, &pubErr):
		return "Error sending response"
	case errors.Is(err, ErrHandlerPanic):
		return "Handler panicked"
	case errors.Is(err, ErrMalformedMessage):
		return "Malformed message"
	default:
		return "Handler failed"
	}
}

func (e *Engine) invoke(ctx context.Context, h Handler, topic string, msg *models.InboundMessage) (d *models.Delivery, err error) {
	defer func() {
		if r := recover(); r != nil {
			d = nil
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return h.Handle(ctx, topic, msg)
}

type panicError struct {
	value interface{}
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("%v: %v", ErrHandlerPanic, e.value)
}

func (e *panicError) Unwrap() error {
	return ErrHandlerPanic
}
