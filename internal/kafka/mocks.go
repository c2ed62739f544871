package kafka

import (
	"context"
	"sync"

	"reply-bridge/internal/dispatch"
	"reply-bridge/pkg/models"

	kafka "github.com/segmentio/kafka-go"
)

// MockReader is a mock implementation of the consumer's reader for testing.
// It serves Messages in order, then blocks until the context ends.
type MockReader struct {
	mu         sync.Mutex
	Messages   []kafka.Message
	FetchFunc  func(ctx context.Context) (kafka.Message, error)
	CommitFunc func(ctx context.Context, msgs ...kafka.Message) error
	committed  []kafka.Message
	next       int
	closed     bool
}

func NewMockReader(msgs ...kafka.Message) *MockReader {
	return &MockReader{Messages: msgs}
}

func (m *MockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx)
	}

	m.mu.Lock()
	if m.next < len(m.Messages) {
		msg := m.Messages[m.next]
		m.next++
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *MockReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.CommitFunc != nil {
		if err := m.CommitFunc(ctx, msgs...); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = append(m.committed, msgs...)
	return nil
}

func (m *MockReader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MockReader) Committed() []kafka.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]kafka.Message, len(m.committed))
	copy(out, m.committed)
	return out
}

func (m *MockReader) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockWriter is a mock implementation of the producer's writer for testing.
type MockWriter struct {
	mu        sync.Mutex
	WriteFunc func(ctx context.Context, msgs ...kafka.Message) error
	Written   []kafka.Message
}

func NewMockWriter() *MockWriter {
	return &MockWriter{}
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	m.Written = append(m.Written, msgs...)
	m.mu.Unlock()

	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, msgs...)
	}
	return nil
}

func (m *MockWriter) Close() error {
	return nil
}

func (m *MockWriter) GetWritten() []kafka.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]kafka.Message, len(m.Written))
	copy(out, m.Written)
	return out
}

// MockDispatcher records every dispatched message.
type MockDispatcher struct {
	mu           sync.Mutex
	DispatchFunc func(ctx context.Context, msg *models.InboundMessage) dispatch.Result
	Dispatched   []models.InboundMessage
}

func NewMockDispatcher() *MockDispatcher {
	return &MockDispatcher{}
}

func (m *MockDispatcher) Dispatch(ctx context.Context, msg *models.InboundMessage) dispatch.Result {
	m.mu.Lock()
	m.Dispatched = append(m.Dispatched, *msg)
	m.mu.Unlock()

	if m.DispatchFunc != nil {
		return m.DispatchFunc(ctx, msg)
	}
	return dispatch.Result{Outcome: dispatch.NoReply, Topic: msg.Topic}
}

func (m *MockDispatcher) GetDispatched() []models.InboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.InboundMessage, len(m.Dispatched))
	copy(out, m.Dispatched)
	return out
}
