// Package dispatchtest provides test doubles for the dispatch package.
package dispatchtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"reply-bridge/internal/dispatch"
	"reply-bridge/pkg/models"
)

// MockPublisher is a mock implementation of dispatch.Publisher for testing
type MockPublisher struct {
	mu          sync.RWMutex
	Published   []PublishedRecord
	PublishFunc func(ctx context.Context, record models.ReplyRecord, deadline time.Duration) (models.Delivery, error)
	// FailWith makes every call fail with a *dispatch.PublishError wrapping it.
	FailWith error
	offsets  map[string]int64
}

type PublishedRecord struct {
	Record   models.ReplyRecord
	Deadline time.Duration
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		Published: make([]PublishedRecord, 0),
		offsets:   make(map[string]int64),
	}
}

// NewFailingPublisher returns a publisher whose calls all fail with err.
func NewFailingPublisher(err error) *MockPublisher {
	m := NewMockPublisher()
	m.FailWith = err
	return m
}

func (m *MockPublisher) Publish(ctx context.Context, record models.ReplyRecord, deadline time.Duration) (models.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Published = append(m.Published, PublishedRecord{Record: record.Clone(), Deadline: deadline})

	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, record, deadline)
	}
	if m.FailWith != nil {
		return models.Delivery{}, &dispatch.PublishError{Record: record, Err: m.FailWith}
	}

	offset := m.offsets[record.Topic]
	m.offsets[record.Topic] = offset + 1
	return models.Delivery{Topic: record.Topic, Partition: 0, Offset: offset}, nil
}

// Calls returns a copy of every record passed to Publish, in call order.
func (m *MockPublisher) Calls() []PublishedRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	calls := make([]PublishedRecord, len(m.Published))
	copy(calls, m.Published)
	return calls
}

func (m *MockPublisher) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Published)
}

func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Published = make([]PublishedRecord, 0)
	m.offsets = make(map[string]int64)
}

// TimeoutError is the error returned by a publisher whose deadline expired.
func TimeoutError() error {
	return fmt.Errorf("%w: no acknowledgment", dispatch.ErrPublishTimeout)
}
