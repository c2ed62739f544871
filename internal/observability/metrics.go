package observability

import (
	"sync/atomic"
	"time"
)

// MetricsCollector provides hooks for metrics collection
// Implemented in memory for tests and by PrometheusMetrics for the process.
type MetricsCollector interface {
	IncReceived()
	IncFetchFailed()
	IncCommitFailed()
	IncDispatched(topic string)
	IncNoHandler(topic string)
	IncNoReply(topic string)
	IncReplied(topic string)
	IncReplyFailed(topic string)
	ObserveDispatch(topic string, d time.Duration)
	IncBrokerRecovered()
}

// InMemoryMetrics is a simple in-memory implementation for testing/demo
type InMemoryMetrics struct {
	Received     atomic.Int64
	FetchFailed  atomic.Int64
	CommitFailed atomic.Int64
	Dispatched   atomic.Int64
	NoHandler    atomic.Int64
	NoReply      atomic.Int64
	Replied      atomic.Int64
	ReplyFailed  atomic.Int64
	Observed     atomic.Int64
	Recovered    atomic.Int64
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{}
}

func (m *InMemoryMetrics) IncReceived() {
	m.Received.Add(1)
}

func (m *InMemoryMetrics) IncFetchFailed() {
	m.FetchFailed.Add(1)
}

func (m *InMemoryMetrics) IncCommitFailed() {
	m.CommitFailed.Add(1)
}

func (m *InMemoryMetrics) IncDispatched(string) {
	m.Dispatched.Add(1)
}

func (m *InMemoryMetrics) IncNoHandler(string) {
	m.NoHandler.Add(1)
}

func (m *InMemoryMetrics) IncNoReply(string) {
	m.NoReply.Add(1)
}

func (m *InMemoryMetrics) IncReplied(string) {
	m.Replied.Add(1)
}

func (m *InMemoryMetrics) IncReplyFailed(string) {
	m.ReplyFailed.Add(1)
}

func (m *InMemoryMetrics) ObserveDispatch(string, time.Duration) {
	m.Observed.Add(1)
}

func (m *InMemoryMetrics) IncBrokerRecovered() {
	m.Recovered.Add(1)
}

func (m *InMemoryMetrics) GetReceived() int64 {
	return m.Received.Load()
}

func (m *InMemoryMetrics) GetFetchFailed() int64 {
	return m.FetchFailed.Load()
}

func (m *InMemoryMetrics) GetCommitFailed() int64 {
	return m.CommitFailed.Load()
}

func (m *InMemoryMetrics) GetDispatched() int64 {
	return m.Dispatched.Load()
}

func (m *InMemoryMetrics) GetNoHandler() int64 {
	return m.NoHandler.Load()
}

func (m *InMemoryMetrics) GetNoReply() int64 {
	return m.NoReply.Load()
}

func (m *InMemoryMetrics) GetReplied() int64 {
	return m.Replied.Load()
}

func (m *InMemoryMetrics) GetReplyFailed() int64 {
	return m.ReplyFailed.Load()
}

func (m *InMemoryMetrics) GetBrokerRecovered() int64 {
	return m.Recovered.Load()
}
