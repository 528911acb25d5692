package observability

import (
	"sync/atomic"
)

// MetricsCollector provides hooks for metrics collection
type MetricsCollector interface {
	IncPublished(topic string)
	IncPublishFailed(topic string)
	IncReplyTimeout(topic string)
	IncReceived(topic string)
	IncProcessed(topic string)
	IncFailed(topic string)
	IncValidationFailed(topic string)
	IncSentToDLQ(topic string)
	IncCommitted(topic string)
	IncCommitFailed(topic string)
	IncTopicsCreated(n int)
}

// InMemoryMetrics is a simple in-memory implementation for testing/demo
type InMemoryMetrics struct {
	Published        atomic.Int64
	PublishFailed    atomic.Int64
	ReplyTimeouts    atomic.Int64
	Received         atomic.Int64
	Processed        atomic.Int64
	Failed           atomic.Int64
	ValidationFailed atomic.Int64
	SentToDLQ        atomic.Int64
	Committed        atomic.Int64
	CommitFailed     atomic.Int64
	TopicsCreated    atomic.Int64
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{}
}

func (m *InMemoryMetrics) IncPublished(string) {
	m.Published.Add(1)
}

func (m *InMemoryMetrics) IncPublishFailed(string) {
	m.PublishFailed.Add(1)
}

func (m *InMemoryMetrics) IncReplyTimeout(string) {
	m.ReplyTimeouts.Add(1)
}

func (m *InMemoryMetrics) IncReceived(string) {
	m.Received.Add(1)
}

func (m *InMemoryMetrics) IncProcessed(string) {
	m.Processed.Add(1)
}

func (m *InMemoryMetrics) IncFailed(string) {
	m.Failed.Add(1)
}

func (m *InMemoryMetrics) IncValidationFailed(string) {
	m.ValidationFailed.Add(1)
}

func (m *InMemoryMetrics) IncSentToDLQ(string) {
	m.SentToDLQ.Add(1)
}

func (m *InMemoryMetrics) IncCommitted(string) {
	m.Committed.Add(1)
}

func (m *InMemoryMetrics) IncCommitFailed(string) {
	m.CommitFailed.Add(1)
}

func (m *InMemoryMetrics) IncTopicsCreated(n int) {
	m.TopicsCreated.Add(int64(n))
}

func (m *InMemoryMetrics) GetPublished() int64 {
	return m.Published.Load()
}

func (m *InMemoryMetrics) GetPublishFailed() int64 {
	return m.PublishFailed.Load()
}

func (m *InMemoryMetrics) GetReplyTimeouts() int64 {
	return m.ReplyTimeouts.Load()
}

func (m *InMemoryMetrics) GetReceived() int64 {
	return m.Received.Load()
}

func (m *InMemoryMetrics) GetProcessed() int64 {
	return m.Processed.Load()
}

func (m *InMemoryMetrics) GetFailed() int64 {
	return m.Failed.Load()
}

func (m *InMemoryMetrics) GetValidationFailed() int64 {
	return m.ValidationFailed.Load()
}

func (m *InMemoryMetrics) GetSentToDLQ() int64 {
	return m.SentToDLQ.Load()
}

func (m *InMemoryMetrics) GetCommitted() int64 {
	return m.Committed.Load()
}

func (m *InMemoryMetrics) GetCommitFailed() int64 {
	return m.CommitFailed.Load()
}

func (m *InMemoryMetrics) GetTopicsCreated() int64 {
	return m.TopicsCreated.Load()
}
