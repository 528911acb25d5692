package kafka

import (
	"context"
	"fmt"
	"io"
	"sync"

	kafka "github.com/segmentio/kafka-go"
)

// MockWriter is a mock implementation of MessageWriter for testing
type MockWriter struct {
	mu             sync.RWMutex
	Written        []kafka.Message
	WriteFunc      func(ctx context.Context, msgs ...kafka.Message) error
	CloseFunc      func() error
	FailCount      int
	failureCounter int
}

func NewMockWriter() *MockWriter {
	return &MockWriter{
		Written: make([]kafka.Message, 0),
	}
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.WriteFunc != nil {
		if err := m.WriteFunc(ctx, msgs...); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Simulate failures for testing error propagation
	if m.FailCount > 0 {
		m.failureCounter++
		if m.failureCounter <= m.FailCount {
			return fmt.Errorf("simulated write failure %d", m.failureCounter)
		}
	}

	m.Written = append(m.Written, msgs...)
	return nil
}

func (m *MockWriter) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockWriter) GetWritten() []kafka.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := make([]kafka.Message, len(m.Written))
	copy(messages, m.Written)
	return messages
}

// WrittenTo returns the messages written to topic.
func (m *MockWriter) WrittenTo(topic string) []kafka.Message {
	var out []kafka.Message
	for _, msg := range m.GetWritten() {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

func (m *MockWriter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Written = make([]kafka.Message, 0)
	m.failureCounter = 0
}

// MockReader serves queued messages and records commits.
type MockReader struct {
	mu         sync.Mutex
	messages   chan kafka.Message
	Committed  []kafka.Message
	CommitFunc func(ctx context.Context, msgs ...kafka.Message) error
	FetchErr   error
	closeOnce  sync.Once
	closed     chan struct{}
}

func NewMockReader(buffer int) *MockReader {
	return &MockReader{
		messages: make(chan kafka.Message, buffer),
		closed:   make(chan struct{}),
	}
}

// Push queues a message for FetchMessage.
func (m *MockReader) Push(msgs ...kafka.Message) {
	for _, msg := range msgs {
		m.messages <- msg
	}
}

func (m *MockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if m.FetchErr != nil {
		return kafka.Message{}, m.FetchErr
	}
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case <-m.closed:
		return kafka.Message{}, io.EOF
	case msg := <-m.messages:
		return msg, nil
	}
}

func (m *MockReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.CommitFunc != nil {
		if err := m.CommitFunc(ctx, msgs...); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Committed = append(m.Committed, msgs...)
	return nil
}

func (m *MockReader) GetCommitted() []kafka.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]kafka.Message, len(m.Committed))
	copy(out, m.Committed)
	return out
}

func (m *MockReader) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// MockAdmin keeps an in-memory topic set and records admin calls.
type MockAdmin struct {
	mu           sync.Mutex
	topics       map[string]kafka.TopicConfig
	Brokers      int
	CreateCalls  [][]kafka.TopicConfig
	DeleteCalls  [][]string
	ListErr      error
	CreateErr    error
	DeleteErr    error
	WaitedLeader []bool
}

func NewMockAdmin(brokers int, existing ...string) *MockAdmin {
	m := &MockAdmin{
		topics:  make(map[string]kafka.TopicConfig),
		Brokers: brokers,
	}
	for _, name := range existing {
		m.topics[name] = kafka.TopicConfig{Topic: name, NumPartitions: 1, ReplicationFactor: 1}
	}
	return m
}

func (m *MockAdmin) ListTopics(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListErr != nil {
		return nil, m.ListErr
	}
	names := make([]string, 0, len(m.topics))
	for name := range m.topics {
		names = append(names, name)
	}
	return names, nil
}

func (m *MockAdmin) BrokerCount(ctx context.Context) (int, error) {
	return m.Brokers, nil
}

func (m *MockAdmin) CreateTopics(ctx context.Context, topics []kafka.TopicConfig, waitForLeaders bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalls = append(m.CreateCalls, topics)
	m.WaitedLeader = append(m.WaitedLeader, waitForLeaders)
	if m.CreateErr != nil {
		return m.CreateErr
	}
	for _, t := range topics {
		if _, exists := m.topics[t.Topic]; exists {
			return fmt.Errorf("topic %s already exists", t.Topic)
		}
		m.topics[t.Topic] = t
	}
	return nil
}

func (m *MockAdmin) DeleteTopics(ctx context.Context, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteCalls = append(m.DeleteCalls, names)
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	for _, name := range names {
		delete(m.topics, name)
	}
	return nil
}

// Topic returns the stored configuration of name.
func (m *MockAdmin) Topic(name string) (kafka.TopicConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.topics[name]
	return t, ok
}
