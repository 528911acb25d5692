package models

import (
	"encoding/json"
	"time"
)

// Envelope is the {key, value, headers} unit exchanged with the broker.
// Value is kept as raw JSON so it is passed through without being interpreted.
type Envelope struct {
	Key     string            `json:"key"`
	Value   json.RawMessage   `json:"value"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Reply is the envelope a responder publishes back to the reply topic.
// A non-empty Error marks a remote handler failure. Code and Fields are set when the
// failure was a validation failure.
type Reply struct {
	Key     string            `json:"key"`
	Value   json.RawMessage   `json:"value,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Error   string            `json:"error,omitempty"`
	Code    int               `json:"code,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Delivery describes a single inbound message as seen by the consumer.
type Delivery struct {
	Topic     string
	Partition int
	Offset    int64
	Key       string
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// MessageHeader constants
const (
	HeaderCorrelationID  = "kafka_correlationId"
	HeaderReplyTopic     = "kafka_replyTopic"
	HeaderReplyPartition = "kafka_replyPartition"
	HeaderOriginalTopic  = "original-topic"
	HeaderFailureReason  = "failure-reason"
)

// ReplyTopic returns the topic replies for requests on topic are published to.
func ReplyTopic(topic string) string {
	return topic + ".reply"
}

// DeadLetterTopic returns the dead-letter destination for topic.
func DeadLetterTopic(topic string) string {
	return topic + "DLQ"
}
