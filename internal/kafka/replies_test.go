package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go-kafkaguard/internal/observability"
	"go-kafkaguard/pkg/models"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func replyRecord(t *testing.T, correlationID string, reply models.Reply) kafka.Message {
	t.Helper()

	value, err := models.SerializeReply(reply)
	require.NoError(t, err)
	return kafka.Message{
		Topic:   "UserSignup.reply",
		Key:     []byte(reply.Key),
		Value:   value,
		Headers: kafkaHeaders(map[string]string{models.HeaderCorrelationID: correlationID}),
	}
}

func TestReplyRouter_ResolveUnknownOrMissing(t *testing.T) {
	router := NewReplyRouter(observability.NewDiscardLogger())

	assert.False(t, router.Resolve(replyRecord(t, "nobody-waits", models.Reply{Key: "k"})))
	assert.False(t, router.Resolve(kafka.Message{Topic: "UserSignup.reply"}))
}

func TestReplyRouter_ResolveDeliversOnce(t *testing.T) {
	router := NewReplyRouter(observability.NewDiscardLogger())
	ch := router.register("c-1")

	assert.True(t, router.Resolve(replyRecord(t, "c-1", models.Reply{Key: "k", Value: json.RawMessage(`"ok"`)})))
	assert.False(t, router.Resolve(replyRecord(t, "c-1", models.Reply{Key: "k"})))

	reply := <-ch
	assert.Equal(t, "k", reply.Key)
	assert.JSONEq(t, `"ok"`, string(reply.Value))
	assert.Equal(t, 0, router.Pending())
}

func TestReplyRouter_MalformedReplyBecomesError(t *testing.T) {
	router := NewReplyRouter(observability.NewDiscardLogger())
	ch := router.register("c-1")

	router.Resolve(kafka.Message{
		Key:     []byte("k"),
		Value:   []byte("{not json"),
		Headers: kafkaHeaders(map[string]string{models.HeaderCorrelationID: "c-1"}),
	})

	reply := <-ch
	assert.NotEmpty(t, reply.Error)
}

func TestReplyRouter_Run(t *testing.T) {
	reader := NewMockReader(4)
	router := NewReplyRouter(observability.NewDiscardLogger(), reader)
	ch := router.register("c-1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- router.Run(ctx) }()

	reader.Push(replyRecord(t, "c-1", models.Reply{Key: "k"}))

	select {
	case reply := <-ch:
		assert.Equal(t, "k", reply.Key)
	case <-time.After(time.Second):
		t.Fatal("reply not routed")
	}

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, router.Close())
}

func TestReplyRouter_RunReturnsReaderFailure(t *testing.T) {
	reader := NewMockReader(1)
	reader.FetchErr = errors.New("connection reset")
	router := NewReplyRouter(observability.NewDiscardLogger(), reader, NewMockReader(1))

	err := router.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
