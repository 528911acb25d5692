package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go-kafkaguard/internal/observability"
	pkg "go-kafkaguard/pkg/kafka"
	"go-kafkaguard/pkg/models"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProducer(t *testing.T, writer *MockWriter, router *ReplyRouter, timeout time.Duration) (*KafkaProducer, *observability.InMemoryMetrics) {
	t.Helper()

	metrics := observability.NewInMemoryMetrics()
	producer, err := NewProducer(ProducerOptions{
		Writer:  writer,
		Replies: router,
		Timeout: timeout,
		Metrics: metrics,
		Logger:  observability.NewDiscardLogger(),
	})
	require.NoError(t, err)
	return producer, metrics
}

// answerWith makes the writer reply to every request it sees.
func answerWith(writer *MockWriter, router *ReplyRouter, reply func(req kafka.Message) models.Reply) {
	writer.WriteFunc = func(ctx context.Context, msgs ...kafka.Message) error {
		for _, m := range msgs {
			headers := headerMap(m.Headers)
			value, err := models.SerializeReply(reply(m))
			if err != nil {
				return err
			}
			router.Resolve(kafka.Message{
				Topic: headers[models.HeaderReplyTopic],
				Key:   m.Key,
				Value: value,
				Headers: kafkaHeaders(map[string]string{
					models.HeaderCorrelationID: headers[models.HeaderCorrelationID],
				}),
			})
		}
		return nil
	}
}

func TestProducer_SendRequestReply_Timeout(t *testing.T) {
	writer := NewMockWriter()
	router := NewReplyRouter(observability.NewDiscardLogger())
	producer, metrics := newTestProducer(t, writer, router, time.Second)

	start := time.Now()
	_, err := producer.SendRequestReply(context.Background(), "UserSignup", map[string]string{"email": "a@b.c"}, pkg.SendOptions{
		Timeout: 50 * time.Millisecond,
	})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, pkg.IsTimeout(err))
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)

	var te *pkg.TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "UserSignup", te.Topic)
	assert.NotEmpty(t, te.CorrelationID)

	assert.Equal(t, int64(1), metrics.GetReplyTimeouts())
	assert.Equal(t, int64(1), metrics.GetPublished())
	assert.Equal(t, 0, router.Pending())
}

func TestProducer_SendRequestReply_ReturnsReplyValue(t *testing.T) {
	writer := NewMockWriter()
	router := NewReplyRouter(observability.NewDiscardLogger())
	producer, metrics := newTestProducer(t, writer, router, time.Second)

	answerWith(writer, router, func(req kafka.Message) models.Reply {
		return models.Reply{Key: string(req.Key), Value: json.RawMessage(`{"accepted":true}`)}
	})

	resp, err := producer.SendRequestReply(context.Background(), "UserSignup", map[string]string{"email": "a@b.c"}, pkg.SendOptions{
		Headers: map[string]string{"tenant": "acme"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"accepted":true}`, string(resp.Value))
	require.NotNil(t, resp.Reply)

	written := writer.GetWritten()
	require.Len(t, written, 1)

	msg := written[0]
	headers := headerMap(msg.Headers)
	assert.Equal(t, "UserSignup", msg.Topic)
	assert.Len(t, string(msg.Key), 36)
	assert.Equal(t, "UserSignup.reply", headers[models.HeaderReplyTopic])
	assert.Equal(t, "0", headers[models.HeaderReplyPartition])
	assert.NotEmpty(t, headers[models.HeaderCorrelationID])
	assert.Equal(t, "acme", headers["tenant"])

	env, err := models.Deserialize(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, string(msg.Key), env.Key)
	assert.Equal(t, map[string]string{"tenant": "acme"}, env.Headers)
	assert.JSONEq(t, `{"email":"a@b.c"}`, string(env.Value))

	assert.Equal(t, int64(1), metrics.GetPublished())
	assert.Equal(t, 0, router.Pending())
}

func TestProducer_SendRequestReply_Raw(t *testing.T) {
	writer := NewMockWriter()
	router := NewReplyRouter(observability.NewDiscardLogger())
	producer, _ := newTestProducer(t, writer, router, time.Second)

	answerWith(writer, router, func(req kafka.Message) models.Reply {
		return models.Reply{Key: string(req.Key), Value: json.RawMessage(`42`), Headers: map[string]string{"x": "y"}}
	})

	resp, err := producer.SendRequestReply(context.Background(), "UserSignup", 1, pkg.SendOptions{Raw: true})
	require.NoError(t, err)

	reply, err := models.DeserializeReply(resp.Value)
	require.NoError(t, err)
	assert.Equal(t, string(writer.GetWritten()[0].Key), reply.Key)
	assert.JSONEq(t, `42`, string(reply.Value))
	assert.Equal(t, map[string]string{"x": "y"}, reply.Headers)
}

func TestProducer_SendRequestReply_RemoteFailure(t *testing.T) {
	writer := NewMockWriter()
	router := NewReplyRouter(observability.NewDiscardLogger())
	producer, _ := newTestProducer(t, writer, router, time.Second)

	answerWith(writer, router, func(req kafka.Message) models.Reply {
		return models.Reply{Key: string(req.Key), Error: "user already exists"}
	})

	_, err := producer.SendRequestReply(context.Background(), "UserSignup", 1, pkg.SendOptions{})
	require.Error(t, err)

	var he *pkg.HandlerError
	require.True(t, errors.As(err, &he))
	assert.EqualError(t, he.Err, "user already exists")
	assert.False(t, pkg.IsTimeout(err))
	assert.Equal(t, "handler", pkg.ErrorKind(err))
}

func TestProducer_SendRequestReply_RemoteValidationFailure(t *testing.T) {
	writer := NewMockWriter()
	router := NewReplyRouter(observability.NewDiscardLogger())
	producer, _ := newTestProducer(t, writer, router, time.Second)

	answerWith(writer, router, func(req kafka.Message) models.Reply {
		return models.Reply{
			Key:    string(req.Key),
			Error:  "email is required",
			Code:   pkg.CodeRequestValidation,
			Fields: map[string]string{"email": "required"},
		}
	})

	_, err := producer.SendRequestReply(context.Background(), "UserSignup", 1, pkg.SendOptions{})
	require.Error(t, err)
	assert.Equal(t, "validation", pkg.ErrorKind(err))
	assert.True(t, pkg.IsRecognizedValidation(err))

	var vf *pkg.ValidationFailure
	require.True(t, errors.As(err, &vf))
	assert.Equal(t, "email is required", vf.Message)
	assert.Equal(t, map[string]string{"email": "required"}, vf.Fields)

	var he *pkg.HandlerError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "UserSignup", he.Topic)
}

func TestProducer_SendError(t *testing.T) {
	writer := NewMockWriter()
	writer.FailCount = 1
	router := NewReplyRouter(observability.NewDiscardLogger())
	producer, metrics := newTestProducer(t, writer, router, time.Second)

	_, err := producer.SendRequestReply(context.Background(), "UserSignup", 1, pkg.SendOptions{})
	require.Error(t, err)
	assert.True(t, pkg.IsSendError(err))
	assert.False(t, pkg.IsTimeout(err))
	assert.Equal(t, int64(1), metrics.GetPublishFailed())
	assert.Equal(t, int64(0), metrics.GetReplyTimeouts())
	assert.Equal(t, 0, router.Pending())
}

func TestProducer_SendOrdered_SharesKey(t *testing.T) {
	writer := NewMockWriter()
	router := NewReplyRouter(observability.NewDiscardLogger())
	producer, _ := newTestProducer(t, writer, router, time.Second)

	answerWith(writer, router, func(req kafka.Message) models.Reply {
		return models.Reply{Key: string(req.Key)}
	})

	for _, payload := range []string{"first", "second"} {
		_, err := producer.SendOrdered(context.Background(), "Ledger", payload, pkg.SendOptions{})
		require.NoError(t, err)
	}

	written := writer.GetWritten()
	require.Len(t, written, 2)
	assert.Equal(t, "Ledger-sequential-key", string(written[0].Key))
	assert.Equal(t, string(written[0].Key), string(written[1].Key))
}

func TestProducer_EmitFireAndForget(t *testing.T) {
	writer := NewMockWriter()
	producer, metrics := newTestProducer(t, writer, nil, time.Second)

	ctx := context.Background()
	first := producer.EmitFireAndForget(ctx, "UserSignup", map[string]int{"n": 1}, pkg.EmitOptions{})
	second := producer.EmitFireAndForget(ctx, "UserSignup", map[string]int{"n": 1}, pkg.EmitOptions{})

	require.NoError(t, first.Wait(ctx))
	require.NoError(t, second.Wait(ctx))

	written := writer.GetWritten()
	require.Len(t, written, 2)
	assert.NotEqual(t, string(written[0].Key), string(written[1].Key))
	for _, msg := range written {
		assert.NotContains(t, headerMap(msg.Headers), models.HeaderCorrelationID)
	}
	assert.Equal(t, int64(2), metrics.GetPublished())
}

func TestProducer_EmitOrderedFireAndForget(t *testing.T) {
	writer := NewMockWriter()
	producer, _ := newTestProducer(t, writer, nil, time.Second)

	h := producer.EmitOrderedFireAndForget(context.Background(), "Ledger", "entry", pkg.EmitOptions{})
	require.NoError(t, h.Wait(context.Background()))

	written := writer.GetWritten()
	require.Len(t, written, 1)
	assert.Equal(t, "Ledger-sequential-key", string(written[0].Key))
}

func TestProducer_EmitFailureResolvesHandle(t *testing.T) {
	writer := NewMockWriter()
	writer.FailCount = 1
	producer, metrics := newTestProducer(t, writer, nil, time.Second)

	h := producer.EmitFireAndForget(context.Background(), "UserSignup", 1, pkg.EmitOptions{})

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("handle did not resolve")
	}
	assert.True(t, pkg.IsSendError(h.Err()))
	assert.Equal(t, int64(1), metrics.GetPublishFailed())
}

func TestProducer_RequestWithoutRouter(t *testing.T) {
	producer, _ := newTestProducer(t, NewMockWriter(), nil, time.Second)

	_, err := producer.SendRequestReply(context.Background(), "UserSignup", 1, pkg.SendOptions{})
	assert.ErrorIs(t, err, pkg.ErrNoReplyRouter)
}

func TestProducer_EmptyTopic(t *testing.T) {
	producer, _ := newTestProducer(t, NewMockWriter(), nil, time.Second)

	_, err := producer.SendOrdered(context.Background(), "", 1, pkg.SendOptions{})
	assert.ErrorIs(t, err, pkg.ErrTopicRequired)

	h := producer.EmitFireAndForget(context.Background(), "", 1, pkg.EmitOptions{})
	assert.ErrorIs(t, h.Wait(context.Background()), pkg.ErrTopicRequired)
}

func TestProducer_CloseGracefullyWaitsForEmits(t *testing.T) {
	writer := NewMockWriter()
	writer.WriteFunc = func(ctx context.Context, msgs ...kafka.Message) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	}
	producer, _ := newTestProducer(t, writer, nil, time.Second)

	h := producer.EmitFireAndForget(context.Background(), "UserSignup", 1, pkg.EmitOptions{})
	require.NoError(t, producer.CloseGracefully(time.Second))

	select {
	case <-h.Done():
	default:
		t.Fatal("close returned before the in-flight emit resolved")
	}
	assert.NoError(t, h.Err())
	assert.Len(t, writer.GetWritten(), 1)

	after := producer.EmitFireAndForget(context.Background(), "UserSignup", 1, pkg.EmitOptions{})
	assert.ErrorIs(t, after.Wait(context.Background()), pkg.ErrProducerClosed)
	assert.NoError(t, producer.Close())
}
