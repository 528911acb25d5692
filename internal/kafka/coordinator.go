package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go-kafkaguard/internal/jsoncodec"
	"go-kafkaguard/internal/observability"
	pkg "go-kafkaguard/pkg/kafka"
	"go-kafkaguard/pkg/models"

	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// OffsetCommitter commits consumed offsets. *kafka.Reader satisfies it.
type OffsetCommitter interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type CoordinatorOptions struct {
	Committer OffsetCommitter
	// Writer sends dead-letter copies and replies.
	Writer  MessageWriter
	GroupID string
	// CommitTimeout bounds commits and dead-letter sends, which outlive cancellation.
	CommitTimeout time.Duration
	Metrics       observability.MetricsCollector
	Logger        *logrus.Logger
	Tracer        *observability.Tracer
}

// Coordinator decides, per delivery, whether its offset is committed. It provides the
// middleware stages that make up a route's chain.
type Coordinator struct {
	committer     OffsetCommitter
	writer        MessageWriter
	groupID       string
	commitTimeout time.Duration
	metrics       observability.MetricsCollector
	logger        *logrus.Logger
	tracer        *observability.Tracer
}

func NewCoordinator(opts CoordinatorOptions) *Coordinator {
	if opts.CommitTimeout <= 0 {
		opts.CommitTimeout = 10 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewInMemoryMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.NewTracer()
	}
	return &Coordinator{
		committer:     opts.Committer,
		writer:        opts.Writer,
		groupID:       opts.GroupID,
		commitTimeout: opts.CommitTimeout,
		metrics:       opts.Metrics,
		logger:        observability.OrDefault(opts.Logger),
		tracer:        opts.Tracer,
	}
}

// Wrap builds the full chain for one route:
// trace, commit, recover, decode, then respond and recover again for requests, handler.
// The inner recover lets a panicking request handler still answer with an error reply.
func (c *Coordinator) Wrap(h Handler, policy CommitPolicy, request bool) Handler {
	commit := c.CommitLast()
	if policy == PolicyCommitFirst {
		commit = c.CommitFirst()
	}

	stages := []Middleware{c.Trace(), commit, c.Recover(), c.Decode()}
	if request {
		stages = append(stages, c.Respond(), c.Recover())
	}
	return Chain(h, stages...)
}

// CommitLast commits after the handler succeeds. A recognized validation failure is
// dead-lettered and then committed. Any other failure leaves the offset uncommitted.
func (c *Coordinator) CommitLast() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *Message) (any, error) {
			result, err := next(ctx, msg)
			switch {
			case err == nil:
				if err := c.commit(ctx, msg); err != nil {
					return nil, c.handlerError(msg, err, false)
				}
				c.metrics.IncProcessed(msg.Topic)
				c.entry(msg).Debug("Message processed")
				return result, nil

			case pkg.IsRecognizedValidation(err):
				if err := c.divert(ctx, msg, err); err != nil {
					return nil, c.handlerError(msg, err, false)
				}
				if err := c.commit(ctx, msg); err != nil {
					return nil, c.handlerError(msg, err, false)
				}
				return nil, nil

			default:
				c.metrics.IncFailed(msg.Topic)
				herr := c.handlerError(msg, err, false)
				c.entry(msg).WithField("error_kind", pkg.ErrorKind(err)).WithError(err).
					Error("Message processing failed, offset not committed")
				return nil, herr
			}
		}
	}
}

// CommitFirst commits before the handler runs and never dispatches a message whose
// commit failed. Validation failures are still dead-lettered. Other failures are
// reported with Committed set; the message is not redelivered.
func (c *Coordinator) CommitFirst() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *Message) (any, error) {
			if err := c.commit(ctx, msg); err != nil {
				return nil, c.handlerError(msg, err, false)
			}

			result, err := next(ctx, msg)
			switch {
			case err == nil:
				c.metrics.IncProcessed(msg.Topic)
				c.entry(msg).Debug("Message processed")
				return result, nil

			case pkg.IsRecognizedValidation(err):
				if err := c.divert(ctx, msg, err); err != nil {
					return nil, c.handlerError(msg, err, true)
				}
				return nil, nil

			default:
				c.metrics.IncFailed(msg.Topic)
				c.entry(msg).WithField("error_kind", pkg.ErrorKind(err)).WithError(err).
					Error("Message processing failed after commit, message dropped")
				return nil, c.handlerError(msg, err, true)
			}
		}
	}
}

// Decode parses the record value into msg.Envelope. An unparsable record is a
// validation failure.
func (c *Coordinator) Decode() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *Message) (any, error) {
			env, err := models.Deserialize(msg.Value)
			if err != nil {
				return nil, pkg.NewValidationFailure("malformed envelope", map[string]string{"error": err.Error()})
			}
			msg.Envelope = env
			return next(ctx, msg)
		}
	}
}

// Respond publishes the handler outcome to the reply topic named by the request.
// Messages without a reply topic pass through.
func (c *Coordinator) Respond() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *Message) (any, error) {
			result, err := next(ctx, msg)

			replyTopic := msg.Headers[models.HeaderReplyTopic]
			if replyTopic == "" {
				return result, err
			}
			if rerr := c.reply(ctx, msg, replyTopic, result, err); rerr != nil && err == nil {
				return nil, rerr
			}
			return result, err
		}
	}
}

// Recover turns a handler panic into an error, which the commit stage treats like any
// other handler failure.
func (c *Coordinator) Recover() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *Message) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("handler panicked: %v", r)
					c.entry(msg).WithField("stack", string(debug.Stack())).Error("Handler panicked")
				}
			}()
			return next(ctx, msg)
		}
	}
}

// Trace runs the rest of the chain in a consumer span continuing the producer's trace.
func (c *Coordinator) Trace() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *Message) (any, error) {
			ctx, end := c.tracer.StartConsumerSpan(ctx, c.groupID, msg.Topic, msg.Partition, msg.Offset, msg.Headers)
			result, err := next(ctx, msg)
			end(err)
			return result, err
		}
	}
}

// divert sends an unchanged copy of the record to the dead-letter topic.
func (c *Coordinator) divert(ctx context.Context, msg *Message, cause error) error {
	c.metrics.IncValidationFailed(msg.Topic)
	dlq := models.DeadLetterTopic(msg.Topic)
	logger := c.entry(msg).WithFields(logrus.Fields{
		"error_kind": pkg.ErrorKind(cause),
		"dlq_topic":  dlq,
	})

	// A started dead-letter send is not abandoned on shutdown.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.commitTimeout)
	defer cancel()

	record := kafka.Message{
		Topic:   dlq,
		Key:     msg.record.Key,
		Value:   msg.record.Value,
		Headers: msg.record.Headers,
		Time:    time.Now(),
	}
	if err := c.writer.WriteMessages(ctx, record); err != nil {
		logger.WithError(err).Error("Failed to dead-letter message, offset not committed")
		return &pkg.SendError{Topic: dlq, Err: err}
	}

	c.metrics.IncSentToDLQ(msg.Topic)
	logger.WithError(cause).Warn("Message failed validation, sent to dead-letter topic")
	return nil
}

func (c *Coordinator) commit(ctx context.Context, msg *Message) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.commitTimeout)
	defer cancel()

	if err := c.committer.CommitMessages(ctx, msg.record); err != nil {
		c.metrics.IncCommitFailed(msg.Topic)
		c.entry(msg).WithError(err).Error("Failed to commit offset")
		return fmt.Errorf("failed to commit offset: %w", err)
	}
	c.metrics.IncCommitted(msg.Topic)
	return nil
}

func (c *Coordinator) reply(ctx context.Context, msg *Message, topic string, result any, cause error) error {
	reply := models.Reply{Key: msg.Key}
	var vf *pkg.ValidationFailure
	switch {
	case errors.As(cause, &vf):
		reply.Error = vf.Message
		if reply.Error == "" {
			reply.Error = vf.Error()
		}
		reply.Code = vf.Code
		reply.Fields = vf.Fields
	case cause != nil:
		reply.Error = cause.Error()
	default:
		value, err := replyValue(result)
		if err != nil {
			reply.Error = err.Error()
		}
		reply.Value = value
	}

	value, err := models.SerializeReply(reply)
	if err != nil {
		return err
	}

	headers := map[string]string{models.HeaderCorrelationID: msg.Headers[models.HeaderCorrelationID]}
	if p, ok := msg.Headers[models.HeaderReplyPartition]; ok {
		headers[models.HeaderReplyPartition] = p
	}

	record := kafka.Message{
		Topic:   topic,
		Key:     msg.record.Key,
		Value:   value,
		Headers: kafkaHeaders(headers),
		Time:    time.Now(),
	}
	if err := c.writer.WriteMessages(ctx, record); err != nil {
		c.metrics.IncPublishFailed(topic)
		c.entry(msg).WithField("reply_topic", topic).WithError(err).Error("Failed to publish reply")
		return &pkg.SendError{Topic: topic, Err: err}
	}
	c.metrics.IncPublished(topic)
	return nil
}

func replyValue(result any) (json.RawMessage, error) {
	switch v := result.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	}
	b, err := jsoncodec.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reply: %w", err)
	}
	return b, nil
}

func (c *Coordinator) handlerError(msg *Message, err error, committed bool) error {
	var he *pkg.HandlerError
	if errors.As(err, &he) {
		wrapped := *he
		wrapped.Committed = committed
		return &wrapped
	}
	return &pkg.HandlerError{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Committed: committed,
		Err:       err,
	}
}

func (c *Coordinator) entry(msg *Message) *logrus.Entry {
	return c.logger.WithFields(logrus.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
		"key":       msg.Key,
	})
}
