package kafka

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"sync"
	"time"

	"go-kafkaguard/internal/ids"
	"go-kafkaguard/internal/observability"
	pkg "go-kafkaguard/pkg/kafka"
	"go-kafkaguard/pkg/models"

	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// MessageWriter is the write side of the broker client. *kafka.Writer satisfies it.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ProducerOptions struct {
	Writer MessageWriter
	// Replies is required for request/reply sends only.
	Replies *ReplyRouter
	// Timeout is the default response timeout of request/reply sends.
	Timeout time.Duration
	// ReplyPartition is the reply topic partition this process listens on.
	ReplyPartition int
	Metrics        observability.MetricsCollector
	Logger         *logrus.Logger
	Tracer         *observability.Tracer
}

// KafkaProducer implements pkg.Producer over a shared writer. It performs no retries of
// its own; a failed write is returned to the caller as a *pkg.SendError.
type KafkaProducer struct {
	writer         MessageWriter
	replies        *ReplyRouter
	timeout        time.Duration
	replyPartition int
	metrics        observability.MetricsCollector
	logger         *logrus.Logger
	tracer         *observability.Tracer

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

var _ pkg.Producer = (*KafkaProducer)(nil)

func NewProducer(opts ProducerOptions) (*KafkaProducer, error) {
	if opts.Writer == nil {
		return nil, errors.New("producer requires a writer")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewInMemoryMetrics()
	}
	if opts.Tracer == nil {
		opts.Tracer = observability.NewTracer()
	}

	return &KafkaProducer{
		writer:         opts.Writer,
		replies:        opts.Replies,
		timeout:        opts.Timeout,
		replyPartition: opts.ReplyPartition,
		metrics:        opts.Metrics,
		logger:         observability.OrDefault(opts.Logger),
		tracer:         opts.Tracer,
	}, nil
}

// SendRequestReply sends payload under a fresh key and waits for the correlated reply.
func (p *KafkaProducer) SendRequestReply(ctx context.Context, topic string, payload any, opts pkg.SendOptions) (*pkg.Response, error) {
	if topic == "" {
		return nil, pkg.ErrTopicRequired
	}
	env, err := models.BuildUnordered(payload, opts.Headers)
	if err != nil {
		return nil, err
	}
	return p.request(ctx, topic, env, opts)
}

// SendOrdered is SendRequestReply with the sequential key of topic.
func (p *KafkaProducer) SendOrdered(ctx context.Context, topic string, payload any, opts pkg.SendOptions) (*pkg.Response, error) {
	if topic == "" {
		return nil, pkg.ErrTopicRequired
	}
	env, err := models.BuildOrdered(topic, payload, opts.Headers)
	if err != nil {
		return nil, err
	}
	return p.request(ctx, topic, env, opts)
}

// EmitFireAndForget sends payload under a fresh key. The handle resolves on broker ack.
func (p *KafkaProducer) EmitFireAndForget(ctx context.Context, topic string, payload any, opts pkg.EmitOptions) pkg.Handle {
	if topic == "" {
		return resolvedHandle(pkg.ErrTopicRequired)
	}
	env, err := models.BuildUnordered(payload, opts.Headers)
	if err != nil {
		return resolvedHandle(err)
	}
	return p.emit(ctx, topic, env)
}

// EmitOrderedFireAndForget is EmitFireAndForget with the sequential key of topic.
func (p *KafkaProducer) EmitOrderedFireAndForget(ctx context.Context, topic string, payload any, opts pkg.EmitOptions) pkg.Handle {
	if topic == "" {
		return resolvedHandle(pkg.ErrTopicRequired)
	}
	env, err := models.BuildOrdered(topic, payload, opts.Headers)
	if err != nil {
		return resolvedHandle(err)
	}
	return p.emit(ctx, topic, env)
}

func (p *KafkaProducer) request(ctx context.Context, topic string, env models.Envelope, opts pkg.SendOptions) (*pkg.Response, error) {
	if p.replies == nil {
		return nil, pkg.ErrNoReplyRouter
	}
	if !p.acquire() {
		return nil, pkg.ErrProducerClosed
	}
	defer p.inflight.Done()

	timeout := p.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	correlationID := ids.NewCorrelationID()
	replies := p.replies.register(correlationID)
	defer p.replies.forget(correlationID)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger := p.logger.WithFields(logrus.Fields{
		"topic":          topic,
		"key":            env.Key,
		"correlation_id": correlationID,
	})

	timedOut := func() error {
		p.metrics.IncReplyTimeout(topic)
		err := &pkg.TimeoutError{Topic: topic, Timeout: timeout, CorrelationID: correlationID}
		logger.WithField("error_kind", pkg.ErrorKind(err)).WithError(err).Warn("Request timed out")
		return err
	}

	transport := map[string]string{
		models.HeaderCorrelationID:  correlationID,
		models.HeaderReplyTopic:     models.ReplyTopic(topic),
		models.HeaderReplyPartition: strconv.Itoa(p.replyPartition),
	}
	if err := p.send(ctx, topic, env, transport, "send"); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, timedOut()
		}
		return nil, err
	}

	select {
	case reply := <-replies:
		if reply.Error != "" {
			err := &pkg.HandlerError{Topic: topic, Partition: -1, Offset: -1, Err: remoteError(reply)}
			entry := logger.WithField("error_kind", pkg.ErrorKind(err)).WithError(err)
			if pkg.IsRecognizedValidation(err) {
				entry.Warn("Request rejected remotely")
			} else {
				entry.Error("Request failed remotely")
			}
			return nil, err
		}
		resp := &pkg.Response{Value: reply.Value, Reply: &reply}
		if opts.Raw {
			raw, err := models.SerializeReply(reply)
			if err != nil {
				return nil, err
			}
			resp.Value = raw
		}
		logger.Debug("Reply received")
		return resp, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, timedOut()
		}
		return nil, ctx.Err()
	}
}

// remoteError rebuilds the responder's failure. Validation failures keep their code so
// callers can tell them apart from handler bugs.
func remoteError(reply models.Reply) error {
	if reply.Code != 0 {
		return &pkg.ValidationFailure{Code: reply.Code, Message: reply.Error, Fields: reply.Fields}
	}
	return errors.New(reply.Error)
}

func (p *KafkaProducer) emit(ctx context.Context, topic string, env models.Envelope) pkg.Handle {
	if !p.acquire() {
		return resolvedHandle(pkg.ErrProducerClosed)
	}

	h := &sendHandle{done: make(chan struct{})}
	go func() {
		defer p.inflight.Done()
		h.err = p.send(ctx, topic, env, nil, "publish")
		close(h.done)
	}()
	return h
}

// send serializes env and writes it with the envelope headers plus transport headers.
func (p *KafkaProducer) send(ctx context.Context, topic string, env models.Envelope, transport map[string]string, operation string) (err error) {
	ctx, end := p.tracer.StartProducerSpan(ctx, topic, env.Key, operation)
	defer func() { end(err) }()

	value, err := models.Serialize(env)
	if err != nil {
		return err
	}

	headers := make(map[string]string, len(env.Headers)+len(transport)+2)
	maps.Copy(headers, env.Headers)
	maps.Copy(headers, transport)
	p.tracer.Inject(ctx, headers)

	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(env.Key),
		Value:   value,
		Headers: kafkaHeaders(headers),
		Time:    time.Now(),
	}

	if werr := p.writer.WriteMessages(ctx, msg); werr != nil {
		p.metrics.IncPublishFailed(topic)
		err = &pkg.SendError{Topic: topic, Err: werr}
		if !errors.Is(werr, context.DeadlineExceeded) {
			p.logger.WithFields(logrus.Fields{
				"topic":      topic,
				"key":        env.Key,
				"error_kind": pkg.ErrorKind(err),
			}).WithError(werr).Error("Failed to publish message")
		}
		return err
	}

	p.metrics.IncPublished(topic)
	p.logger.WithFields(logrus.Fields{
		"topic": topic,
		"key":   env.Key,
	}).Debug("Message published")
	return nil
}

func (p *KafkaProducer) acquire() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.inflight.Add(1)
	return true
}

func (p *KafkaProducer) markClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	return true
}

// Close rejects new sends and closes the writer without waiting for in-flight sends.
func (p *KafkaProducer) Close() error {
	if !p.markClosed() {
		return nil
	}
	p.logger.Info("Closing producer")
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close producer: %w", err)
	}
	return nil
}

// CloseGracefully rejects new sends, waits up to timeout for in-flight sends and closes
// the writer.
func (p *KafkaProducer) CloseGracefully(timeout time.Duration) error {
	if !p.markClosed() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		p.inflight.Wait()
		done <- p.writer.Close()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		p.logger.Warn("Producer close timed out with sends in flight")
		return ctx.Err()
	}
}

type sendHandle struct {
	done chan struct{}
	err  error
}

func resolvedHandle(err error) *sendHandle {
	h := &sendHandle{done: make(chan struct{}), err: err}
	close(h.done)
	return h
}

func (h *sendHandle) Done() <-chan struct{} {
	return h.done
}

// Err returns the send outcome, or nil while the send is still pending.
func (h *sendHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *sendHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
