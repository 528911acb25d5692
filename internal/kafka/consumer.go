package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go-kafkaguard/internal/observability"
	pkg "go-kafkaguard/pkg/kafka"

	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// MessageReader is the consumer-group delivery stream. *kafka.Reader satisfies it.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerOptions struct {
	GroupID string
	// Writer sends dead-letter copies and replies.
	Writer MessageWriter
	// PartitionBuffer bounds the fetched messages queued per partition.
	PartitionBuffer int
	CommitTimeout   time.Duration
	Metrics         observability.MetricsCollector
	Logger          *logrus.Logger
	Tracer          *observability.Tracer
}

type partitionKey struct {
	topic     string
	partition int
}

// Consumer fetches deliveries and dispatches them through each route's chain. Each
// partition gets its own worker, so a partition is handled one message at a time and
// its commits follow offset order, while partitions proceed concurrently.
type Consumer struct {
	reader   MessageReader
	handlers map[string]Handler
	buffer   int
	logger   *logrus.Logger
	metrics  observability.MetricsCollector

	stopped  chan struct{}
	stopOnce sync.Once
}

func NewConsumer(reader MessageReader, router *Router, opts ConsumerOptions) *Consumer {
	if opts.PartitionBuffer <= 0 {
		opts.PartitionBuffer = 16
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewInMemoryMetrics()
	}

	coordinator := NewCoordinator(CoordinatorOptions{
		Committer:     reader,
		Writer:        opts.Writer,
		GroupID:       opts.GroupID,
		CommitTimeout: opts.CommitTimeout,
		Metrics:       opts.Metrics,
		Logger:        opts.Logger,
		Tracer:        opts.Tracer,
	})

	handlers := make(map[string]Handler, len(router.routes))
	for topic, rt := range router.routes {
		handlers[topic] = coordinator.Wrap(rt.handler, rt.policy, rt.request)
	}

	return &Consumer{
		reader:   reader,
		handlers: handlers,
		buffer:   opts.PartitionBuffer,
		logger:   observability.OrDefault(opts.Logger),
		metrics:  opts.Metrics,
		stopped:  make(chan struct{}),
	}
}

// Run consumes until ctx is done or a delivery fails without being committed. In the
// latter case the remaining fetched messages are discarded unprocessed and the
// failure is returned; the caller restarts the cycle on a fresh reader so the
// uncommitted message is delivered again. A consumer runs once.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.stopOnce.Do(func() { close(c.stopped) })

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		once    sync.Once
		failure error
	)
	fail := func(err error) {
		once.Do(func() {
			failure = err
			cancel()
		})
	}

	workers := make(map[partitionKey]chan kafka.Message)

	c.logger.WithField("topics", len(c.handlers)).Info("Consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				break
			}
			c.logger.WithError(err).Error("Failed to fetch message")
			fail(fmt.Errorf("failed to fetch message: %w", err))
			break
		}

		c.metrics.IncReceived(msg.Topic)

		handler, ok := c.handlers[msg.Topic]
		if !ok {
			c.logger.WithField("topic", msg.Topic).Warn("No handler registered, message skipped")
			continue
		}

		key := partitionKey{topic: msg.Topic, partition: msg.Partition}
		ch, ok := workers[key]
		if !ok {
			ch = make(chan kafka.Message, c.buffer)
			workers[key] = ch
			wg.Add(1)
			go c.worker(ctx, key, ch, handler, fail, &wg)
		}

		select {
		case ch <- msg:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	c.logger.Info("Consumer stopping")
	cancel()
	for _, ch := range workers {
		close(ch)
	}
	wg.Wait()
	return failure
}

func (c *Consumer) worker(ctx context.Context, key partitionKey, ch <-chan kafka.Message, handler Handler, fail func(error), wg *sync.WaitGroup) {
	defer wg.Done()

	logger := c.logger.WithFields(logrus.Fields{
		"topic":     key.topic,
		"partition": key.partition,
	})
	logger.Debug("Partition worker started")

	for msg := range ch {
		// After a failure nothing later in the partition may be committed.
		if ctx.Err() != nil {
			continue
		}

		_, err := handler(ctx, NewMessage(msg))
		if err == nil {
			continue
		}

		var he *pkg.HandlerError
		if errors.As(err, &he) && he.Committed {
			continue
		}
		fail(err)
	}
}

// Close closes the reader without waiting for Run to return.
func (c *Consumer) Close() error {
	c.logger.Info("Closing consumer")
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close consumer: %w", err)
	}
	return nil
}

// CloseGracefully waits up to timeout for Run to return, then closes the reader.
func (c *Consumer) CloseGracefully(timeout time.Duration) error {
	select {
	case <-c.stopped:
	case <-time.After(timeout):
		c.logger.Warn("Consumer did not stop in time, closing reader")
	}
	return c.Close()
}

// ConsumerSlot holds the consumer of the running cycle so other goroutines, such as the
// broker health check, can end that cycle.
type ConsumerSlot struct {
	current atomic.Pointer[Consumer]
}

func (s *ConsumerSlot) Set(c *Consumer) {
	s.current.Store(c)
}

// Restart closes the current consumer. Its Run returns and Supervise builds a fresh
// consumer, so the group is rejoined and uncommitted messages are fetched again.
func (s *ConsumerSlot) Restart() error {
	c := s.current.Load()
	if c == nil {
		return nil
	}
	return c.Close()
}

var errConsumerStopped = errors.New("consumer stopped unexpectedly")

// Supervise runs consumer cycles until ctx is done. Each cycle gets a fresh consumer
// from build so uncommitted messages are fetched again. Failed cycles are retried with
// exponential backoff, which resets once a cycle has lasted longer than max.
func Supervise(ctx context.Context, build func() (*Consumer, error), base, max time.Duration, logger *logrus.Logger) {
	logger = observability.OrDefault(logger)
	attempt := 0

	for ctx.Err() == nil {
		started := time.Now()
		consumer, err := build()
		if err == nil {
			err = consumer.Run(ctx)
			if cerr := consumer.Close(); cerr != nil {
				logger.WithError(cerr).Warn("Failed to close consumer")
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errConsumerStopped
		}
		if time.Since(started) > max {
			attempt = 0
		}

		backoff := Backoff(base, max, attempt)
		attempt++
		logger.WithFields(logrus.Fields{
			"attempt":    attempt,
			"backoff":    backoff,
			"error_kind": pkg.ErrorKind(err),
		}).WithError(err).Warn("Consumer cycle failed, restarting")

		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
	}
}
