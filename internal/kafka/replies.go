package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go-kafkaguard/internal/observability"
	"go-kafkaguard/pkg/models"

	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// ReplyReader is the read side of one reply topic partition.
type ReplyReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ReplyRouter reads reply partitions and hands each reply to the request waiting on its
// correlation id. Replies nobody waits for (late or foreign) are dropped.
type ReplyRouter struct {
	mu      sync.Mutex
	pending map[string]chan models.Reply
	readers []ReplyReader
	logger  *logrus.Logger
	wg      sync.WaitGroup
}

func NewReplyRouter(logger *logrus.Logger, readers ...ReplyReader) *ReplyRouter {
	return &ReplyRouter{
		pending: make(map[string]chan models.Reply),
		readers: readers,
		logger:  observability.OrDefault(logger),
	}
}

func (r *ReplyRouter) register(correlationID string) <-chan models.Reply {
	ch := make(chan models.Reply, 1)
	r.mu.Lock()
	r.pending[correlationID] = ch
	r.mu.Unlock()
	return ch
}

func (r *ReplyRouter) forget(correlationID string) {
	r.mu.Lock()
	delete(r.pending, correlationID)
	r.mu.Unlock()
}

// Pending returns the number of requests awaiting a reply.
func (r *ReplyRouter) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Resolve delivers msg to the request it answers and reports whether one was waiting.
func (r *ReplyRouter) Resolve(msg kafka.Message) bool {
	headers := headerMap(msg.Headers)
	correlationID := headers[models.HeaderCorrelationID]
	if correlationID == "" {
		r.logger.WithField("topic", msg.Topic).Warn("Reply without correlation id dropped")
		return false
	}

	r.mu.Lock()
	ch, ok := r.pending[correlationID]
	delete(r.pending, correlationID)
	r.mu.Unlock()

	if !ok {
		r.logger.WithFields(logrus.Fields{
			"topic":          msg.Topic,
			"correlation_id": correlationID,
		}).Debug("Reply for unknown or expired request dropped")
		return false
	}

	reply, err := models.DeserializeReply(msg.Value)
	if err != nil {
		reply = models.Reply{Key: string(msg.Key), Error: err.Error()}
	}
	ch <- reply
	return true
}

// Run consumes every reply reader until ctx is done or a reader fails.
func (r *ReplyRouter) Run(ctx context.Context) error {
	if len(r.readers) == 0 {
		<-ctx.Done()
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(r.readers))
	for _, reader := range r.readers {
		r.wg.Add(1)
		go func(reader ReplyReader) {
			defer r.wg.Done()
			if err := r.listen(ctx, reader); err != nil {
				errCh <- err
				cancel()
			}
		}(reader)
	}

	r.wg.Wait()
	close(errCh)
	return <-errCh
}

func (r *ReplyRouter) listen(ctx context.Context, reader ReplyReader) error {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read replies: %w", err)
		}
		r.Resolve(msg)
	}
}

// Close closes all reply readers.
func (r *ReplyRouter) Close() error {
	var errs []error
	for _, reader := range r.readers {
		if err := reader.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
