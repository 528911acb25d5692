package kafka

import (
	"context"
	"time"

	"go-kafkaguard/pkg/models"
)

// SendOptions configures a request/reply send.
type SendOptions struct {
	Headers map[string]string
	// Timeout overrides the configured per-call response timeout when positive.
	Timeout time.Duration
	// Raw returns the full reply envelope instead of its value.
	Raw bool
}

// EmitOptions configures a fire-and-forget send.
type EmitOptions struct {
	Headers map[string]string
}

// Response is the outcome of a request/reply send. Value holds the reply value, or the
// whole serialized reply envelope when SendOptions.Raw was set.
type Response struct {
	Value []byte
	Reply *models.Reply
}

// Handle resolves once the broker has acknowledged (or rejected) an emitted message.
type Handle interface {
	Done() <-chan struct{}
	Err() error
	Wait(ctx context.Context) error
}

// Producer exposes the four send primitives.
type Producer interface {
	SendRequestReply(ctx context.Context, topic string, payload any, opts SendOptions) (*Response, error)
	EmitFireAndForget(ctx context.Context, topic string, payload any, opts EmitOptions) Handle
	SendOrdered(ctx context.Context, topic string, payload any, opts SendOptions) (*Response, error)
	EmitOrderedFireAndForget(ctx context.Context, topic string, payload any, opts EmitOptions) Handle
	Close() error
	CloseGracefully(timeout time.Duration) error
}

// RetryPolicy maps onto the broker client's own write retry settings. This layer
// performs no retries of its own.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 300 * time.Millisecond,
		MaxBackoff:     60 * time.Second,
	}
}

type ProducerConfig struct {
	Brokers     []string
	ClientID    string
	SendTimeout time.Duration
	// MaxInFlightOne forces unbatched synchronous writes, required for ordered sends.
	MaxInFlightOne bool
	RetryPolicy    RetryPolicy
	WriteTimeout   time.Duration
}

type ConsumerConfig struct {
	Brokers           []string
	ClientID          string
	GroupID           string
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	SessionTimeout    time.Duration
	RebalanceTimeout  time.Duration
	HeartbeatInterval time.Duration
	// PartitionBuffer bounds how many fetched messages wait per partition worker.
	PartitionBuffer int
}
