package kafka

import (
	"context"
	"fmt"
	"math"
	"time"

	"go-kafkaguard/internal/observability"
	pkg "go-kafkaguard/pkg/kafka"

	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// KafkaClient owns the process-wide broker transport. Writers, readers and the admin
// client are all created from it so they share connections and the client id.
type KafkaClient struct {
	brokers     []string
	clientID    string
	transport   *kafka.Transport
	dialer      *kafka.Dialer
	logger      *logrus.Logger
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func NewKafkaClient(brokers []string, clientID string, maxRetries int) *KafkaClient {
	return &KafkaClient{
		brokers:  brokers,
		clientID: clientID,
		transport: &kafka.Transport{
			ClientID:    clientID,
			DialTimeout: 10 * time.Second,
			IdleTimeout: 5 * time.Minute,
		},
		dialer: &kafka.Dialer{
			ClientID:  clientID,
			Timeout:   10 * time.Second,
			DualStack: true,
		},
		logger:      observability.GetLogger(),
		maxRetries:  maxRetries,
		baseBackoff: 1 * time.Second,
		maxBackoff:  30 * time.Second,
	}
}

// Admin returns an admin adapter over the shared transport.
func (c *KafkaClient) Admin() *BrokerAdmin {
	return NewBrokerAdmin(&kafka.Client{
		Addr:      kafka.TCP(c.brokers...),
		Timeout:   30 * time.Second,
		Transport: c.transport,
	})
}

// NewWriter builds the shared writer used for sends, replies and dead-letter copies.
// Messages carry their own topic.
func (c *KafkaClient) NewWriter(cfg pkg.ProducerConfig, allowAutoTopicCreation bool) *kafka.Writer {
	policy := cfg.RetryPolicy
	if policy.MaxAttempts == 0 {
		policy = pkg.DefaultRetryPolicy()
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(c.brokers...),
		Balancer:               &ReplyPartitionBalancer{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            policy.MaxAttempts,
		WriteBackoffMin:        policy.InitialBackoff,
		WriteBackoffMax:        policy.MaxBackoff,
		BatchTimeout:           10 * time.Millisecond,
		WriteTimeout:           cfg.WriteTimeout,
		ReadTimeout:            cfg.WriteTimeout,
		AllowAutoTopicCreation: allowAutoTopicCreation,
		Transport:              c.transport,
		Async:                  false,
	}

	// One message per request keeps sends to a partition strictly ordered
	if cfg.MaxInFlightOne {
		writer.BatchSize = 1
	}
	return writer
}

// NewReader builds a consumer-group reader over topics with manual commits.
func (c *KafkaClient) NewReader(cfg pkg.ConsumerConfig, topics []string) *kafka.Reader {
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10e6
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 5 * time.Second
	}
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}

	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:           c.brokers,
		GroupID:           cfg.GroupID,
		GroupTopics:       topics,
		Dialer:            c.dialer,
		MinBytes:          cfg.MinBytes,
		MaxBytes:          cfg.MaxBytes,
		MaxWait:           cfg.MaxWait,
		SessionTimeout:    cfg.SessionTimeout,
		RebalanceTimeout:  cfg.RebalanceTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		CommitInterval:    0, // Manual commits
		StartOffset:       kafka.FirstOffset,
	})
}

// NewReplyReader reads one partition of a reply topic, starting at its end.
func (c *KafkaClient) NewReplyReader(topic string, partition int) (*kafka.Reader, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   c.brokers,
		Topic:     topic,
		Partition: partition,
		Dialer:    c.dialer,
		MinBytes:  1,
		MaxBytes:  1e6,
		MaxWait:   250 * time.Millisecond,
	})
	if err := reader.SetOffset(kafka.LastOffset); err != nil {
		reader.Close()
		return nil, fmt.Errorf("failed to position reply reader on %s: %w", topic, err)
	}
	return reader, nil
}

// HealthCheck verifies connectivity to Kafka brokers
func (c *KafkaClient) HealthCheck(ctx context.Context) error {
	var lastErr error
	for _, broker := range c.brokers {
		conn, err := c.dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = fmt.Errorf("failed to connect to broker %s: %w", broker, err)
			continue
		}

		// Fetch metadata to verify broker health
		_, err = conn.Brokers()
		conn.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read brokers from %s: %w", broker, err)
			continue
		}
		return nil
	}
	return lastErr
}

// HealthCheckLoop runs health checks periodically with reconnection logic
func (c *KafkaClient) HealthCheckLoop(ctx context.Context, interval time.Duration, onReconnect func() error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Health check loop stopped")
			return
		case <-ticker.C:
			if err := c.HealthCheck(ctx); err != nil {
				c.logger.WithError(err).Warn("Health check failed, attempting reconnection")
				if err := c.reconnectWithBackoff(ctx, onReconnect); err != nil {
					c.logger.WithError(err).Error("Reconnection failed")
				}
			}
		}
	}
}

// reconnectWithBackoff implements exponential backoff reconnection strategy
func (c *KafkaClient) reconnectWithBackoff(ctx context.Context, onReconnect func() error) error {
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		backoff := Backoff(c.baseBackoff, c.maxBackoff, attempt)

		c.logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"backoff": backoff,
		}).Info("Attempting reconnection")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		if err := c.HealthCheck(ctx); err != nil {
			c.logger.WithError(err).Warn("Reconnection attempt failed")
			continue
		}

		if onReconnect != nil {
			if err := onReconnect(); err != nil {
				c.logger.WithError(err).Warn("Reconnect callback failed")
				continue
			}
		}

		c.logger.Info("Reconnection successful")
		return nil
	}

	return fmt.Errorf("failed to reconnect after %d attempts", c.maxRetries)
}

// Backoff returns base*2^attempt capped at max.
func Backoff(base, max time.Duration, attempt int) time.Duration {
	return time.Duration(math.Min(
		float64(base)*math.Pow(2, float64(attempt)),
		float64(max),
	))
}

// Close releases idle connections held by the shared transport.
func (c *KafkaClient) Close() {
	c.transport.CloseIdleConnections()
}
