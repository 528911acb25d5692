package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// Admin is the slice of the broker admin API the reconciler needs.
type Admin interface {
	ListTopics(ctx context.Context) ([]string, error)
	BrokerCount(ctx context.Context) (int, error)
	CreateTopics(ctx context.Context, topics []kafka.TopicConfig, waitForLeaders bool) error
	DeleteTopics(ctx context.Context, names []string) error
}

// BrokerAdmin implements Admin with a kafka-go client.
type BrokerAdmin struct {
	client       *kafka.Client
	leaderWait   time.Duration
	pollInterval time.Duration
}

func NewBrokerAdmin(client *kafka.Client) *BrokerAdmin {
	return &BrokerAdmin{
		client:       client,
		leaderWait:   30 * time.Second,
		pollInterval: 200 * time.Millisecond,
	}
}

func (a *BrokerAdmin) ListTopics(ctx context.Context) ([]string, error) {
	resp, err := a.client.Metadata(ctx, &kafka.MetadataRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metadata: %w", err)
	}

	names := make([]string, 0, len(resp.Topics))
	for _, t := range resp.Topics {
		names = append(names, t.Name)
	}
	return names, nil
}

func (a *BrokerAdmin) BrokerCount(ctx context.Context) (int, error) {
	resp, err := a.client.Metadata(ctx, &kafka.MetadataRequest{})
	if err != nil {
		return 0, fmt.Errorf("failed to fetch metadata: %w", err)
	}
	return len(resp.Brokers), nil
}

// CreateTopics creates topics in one request. Topics that already exist are not an
// error, so concurrent reconcilers cannot fail each other.
func (a *BrokerAdmin) CreateTopics(ctx context.Context, topics []kafka.TopicConfig, waitForLeaders bool) error {
	if len(topics) == 0 {
		return nil
	}

	resp, err := a.client.CreateTopics(ctx, &kafka.CreateTopicsRequest{Topics: topics})
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	var errs []error
	for name, topicErr := range resp.Errors {
		if topicErr != nil && !errors.Is(topicErr, kafka.TopicAlreadyExists) {
			errs = append(errs, fmt.Errorf("topic %s: %w", name, topicErr))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if !waitForLeaders {
		return nil
	}

	names := make([]string, 0, len(topics))
	for _, t := range topics {
		names = append(names, t.Topic)
	}
	return a.waitForLeaders(ctx, names)
}

func (a *BrokerAdmin) waitForLeaders(ctx context.Context, names []string) error {
	ctx, cancel := context.WithTimeout(ctx, a.leaderWait)
	defer cancel()

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		resp, err := a.client.Metadata(ctx, &kafka.MetadataRequest{Topics: names})
		if err == nil && leadersElected(resp, names) {
			return nil
		}

		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("waiting for leaders: %w", err)
			}
			return fmt.Errorf("waiting for leaders: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func leadersElected(resp *kafka.MetadataResponse, names []string) bool {
	byName := make(map[string]kafka.Topic, len(resp.Topics))
	for _, t := range resp.Topics {
		byName[t.Name] = t
	}
	for _, name := range names {
		t, ok := byName[name]
		if !ok || t.Error != nil || len(t.Partitions) == 0 {
			return false
		}
		for _, p := range t.Partitions {
			if p.Error != nil || p.Leader.Host == "" {
				return false
			}
		}
	}
	return true
}

func (a *BrokerAdmin) DeleteTopics(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}

	resp, err := a.client.DeleteTopics(ctx, &kafka.DeleteTopicsRequest{Topics: names})
	if err != nil {
		return fmt.Errorf("failed to delete topics: %w", err)
	}

	var errs []error
	for name, topicErr := range resp.Errors {
		if topicErr != nil && !errors.Is(topicErr, kafka.UnknownTopicOrPartition) {
			errs = append(errs, fmt.Errorf("topic %s: %w", name, topicErr))
		}
	}
	return errors.Join(errs...)
}
