package kafka

import (
	"context"
	"strings"

	topics "go-kafkaguard/config/kafka"
	"go-kafkaguard/internal/observability"
	pkg "go-kafkaguard/pkg/kafka"

	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Reconciler creates the desired topics that are missing from the broker. It runs once
// at startup, before producers and consumers, and only when the broker is not
// configured to create topics on its own.
type Reconciler struct {
	admin   Admin
	desired []topics.TopicSpec
	logger  *logrus.Logger
	metrics observability.MetricsCollector
}

func NewReconciler(admin Admin, desired []topics.TopicSpec, logger *logrus.Logger, metrics observability.MetricsCollector) *Reconciler {
	if metrics == nil {
		metrics = observability.NewInMemoryMetrics()
	}
	return &Reconciler{
		admin:   admin,
		desired: desired,
		logger:  observability.OrDefault(logger),
		metrics: metrics,
	}
}

// Reconcile lists the broker topics, diffs them against the desired set and creates
// the missing ones in a single batch, waiting for leader election. It returns the
// names it created. Any failure is a *pkg.ReconciliationError and is not retried.
func (r *Reconciler) Reconcile(ctx context.Context) ([]string, error) {
	current, err := r.currentTopics(ctx)
	if err != nil {
		return nil, err
	}

	missing := r.missing(current)
	if len(missing) == 0 {
		r.logger.WithField("topics", len(r.desired)).Info("All topics present, nothing to create")
		return nil, nil
	}

	brokerCount, err := r.admin.BrokerCount(ctx)
	if err != nil {
		return nil, &pkg.ReconciliationError{Stage: "list", Err: err}
	}

	batch := make([]kafka.TopicConfig, 0, len(missing))
	names := make([]string, 0, len(missing))
	for _, spec := range missing {
		batch = append(batch, kafka.TopicConfig{
			Topic:             spec.Name,
			NumPartitions:     spec.Partitions,
			ReplicationFactor: spec.EffectiveReplicationFactor(brokerCount),
		})
		names = append(names, spec.Name)
	}

	r.logger.WithFields(logrus.Fields{
		"topics":  names,
		"brokers": brokerCount,
	}).Info("Creating missing topics")

	if err := r.admin.CreateTopics(ctx, batch, true); err != nil {
		return nil, &pkg.ReconciliationError{Stage: "create", Err: err}
	}

	r.metrics.IncTopicsCreated(len(names))
	r.logger.WithField("topics", names).Info("Topics created")
	return names, nil
}

// Delete removes the desired topics that currently exist and returns their names.
func (r *Reconciler) Delete(ctx context.Context) ([]string, error) {
	current, err := r.currentTopics(ctx)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, spec := range r.desired {
		if _, ok := current[spec.Name]; ok {
			names = append(names, spec.Name)
		}
	}
	if len(names) == 0 {
		return nil, nil
	}

	if err := r.admin.DeleteTopics(ctx, names); err != nil {
		return nil, &pkg.ReconciliationError{Stage: "delete", Err: err}
	}
	r.logger.WithField("topics", names).Info("Topics deleted")
	return names, nil
}

// currentTopics returns the de-duplicated non-internal topic names.
func (r *Reconciler) currentTopics(ctx context.Context) (map[string]struct{}, error) {
	names, err := r.admin.ListTopics(ctx)
	if err != nil {
		return nil, &pkg.ReconciliationError{Stage: "list", Err: err}
	}

	current := make(map[string]struct{}, len(names))
	for _, name := range names {
		if isInternalTopic(name) {
			continue
		}
		current[name] = struct{}{}
	}
	return current, nil
}

func (r *Reconciler) missing(current map[string]struct{}) []topics.TopicSpec {
	var missing []topics.TopicSpec
	seen := make(map[string]struct{}, len(r.desired))
	for _, spec := range r.desired {
		if _, ok := current[spec.Name]; ok {
			continue
		}
		if _, ok := seen[spec.Name]; ok {
			continue
		}
		seen[spec.Name] = struct{}{}
		missing = append(missing, spec)
	}
	return missing
}

// Broker housekeeping topics such as __consumer_offsets.
func isInternalTopic(name string) bool {
	return strings.HasPrefix(name, "__")
}

// EnsureTopics reconciles desired topics unless the broker creates topics on its own.
func EnsureTopics(ctx context.Context, admin Admin, desired []topics.TopicSpec, autoCreate bool, logger *logrus.Logger, metrics observability.MetricsCollector) error {
	logger = observability.OrDefault(logger)
	if autoCreate {
		logger.Info("Topic auto-creation delegated to the broker, skipping reconciliation")
		return nil
	}
	_, err := NewReconciler(admin, desired, logger, metrics).Reconcile(ctx)
	return err
}
