package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics exports the collector counters under the kafkaguard namespace.
type PrometheusMetrics struct {
	published        *prometheus.CounterVec
	publishFailed    *prometheus.CounterVec
	replyTimeouts    *prometheus.CounterVec
	received         *prometheus.CounterVec
	processed        *prometheus.CounterVec
	failed           *prometheus.CounterVec
	validationFailed *prometheus.CounterVec
	sentToDLQ        *prometheus.CounterVec
	committed        *prometheus.CounterVec
	commitFailed     *prometheus.CounterVec
	topicsCreated    prometheus.Counter
}

func newCounterVec(subsystem, name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kafkaguard",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		[]string{"topic"},
	)
}

// NewPrometheusMetrics creates the collectors and registers them with registerer
// (prometheus.DefaultRegisterer when nil). Collectors already registered
// are reused.
func NewPrometheusMetrics(registerer prometheus.Registerer) (*PrometheusMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &PrometheusMetrics{
		published:        newCounterVec("producer", "published_total", "Messages acknowledged by the broker"),
		publishFailed:    newCounterVec("producer", "publish_failed_total", "Messages the broker rejected or failed to receive"),
		replyTimeouts:    newCounterVec("producer", "reply_timeouts_total", "Request/reply sends that received no reply in time"),
		received:         newCounterVec("consumer", "received_total", "Messages fetched from the broker"),
		processed:        newCounterVec("consumer", "processed_total", "Messages handled successfully"),
		failed:           newCounterVec("consumer", "failed_total", "Messages whose handler failed with an unrecognized error"),
		validationFailed: newCounterVec("consumer", "validation_failed_total", "Messages rejected by validation"),
		sentToDLQ:        newCounterVec("consumer", "dead_lettered_total", "Messages forwarded to a dead-letter topic"),
		committed:        newCounterVec("consumer", "committed_total", "Offsets committed"),
		commitFailed:     newCounterVec("consumer", "commit_failed_total", "Offset commits that failed"),
		topicsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kafkaguard",
			Subsystem: "admin",
			Name:      "topics_created_total",
			Help:      "Topics created by startup reconciliation",
		}),
	}

	for _, vec := range []**prometheus.CounterVec{
		&m.published, &m.publishFailed, &m.replyTimeouts,
		&m.received, &m.processed, &m.failed, &m.validationFailed,
		&m.sentToDLQ, &m.committed, &m.commitFailed,
	} {
		registered, err := register(registerer, *vec)
		if err != nil {
			return nil, err
		}
		*vec = registered
	}

	var err error
	if m.topicsCreated, err = register(registerer, m.topicsCreated); err != nil {
		return nil, err
	}
	return m, nil
}

// register registers c, or returns the collector already registered under its name.
func register[T prometheus.Collector](registerer prometheus.Registerer, c T) (T, error) {
	if err := registerer.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *PrometheusMetrics) IncPublished(topic string) {
	m.published.WithLabelValues(topic).Inc()
}

func (m *PrometheusMetrics) IncPublishFailed(topic string) {
	m.publishFailed.WithLabelValues(topic).Inc()
}

func (m *PrometheusMetrics) IncReplyTimeout(topic string) {
	m.replyTimeouts.WithLabelValues(topic).Inc()
}

func (m *PrometheusMetrics) IncReceived(topic string) {
	m.received.WithLabelValues(topic).Inc()
}

func (m *PrometheusMetrics) IncProcessed(topic string) {
	m.processed.WithLabelValues(topic).Inc()
}

func (m *PrometheusMetrics) IncFailed(topic string) {
	m.failed.WithLabelValues(topic).Inc()
}

func (m *PrometheusMetrics) IncValidationFailed(topic string) {
	m.validationFailed.WithLabelValues(topic).Inc()
}

func (m *PrometheusMetrics) IncSentToDLQ(topic string) {
	m.sentToDLQ.WithLabelValues(topic).Inc()
}

func (m *PrometheusMetrics) IncCommitted(topic string) {
	m.committed.WithLabelValues(topic).Inc()
}

func (m *PrometheusMetrics) IncCommitFailed(topic string) {
	m.commitFailed.WithLabelValues(topic).Inc()
}

func (m *PrometheusMetrics) IncTopicsCreated(n int) {
	m.topicsCreated.Add(float64(n))
}
