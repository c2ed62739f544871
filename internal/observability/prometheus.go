package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics exports the bridge counters to a Prometheus registry.
type PrometheusMetrics struct {
	Received     prometheus.Counter
	FetchFailed  prometheus.Counter
	CommitFailed prometheus.Counter
	Recovered    prometheus.Counter

	// Dispatch outcomes by topic
	Dispatches *prometheus.CounterVec

	DispatchLatency *prometheus.HistogramVec
}

// NewPrometheusMetrics registers all bridge metrics on reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		Received: factory.NewCounter(prometheus.CounterOpts{
			Name: "reply_bridge_messages_received_total",
			Help: "Total number of messages fetched from input topics",
		}),
		FetchFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "reply_bridge_fetch_failures_total",
			Help: "Total number of failed fetches from the broker",
		}),
		CommitFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "reply_bridge_commit_failures_total",
			Help: "Total number of failed offset commits",
		}),
		Recovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "reply_bridge_broker_recoveries_total",
			Help: "Total number of times the brokers became reachable after a failed health check",
		}),
		Dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reply_bridge_dispatches_total",
			Help: "Total dispatch calls by input topic and outcome",
		}, []string{"topic", "outcome"}), // outcome: "dispatched", "no_handler", "no_reply", "replied", "failed"
		DispatchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reply_bridge_dispatch_duration_seconds",
			Help:    "Duration of a dispatch call including the reply publish",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"topic"}),
	}
}

func (m *PrometheusMetrics) IncReceived() {
	m.Received.Inc()
}

func (m *PrometheusMetrics) IncFetchFailed() {
	m.FetchFailed.Inc()
}

func (m *PrometheusMetrics) IncCommitFailed() {
	m.CommitFailed.Inc()
}

func (m *PrometheusMetrics) IncBrokerRecovered() {
	m.Recovered.Inc()
}

func (m *PrometheusMetrics) IncDispatched(topic string) {
	m.Dispatches.WithLabelValues(topic, "dispatched").Inc()
}

func (m *PrometheusMetrics) IncNoHandler(topic string) {
	m.Dispatches.WithLabelValues(topic, "no_handler").Inc()
}

func (m *PrometheusMetrics) IncNoReply(topic string) {
	m.Dispatches.WithLabelValues(topic, "no_reply").Inc()
}

func (m *PrometheusMetrics) IncReplied(topic string) {
	m.Dispatches.WithLabelValues(topic, "replied").Inc()
}

func (m *PrometheusMetrics) IncReplyFailed(topic string) {
	m.Dispatches.WithLabelValues(topic, "failed").Inc()
}

func (m *PrometheusMetrics) ObserveDispatch(topic string, d time.Duration) {
	m.DispatchLatency.WithLabelValues(topic).Observe(d.Seconds())
}
