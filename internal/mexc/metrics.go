package mexc

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks client-side request outcomes. Counts are recorded but
// never interpreted here; the pipeline flushes a Snapshot into the run's
// metrics.json and the same counters feed the Prometheus registry when
// the ops server is enabled.
type Metrics struct {
	mu sync.Mutex

	requests map[requestKey]int64
	retries  map[retryKey]int64
	backoff  time.Duration

	promRequests *prometheus.CounterVec
	promRetries  *prometheus.CounterVec
	promBackoff  prometheus.Counter
}

type requestKey struct {
	Endpoint string
	Status   string
}

type retryKey struct {
	Endpoint string
	Reason   string
}

// NewMetrics creates a metrics recorder. registry may be nil, in which
// case only the in-memory counters are kept.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		requests: make(map[requestKey]int64),
		retries:  make(map[retryKey]int64),
	}
	if registry != nil {
		m.promRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mexscan_http_requests_total",
			Help: "API requests by endpoint and status.",
		}, []string{"endpoint", "status"})
		m.promRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mexscan_http_retries_total",
			Help: "API retries by endpoint and reason.",
		}, []string{"endpoint", "reason"})
		m.promBackoff = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mexscan_http_backoff_seconds_total",
			Help: "Cumulative time spent sleeping in retry backoff.",
		})
		registry.MustRegister(m.promRequests, m.promRetries, m.promBackoff)
	}
	return m
}

// RecordRequest records a completed request attempt. status is the HTTP
// status code as a string, or "timeout"/"connection_error" for network
// failures.
func (m *Metrics) RecordRequest(endpoint, status string) {
	m.mu.Lock()
	m.requests[requestKey{Endpoint: endpoint, Status: status}]++
	m.mu.Unlock()
	if m.promRequests != nil {
		m.promRequests.WithLabelValues(endpoint, status).Inc()
	}
}

// RecordRetry records a retry decision with its reason.
func (m *Metrics) RecordRetry(endpoint, reason string) {
	m.mu.Lock()
	m.retries[retryKey{Endpoint: endpoint, Reason: reason}]++
	m.mu.Unlock()
	if m.promRetries != nil {
		m.promRetries.WithLabelValues(endpoint, reason).Inc()
	}
}

// RecordBackoff accumulates time spent sleeping between attempts.
func (m *Metrics) RecordBackoff(d time.Duration) {
	m.mu.Lock()
	m.backoff += d
	m.mu.Unlock()
	if m.promBackoff != nil {
		m.promBackoff.Add(d.Seconds())
	}
}

// Snapshot is a point-in-time copy of the counters, safe to serialize.
type Snapshot struct {
	RequestsTotal   int64            `json:"requests_total"`
	RetriesTotal    int64            `json:"retries_total"`
	RequestsByClass map[string]int64 `json:"requests_by_status"`
	RetriesByReason map[string]int64 `json:"retries_by_reason"`
	BackoffSeconds  float64          `json:"backoff_seconds_total"`
}

// Snapshot returns aggregated counts keyed by status class and retry
// reason (endpoints folded together).
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		RequestsByClass: make(map[string]int64),
		RetriesByReason: make(map[string]int64),
	}
	for key, count := range m.requests {
		snap.RequestsTotal += count
		snap.RequestsByClass[key.Status] += count
	}
	for key, count := range m.retries {
		snap.RetriesTotal += count
		snap.RetriesByReason[key.Reason] += count
	}
	snap.BackoffSeconds = m.backoff.Seconds()
	return snap
}

// RetryCount returns the number of retries recorded for one endpoint
// and reason. Used by tests and run-health summaries.
func (m *Metrics) RetryCount(endpoint, reason string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries[retryKey{Endpoint: endpoint, Reason: reason}]
}
