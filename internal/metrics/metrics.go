// Package metrics tracks orchestration throughput and latency, exposing it
// both as Prometheus series for scraping and as a rolling-window snapshot
// for the status endpoint.
//
// Grounded on original_source/app/services/metrics_service.py (counters,
// gauges, bounded-deque rolling averages per step/LLM/request) and
// kadirpekel-hector/pkg/observability/metrics.go (CounterVec/GaugeVec/
// HistogramVec registration idiom, nil-receiver no-op methods).
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// windowSize bounds every rolling-average deque, matching the source's
// deque(maxlen=100).
const windowSize = 100

// Metrics holds every Prometheus series plus the rolling-window state
// the status snapshot reads from. A nil *Metrics is safe to call methods
// on; every recorder becomes a no-op, matching the teacher's disabled-
// metrics pattern.
type Metrics struct {
	registry *prometheus.Registry

	requestsIncoming *prometheus.CounterVec
	requestsActive   prometheus.Gauge
	requestsComplete *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec

	llmJobsActive  prometheus.Gauge
	llmDuration    *prometheus.HistogramVec
	tokensTotal    prometheus.Counter
	tokensPerSecond prometheus.Gauge

	stepDuration *prometheus.HistogramVec

	mu            sync.Mutex
	latencyWindow *window
	llmWindow     *window
	tpsWindow     *window
	stepWindows   map[string]*window
	lastTPS       float64

	incomingCount  atomic.Int64
	activeCount    atomic.Int64
	completedCount atomic.Int64
	failedCount    atomic.Int64
	activeLLMCount atomic.Int64
	tokenCount     atomic.Int64
}

// New builds a registered Metrics instance under the given namespace
// (e.g. "matchmaking_orchestrator").
func New(namespace string) *Metrics {
	m := &Metrics{
		registry:      prometheus.NewRegistry(),
		latencyWindow: newWindow(windowSize),
		llmWindow:     newWindow(windowSize),
		tpsWindow:     newWindow(windowSize),
		stepWindows:   map[string]*window{},
	}

	m.requestsIncoming = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "requests",
		Name:      "incoming_total",
		Help:      "Total number of orchestration requests accepted.",
	}, []string{"session_type"})

	m.requestsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "requests",
		Name:      "active",
		Help:      "Number of orchestration requests currently in flight.",
	})

	m.requestsComplete = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "requests",
		Name:      "completed_total",
		Help:      "Total number of orchestration requests completed, by outcome.",
	}, []string{"outcome"}) // outcome: "ok" | "error"

	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "requests",
		Name:      "duration_seconds",
		Help:      "End-to-end orchestration request duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"outcome"})

	m.llmJobsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "active_jobs",
		Help:      "Number of LLM jobs currently awaiting a response.",
	})

	m.llmDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "job_duration_seconds",
		Help:      "LLM job round-trip duration in seconds, by step.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"step"})

	m.tokensTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "tokens_generated_total",
		Help:      "Total number of tokens generated across all LLM jobs.",
	})

	m.tokensPerSecond = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "tokens_per_second",
		Help:      "Most recently observed tokens-per-second rate.",
	})

	m.stepDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "orchestrator",
		Name:      "step_duration_seconds",
		Help:      "Per-step orchestration duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15),
	}, []string{"step"})

	m.registry.MustRegister(
		m.requestsIncoming, m.requestsActive, m.requestsComplete, m.requestDuration,
		m.llmJobsActive, m.llmDuration, m.tokensTotal, m.tokensPerSecond, m.stepDuration,
	)

	return m
}

// RecordRequestStart marks one request as accepted and in flight.
func (m *Metrics) RecordRequestStart(sessionType string) {
	if m == nil {
		return
	}
	m.requestsIncoming.WithLabelValues(sessionType).Inc()
	m.requestsActive.Inc()
	m.incomingCount.Add(1)
	m.activeCount.Add(1)
}

// RecordRequestComplete marks a request as finished, ok or error, and
// folds its duration into the rolling latency window.
func (m *Metrics) RecordRequestComplete(durationSeconds float64, failed bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.requestsActive.Dec()
	m.requestsComplete.WithLabelValues(outcome).Inc()
	m.requestDuration.WithLabelValues(outcome).Observe(durationSeconds)
	m.activeCount.Add(-1)
	if failed {
		m.failedCount.Add(1)
	} else {
		m.completedCount.Add(1)
	}

	m.mu.Lock()
	m.latencyWindow.add(durationSeconds)
	m.mu.Unlock()
}

// RecordStepDuration records one orchestration step's duration, both as a
// Prometheus histogram observation and into that step's rolling window.
func (m *Metrics) RecordStepDuration(step string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(durationSeconds)

	m.mu.Lock()
	w, ok := m.stepWindows[step]
	if !ok {
		w = newWindow(windowSize)
		m.stepWindows[step] = w
	}
	w.add(durationSeconds)
	m.mu.Unlock()
}

// RecordLLMJobStart marks one LLM job as dispatched and awaiting a reply.
func (m *Metrics) RecordLLMJobStart() {
	if m == nil {
		return
	}
	m.llmJobsActive.Inc()
	m.activeLLMCount.Add(1)
}

// RecordLLMJobEnd marks an LLM job as resolved, recording its duration by
// step and the rolling LLM-processing-time window.
func (m *Metrics) RecordLLMJobEnd(step string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.llmJobsActive.Dec()
	m.llmDuration.WithLabelValues(step).Observe(durationSeconds)
	m.activeLLMCount.Add(-1)

	m.mu.Lock()
	m.llmWindow.add(durationSeconds)
	m.mu.Unlock()
}

// RecordTokens adds count tokens to the running total and, if duration is
// positive, updates the tokens-per-second gauge and rolling window.
func (m *Metrics) RecordTokens(count int, durationSeconds float64) {
	if m == nil || count <= 0 {
		return
	}
	m.tokensTotal.Add(float64(count))
	m.tokenCount.Add(int64(count))
	if durationSeconds <= 0 {
		return
	}
	tps := float64(count) / durationSeconds

	m.mu.Lock()
	m.lastTPS = tps
	m.tpsWindow.add(tps)
	m.mu.Unlock()

	m.tokensPerSecond.Set(tps)
}

// Snapshot is the JSON-friendly rolling-window view served by the status
// endpoint, mirroring get_metrics_snapshot's shape.
type Snapshot struct {
	Requests struct {
		IncomingTotal    int     `json:"incoming_total"`
		ActiveNow        int     `json:"active_now"`
		CompletedTotal   int     `json:"completed_total"`
		FailedTotal      int     `json:"failed_total"`
		LatencyAvgLast100 float64 `json:"latency_avg_last_100"`
	} `json:"requests"`
	LLM struct {
		ActiveJobs                 int     `json:"active_jobs"`
		ProcessingTimeAvgLast100   float64 `json:"processing_time_avg_last_100"`
		TokensGeneratedTotal       int     `json:"tokens_generated_total"`
		TokensPerSecondLast        float64 `json:"tokens_per_second_last"`
		TokensPerSecondAvgLast100  float64 `json:"tokens_per_second_avg_last_100"`
	} `json:"llm"`
	StepsAvgDuration map[string]float64 `json:"steps_avg_duration"`
}

// Snapshot gathers the rolling-window view from the in-process atomic
// counters and the guarded rolling windows; it does not read the
// Prometheus registry.
func (m *Metrics) Snapshot() Snapshot {
	var snap Snapshot
	if m == nil {
		snap.StepsAvgDuration = map[string]float64{}
		return snap
	}

	snap.Requests.IncomingTotal = int(m.incomingCount.Load())
	snap.Requests.ActiveNow = int(m.activeCount.Load())
	snap.Requests.CompletedTotal = int(m.completedCount.Load())
	snap.Requests.FailedTotal = int(m.failedCount.Load())
	snap.LLM.ActiveJobs = int(m.activeLLMCount.Load())
	snap.LLM.TokensGeneratedTotal = int(m.tokenCount.Load())

	m.mu.Lock()
	defer m.mu.Unlock()

	snap.Requests.LatencyAvgLast100 = m.latencyWindow.avg()
	snap.LLM.ProcessingTimeAvgLast100 = m.llmWindow.avg()
	snap.LLM.TokensPerSecondLast = m.lastTPS
	snap.LLM.TokensPerSecondAvgLast100 = m.tpsWindow.avg()

	snap.StepsAvgDuration = make(map[string]float64, len(m.stepWindows))
	for step, w := range m.stepWindows {
		snap.StepsAvgDuration[step] = w.avg()
	}

	return snap
}

// Handler exposes the registry on the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// window is a fixed-capacity ring buffer of float64 samples used to
// compute a simple rolling average, matching collections.deque(maxlen=N).
type window struct {
	cap     int
	samples []float64
	next    int
	full    bool
}

func newWindow(cap int) *window {
	return &window{cap: cap, samples: make([]float64, cap)}
}

func (w *window) add(v float64) {
	w.samples[w.next] = v
	w.next = (w.next + 1) % w.cap
	if w.next == 0 {
		w.full = true
	}
}

func (w *window) avg() float64 {
	n := w.next
	if w.full {
		n = w.cap
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += w.samples[i]
	}
	return sum / float64(n)
}
