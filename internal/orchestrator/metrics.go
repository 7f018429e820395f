package orchestrator

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the crew's Prometheus collectors on a dedicated registry.
// A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	tasks        *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	llmCalls     *prometheus.CounterVec
	llmDuration  *prometheus.HistogramVec
	toolCalls    *prometheus.CounterVec
	delegations  *prometheus.CounterVec
	rateWait     *prometheus.HistogramVec
	runs         *prometheus.CounterVec
}

// NewMetrics creates and registers the crew collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crewkit",
			Name:      "tasks_total",
			Help:      "Tasks finished, by agent and status.",
		}, []string{"agent", "status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crewkit",
			Name:      "task_duration_seconds",
			Help:      "Wall time of task executions.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"agent"}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crewkit",
			Name:      "llm_calls_total",
			Help:      "Completion calls, by agent and outcome.",
		}, []string{"agent", "outcome"}),
		llmDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crewkit",
			Name:      "llm_call_duration_seconds",
			Help:      "Latency of completion calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crewkit",
			Name:      "tool_calls_total",
			Help:      "Tool invocations, by tool and outcome.",
		}, []string{"tool", "outcome"}),
		delegations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crewkit",
			Name:      "delegations_total",
			Help:      "Delegation hops, by delegating and receiving agent.",
		}, []string{"from", "to"}),
		rateWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "crewkit",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time agents spent waiting for a rate limit slot.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"agent"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crewkit",
			Name:      "runs_total",
			Help:      "Crew runs, by final status.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(m.tasks, m.taskDuration, m.llmCalls, m.llmDuration,
		m.toolCalls, m.delegations, m.rateWait, m.runs)
	return m
}

// Registry exposes the underlying registry, for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) taskFinished(agentID, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(agentID, status).Inc()
	m.taskDuration.WithLabelValues(agentID).Observe(d.Seconds())
}

func (m *Metrics) llmCall(agentID string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(agentID, outcome(err)).Inc()
	m.llmDuration.WithLabelValues(agentID).Observe(d.Seconds())
}

func (m *Metrics) toolCall(tool string, err error) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome(err)).Inc()
}

func (m *Metrics) delegation(from, to string) {
	if m == nil {
		return
	}
	m.delegations.WithLabelValues(from, to).Inc()
}

func (m *Metrics) rateLimitWait(agentID string, d time.Duration) {
	if m == nil {
		return
	}
	m.rateWait.WithLabelValues(agentID).Observe(d.Seconds())
}

func (m *Metrics) runFinished(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// MetricsServer exposes /metrics and /health over HTTP.
type MetricsServer struct {
	addr    string
	metrics *Metrics
	server  *http.Server
}

// NewMetricsServer creates a server for m listening on addr.
func NewMetricsServer(addr string, m *Metrics) *MetricsServer {
	return &MetricsServer{addr: addr, metrics: m}
}

// Start serves until Shutdown is called. It returns nil after a clean
// shutdown.
func (s *MetricsServer) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
