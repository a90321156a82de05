// Package telemetry collects the load-bearing runtime counters: provider
// requests, token usage, tool executions, errors, and estimated cost. It
// exports both a Prometheus text rendering and a JSON snapshot with derived
// per-tool latency percentiles. Panel events are a separate, lossy stream;
// these counters are the accurate record.
package telemetry

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/qhkm/zeptoclaw/pkg/models"
)

// latencyWindow bounds the per-tool duration samples kept for percentile
// derivation.
const latencyWindow = 512

// Metrics is the central metric collector. All update paths are atomic or
// briefly locked; safe to call from parallel tool workers.
type Metrics struct {
	registry *prometheus.Registry

	// RequestCounter counts provider requests.
	// Labels: provider, model, status (success|error).
	RequestCounter *prometheus.CounterVec

	// RequestDuration observes provider call latency in seconds.
	RequestDuration *prometheus.HistogramVec

	// TokenCounter counts tokens. Labels: provider, model, type (input|output).
	TokenCounter *prometheus.CounterVec

	// ToolCounter counts tool invocations. Labels: tool, status.
	ToolCounter *prometheus.CounterVec

	// ToolDuration observes tool execution latency in seconds.
	ToolDuration *prometheus.HistogramVec

	// ErrorCounter counts errors by component and kind.
	ErrorCounter *prometheus.CounterVec

	// HookCounter counts metric-action hook firings by configured name.
	HookCounter *prometheus.CounterVec

	requests     atomic.Int64
	toolCalls    atomic.Int64
	inputTokens  atomic.Int64
	outputTokens atomic.Int64
	errors       atomic.Int64
	costMicros   atomic.Int64

	mu        sync.Mutex
	latencies map[string][]float64
}

// NewMetrics creates and registers the metric set on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RequestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zeptoclaw_llm_requests_total",
			Help: "LLM requests by provider, model, and status.",
		}, []string{"provider", "model", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zeptoclaw_llm_request_duration_seconds",
			Help:    "LLM request latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),
		TokenCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zeptoclaw_llm_tokens_total",
			Help: "Token consumption by provider, model, and direction.",
		}, []string{"provider", "model", "type"}),
		ToolCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zeptoclaw_tool_executions_total",
			Help: "Tool invocations by name and status.",
		}, []string{"tool", "status"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zeptoclaw_tool_duration_seconds",
			Help:    "Tool execution latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),
		ErrorCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zeptoclaw_errors_total",
			Help: "Errors by component and kind.",
		}, []string{"component", "kind"}),
		HookCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zeptoclaw_hook_firings_total",
			Help: "Metric-action hook firings by configured name.",
		}, []string{"name"}),
		latencies: make(map[string][]float64),
	}
	reg.MustRegister(m.RequestCounter, m.RequestDuration, m.TokenCounter,
		m.ToolCounter, m.ToolDuration, m.ErrorCounter, m.HookCounter)
	return m
}

// RecordRequest accounts one provider call.
func (m *Metrics) RecordRequest(provider, model string, usage models.Usage, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
		m.errors.Add(1)
	}
	m.RequestCounter.WithLabelValues(provider, model, status).Inc()
	m.RequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	m.TokenCounter.WithLabelValues(provider, model, "input").Add(float64(usage.InputTokens))
	m.TokenCounter.WithLabelValues(provider, model, "output").Add(float64(usage.OutputTokens))

	m.requests.Add(1)
	m.inputTokens.Add(int64(usage.InputTokens))
	m.outputTokens.Add(int64(usage.OutputTokens))
	m.costMicros.Add(int64(EstimateCost(model, usage) * 1e6))
}

// RecordTool accounts one tool execution.
func (m *Metrics) RecordTool(tool string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
		m.errors.Add(1)
		m.ErrorCounter.WithLabelValues("tool", "execution").Inc()
	}
	m.ToolCounter.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(duration.Seconds())
	m.toolCalls.Add(1)

	m.mu.Lock()
	samples := append(m.latencies[tool], duration.Seconds())
	if len(samples) > latencyWindow {
		samples = samples[len(samples)-latencyWindow:]
	}
	m.latencies[tool] = samples
	m.mu.Unlock()
}

// RecordError accounts a non-tool error.
func (m *Metrics) RecordError(component, kind string) {
	m.ErrorCounter.WithLabelValues(component, kind).Inc()
	m.errors.Add(1)
}

// IncHookCounter implements hooks.MetricSink.
func (m *Metrics) IncHookCounter(name string) {
	m.HookCounter.WithLabelValues(name).Inc()
}

// LatencyPercentiles summarizes one tool's observed durations in seconds.
type LatencyPercentiles struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Snapshot is the JSON rendering of all counters.
type Snapshot struct {
	Requests      int64                         `json:"requests"`
	ToolCalls     int64                         `json:"tool_calls"`
	InputTokens   int64                         `json:"input_tokens"`
	OutputTokens  int64                         `json:"output_tokens"`
	Errors        int64                         `json:"errors"`
	CostUSD       float64                       `json:"cost_usd"`
	ToolLatencies map[string]LatencyPercentiles `json:"tool_latencies"`
}

// Snapshot returns the current counter values with derived percentiles.
func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		Requests:      m.requests.Load(),
		ToolCalls:     m.toolCalls.Load(),
		InputTokens:   m.inputTokens.Load(),
		OutputTokens:  m.outputTokens.Load(),
		Errors:        m.errors.Load(),
		CostUSD:       float64(m.costMicros.Load()) / 1e6,
		ToolLatencies: make(map[string]LatencyPercentiles),
	}
	m.mu.Lock()
	for tool, samples := range m.latencies {
		snap.ToolLatencies[tool] = percentiles(samples)
	}
	m.mu.Unlock()
	return snap
}

// RenderJSON renders the snapshot as indented JSON.
func (m *Metrics) RenderJSON() ([]byte, error) {
	return json.MarshalIndent(m.Snapshot(), "", "  ")
}

// RenderPrometheus renders all registered metrics in the Prometheus text
// exposition format.
func (m *Metrics) RenderPrometheus() (string, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := enc.Encode(family); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// Registry exposes the prometheus registry for an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func percentiles(samples []float64) LatencyPercentiles {
	if len(samples) == 0 {
		return LatencyPercentiles{}
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	at := func(q float64) float64 {
		idx := int(q * float64(len(sorted)-1))
		return sorted[idx]
	}
	return LatencyPercentiles{P50: at(0.50), P95: at(0.95), P99: at(0.99)}
}
