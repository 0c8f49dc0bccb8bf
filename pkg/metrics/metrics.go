// Package metrics exposes the gateway's Prometheus metrics. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentgateway"

type Metrics struct {
	registry *prometheus.Registry

	activeStreams  prometheus.Gauge
	streamFrames   *prometheus.CounterVec
	heartbeats     prometheus.Counter
	liveSessions   prometheus.Gauge
	liveMessages   *prometheus.CounterVec
	runnerBuilds   *prometheus.CounterVec
	runnerBuildDur prometheus.Histogram
	runnerCloses   *prometheus.CounterVec
	cachedRunners  prometheus.Gauge
	evalCases      *prometheus.CounterVec
	spansRecorded  prometheus.Counter
}

// New registers the gateway metrics, plus the Go runtime and process
// collectors, on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		activeStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "stream", Name: "active",
			Help: "Number of SSE streams currently attached to a client.",
		}),
		streamFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "frames_total",
			Help: "SSE frames written, by frame type.",
		}, []string{"type"}),
		heartbeats: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "stream", Name: "heartbeats_total",
			Help: "Keep-alive comments written to idle streams.",
		}),
		liveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "live", Name: "sessions_active",
			Help: "Number of open duplex sessions.",
		}),
		liveMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "live", Name: "messages_total",
			Help: "Duplex messages received, by outcome.",
		}, []string{"outcome"}),
		runnerBuilds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "runner", Name: "builds_total",
			Help: "Runner constructions, by result.",
		}, []string{"result"}),
		runnerBuildDur: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "runner", Name: "build_duration_seconds",
			Help:    "Time spent constructing runners.",
			Buckets: prometheus.DefBuckets,
		}),
		runnerCloses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "runner", Name: "closes_total",
			Help: "Runner closures, by result.",
		}, []string{"result"}),
		cachedRunners: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "runner", Name: "cached",
			Help: "Number of live runners held by the cache.",
		}),
		evalCases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "eval", Name: "cases_total",
			Help: "Evaluated cases, by final status.",
		}, []string{"status"}),
		spansRecorded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "trace", Name: "spans_total",
			Help: "Spans captured by the trace store.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) StreamOpened() {
	if m != nil {
		m.activeStreams.Inc()
	}
}

func (m *Metrics) StreamClosed() {
	if m != nil {
		m.activeStreams.Dec()
	}
}

func (m *Metrics) FrameWritten(frameType string) {
	if m != nil {
		m.streamFrames.WithLabelValues(frameType).Inc()
	}
}

func (m *Metrics) Heartbeat() {
	if m != nil {
		m.heartbeats.Inc()
	}
}

func (m *Metrics) LiveOpened() {
	if m != nil {
		m.liveSessions.Inc()
	}
}

func (m *Metrics) LiveClosed() {
	if m != nil {
		m.liveSessions.Dec()
	}
}

// LiveMessage counts a received duplex message; outcome is "accepted" or
// "rejected".
func (m *Metrics) LiveMessage(outcome string) {
	if m != nil {
		m.liveMessages.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) RunnerBuilt(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.runnerBuildDur.Observe(d.Seconds())
	if err != nil {
		m.runnerBuilds.WithLabelValues("error").Inc()
		return
	}
	m.runnerBuilds.WithLabelValues("ok").Inc()
	m.cachedRunners.Inc()
}

func (m *Metrics) RunnerClosed(err error) {
	if m == nil {
		return
	}
	m.cachedRunners.Dec()
	if err != nil {
		m.runnerCloses.WithLabelValues("error").Inc()
		return
	}
	m.runnerCloses.WithLabelValues("ok").Inc()
}

func (m *Metrics) EvalCase(status string) {
	if m != nil {
		m.evalCases.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) SpansRecorded(n int) {
	if m != nil {
		m.spansRecorded.Add(float64(n))
	}
}
