// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Probe outcomes used as the "outcome" label.
const (
	OutcomeLive    = "live"
	OutcomeOffline = "offline"
	OutcomeError   = "error"
)

// Reasons a recording ended, used as the "reason" label.
const (
	StopOffline  = "offline"
	StopExited   = "exited"
	StopShutdown = "shutdown"
)

var (
	once sync.Once

	// Counters
	ProbesTotal            *prometheus.CounterVec // platform, outcome
	RecordingsStarted      *prometheus.CounterVec // platform
	RecordingStartFailures *prometheus.CounterVec // platform
	RecordingsStopped      *prometheus.CounterVec // platform, reason
	TickErrors             prometheus.Counter
	ChatMessages           prometheus.Counter

	// Histograms (seconds)
	ProbeDuration *prometheus.HistogramVec // platform
	TickDuration  prometheus.Observer

	// Gauges
	ActiveRecordings *prometheus.GaugeVec // platform
	CircuitOpenGauge prometheus.Gauge     // 1=open,0=closed
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "archiver_probes_total", Help: "Liveness probes by platform and outcome"}, []string{"platform", "outcome"})
		RecordingsStarted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "archiver_recordings_started_total", Help: "Recordings started"}, []string{"platform"})
		RecordingStartFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "archiver_recording_start_failures_total", Help: "Recorder processes that failed to start"}, []string{"platform"})
		RecordingsStopped = promauto.NewCounterVec(prometheus.CounterOpts{Name: "archiver_recordings_stopped_total", Help: "Recordings stopped by reason"}, []string{"platform", "reason"})
		TickErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "archiver_tick_errors_total", Help: "Ticks aborted by an unexpected error"})
		ChatMessages = promauto.NewCounter(prometheus.CounterOpts{Name: "archiver_chat_messages_total", Help: "Chat messages captured during recordings"})
		ProbeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "archiver_probe_duration_seconds", Help: "Probe latency seconds", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15}}, []string{"platform"})
		TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "archiver_tick_duration_seconds", Help: "Reconciliation tick duration seconds", Buckets: prometheus.DefBuckets})
		ActiveRecordings = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "archiver_active_recordings", Help: "Recorder processes currently running"}, []string{"platform"})
		CircuitOpenGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "archiver_kick_circuit_open", Help: "Kick circuit breaker open=1 closed=0"})
	})
}

// ObserveProbe counts a probe and records its latency.
func ObserveProbe(platform, outcome string, d time.Duration) {
	if ProbesTotal != nil {
		ProbesTotal.WithLabelValues(platform, outcome).Inc()
	}
	if ProbeDuration != nil {
		ProbeDuration.WithLabelValues(platform).Observe(d.Seconds())
	}
}

// RecordingStarted counts a started recording and bumps the active gauge.
func RecordingStarted(platform string) {
	if RecordingsStarted != nil {
		RecordingsStarted.WithLabelValues(platform).Inc()
	}
	if ActiveRecordings != nil {
		ActiveRecordings.WithLabelValues(platform).Inc()
	}
}

// RecordingStartFailed counts a recorder that could not be launched.
func RecordingStartFailed(platform string) {
	if RecordingStartFailures != nil {
		RecordingStartFailures.WithLabelValues(platform).Inc()
	}
}

// RecordingStopped counts a finished recording and lowers the active gauge.
func RecordingStopped(platform, reason string) {
	if RecordingsStopped != nil {
		RecordingsStopped.WithLabelValues(platform, reason).Inc()
	}
	if ActiveRecordings != nil {
		ActiveRecordings.WithLabelValues(platform).Dec()
	}
}

// TickFailed counts a tick aborted by a recovered defect.
func TickFailed() {
	if TickErrors != nil {
		TickErrors.Inc()
	}
}

// ChatMessageCaptured counts one captured chat line.
func ChatMessageCaptured() {
	if ChatMessages != nil {
		ChatMessages.Inc()
	}
}

// UpdateCircuitGauge sets gauge to 1 if open else 0.
func UpdateCircuitGauge(open bool) {
	if CircuitOpenGauge == nil {
		return
	}
	if open {
		CircuitOpenGauge.Set(1)
	} else {
		CircuitOpenGauge.Set(0)
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
