package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestMetricsInitialized(t *testing.T) {
	Init()
	Init() // second call must not re-register

	if ProbesTotal == nil || ProbeDuration == nil || TickDuration == nil || ActiveRecordings == nil {
		t.Fatal("metrics not initialized")
	}
}

func TestRecordingLifecycleGauge(t *testing.T) {
	Init()
	before := promtestutil.ToFloat64(ActiveRecordings.WithLabelValues("testplat"))
	startedBefore := promtestutil.ToFloat64(RecordingsStarted.WithLabelValues("testplat"))

	RecordingStarted("testplat")
	RecordingStarted("testplat")
	RecordingStopped("testplat", StopOffline)

	if got := promtestutil.ToFloat64(ActiveRecordings.WithLabelValues("testplat")); got != before+1 {
		t.Fatalf("active = %v, want %v", got, before+1)
	}
	if got := promtestutil.ToFloat64(RecordingsStarted.WithLabelValues("testplat")); got != startedBefore+2 {
		t.Fatalf("started = %v, want %v", got, startedBefore+2)
	}
	if got := promtestutil.ToFloat64(RecordingsStopped.WithLabelValues("testplat", StopOffline)); got < 1 {
		t.Fatalf("stopped{offline} = %v, want >= 1", got)
	}
}

func TestObserveProbe(t *testing.T) {
	Init()
	before := promtestutil.ToFloat64(ProbesTotal.WithLabelValues("probeplat", OutcomeError))
	ObserveProbe("probeplat", OutcomeError, 20*time.Millisecond)
	if got := promtestutil.ToFloat64(ProbesTotal.WithLabelValues("probeplat", OutcomeError)); got != before+1 {
		t.Fatalf("probes{error} = %v, want %v", got, before+1)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})
	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram == nil || metric.Histogram.GetSampleCount() == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}

func TestCircuitGauge(t *testing.T) {
	Init()
	UpdateCircuitGauge(true)
	if got := promtestutil.ToFloat64(CircuitOpenGauge); got != 1 {
		t.Fatalf("circuit gauge = %v, want 1", got)
	}
	UpdateCircuitGauge(false)
	if got := promtestutil.ToFloat64(CircuitOpenGauge); got != 0 {
		t.Fatalf("circuit gauge = %v, want 0", got)
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Fatal("expected empty correlation")
	}
	ctx = WithCorrelation(ctx, "abc")
	if GetCorrelation(ctx) != "abc" {
		t.Fatalf("GetCorrelation = %q", GetCorrelation(ctx))
	}
	if LoggerWithCorr(ctx) == nil {
		t.Fatal("nil logger")
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing("test", "dev", "", 1)
	if err != nil {
		t.Fatalf("InitTracing() error = %v", err)
	}
	shutdown()
	if IsTracingEnabled() {
		t.Fatal("tracing should be disabled without endpoint")
	}
	_, span := StartSpan(WithCorrelation(context.Background(), "x"), "noop", ChannelAttrs("kick", "c")...)
	SetSpanSuccess(span)
	span.End()
}

func TestNewSampler(t *testing.T) {
	params := sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		Name:          "archiver.tick",
	}
	if d := newSampler(1).ShouldSample(params).Decision; d != sdktrace.RecordAndSample {
		t.Fatalf("ratio 1 decision = %v, want RecordAndSample", d)
	}
	if d := newSampler(1.5).ShouldSample(params).Decision; d != sdktrace.RecordAndSample {
		t.Fatalf("ratio 1.5 decision = %v, want RecordAndSample", d)
	}
	if d := newSampler(0).ShouldSample(params).Decision; d != sdktrace.Drop {
		t.Fatalf("ratio 0 decision = %v, want Drop", d)
	}
	if desc := newSampler(0.25).Description(); !strings.Contains(desc, "ParentBased") || !strings.Contains(desc, "TraceIDRatioBased{0.25}") {
		t.Fatalf("ratio 0.25 sampler = %q", desc)
	}
}
