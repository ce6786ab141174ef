// Package archiver runs the reconciliation loop that keeps one recording
// process alive per live channel.
//
// Every tick probes each tracked channel and diffs the result against the
// channel's state: a live Idle channel starts recording, an offline Recording
// channel is stopped, everything else is left alone. A failed probe is never
// taken as evidence of offline, so a flaky platform cannot tear down a
// recording, and a missed transition is picked up on the next tick.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/stream-archiver/platform"
	"github.com/onnwee/stream-archiver/recorder"
	"github.com/onnwee/stream-archiver/telemetry"
)

// Recorder starts and stops recording processes.
type Recorder interface {
	Start(ctx context.Context, key platform.ChannelKey, title, outputPath string) (*recorder.Handle, error)
	// Stop must be idempotent and must not fail for processes already gone.
	Stop(ctx context.Context, h *recorder.Handle)
	// Exited reports whether the process behind h ended on its own.
	Exited(h *recorder.Handle) bool
}

// Options tunes the loop. Zero values select the defaults below.
type Options struct {
	// Interval separates the end of one tick from the start of the next (30s).
	Interval time.Duration
	// ErrorBackoff replaces Interval after a tick that hit a defect (5s).
	ErrorBackoff time.Duration
	// ProbeTimeout bounds each probe (15s).
	ProbeTimeout time.Duration
	// ShutdownTimeout bounds stopping every recording at exit (30s).
	ShutdownTimeout time.Duration
	// MaxConcurrent caps parallel per-channel work within a tick (4).
	MaxConcurrent int
	// OutputDir receives the recordings.
	OutputDir string
	Now       func() time.Time
	Logger    *slog.Logger
}

func (o *Options) setDefaults() {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = 5 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 15 * time.Second
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 30 * time.Second
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 4
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Loop is the reconciliation loop.
type Loop struct {
	platforms platform.Registry
	rec       Recorder
	tracker   *Tracker
	opts      Options
	log       *slog.Logger

	lastTick atomic.Int64 // unix nanos of the last completed tick
	ticks    atomic.Uint64
}

// New builds a Loop over the channels in tracker.
func New(platforms platform.Registry, rec Recorder, tracker *Tracker, opts Options) *Loop {
	opts.setDefaults()
	return &Loop{
		platforms: platforms,
		rec:       rec,
		tracker:   tracker,
		opts:      opts,
		log:       opts.Logger.With(slog.String("component", "archiver")),
	}
}

// Run ticks until ctx is cancelled, then stops every active recording. It
// only returns after cancellation.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("reconciliation loop started",
		slog.Int("channels", l.tracker.Len()),
		slog.Duration("interval", l.opts.Interval))
	defer l.shutdown(ctx)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		wait := l.opts.Interval
		if err := l.Tick(ctx); err != nil && ctx.Err() == nil {
			telemetry.TickFailed()
			l.log.Error("tick failed, backing off", slog.Any("err", err), slog.Duration("backoff", l.opts.ErrorBackoff))
			wait = l.opts.ErrorBackoff
		}
		timer.Reset(wait)
	}
}

// Serve runs the loop as a supervised service.
func (l *Loop) Serve(ctx context.Context) error { return l.Run(ctx) }

func (l *Loop) String() string { return "reconciliation-loop" }

// Tick runs one reconciliation pass over every channel and waits for all of
// them. The returned error is non-nil only when per-channel work panicked.
func (l *Loop) Tick(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "archiver.tick")
	defer span.End()
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(l.opts.MaxConcurrent)
	for _, tc := range l.tracker.Channels() {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error { return l.reconcile(ctx, tc) })
	}
	err := g.Wait()

	if telemetry.TickDuration != nil {
		telemetry.TickDuration.Observe(time.Since(start).Seconds())
	}
	l.lastTick.Store(l.opts.Now().UnixNano())
	l.ticks.Add(1)
	telemetry.RecordError(span, err)
	return err
}

// reconcile probes one channel and applies the diff. Panics are returned as
// errors so one bad channel cannot take the loop down.
func (l *Loop) reconcile(ctx context.Context, tc *TrackedChannel) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reconcile %s: panic: %v\n%s", tc.Key, r, debug.Stack())
		}
	}()

	tc.mu.Lock()
	defer tc.mu.Unlock()

	log := l.log.With(slog.String("platform", tc.Key.Platform), slog.String("channel", tc.Key.Channel))
	p, ok := l.platforms.Get(tc.Key.Platform)
	if !ok {
		return fmt.Errorf("reconcile %s: platform not registered", tc.Key)
	}

	if h := tc.recording; h != nil && l.rec.Exited(h) {
		log.Warn("recorder exited on its own",
			slog.String("recording_id", h.ID),
			slog.Any("exit", h.ExitErr()),
			slog.String("exit_class", h.ExitClass().String()),
			slog.String("last_output", h.LastOutput()))
		l.rec.Stop(context.WithoutCancel(ctx), h)
		tc.setIdle(l.opts.Now())
		telemetry.RecordingStopped(tc.Key.Platform, telemetry.StopExited)
	}

	res, err := l.probe(ctx, p, tc.Key.Channel)
	tc.observe(l.opts.Now(), res, err)
	if err != nil {
		log.Warn("probe failed, keeping state",
			slog.String("reason", string(platform.ReasonOf(err))),
			slog.String("state", string(stateOf(tc))),
			slog.Any("err", err))
		return nil
	}

	switch {
	case res.Live && tc.recording == nil:
		if ctx.Err() != nil {
			return nil
		}
		title := res.TitleOr("")
		out := filepath.Join(l.opts.OutputDir, recorder.FileName(l.opts.Now(), p.ShortName(), tc.Key.Channel, title))
		h, err := l.rec.Start(ctx, tc.Key, title, out)
		if err != nil {
			telemetry.RecordingStartFailed(tc.Key.Platform)
			log.Error("failed to start recording, will retry next tick", slog.Any("err", err))
			return nil
		}
		tc.setRecording(h, l.opts.Now())
		telemetry.RecordingStarted(tc.Key.Platform)
		log.Info(p.DisplayName()+" channel is live, recording started",
			slog.String("title", recorder.SanitizeTitle(title)),
			slog.String("output", out),
			slog.String("recording_id", h.ID))

	case !res.Live && tc.recording != nil:
		h := tc.recording
		l.rec.Stop(context.WithoutCancel(ctx), h)
		tc.setIdle(l.opts.Now())
		telemetry.RecordingStopped(tc.Key.Platform, telemetry.StopOffline)
		log.Info(p.DisplayName()+" channel went offline, recording stopped", slog.String("recording_id", h.ID))
	}
	return nil
}

type probeOutcome struct {
	res      platform.ProbeResult
	err      error
	panicked any
}

// probe runs p.Probe in its own goroutine bounded by ProbeTimeout, so a probe
// that ignores its context cannot hold the tick.
func (l *Loop) probe(ctx context.Context, p platform.Platform, channel string) (platform.ProbeResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "archiver.probe", telemetry.ChannelAttrs(p.Name(), channel)...)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, l.opts.ProbeTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan probeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- probeOutcome{panicked: fmt.Sprintf("%v\n%s", r, debug.Stack())}
			}
		}()
		res, err := p.Probe(ctx, channel)
		done <- probeOutcome{res: res, err: err}
	}()

	var out probeOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = &platform.ProbeError{Platform: p.Name(), Channel: channel, Reason: platform.ReasonTransport, Err: ctx.Err()}
	}
	if out.panicked != nil {
		panic(out.panicked)
	}

	if out.err != nil {
		var pe *platform.ProbeError
		if !errors.As(out.err, &pe) {
			out.err = &platform.ProbeError{Platform: p.Name(), Channel: channel, Reason: platform.ReasonTransport, Err: out.err}
		}
		out.res = platform.ProbeResult{}
	}

	outcome := telemetry.OutcomeOffline
	switch {
	case out.err != nil:
		outcome = telemetry.OutcomeError
		telemetry.RecordError(span, out.err)
	case out.res.Live:
		outcome = telemetry.OutcomeLive
	}
	telemetry.ObserveProbe(p.Name(), outcome, time.Since(start))
	return out.res, out.err
}

// shutdown stops every Recording channel on a context detached from the
// cancelled parent but bounded by ShutdownTimeout.
func (l *Loop) shutdown(parent context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), l.opts.ShutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, tc := range l.tracker.Channels() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tc.mu.Lock()
			defer tc.mu.Unlock()
			h := tc.recording
			if h == nil {
				return
			}
			l.rec.Stop(ctx, h)
			tc.setIdle(l.opts.Now())
			telemetry.RecordingStopped(tc.Key.Platform, telemetry.StopShutdown)
			l.log.Info("recording stopped for shutdown",
				slog.String("platform", tc.Key.Platform),
				slog.String("channel", tc.Key.Channel),
				slog.String("recording_id", h.ID))
		}()
	}
	wg.Wait()
	l.log.Info("reconciliation loop stopped")
}

// Snapshot returns the status of every tracked channel in configured order.
func (l *Loop) Snapshot() []ChannelStatus {
	out := make([]ChannelStatus, 0, l.tracker.Len())
	for _, tc := range l.tracker.Channels() {
		out = append(out, tc.Status())
	}
	return out
}

// LastTick is the completion time of the most recent tick, zero before the first.
func (l *Loop) LastTick() time.Time {
	n := l.lastTick.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Ticks is the number of completed ticks.
func (l *Loop) Ticks() uint64 { return l.ticks.Load() }

// Interval is the configured tick interval.
func (l *Loop) Interval() time.Duration { return l.opts.Interval }

func stateOf(tc *TrackedChannel) State {
	if tc.recording == nil {
		return StateIdle
	}
	return StateRecording
}
