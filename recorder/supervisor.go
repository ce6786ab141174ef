// Package recorder launches and terminates the external recording process
// (streamlink) for a channel.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/stream-archiver/platform"
	"github.com/onnwee/stream-archiver/telemetry"
)

const (
	defaultStopGrace = 10 * time.Second
	// killWait bounds how long Stop waits for the reaper after SIGKILL.
	killWait = 5 * time.Second
	// outputWaitDelay bounds how long Wait keeps copying output from
	// grandchildren that outlive the recorder.
	outputWaitDelay = 5 * time.Second
)

// ErrUnknownPlatform is returned by Start for keys whose platform is not registered.
var ErrUnknownPlatform = errors.New("unknown platform")

// StartError reports a recorder process that could not be launched. Nothing
// is left running when it is returned.
type StartError struct {
	Key platform.ChannelKey
	Op  string
	Err error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start recorder for %s: %s: %v", e.Key, e.Op, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// Hook observes recording lifecycle events. RecordingStopped is called
// exactly once per handle, after the process is gone.
type Hook interface {
	RecordingStarted(ctx context.Context, h *Handle)
	RecordingStopped(ctx context.Context, h *Handle)
}

// Supervisor starts recorder processes in their own process group and stops
// them with SIGTERM, escalating to SIGKILL after StopGrace.
type Supervisor struct {
	Binary    string
	Platforms platform.Registry
	StopGrace time.Duration
	Hooks     []Hook
	Logger    *slog.Logger
}

// NewSupervisor returns a Supervisor for binary.
func NewSupervisor(binary string, platforms platform.Registry, stopGrace time.Duration, hooks ...Hook) *Supervisor {
	return &Supervisor{Binary: binary, Platforms: platforms, StopGrace: stopGrace, Hooks: hooks}
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Start launches the recorder for key writing to outputPath. The process is
// not bound to ctx; it runs until Stop or until it exits on its own.
func (s *Supervisor) Start(ctx context.Context, key platform.ChannelKey, title, outputPath string) (*Handle, error) {
	ctx, span := telemetry.StartSpan(ctx, "recorder.start", telemetry.ChannelAttrs(key.Platform, key.Channel)...)
	defer span.End()

	h, err := s.start(ctx, key, title, outputPath)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetSpanSuccess(span)
	for _, hook := range s.Hooks {
		hook.RecordingStarted(ctx, h)
	}
	return h, nil
}

func (s *Supervisor) start(ctx context.Context, key platform.ChannelKey, title, outputPath string) (*Handle, error) {
	p, ok := s.Platforms.Get(key.Platform)
	if !ok {
		return nil, &StartError{Key: key, Op: "lookup platform", Err: fmt.Errorf("%w: %s", ErrUnknownPlatform, key.Platform)}
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return nil, &StartError{Key: key, Op: "create output dir", Err: err}
	}

	log := s.logger().With(slog.String("platform", key.Platform), slog.String("channel", key.Channel))
	out := &lineLogger{log: log}
	cmd := exec.Command(s.Binary, p.RecordArgs(key.Channel, outputPath)...)
	setProcessGroup(cmd)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = outputWaitDelay
	if err := cmd.Start(); err != nil {
		return nil, &StartError{Key: key, Op: "spawn " + s.Binary, Err: err}
	}

	h := &Handle{
		ID:         uuid.NewString(),
		Key:        key,
		Title:      title,
		OutputPath: outputPath,
		StartedAt:  time.Now(),
		cmd:        cmd,
		done:       make(chan struct{}),
		output:     out,
	}
	go h.reap()
	log.Info("recorder started",
		slog.String("recording_id", h.ID),
		slog.Int("pid", h.PID()),
		slog.String("output", outputPath),
		slog.String("corr", telemetry.GetCorrelation(ctx)))
	return h, nil
}

// Stop terminates the recorder behind h. A process that already exited is
// not an error, and calls after the first are no-ops.
func (s *Supervisor) Stop(ctx context.Context, h *Handle) {
	if h == nil {
		return
	}
	h.stopOnce.Do(func() {
		reason := s.terminate(ctx, h)
		h.reason.Store(reason)
		log := s.logger().With(slog.String("platform", h.Key.Platform), slog.String("channel", h.Key.Channel))
		log.Info("recorder stopped",
			slog.String("recording_id", h.ID),
			slog.String("reason", string(reason)),
			slog.Duration("duration", time.Since(h.StartedAt).Round(time.Second)),
			slog.Any("exit", h.ExitErr()))
		for _, hook := range s.Hooks {
			hook.RecordingStopped(ctx, h)
		}
	})
}

// Exited reports whether the recorder behind h has exited on its own.
func (s *Supervisor) Exited(h *Handle) bool { return h != nil && h.Exited() }

func (s *Supervisor) terminate(ctx context.Context, h *Handle) StopReason {
	if h.done == nil {
		return StopRequested
	}
	if h.Exited() {
		return StopExited
	}
	log := s.logger().With(slog.String("channel", h.Key.String()), slog.Int("pid", h.PID()))
	if err := terminateGroup(h.cmd); err != nil {
		log.Warn("failed to signal recorder", slog.Any("err", err))
	}

	grace := s.StopGrace
	if grace <= 0 {
		grace = defaultStopGrace
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return StopRequested
	case <-timer.C:
		log.Warn("recorder ignored SIGTERM, killing process group", slog.Duration("grace", grace))
	case <-ctx.Done():
		log.Warn("stop deadline reached, killing process group")
	}

	if err := killGroup(h.cmd); err != nil {
		log.Error("failed to kill recorder", slog.Any("err", err))
	}
	select {
	case <-h.done:
	case <-time.After(killWait):
		log.Error("recorder did not exit after SIGKILL")
	}
	return StopKilled
}
