package recorder

import (
	"bytes"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/stream-archiver/platform"
)

// StopReason records how a recording ended.
type StopReason string

const (
	// StopRequested: Stop was called and the process exited on SIGTERM.
	StopRequested StopReason = "requested"
	// StopKilled: Stop was called and the process needed SIGKILL.
	StopKilled StopReason = "killed"
	// StopExited: the process had already exited on its own when Stop ran.
	StopExited StopReason = "exited"
)

// Handle is a started recorder process. It is owned by the tracked channel
// that started it until that channel stops it.
type Handle struct {
	ID         string
	Key        platform.ChannelKey
	Title      string
	OutputPath string
	StartedAt  time.Time

	cmd      *exec.Cmd
	done     chan struct{}
	exitErr  error
	output   *lineLogger
	stopOnce sync.Once
	reason   atomic.Value // StopReason
}

// PID returns the recorder's process id, or 0 when no process is attached.
func (h *Handle) PID() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Done is closed once the process has been reaped. It is nil for handles
// without a process.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the process has exited.
func (h *Handle) Exited() bool {
	if h.done == nil {
		return false
	}
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitErr is the process's wait error. Only meaningful once Exited is true.
func (h *Handle) ExitErr() error {
	if !h.Exited() {
		return nil
	}
	return h.exitErr
}

// StopReason is empty until Stop has run.
func (h *Handle) StopReason() StopReason {
	r, _ := h.reason.Load().(StopReason)
	return r
}

// CrashErr is the exit error of a process that ended on its own. It is nil
// after a requested stop, whose wait error only reflects our own signal.
func (h *Handle) CrashErr() error {
	if h.StopReason() != StopExited {
		return nil
	}
	return h.ExitErr()
}

// LastOutput is the last non-empty line the recorder printed.
func (h *Handle) LastOutput() string {
	if h.output == nil {
		return ""
	}
	return h.output.Last()
}

func (h *Handle) reap() {
	h.exitErr = h.cmd.Wait()
	close(h.done)
}

// lineLogger forwards recorder output to slog one line at a time.
type lineLogger struct {
	mu   sync.Mutex
	buf  []byte
	last string
	log  *slog.Logger
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
		if line != "" {
			w.last = line
			w.log.Debug("recorder output", slog.String("line", line))
		}
	}
	// a recorder that never prints a newline must not grow the buffer forever
	if len(w.buf) > 64<<10 {
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

func (w *lineLogger) Last() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}
