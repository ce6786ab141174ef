package archiver

import (
	"sync"
	"time"

	"github.com/onnwee/stream-archiver/platform"
	"github.com/onnwee/stream-archiver/recorder"
)

// State is a channel's position in the Idle/Recording state machine.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
)

// TrackedChannel is the loop's record of one configured channel. mu is held
// for a whole probe+diff step, so two diffs for the same channel never
// overlap and at most one handle exists per channel.
type TrackedChannel struct {
	Key platform.ChannelKey

	mu        sync.Mutex
	recording *recorder.Handle

	// status mirrors the state for readers that must not wait on a probe
	statusMu sync.RWMutex
	status   ChannelStatus
}

// ChannelStatus is a point-in-time view of a tracked channel.
type ChannelStatus struct {
	Platform    string    `json:"platform"`
	Channel     string    `json:"channel"`
	State       State     `json:"state"`
	Since       time.Time `json:"since"`
	LastProbe   time.Time `json:"last_probe"`
	LastError   string    `json:"last_error,omitempty"`
	Live        bool      `json:"live"`
	Title       string    `json:"title,omitempty"`
	RecordingID string    `json:"recording_id,omitempty"`
	OutputPath  string    `json:"output_path,omitempty"`
}

func newTrackedChannel(key platform.ChannelKey, now time.Time) *TrackedChannel {
	return &TrackedChannel{
		Key: key,
		status: ChannelStatus{
			Platform: key.Platform,
			Channel:  key.Channel,
			State:    StateIdle,
			Since:    now,
		},
	}
}

// Recording returns the current handle, nil when Idle. It waits for any
// in-flight diff of this channel.
func (tc *TrackedChannel) Recording() *recorder.Handle {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.recording
}

// State returns Idle or Recording.
func (tc *TrackedChannel) State() State {
	if tc.Recording() == nil {
		return StateIdle
	}
	return StateRecording
}

// Status returns the last published view without waiting on a diff.
func (tc *TrackedChannel) Status() ChannelStatus {
	tc.statusMu.RLock()
	defer tc.statusMu.RUnlock()
	return tc.status
}

func (tc *TrackedChannel) observe(at time.Time, res platform.ProbeResult, err error) {
	tc.statusMu.Lock()
	defer tc.statusMu.Unlock()
	tc.status.LastProbe = at
	if err != nil {
		tc.status.LastError = err.Error()
		return
	}
	tc.status.LastError = ""
	tc.status.Live = res.Live
	tc.status.Title = res.TitleOr("")
}

// setRecording and setIdle must be called with mu held.
func (tc *TrackedChannel) setRecording(h *recorder.Handle, at time.Time) {
	tc.recording = h
	tc.statusMu.Lock()
	tc.status.State = StateRecording
	tc.status.Since = at
	tc.status.RecordingID = h.ID
	tc.status.OutputPath = h.OutputPath
	tc.statusMu.Unlock()
}

func (tc *TrackedChannel) setIdle(at time.Time) {
	tc.recording = nil
	tc.statusMu.Lock()
	tc.status.State = StateIdle
	tc.status.Since = at
	tc.status.RecordingID = ""
	tc.status.OutputPath = ""
	tc.statusMu.Unlock()
}

// Tracker owns the fixed set of tracked channels. Entries are created once
// and never removed; only their recording field changes.
type Tracker struct {
	channels []*TrackedChannel
	byKey    map[platform.ChannelKey]*TrackedChannel
}

// NewTracker creates an Idle entry per key, dropping duplicates while keeping
// the configured order.
func NewTracker(keys []platform.ChannelKey) *Tracker {
	now := time.Now()
	t := &Tracker{byKey: make(map[platform.ChannelKey]*TrackedChannel, len(keys))}
	for _, k := range keys {
		if _, dup := t.byKey[k]; dup {
			continue
		}
		tc := newTrackedChannel(k, now)
		t.channels = append(t.channels, tc)
		t.byKey[k] = tc
	}
	return t
}

// Get returns the entry for key.
func (t *Tracker) Get(key platform.ChannelKey) (*TrackedChannel, bool) {
	tc, ok := t.byKey[key]
	return tc, ok
}

// Channels returns every entry in configured order.
func (t *Tracker) Channels() []*TrackedChannel { return t.channels }

// Len is the number of tracked channels.
func (t *Tracker) Len() int { return len(t.channels) }
