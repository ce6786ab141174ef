package chatlog

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	json "github.com/goccy/go-json"

	"github.com/onnwee/stream-archiver/platform"
	"github.com/onnwee/stream-archiver/recorder"
)

// fakeIRC mirrors go-twitch-irc: Disconnect fails until the handshake has
// completed, and OnConnect fires once it does.
type fakeIRC struct {
	mu         sync.Mutex
	handler    func(twitch.PrivateMessage)
	onConnect  func()
	joined     []string
	active     bool
	disconnect chan struct{}
	once       sync.Once
	connecting chan struct{}
	handshake  chan struct{}
	connected  chan struct{}
}

func newFakeIRC() *fakeIRC {
	f := newGatedFakeIRC()
	close(f.handshake)
	return f
}

// newGatedFakeIRC holds the handshake until the test closes f.handshake.
func newGatedFakeIRC() *fakeIRC {
	return &fakeIRC{
		disconnect: make(chan struct{}),
		connecting: make(chan struct{}),
		handshake:  make(chan struct{}),
		connected:  make(chan struct{}),
	}
}

func (f *fakeIRC) OnPrivateMessage(fn func(twitch.PrivateMessage)) {
	f.mu.Lock()
	f.handler = fn
	f.mu.Unlock()
}

func (f *fakeIRC) OnConnect(fn func()) {
	f.mu.Lock()
	f.onConnect = fn
	f.mu.Unlock()
}

func (f *fakeIRC) Join(channels ...string) {
	f.mu.Lock()
	f.joined = append(f.joined, channels...)
	f.mu.Unlock()
}

func (f *fakeIRC) Connect() error {
	close(f.connecting)
	<-f.handshake
	f.mu.Lock()
	f.active = true
	cb := f.onConnect
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
	close(f.connected)
	<-f.disconnect
	return twitch.ErrClientDisconnected
}

func (f *fakeIRC) Disconnect() error {
	f.mu.Lock()
	active := f.active
	f.mu.Unlock()
	if !active {
		return twitch.ErrConnectionIsNotOpen
	}
	f.once.Do(func() { close(f.disconnect) })
	return nil
}

func (f *fakeIRC) emit(pm twitch.PrivateMessage) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(pm)
}

type memorySink struct {
	mu   sync.Mutex
	msgs []Message
}

func (m *memorySink) SaveChatMessage(ctx context.Context, msg Message) error {
	m.mu.Lock()
	m.msgs = append(m.msgs, msg)
	m.mu.Unlock()
	return nil
}

func newTestCapture(irc *fakeIRC, sinks ...Sink) *Capture {
	c := NewCapture(sinks...)
	c.newClient = func() ircClient { return irc }
	return c
}

func TestCapture_WritesJSONLAndSinks(t *testing.T) {
	irc := newFakeIRC()
	sink := &memorySink{}
	c := newTestCapture(irc, sink)
	started := time.Date(2024, 3, 1, 14, 5, 0, 0, time.UTC)
	h := &recorder.Handle{
		ID:         "rec-1",
		Key:        platform.ChannelKey{Platform: "twitch", Channel: "Foo"},
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
		StartedAt:  started,
	}

	c.RecordingStarted(context.Background(), h)
	select {
	case <-irc.connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never connected")
	}
	if c.Active() != 1 {
		t.Fatalf("Active() = %d, want 1", c.Active())
	}
	if len(irc.joined) != 1 || irc.joined[0] != "foo" {
		t.Fatalf("joined = %v, want [foo]", irc.joined)
	}

	irc.emit(twitch.PrivateMessage{
		ID:      "m1",
		Message: "hello chat",
		Time:    started.Add(90 * time.Second),
		User:    twitch.User{Name: "viewer", DisplayName: "Viewer", Badges: map[string]int{"subscriber": 12, "broadcaster": 1}},
		Emotes:  []*twitch.Emote{{Name: "Kappa"}},
	})
	c.RecordingStopped(context.Background(), h)
	// late messages after stop are dropped
	irc.emit(twitch.PrivateMessage{Message: "late"})

	if c.Active() != 0 {
		t.Fatalf("Active() = %d, want 0", c.Active())
	}

	f, err := os.Open(h.OutputPath + ".chat.jsonl")
	if err != nil {
		t.Fatalf("open chat log: %v", err)
	}
	defer f.Close()
	var lines []Message
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m Message
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("bad json line %q: %v", sc.Text(), err)
		}
		lines = append(lines, m)
	}
	if len(lines) != 1 {
		t.Fatalf("chat lines = %d, want 1", len(lines))
	}
	m := lines[0]
	if m.Text != "hello chat" || m.User != "viewer" || m.RecordingID != "rec-1" || m.Offset != 90 {
		t.Fatalf("unexpected message %+v", m)
	}
	if m.Badges != "broadcaster/1,subscriber/12" || m.Emotes != "Kappa" {
		t.Fatalf("badges/emotes = %q / %q", m.Badges, m.Emotes)
	}
	if len(sink.msgs) != 1 || sink.msgs[0].ID != "m1" {
		t.Fatalf("sink messages = %+v", sink.msgs)
	}
}

func TestCapture_IgnoresOtherPlatforms(t *testing.T) {
	irc := newFakeIRC()
	c := newTestCapture(irc)
	h := &recorder.Handle{
		ID:         "rec-2",
		Key:        platform.ChannelKey{Platform: "kick", Channel: "bar"},
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
	}
	c.RecordingStarted(context.Background(), h)
	c.RecordingStopped(context.Background(), h)
	if c.Active() != 0 {
		t.Fatal("kick recordings must not open a chat session")
	}
	if _, err := os.Stat(h.OutputPath + ".chat.jsonl"); !os.IsNotExist(err) {
		t.Fatalf("unexpected chat file: %v", err)
	}
}

func TestCapture_StopBeforeHandshakeStillDisconnects(t *testing.T) {
	irc := newGatedFakeIRC()
	c := newTestCapture(irc)
	h := &recorder.Handle{
		ID:         "rec-3",
		Key:        platform.ChannelKey{Platform: "twitch", Channel: "foo"},
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
		StartedAt:  time.Now(),
	}
	c.RecordingStarted(context.Background(), h)
	c.mu.Lock()
	s := c.sessions[h.ID]
	c.mu.Unlock()
	<-irc.connecting

	stopped := make(chan struct{})
	start := time.Now()
	go func() {
		c.RecordingStopped(context.Background(), h)
		close(stopped)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for !s.isStopping() {
		if time.Now().After(deadline) {
			t.Fatal("session never marked as stopping")
		}
		time.Sleep(5 * time.Millisecond)
	}
	// the handshake completes only after the recording already stopped
	close(irc.handshake)

	select {
	case <-stopped:
	case <-time.After(4 * time.Second):
		t.Fatal("RecordingStopped did not return after the late handshake")
	}
	if elapsed := time.Since(start); elapsed >= 4*time.Second {
		t.Fatalf("stop took %v, expected the connection to be closed promptly", elapsed)
	}
	select {
	case <-irc.disconnect:
	default:
		t.Fatal("client connection was left open")
	}
	select {
	case <-s.done:
	default:
		t.Fatal("connect goroutine still running")
	}
}
