// Package chatlog captures Twitch chat while a channel is being recorded.
//
// Every captured message is appended as one JSON line to
// "<recording output>.chat.jsonl" and handed to any additional sinks
// (the recording history store, when configured).
package chatlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	json "github.com/goccy/go-json"

	"github.com/onnwee/stream-archiver/recorder"
	"github.com/onnwee/stream-archiver/telemetry"
)

var errClosed = errors.New("chat log closed")

// Message is one captured chat line.
type Message struct {
	RecordingID string    `json:"recording_id"`
	Channel     string    `json:"channel"`
	ID          string    `json:"id,omitempty"`
	User        string    `json:"user"`
	DisplayName string    `json:"display_name,omitempty"`
	Color       string    `json:"color,omitempty"`
	Badges      string    `json:"badges,omitempty"`
	Emotes      string    `json:"emotes,omitempty"`
	Text        string    `json:"text"`
	Time        time.Time `json:"time"`
	// Offset is seconds since the recording started.
	Offset float64 `json:"offset"`
}

// Sink receives captured messages.
type Sink interface {
	SaveChatMessage(ctx context.Context, m Message) error
}

// ircClient is the part of the go-twitch-irc client we use.
type ircClient interface {
	OnPrivateMessage(func(twitch.PrivateMessage))
	OnConnect(func())
	Join(channels ...string)
	Connect() error
	Disconnect() error
}

// Capture is a recorder.Hook that joins the channel's chat for the lifetime
// of each Twitch recording.
type Capture struct {
	Sinks []Sink
	// newClient builds the IRC client; anonymous read-only by default.
	newClient func() ircClient

	mu       sync.Mutex
	sessions map[string]*session
}

// NewCapture returns a Capture writing to the JSONL file and sinks.
func NewCapture(sinks ...Sink) *Capture {
	return &Capture{
		Sinks:     sinks,
		newClient: func() ircClient { return twitch.NewAnonymousClient() },
		sessions:  map[string]*session{},
	}
}

type session struct {
	handle *recorder.Handle
	client ircClient
	sinks  []Sink
	log    *slog.Logger
	done   chan struct{}

	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
	closed bool
	count  int
	// connected is set once the IRC handshake completes; stopping once the
	// recording ended. Whichever is observed second triggers Disconnect.
	connected bool
	stopping  bool
}

// RecordingStarted opens the chat file and connects to the channel.
func (c *Capture) RecordingStarted(ctx context.Context, h *recorder.Handle) {
	if h.Key.Platform != "twitch" {
		return
	}
	log := slog.Default().With(slog.String("component", "chatlog"), slog.String("channel", h.Key.Channel))
	path := h.OutputPath + ".chat.jsonl"
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Error("failed to open chat log", slog.String("path", path), slog.Any("err", err))
		return
	}
	s := &session{
		handle: h,
		client: c.newClient(),
		sinks:  c.Sinks,
		log:    log,
		done:   make(chan struct{}),
		file:   f,
		w:      bufio.NewWriter(f),
	}
	s.client.OnPrivateMessage(s.onMessage)
	s.client.OnConnect(s.onConnect)
	s.client.Join(strings.ToLower(h.Key.Channel))

	c.mu.Lock()
	c.sessions[h.ID] = s
	c.mu.Unlock()

	go func() {
		defer close(s.done)
		if s.isStopping() {
			return
		}
		if err := s.client.Connect(); err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
			log.Warn("twitch chat connection ended", slog.Any("err", err))
		}
	}()
	log.Info("chat capture started", slog.String("path", path))
}

// RecordingStopped disconnects and flushes the chat file.
func (c *Capture) RecordingStopped(ctx context.Context, h *recorder.Handle) {
	c.mu.Lock()
	s, ok := c.sessions[h.ID]
	delete(c.sessions, h.ID)
	c.mu.Unlock()
	if !ok {
		return
	}
	s.stop()
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		s.log.Warn("chat client did not disconnect in time")
	case <-ctx.Done():
	}
	n, err := s.close()
	if err != nil {
		s.log.Error("failed to close chat log", slog.Any("err", err))
	}
	s.log.Info("chat capture stopped", slog.Int("messages", n))
}

// Active is the number of open capture sessions.
func (c *Capture) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (s *session) onConnect() {
	s.mu.Lock()
	s.connected = true
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		_ = s.client.Disconnect()
	}
}

// stop disconnects the client now if it is connected, or as soon as the
// handshake completes otherwise.
func (s *session) stop() {
	s.mu.Lock()
	s.stopping = true
	connected := s.connected
	s.mu.Unlock()
	if connected {
		_ = s.client.Disconnect()
	}
}

func (s *session) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

func (s *session) onMessage(pm twitch.PrivateMessage) {
	at := pm.Time
	if at.IsZero() {
		at = time.Now()
	}
	m := Message{
		RecordingID: s.handle.ID,
		Channel:     s.handle.Key.Channel,
		ID:          pm.ID,
		User:        pm.User.Name,
		DisplayName: pm.User.DisplayName,
		Color:       pm.User.Color,
		Badges:      joinBadges(pm.User.Badges),
		Emotes:      joinEmotes(pm.Emotes),
		Text:        pm.Message,
		Time:        at.UTC(),
		Offset:      at.Sub(s.handle.StartedAt).Seconds(),
	}
	if err := s.write(m); err != nil {
		if errors.Is(err, errClosed) {
			return
		}
		s.log.Error("failed to write chat message", slog.Any("err", err))
		return
	}
	telemetry.ChatMessageCaptured()
	for _, sink := range s.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := sink.SaveChatMessage(ctx, m); err != nil {
			s.log.Error("failed to store chat message", slog.Any("err", err))
		}
		cancel()
	}
}

func (s *session) write(m Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if _, err := s.w.Write(append(b, '\n')); err != nil {
		return err
	}
	s.count++
	// keep the file readable while the recording is still running
	return s.w.Flush()
}

func (s *session) close() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.count, nil
	}
	s.closed = true
	ferr := s.w.Flush()
	if err := s.file.Close(); err != nil && ferr == nil {
		ferr = err
	}
	return s.count, ferr
}

func joinBadges(b map[string]int) string {
	if len(b) == 0 {
		return ""
	}
	parts := make([]string, 0, len(b))
	for k, v := range b {
		parts = append(parts, fmt.Sprintf("%s/%d", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func joinEmotes(es []*twitch.Emote) string {
	names := make([]string, 0, len(es))
	for _, e := range es {
		if e != nil {
			names = append(names, e.Name)
		}
	}
	return strings.Join(names, ",")
}
