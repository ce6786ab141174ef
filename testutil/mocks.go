// Package testutil holds HTTP mocks of the Twitch and Kick APIs and database
// helpers shared by package tests.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	json "github.com/goccy/go-json"
)

// MockTwitchServer creates a test server that mocks Twitch Helix API responses
type MockTwitchServer struct {
	*httptest.Server

	mu       sync.Mutex
	Handlers map[string]http.HandlerFunc
	// TokenRequests counts client-credentials exchanges.
	TokenRequests atomic.Int32
}

// NewMockTwitchServer creates a new mock Twitch API server. Helix lives under
// /helix and the token endpoint at /oauth2/token.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		handler, ok := m.Handlers[r.URL.Path]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// HelixURL is the Helix root to configure on a client.
func (m *MockTwitchServer) HelixURL() string { return m.URL + "/helix" }

// TokenURL is the token endpoint to configure on a token source.
func (m *MockTwitchServer) TokenURL() string { return m.URL + "/oauth2/token" }

func (m *MockTwitchServer) handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	m.Handlers[path] = h
	m.mu.Unlock()
}

// MockUsers answers /helix/users with an id for every known login; unknown
// logins get an empty data array.
func (m *MockTwitchServer) MockUsers(ids map[string]string) {
	m.handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		data := []map[string]string{}
		login := r.URL.Query().Get("login")
		if id, ok := ids[login]; ok {
			data = append(data, map[string]string{"id": id, "login": login})
		}
		writeJSON(w, map[string]any{"data": data})
	})
}

// MockStreams answers /helix/streams with the stream of each live user id.
func (m *MockTwitchServer) MockStreams(live map[string]map[string]any) {
	m.handle("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		data := []map[string]any{}
		if s, ok := live[r.URL.Query().Get("user_id")]; ok {
			data = append(data, s)
		}
		writeJSON(w, map[string]any{"data": data})
	})
}

// MockStatus makes path answer with a bare status code.
func (m *MockTwitchServer) MockStatus(path string, code int) {
	m.handle(path, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(code), code)
	})
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		m.TokenRequests.Add(1)
		writeJSON(w, map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	})
}

// MockKickServer mocks the Kick channel livestream endpoint.
type MockKickServer struct {
	*httptest.Server

	mu       sync.Mutex
	channels map[string]kickReply
	// Requests counts livestream lookups.
	Requests atomic.Int32
}

type kickReply struct {
	code int
	body any
}

// NewMockKickServer creates a mock Kick API; unknown channels return 404.
func NewMockKickServer(t *testing.T) *MockKickServer {
	t.Helper()
	m := &MockKickServer{channels: map[string]kickReply{}}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.Requests.Add(1)
		rest, ok := strings.CutPrefix(r.URL.Path, "/api/v2/channels/")
		ch, found := strings.CutSuffix(rest, "/livestream")
		if !ok || !found {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		m.mu.Lock()
		reply, ok := m.channels[ch]
		m.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if reply.code != http.StatusOK {
			http.Error(w, http.StatusText(reply.code), reply.code)
			return
		}
		writeJSON(w, reply.body)
	}))
	t.Cleanup(m.Close)
	return m
}

// SetLive reports channel live with the given session title.
func (m *MockKickServer) SetLive(channel, title string) {
	m.set(channel, kickReply{code: http.StatusOK, body: map[string]any{"data": map[string]any{
		"slug":          channel,
		"session_title": title,
		"playback_url":  "https://fa723fc1b171.us-west-2.playback.live-video.net/api/video/v1/" + channel + ".m3u8",
		"viewers":       42,
	}}})
}

// SetOffline reports channel as existing but not live.
func (m *MockKickServer) SetOffline(channel string) {
	m.set(channel, kickReply{code: http.StatusOK, body: map[string]any{"data": nil}})
}

// SetStatus makes lookups of channel fail with code.
func (m *MockKickServer) SetStatus(channel string, code int) {
	m.set(channel, kickReply{code: code})
}

func (m *MockKickServer) set(channel string, r kickReply) {
	m.mu.Lock()
	m.channels[channel] = r
	m.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}
