package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/onnwee/stream-archiver/archiver"
	"github.com/onnwee/stream-archiver/telemetry"
)

const (
	defaultRecordingsLimit = 50
	maxRecordingsLimit     = 500
)

// Handlers holds the dependencies of the HTTP handlers.
type Handlers struct {
	status  StatusSource
	history History
	db      Pinger
	now     func() time.Time
}

// HandleHealthz reports that the process is up.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready once a tick completed recently and the database,
// when configured, answers.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"reconciliation", func() error {
			last := h.status.LastTick()
			if last.IsZero() {
				return errors.New("no tick completed yet")
			}
			if age := h.now().Sub(last); age > 3*h.status.Interval() {
				return fmt.Errorf("last tick %s ago", age.Round(time.Second))
			}
			return nil
		}},
		{"database", func() error {
			if h.db == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			return h.db.Ping(ctx)
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	LastTick *time.Time               `json:"last_tick,omitempty"`
	Channels []archiver.ChannelStatus `json:"channels"`
}

// HandleStatus returns the state of every tracked channel.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Channels: h.status.Snapshot()}
	if resp.Channels == nil {
		resp.Channels = []archiver.ChannelStatus{}
	}
	if last := h.status.LastTick(); !last.IsZero() {
		resp.LastTick = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleRecordings lists recent recordings from the history store.
func (h *Handlers) HandleRecordings(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "recording history not configured", http.StatusNotFound)
		return
	}
	limit := parseIntQuery(r, "limit", defaultRecordingsLimit)
	if limit <= 0 || limit > maxRecordingsLimit {
		http.Error(w, "limit must be between 1 and "+strconv.Itoa(maxRecordingsLimit), http.StatusBadRequest)
		return
	}
	recs, err := h.history.RecentRecordings(r.Context(), limit)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("list recordings failed", slog.Any("err", err), slog.String("component", "http"))
		http.Error(w, "failed to list recordings", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// parseIntQuery extracts an int parameter from query string with a default value.
// Malformed values yield -1 so the caller rejects them.
func parseIntQuery(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return i
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.Any("err", err), slog.String("component", "http"))
	}
}
