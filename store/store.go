// Package store keeps an optional Postgres history of recordings and the
// chat captured during them.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/stream-archiver/chatlog"
	"github.com/onnwee/stream-archiver/recorder"
)

// hookTimeout bounds each lifecycle write so a slow database cannot stall
// the reconciliation loop.
const hookTimeout = 5 * time.Second

// Store is the recording history. It implements recorder.Hook and chatlog.Sink.
type Store struct {
	DB *sql.DB
}

// Recording is one row of the history.
type Recording struct {
	ID         string     `json:"id"`
	Platform   string     `json:"platform"`
	Channel    string     `json:"channel"`
	Title      string     `json:"title"`
	OutputPath string     `json:"output_path"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	ExitError  string     `json:"exit_error,omitempty"`
}

// Open connects to dsn, checks the connection and applies migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.DB.Close() }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

// RecordingStarted inserts the history row for h.
func (s *Store) RecordingStarted(ctx context.Context, h *recorder.Handle) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hookTimeout)
	defer cancel()
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO recordings (id, platform, channel, title, output_path, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		h.ID, h.Key.Platform, h.Key.Channel, h.Title, h.OutputPath, h.StartedAt.UTC())
	if err != nil {
		slog.Error("failed to record recording start", slog.String("recording_id", h.ID), slog.Any("err", err), slog.String("component", "store"))
	}
}

// RecordingStopped stamps the end time, how the recording ended and, for a
// recorder that died on its own, its exit status.
func (s *Store) RecordingStopped(ctx context.Context, h *recorder.Handle) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hookTimeout)
	defer cancel()
	reason, exitErr, lastOutput := stopColumns(h)
	_, err := s.DB.ExecContext(ctx,
		`UPDATE recordings SET ended_at = $2, stop_reason = $3, exit_error = $4, last_output = $5 WHERE id = $1`,
		h.ID, time.Now().UTC(), reason, exitErr, lastOutput)
	if err != nil {
		slog.Error("failed to record recording stop", slog.String("recording_id", h.ID), slog.Any("err", err), slog.String("component", "store"))
	}
}

// stopColumns maps a stopped handle onto its nullable history columns. A
// requested stop never stores an exit error: SIGTERM makes every wait fail.
func stopColumns(h *recorder.Handle) (reason, exitErr, lastOutput sql.NullString) {
	if r := h.StopReason(); r != "" {
		reason = sql.NullString{String: string(r), Valid: true}
	}
	if err := h.CrashErr(); err != nil {
		exitErr = sql.NullString{String: err.Error(), Valid: true}
	}
	if out := h.LastOutput(); out != "" {
		lastOutput = sql.NullString{String: out, Valid: true}
	}
	return reason, exitErr, lastOutput
}

// SaveChatMessage stores one captured chat line.
func (s *Store) SaveChatMessage(ctx context.Context, m chatlog.Message) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO chat_messages (recording_id, message_id, username, display_name, color, badges, emotes, message, abs_timestamp, rel_timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.RecordingID, m.ID, m.User, m.DisplayName, m.Color, m.Badges, m.Emotes, m.Text, m.Time, m.Offset)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

// RecentRecordings returns up to limit recordings, newest first.
func (s *Store) RecentRecordings(ctx context.Context, limit int) ([]Recording, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, platform, channel, title, output_path, started_at, ended_at, COALESCE(stop_reason, ''), COALESCE(exit_error, '')
		 FROM recordings ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		var r Recording
		var ended sql.NullTime
		if err := rows.Scan(&r.ID, &r.Platform, &r.Channel, &r.Title, &r.OutputPath, &r.StartedAt, &ended, &r.StopReason, &r.ExitError); err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		if ended.Valid {
			t := ended.Time
			r.EndedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ChatMessageCount returns how many chat lines were stored for a recording.
func (s *Store) ChatMessageCount(ctx context.Context, recordingID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_messages WHERE recording_id = $1`, recordingID).Scan(&n)
	return n, err
}
