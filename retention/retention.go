// Package retention deletes old recordings from the output directory.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// chatSuffix is the sidecar written next to a recording by chat capture.
const chatSuffix = ".chat.jsonl"

// Policy defines which recordings are cleaned up.
type Policy struct {
	// KeepDays: recordings older than this many days are eligible for cleanup (0 = disabled)
	KeepDays int
	// KeepCount: keep only the N most recent recordings (0 = disabled)
	KeepCount int
	// DryRun: log actions but don't delete files
	DryRun bool
	// Interval: how often the sweep runs
	Interval time.Duration
}

// Enabled reports whether any rule is configured.
func (p Policy) Enabled() bool { return p.KeepDays > 0 || p.KeepCount > 0 }

// ActiveFunc returns the output paths of recordings still being written.
type ActiveFunc func() []string

// Sweeper periodically applies a Policy to a directory.
type Sweeper struct {
	Dir    string
	Policy Policy
	Active ActiveFunc
	Now    func() time.Time
}

// Result summarises one sweep.
type Result struct {
	Deleted    []string
	Skipped    int
	Errors     int
	BytesFreed int64
}

func (s *Sweeper) String() string { return "retention-sweeper" }

// Serve runs a sweep immediately and then every Policy.Interval until ctx is
// cancelled. With no rule configured it just waits for cancellation.
func (s *Sweeper) Serve(ctx context.Context) error {
	log := slog.Default().With(slog.String("component", "retention"))
	if !s.Policy.Enabled() {
		log.Info("retention disabled (no policy configured)")
		<-ctx.Done()
		return nil
	}
	interval := s.Policy.Interval
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	log.Info("retention sweeper starting",
		slog.String("dir", s.Dir),
		slog.Int("keep_days", s.Policy.KeepDays),
		slog.Int("keep_count", s.Policy.KeepCount),
		slog.Bool("dry_run", s.Policy.DryRun),
		slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil {
			log.Warn("retention sweep failed", slog.Any("err", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type recording struct {
	path    string
	modTime time.Time
	size    int64
}

// Sweep performs a single cleanup cycle.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result
	log := slog.Default().With(slog.String("component", "retention"), slog.Bool("dry_run", s.Policy.DryRun))
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return res, fmt.Errorf("read output dir: %w", err)
	}
	var recs []recording
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".mp4") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		recs = append(recs, recording{path: filepath.Join(s.Dir, e.Name()), modTime: fi.ModTime(), size: fi.Size()})
	}
	// newest first
	sort.Slice(recs, func(i, j int) bool { return recs[i].modTime.After(recs[j].modTime) })

	active := map[string]struct{}{}
	if s.Active != nil {
		for _, p := range s.Active() {
			active[filepath.Clean(p)] = struct{}{}
		}
	}
	var cutoff time.Time
	if s.Policy.KeepDays > 0 {
		cutoff = now().Add(-time.Duration(s.Policy.KeepDays) * 24 * time.Hour)
	}

	for i, r := range recs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, ok := active[r.path]; ok {
			res.Skipped++
			log.Debug("skipping active recording", slog.String("path", r.path))
			continue
		}
		expired := false
		if !cutoff.IsZero() && r.modTime.Before(cutoff) {
			expired = true
		}
		if s.Policy.KeepCount > 0 && i >= s.Policy.KeepCount {
			expired = true
		}
		if !expired {
			res.Skipped++
			continue
		}

		if s.Policy.DryRun {
			log.Info("dry-run: would delete recording", slog.String("path", r.path), slog.Time("modified", r.modTime), slog.Int64("size_bytes", r.size))
			res.Deleted = append(res.Deleted, r.path)
			continue
		}
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to delete recording", slog.String("path", r.path), slog.Any("err", err))
			res.Errors++
			continue
		}
		if err := os.Remove(r.path + chatSuffix); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to delete chat log", slog.String("path", r.path+chatSuffix), slog.Any("err", err))
		}
		log.Info("deleted old recording", slog.String("path", r.path), slog.Time("modified", r.modTime), slog.Int64("size_bytes", r.size))
		res.Deleted = append(res.Deleted, r.path)
		res.BytesFreed += r.size
	}

	mode := "cleanup"
	if s.Policy.DryRun {
		mode = "dry-run"
	}
	log.Info("retention sweep completed",
		slog.String("mode", mode),
		slog.Int("deleted", len(res.Deleted)),
		slog.Int("skipped", res.Skipped),
		slog.Int("errors", res.Errors),
		slog.Int64("bytes_freed", res.BytesFreed))
	return res, nil
}
