// Package platform defines the capability every monitored streaming platform
// implements: a liveness probe for a channel plus the recorder argument vector
// for that channel. Twitch and Kick are provided; another platform is added by
// implementing Platform and registering it.
package platform

import (
	"context"
	"sort"
)

// ChannelKey identifies one monitored channel. Channel names are kept exactly
// as configured (case-sensitive).
type ChannelKey struct {
	Platform string
	Channel  string
}

func (k ChannelKey) String() string { return k.Platform + ":" + k.Channel }

// ProbeResult is the outcome of a single successful liveness query.
type ProbeResult struct {
	Live  bool
	Title *string
}

// TitleOr returns the stream title or def when none is known.
func (r ProbeResult) TitleOr(def string) string {
	if r.Title == nil || *r.Title == "" {
		return def
	}
	return *r.Title
}

// Platform is a streaming platform the archiver can monitor and record.
type Platform interface {
	// Name is the configuration key ("twitch", "kick").
	Name() string
	// DisplayName is used in log lines.
	DisplayName() string
	// ShortName is the token used in recording filenames.
	ShortName() string
	// Probe reports whether channel is live. Any failure is returned as a
	// *ProbeError; raw transport errors never escape.
	Probe(ctx context.Context, channel string) (ProbeResult, error)
	// RecordArgs builds the recorder arguments (without the binary) that
	// capture channel into outputPath.
	RecordArgs(channel, outputPath string) []string
}

// Registry maps a platform Name to its implementation.
type Registry map[string]Platform

// NewRegistry indexes the given platforms by Name.
func NewRegistry(ps ...Platform) Registry {
	r := make(Registry, len(ps))
	for _, p := range ps {
		r[p.Name()] = p
	}
	return r
}

// Get returns the platform registered under name.
func (r Registry) Get(name string) (Platform, bool) {
	p, ok := r[name]
	return p, ok
}

// Names returns the registered platform names in sorted order.
func (r Registry) Names() []string {
	out := make([]string, 0, len(r))
	for n := range r {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
