package platform

import (
	"context"
	"errors"
	"net/url"

	"github.com/onnwee/stream-archiver/kickapi"
)

// KickAPI is the subset of the Kick client the Kick probe needs.
type KickAPI interface {
	GetLivestream(ctx context.Context, channel string) (*kickapi.Livestream, error)
}

// Kick probes the channel livestream endpoint. Recording relies on a
// streamlink plugin loaded from PluginDir.
type Kick struct {
	API       KickAPI
	PluginDir string
}

// NewKick returns a Kick platform.
func NewKick(api KickAPI, pluginDir string) *Kick {
	return &Kick{API: api, PluginDir: pluginDir}
}

func (k *Kick) Name() string        { return "kick" }
func (k *Kick) DisplayName() string { return "Kick" }
func (k *Kick) ShortName() string   { return "kick" }

// Probe treats a livestream with a playback URL as live.
func (k *Kick) Probe(ctx context.Context, channel string) (ProbeResult, error) {
	ls, err := k.API.GetLivestream(ctx, channel)
	if err != nil {
		switch {
		case errors.Is(err, kickapi.ErrChannelNotFound):
			return ProbeResult{}, newProbeError(k.Name(), channel, ReasonLookupFailed, err)
		case errors.Is(err, kickapi.ErrMalformedResponse):
			return ProbeResult{}, newProbeError(k.Name(), channel, ReasonMalformed, err)
		default:
			return ProbeResult{}, newProbeError(k.Name(), channel, ReasonTransport, err)
		}
	}
	if ls == nil || ls.PlaybackURL == "" {
		return ProbeResult{}, nil
	}
	title := ls.SessionTitle
	return ProbeResult{Live: true, Title: &title}, nil
}

// RecordArgs builds the streamlink arguments for a Kick channel.
func (k *Kick) RecordArgs(channel, outputPath string) []string {
	return []string{
		"--plugin-dirs", k.PluginDir,
		"--retry-max", "10",
		"--retry-streams", "30",
		"--output", outputPath,
		"https://kick.com/" + url.PathEscape(channel),
		"best",
	}
}
