package platform

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/onnwee/stream-archiver/twitchapi"
)

// TwitchAPI is the subset of the Helix client the Twitch probe needs.
type TwitchAPI interface {
	GetUserID(ctx context.Context, login string) (string, error)
	GetStreams(ctx context.Context, userID string) ([]twitchapi.Stream, error)
}

// Twitch probes channels through Helix and records them with a user OAuth token.
type Twitch struct {
	API TwitchAPI
	// OAuthToken is the user token as configured ("oauth:xxxx").
	OAuthToken string
}

// NewTwitch returns a Twitch platform.
func NewTwitch(api TwitchAPI, oauthToken string) *Twitch {
	return &Twitch{API: api, OAuthToken: oauthToken}
}

func (t *Twitch) Name() string        { return "twitch" }
func (t *Twitch) DisplayName() string { return "Twitch" }
func (t *Twitch) ShortName() string   { return "ttv" }

// Probe resolves the login to a user id and then looks for a live stream.
func (t *Twitch) Probe(ctx context.Context, channel string) (ProbeResult, error) {
	userID, err := t.API.GetUserID(ctx, channel)
	if err != nil {
		if errors.Is(err, twitchapi.ErrUserNotFound) {
			slog.Warn("twitch user not found", slog.String("channel", channel), slog.String("component", "platform"))
			return ProbeResult{}, nil
		}
		return ProbeResult{}, t.classify(channel, err, ReasonLookupFailed)
	}
	streams, err := t.API.GetStreams(ctx, userID)
	if err != nil {
		return ProbeResult{}, t.classify(channel, err, ReasonTransport)
	}
	for _, s := range streams {
		// any listed stream counts; Helix leaves type empty on errors
		if s.Type != "" && s.Type != "live" {
			continue
		}
		title := s.Title
		return ProbeResult{Live: true, Title: &title}, nil
	}
	return ProbeResult{}, nil
}

// classify maps collaborator errors to probe reasons. statusReason is used for
// non-2xx HTTP statuses, which mean different things for the two calls.
func (t *Twitch) classify(channel string, err error, statusReason Reason) *ProbeError {
	var se *twitchapi.StatusError
	switch {
	case errors.Is(err, twitchapi.ErrMalformedResponse):
		return newProbeError(t.Name(), channel, ReasonMalformed, err)
	case errors.Is(err, twitchapi.ErrAuth):
		return newProbeError(t.Name(), channel, ReasonLookupFailed, err)
	case errors.As(err, &se):
		if se.Code >= 500 || se.Code == 429 {
			return newProbeError(t.Name(), channel, ReasonTransport, err)
		}
		return newProbeError(t.Name(), channel, statusReason, err)
	default:
		return newProbeError(t.Name(), channel, ReasonTransport, err)
	}
}

// RecordArgs builds the streamlink arguments for a Twitch channel. streamlink
// expects the bare token in an "Authorization=OAuth" header.
func (t *Twitch) RecordArgs(channel, outputPath string) []string {
	token := strings.TrimPrefix(t.OAuthToken, "oauth:")
	return []string{
		"--twitch-api-header", "Authorization=OAuth " + token,
		"--stream-segment-threads", "5",
		"--twitch-disable-ads",
		"--retry-max", "10",
		"--retry-streams", "30",
		"--output", outputPath,
		"https://twitch.tv/" + url.PathEscape(channel),
		"best",
	}
}
