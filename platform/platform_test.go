package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"testing"

	"github.com/onnwee/stream-archiver/kickapi"
	"github.com/onnwee/stream-archiver/twitchapi"
)

type fakeTwitchAPI struct {
	userID     string
	userErr    error
	streams    []twitchapi.Stream
	streamsErr error
}

func (f *fakeTwitchAPI) GetUserID(ctx context.Context, login string) (string, error) {
	return f.userID, f.userErr
}

func (f *fakeTwitchAPI) GetStreams(ctx context.Context, userID string) ([]twitchapi.Stream, error) {
	return f.streams, f.streamsErr
}

type fakeKickAPI struct {
	ls  *kickapi.Livestream
	err error
}

func (f *fakeKickAPI) GetLivestream(ctx context.Context, channel string) (*kickapi.Livestream, error) {
	return f.ls, f.err
}

func TestTwitchProbe(t *testing.T) {
	tests := []struct {
		name      string
		api       *fakeTwitchAPI
		wantLive  bool
		wantTitle string
		wantErr   Reason
	}{
		{
			name:      "live",
			api:       &fakeTwitchAPI{userID: "1", streams: []twitchapi.Stream{{Type: "live", Title: "hello"}}},
			wantLive:  true,
			wantTitle: "hello",
		},
		{name: "offline", api: &fakeTwitchAPI{userID: "1"}},
		{name: "user not found is offline", api: &fakeTwitchAPI{userErr: twitchapi.ErrUserNotFound}},
		{name: "auth failure", api: &fakeTwitchAPI{userErr: fmt.Errorf("%w: bad secret", twitchapi.ErrAuth)}, wantErr: ReasonLookupFailed},
		{name: "users 400", api: &fakeTwitchAPI{userErr: &twitchapi.StatusError{Code: http.StatusBadRequest}}, wantErr: ReasonLookupFailed},
		{name: "users 503", api: &fakeTwitchAPI{userErr: &twitchapi.StatusError{Code: http.StatusServiceUnavailable}}, wantErr: ReasonTransport},
		{name: "network", api: &fakeTwitchAPI{userID: "1", streamsErr: errors.New("dial tcp: refused")}, wantErr: ReasonTransport},
		{name: "malformed", api: &fakeTwitchAPI{userID: "1", streamsErr: fmt.Errorf("%w: eof", twitchapi.ErrMalformedResponse)}, wantErr: ReasonMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewTwitch(tt.api, "oauth:abc")
			res, err := p.Probe(context.Background(), "foo")
			if tt.wantErr != "" {
				var pe *ProbeError
				if !errors.As(err, &pe) {
					t.Fatalf("Probe() error = %v, want *ProbeError", err)
				}
				if pe.Reason != tt.wantErr || pe.Platform != "twitch" || pe.Channel != "foo" {
					t.Fatalf("ProbeError = %+v, want reason %s", pe, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Probe() error = %v", err)
			}
			if res.Live != tt.wantLive {
				t.Fatalf("Live = %v, want %v", res.Live, tt.wantLive)
			}
			if !tt.wantLive && res.Title != nil {
				t.Fatalf("Title = %q, want nil when offline", *res.Title)
			}
			if tt.wantLive && res.TitleOr("") != tt.wantTitle {
				t.Fatalf("Title = %q, want %q", res.TitleOr(""), tt.wantTitle)
			}
		})
	}
}

func TestKickProbe(t *testing.T) {
	tests := []struct {
		name     string
		api      *fakeKickAPI
		wantLive bool
		wantErr  Reason
	}{
		{name: "live", api: &fakeKickAPI{ls: &kickapi.Livestream{PlaybackURL: "https://x/m.m3u8", SessionTitle: "t"}}, wantLive: true},
		{name: "null data", api: &fakeKickAPI{}},
		{name: "no playback url", api: &fakeKickAPI{ls: &kickapi.Livestream{SessionTitle: "t"}}},
		{name: "not found", api: &fakeKickAPI{err: fmt.Errorf("%w: x", kickapi.ErrChannelNotFound)}, wantErr: ReasonLookupFailed},
		{name: "malformed", api: &fakeKickAPI{err: fmt.Errorf("%w: x", kickapi.ErrMalformedResponse)}, wantErr: ReasonMalformed},
		{name: "blocked", api: &fakeKickAPI{err: &kickapi.StatusError{Code: 403}}, wantErr: ReasonTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewKick(tt.api, "/plugins").Probe(context.Background(), "bar")
			if tt.wantErr != "" {
				if !IsReason(err, tt.wantErr) {
					t.Fatalf("Probe() error = %v, want reason %s", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Probe() error = %v", err)
			}
			if res.Live != tt.wantLive {
				t.Fatalf("Live = %v, want %v", res.Live, tt.wantLive)
			}
			if tt.wantLive && res.TitleOr("") != "t" {
				t.Fatalf("Title = %q, want t", res.TitleOr(""))
			}
		})
	}
}

func TestRecordArgs(t *testing.T) {
	tw := NewTwitch(nil, "oauth:secret")
	got := tw.RecordArgs("foo", "/out/x.mp4")
	want := []string{
		"--twitch-api-header", "Authorization=OAuth secret",
		"--stream-segment-threads", "5",
		"--twitch-disable-ads",
		"--retry-max", "10",
		"--retry-streams", "30",
		"--output", "/out/x.mp4",
		"https://twitch.tv/foo", "best",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("twitch RecordArgs = %q\nwant %q", got, want)
	}

	k := NewKick(nil, "/app/plugins")
	got = k.RecordArgs("bar", "/out/y.mp4")
	want = []string{
		"--plugin-dirs", "/app/plugins",
		"--retry-max", "10",
		"--retry-streams", "30",
		"--output", "/out/y.mp4",
		"https://kick.com/bar", "best",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("kick RecordArgs = %q\nwant %q", got, want)
	}
}

func TestRegistryAndErrors(t *testing.T) {
	r := NewRegistry(NewTwitch(nil, ""), NewKick(nil, ""))
	if got := r.Names(); !reflect.DeepEqual(got, []string{"kick", "twitch"}) {
		t.Fatalf("Names() = %v", got)
	}
	if p, ok := r.Get("twitch"); !ok || p.ShortName() != "ttv" {
		t.Fatalf("Get(twitch) = %v, %v", p, ok)
	}
	if _, ok := r.Get("youtube"); ok {
		t.Fatal("Get(youtube) should miss")
	}

	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", newProbeError("kick", "c", ReasonTransport, cause))
	if ReasonOf(err) != ReasonTransport || !errors.Is(err, cause) {
		t.Fatalf("ReasonOf/Unwrap failed for %v", err)
	}
	if ReasonOf(cause) != "" || IsReason(nil, ReasonTransport) {
		t.Fatal("plain errors carry no reason")
	}
	if (ChannelKey{Platform: "kick", Channel: "c"}).String() != "kick:c" {
		t.Fatal("ChannelKey.String()")
	}
}
