package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/onnwee/stream-archiver/config"
	"github.com/onnwee/stream-archiver/plugins"
)

func TestBanner(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{
			name: "both platforms",
			cfg: config.Config{
				TwitchClientID: "id", TwitchClientSecret: "secret", TwitchOAuthToken: "oauth:abc",
				TwitchChannels: "foo, bar", KickChannels: "baz",
			},
			want: "starting stream archiver - monitoring Twitch: foo, bar | Kick: baz",
		},
		{
			name: "kick only with partial twitch",
			cfg:  config.Config{TwitchChannels: "foo", KickChannels: "baz,qux,baz"},
			want: "starting stream archiver - monitoring Kick: baz, qux",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := banner(&tt.cfg); got != tt.want {
				t.Fatalf("banner() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()
	if l := newLogger("debug", "json"); !l.Enabled(ctx, slog.LevelDebug) {
		t.Fatal("debug level not enabled")
	}
	l := newLogger("warn", "text")
	if l.Enabled(ctx, slog.LevelInfo) || !l.Enabled(ctx, slog.LevelWarn) {
		t.Fatal("warn level misconfigured")
	}
	if l := newLogger("", ""); !l.Enabled(ctx, slog.LevelInfo) || l.Enabled(ctx, slog.LevelDebug) {
		t.Fatal("default level should be info")
	}
}

func TestBuildPlatformsKickOnly(t *testing.T) {
	cfg := config.Defaults()
	cfg.KickChannels = "baz"
	reg := buildPlatforms(context.Background(), cfg)
	if names := reg.Names(); len(names) != 1 || names[0] != "kick" {
		t.Fatalf("platforms = %v, want [kick]", names)
	}
}

func TestInstallPlugins(t *testing.T) {
	t.Run("kick enabled installs into plugin dir", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.KickChannels = "baz"
		cfg.KickPluginDir = filepath.Join(t.TempDir(), "plugins")
		if err := installPlugins(cfg); err != nil {
			t.Fatalf("installPlugins() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(cfg.KickPluginDir, plugins.KickFile)); err != nil {
			t.Fatalf("kick plugin not installed: %v", err)
		}
	})
	t.Run("install disabled leaves dir alone", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.KickChannels = "baz"
		cfg.KickPluginInstall = false
		cfg.KickPluginDir = filepath.Join(t.TempDir(), "plugins")
		if err := installPlugins(cfg); err != nil {
			t.Fatalf("installPlugins() error = %v", err)
		}
		if _, err := os.Stat(cfg.KickPluginDir); !os.IsNotExist(err) {
			t.Fatalf("plugin dir should not be created, stat err = %v", err)
		}
	})
	t.Run("kick disabled is a no-op", func(t *testing.T) {
		cfg := config.Defaults()
		cfg.KickPluginDir = filepath.Join(t.TempDir(), "plugins")
		if err := installPlugins(cfg); err != nil {
			t.Fatalf("installPlugins() error = %v", err)
		}
		if _, err := os.Stat(cfg.KickPluginDir); !os.IsNotExist(err) {
			t.Fatal("plugin dir should not be created without kick channels")
		}
	})
}
