// Command stream-archiver records Twitch and Kick livestreams to disk.
// It:
//   - Loads layered configuration (.env, optional YAML file, environment) and
//     initializes structured logging, metrics and optional tracing.
//   - Builds the platform clients and the streamlink recording supervisor.
//   - Optionally connects to Postgres for recording history and captures
//     Twitch chat alongside each recording.
//   - Runs the reconciliation loop, the retention sweeper and the status HTTP
//     server under a suture supervisor tree.
//
// Shutdown is graceful on SIGINT/SIGTERM: every running recording is stopped
// before the process exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/onnwee/stream-archiver/archiver"
	"github.com/onnwee/stream-archiver/chatlog"
	"github.com/onnwee/stream-archiver/config"
	"github.com/onnwee/stream-archiver/kickapi"
	"github.com/onnwee/stream-archiver/platform"
	"github.com/onnwee/stream-archiver/plugins"
	"github.com/onnwee/stream-archiver/recorder"
	"github.com/onnwee/stream-archiver/retention"
	"github.com/onnwee/stream-archiver/server"
	"github.com/onnwee/stream-archiver/store"
	"github.com/onnwee/stream-archiver/telemetry"
	"github.com/onnwee/stream-archiver/twitchapi"
)

var version = "dev"

func main() {
	configPath := pflag.StringP("config", "c", "", "optional YAML config file (default $CONFIG_FILE)")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before the environment")
	showVersion := pflag.BoolP("version", "v", false, "print version and exit")
	pflag.Parse()
	if *showVersion {
		fmt.Println(version)
		return
	}

	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.LogLevel, cfg.LogFormat))
	slog.Info("logger initialized", slog.String("level", cfg.LogLevel), slog.String("format", cfg.LogFormat))

	if err := run(cfg); err != nil {
		slog.Error("stream archiver stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("stream archiver stopped")
}

func run(cfg *config.Config) error {
	telemetry.Init()

	shutdownTracing, err := telemetry.InitTracing("stream-archiver", version, cfg.OTLPEndpoint, cfg.TraceSampleRatio)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}
	defer shutdownTracing()

	if cfg.TwitchPartial() {
		slog.Warn("twitch configuration incomplete, twitch disabled: TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET, TWITCH_OAUTH_TOKEN and TWITCH_CHANNELS are all required")
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir %s: %w", cfg.OutputDir, err)
	}

	if err := installPlugins(cfg); err != nil {
		return err
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	platforms := buildPlatforms(ctx, cfg)

	var hooks []recorder.Hook
	var db *store.Store
	if cfg.DBDsn != "" {
		db, err = store.Open(ctx, cfg.DBDsn)
		if err != nil {
			return fmt.Errorf("recording history: %w", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		hooks = append(hooks, db)
	}
	if cfg.TwitchChatLog && cfg.TwitchEnabled() {
		var sinks []chatlog.Sink
		if db != nil {
			sinks = append(sinks, db)
		}
		hooks = append(hooks, chatlog.NewCapture(sinks...))
	}

	sup := recorder.NewSupervisor(cfg.StreamlinkBin, platforms, cfg.StopGraceDuration(), hooks...)
	tracker := archiver.NewTracker(cfg.Channels())
	loop := archiver.New(platforms, sup, tracker, archiver.Options{
		Interval:        cfg.Interval(),
		ProbeTimeout:    cfg.ProbeTimeoutDuration(),
		ShutdownTimeout: cfg.ShutdownTimeoutDuration(),
		MaxConcurrent:   cfg.MaxConcurrentProbes,
		OutputDir:       cfg.OutputDir,
	})

	slog.Info(banner(cfg))

	root := suture.New("stream-archiver", suture.Spec{
		EventHook: (&sutureslog.Handler{Logger: slog.Default()}).MustHook(),
		// room for the loop to stop every recording
		Timeout: cfg.ShutdownTimeoutDuration() + cfg.StopGraceDuration() + 10*time.Second,
	})
	root.Add(loop)
	root.Add(&retention.Sweeper{
		Dir: cfg.OutputDir,
		Policy: retention.Policy{
			KeepDays:  cfg.RetentionKeepDays,
			KeepCount: cfg.RetentionKeepCount,
			DryRun:    cfg.RetentionDryRun,
			Interval:  cfg.RetentionIntervalDuration(),
		},
		Active: func() []string { return activeOutputs(loop) },
	})
	if cfg.HTTPAddr != "" {
		opts := server.Options{
			Addr:           cfg.HTTPAddr,
			Status:         loop,
			AllowedOrigins: config.ParseList(cfg.CORSAllowedOrigins),
		}
		if db != nil {
			opts.History = db
			opts.DB = db
		}
		root.Add(server.New(opts))
	}

	err = root.Serve(ctx)
	if unstopped, _ := root.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			slog.Warn("service failed to stop", slog.String("service", svc.Name))
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildPlatforms wires the API clients of every enabled platform.
func buildPlatforms(ctx context.Context, cfg *config.Config) platform.Registry {
	var ps []platform.Platform
	if cfg.TwitchEnabled() {
		ts := &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret}
		// Best-effort: probes fetch the token again if this fails.
		tokCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
		if _, err := ts.Get(tokCtx); err != nil {
			slog.Warn("twitch app token fetch failed", slog.Any("err", err))
		} else {
			slog.Info("twitch authenticated", slog.String("oauth_token", cfg.MaskedToken()))
		}
		cancel()
		helix := &twitchapi.HelixClient{
			AppTokenSource: ts,
			ClientID:       cfg.TwitchClientID,
			HTTPClient:     &http.Client{Timeout: 15 * time.Second},
		}
		ps = append(ps, platform.NewTwitch(helix, cfg.TwitchOAuthToken))
	}
	if cfg.KickEnabled() {
		kc := kickapi.NewClient(kickapi.Options{
			RequestsPerSecond: cfg.KickRequestsPerSecond,
			OnBreakerChange:   telemetry.UpdateCircuitGauge,
		})
		ps = append(ps, platform.NewKick(kc, cfg.KickPluginDir))
	}
	return platform.NewRegistry(ps...)
}

// installPlugins puts the Kick streamlink plugin into KICK_PLUGIN_DIR. With
// installation disabled the operator provides it, and a missing file only warns.
func installPlugins(cfg *config.Config) error {
	if !cfg.KickEnabled() {
		return nil
	}
	if !cfg.KickPluginInstall {
		path := filepath.Join(cfg.KickPluginDir, plugins.KickFile)
		if _, err := os.Stat(path); err != nil {
			slog.Warn("kick streamlink plugin not found, kick recordings may fail", slog.String("path", path), slog.Any("err", err))
		}
		return nil
	}
	if _, err := plugins.Install(cfg.KickPluginDir); err != nil {
		return fmt.Errorf("install streamlink plugins: %w", err)
	}
	return nil
}

// activeOutputs lists the files still being written.
func activeOutputs(loop *archiver.Loop) []string {
	var out []string
	for _, st := range loop.Snapshot() {
		if st.State == archiver.StateRecording && st.OutputPath != "" {
			out = append(out, st.OutputPath)
		}
	}
	return out
}

// banner lists the monitored channels per platform.
func banner(cfg *config.Config) string {
	var parts []string
	if cfg.TwitchEnabled() {
		parts = append(parts, "Twitch: "+strings.Join(config.ParseList(cfg.TwitchChannels), ", "))
	}
	if cfg.KickEnabled() {
		parts = append(parts, "Kick: "+strings.Join(config.ParseList(cfg.KickChannels), ", "))
	}
	return "starting stream archiver - monitoring " + strings.Join(parts, " | ")
}

// newLogger configures logging (level + format). Defaults: level=info, format=text.
func newLogger(level, format string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	return slog.New(handler)
}
