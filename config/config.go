// Package config loads the archiver configuration from struct defaults, an
// optional YAML file and the environment (highest priority), then validates it.
// Any error returned by Load is fatal: the process must not start without at
// least one monitored channel.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/onnwee/stream-archiver/platform"
)

// FileEnvVar names the environment variable holding the optional YAML file path.
const FileEnvVar = "CONFIG_FILE"

// Config is the typed configuration. Keys are the lower-cased environment
// variable names, in YAML files as well.
type Config struct {
	// Twitch (enabled only when all four are set)
	TwitchClientID     string `koanf:"twitch_client_id"`
	TwitchClientSecret string `koanf:"twitch_client_secret"`
	TwitchOAuthToken   string `koanf:"twitch_oauth_token"`
	TwitchChannels     string `koanf:"twitch_channels"`
	TwitchChatLog      bool   `koanf:"twitch_chat_log"`

	// Kick
	KickChannels          string  `koanf:"kick_channels"`
	KickPluginDir         string  `koanf:"kick_plugin_dir" validate:"required_with=KickChannels"`
	KickPluginInstall     bool    `koanf:"kick_plugin_install"`
	KickRequestsPerSecond float64 `koanf:"kick_requests_per_second" validate:"gt=0"`

	// Loop, seconds
	CheckInterval       int `koanf:"check_interval" validate:"gt=0"`
	ProbeTimeout        int `koanf:"probe_timeout" validate:"gt=0"`
	MaxConcurrentProbes int `koanf:"max_concurrent_probes" validate:"gt=0,lte=64"`
	StopGrace           int `koanf:"stop_grace" validate:"gt=0"`
	ShutdownTimeout     int `koanf:"shutdown_timeout" validate:"gt=0"`

	// Recorder
	OutputDir     string `koanf:"output_dir" validate:"required"`
	StreamlinkBin string `koanf:"streamlink_bin" validate:"required"`

	// Retention of old recordings; 0 disables a rule. Interval in seconds.
	RetentionKeepDays  int  `koanf:"retention_keep_days" validate:"gte=0"`
	RetentionKeepCount int  `koanf:"retention_keep_count" validate:"gte=0"`
	RetentionDryRun    bool `koanf:"retention_dry_run"`
	RetentionInterval  int  `koanf:"retention_interval" validate:"gt=0"`

	// Ambient
	HTTPAddr           string `koanf:"http_addr"`
	CORSAllowedOrigins string `koanf:"cors_allowed_origins"`
	DBDsn              string `koanf:"db_dsn"`
	LogLevel           string `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogFormat          string `koanf:"log_format" validate:"oneof=text json"`
	OTLPEndpoint       string `koanf:"otel_exporter_otlp_endpoint"`
	// TraceSampleRatio is the fraction of root traces kept (1 = all).
	TraceSampleRatio float64 `koanf:"otel_traces_sample_ratio" validate:"gte=0,lte=1"`
}

// Error is a fatal configuration problem.
type Error struct {
	Key string
	Msg string
}

func (e *Error) Error() string {
	if e.Key == "" {
		return "config: " + e.Msg
	}
	return fmt.Sprintf("config: %s: %s", e.Key, e.Msg)
}

// Defaults returns the configuration used before any file or environment layer.
func Defaults() *Config {
	return &Config{
		KickPluginDir:         "/app/plugins",
		KickPluginInstall:     true,
		KickRequestsPerSecond: 2,
		CheckInterval:         30,
		ProbeTimeout:          15,
		MaxConcurrentProbes:   4,
		StopGrace:             10,
		ShutdownTimeout:       30,
		OutputDir:             "/output",
		StreamlinkBin:         "streamlink",
		RetentionInterval:     6 * 60 * 60,
		HTTPAddr:              ":8080",
		LogLevel:              "info",
		LogFormat:             "text",
		TraceSampleRatio:      1,
	}
}

// Load layers defaults, the YAML file at path (or $CONFIG_FILE when path is
// empty; no file is fine) and the environment, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(FileEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// TWITCH_CHANNELS -> twitch_channels; only known keys are kept
	known := knownKeys()
	if err := k.Load(env.Provider("", ".", func(s string) string {
		key := strings.ToLower(s)
		if _, ok := known[key]; !ok {
			return ""
		}
		return key
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their environment variable name
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("koanf"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return strings.ToUpper(name)
	})
	return v
}

// Validate checks field constraints and that at least one platform is usable.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &Error{Key: fe.Field(), Msg: describe(fe)}
		}
		return &Error{Msg: err.Error()}
	}
	if c.TwitchEnabled() && !strings.HasPrefix(c.TwitchOAuthToken, "oauth:") {
		return &Error{Key: "TWITCH_OAUTH_TOKEN", Msg: `must start with "oauth:"`}
	}
	if len(c.Channels()) == 0 {
		return &Error{Msg: "no platform configured: set TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET, TWITCH_OAUTH_TOKEN and TWITCH_CHANNELS, or KICK_CHANNELS"}
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_with":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// TwitchEnabled reports whether all four Twitch settings are present.
func (c *Config) TwitchEnabled() bool {
	return c.TwitchClientID != "" && c.TwitchClientSecret != "" && c.TwitchOAuthToken != "" && len(ParseList(c.TwitchChannels)) > 0
}

// TwitchPartial reports Twitch settings that are present but incomplete, so
// Twitch stays disabled.
func (c *Config) TwitchPartial() bool {
	set := c.TwitchClientID != "" || c.TwitchClientSecret != "" || c.TwitchOAuthToken != "" || c.TwitchChannels != ""
	return set && !c.TwitchEnabled()
}

// KickEnabled reports whether any Kick channel is configured.
func (c *Config) KickEnabled() bool { return len(ParseList(c.KickChannels)) > 0 }

// Channels returns every monitored channel, Twitch first, in configured order.
func (c *Config) Channels() []platform.ChannelKey {
	var out []platform.ChannelKey
	if c.TwitchEnabled() {
		for _, ch := range ParseList(c.TwitchChannels) {
			out = append(out, platform.ChannelKey{Platform: "twitch", Channel: ch})
		}
	}
	for _, ch := range ParseList(c.KickChannels) {
		out = append(out, platform.ChannelKey{Platform: "kick", Channel: ch})
	}
	return out
}

// ParseList splits a comma-separated list, trimming blanks and dropping
// empties and repeats (first occurrence wins).
func ParseList(s string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, dup := seen[part]; dup {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}

func (c *Config) Interval() time.Duration { return time.Duration(c.CheckInterval) * time.Second }

func (c *Config) ProbeTimeoutDuration() time.Duration {
	return time.Duration(c.ProbeTimeout) * time.Second
}

func (c *Config) StopGraceDuration() time.Duration { return time.Duration(c.StopGrace) * time.Second }

func (c *Config) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}

func (c *Config) RetentionIntervalDuration() time.Duration {
	return time.Duration(c.RetentionInterval) * time.Second
}

// MaskedToken shows only the first characters of the OAuth token for logs.
func (c *Config) MaskedToken() string {
	t := strings.TrimPrefix(c.TwitchOAuthToken, "oauth:")
	if len(t) <= 4 {
		return "****"
	}
	return t[:4] + "****"
}

func knownKeys() map[string]struct{} {
	out := map[string]struct{}{}
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		if name := t.Field(i).Tag.Get("koanf"); name != "" {
			out[name] = struct{}{}
		}
	}
	return out
}
