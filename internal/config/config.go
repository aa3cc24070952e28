// Package config loads peercall settings from defaults, an optional YAML file,
// PEERCALL_* environment variables and command line flags, in that order.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "PEERCALL"

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Signal    SignalConfig    `mapstructure:"signal"`
	Server    ServerConfig    `mapstructure:"server"`
	ICE       ICEConfig       `mapstructure:"ice"`
	Media     MediaConfig     `mapstructure:"media"`
	Session   SessionConfig   `mapstructure:"session"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type SignalConfig struct {
	URL string `mapstructure:"url"`
	// Discover browses the LAN for a relay when URL is empty.
	Discover bool `mapstructure:"discover"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
	Announce     bool          `mapstructure:"announce"`
}

type ICEConfig struct {
	Servers []string `mapstructure:"servers"`
	MDNS    bool     `mapstructure:"mdns"`
}

type MediaConfig struct {
	Source    string `mapstructure:"source"`
	VideoFile string `mapstructure:"video_file"`
	AudioFile string `mapstructure:"audio_file"`
}

type SessionConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type AssistantConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type MetricsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	File     string        `mapstructure:"file"`
	Interval time.Duration `mapstructure:"interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "logs/peercall.log")
	v.SetDefault("signal.url", "")
	v.SetDefault("signal.discover", true)
	v.SetDefault("server.addr", ":8089")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_limit", 65536)
	v.SetDefault("server.ping_period", "30s")
	v.SetDefault("server.rate_limit", 50)
	v.SetDefault("server.rate_interval", "1s")
	v.SetDefault("server.announce", true)
	v.SetDefault("ice.servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ice.mdns", true)
	v.SetDefault("media.source", "synthetic")
	v.SetDefault("media.video_file", "")
	v.SetDefault("media.audio_file", "")
	v.SetDefault("session.connect_timeout", "0s")
	v.SetDefault("assistant.api_key", "")
	v.SetDefault("assistant.model", "gemini-2.5-flash")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.file", "logs/peercall_metrics.log")
	v.SetDefault("metrics.interval", "30s")
}

// Load reads the configuration. file may be empty, in which case
// config/peercall.yaml is used when present. Flags in fs override everything
// else when they were set; their names are the config keys.
func Load(file string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("peercall")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		slog.Debug("No config file found, using defaults")
	} else {
		slog.Info("Loaded config", "file", v.ConfigFileUsed())
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if !knownKeys[f.Name] {
				return
			}
			if err := v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// knownKeys holds every config key; only flags named after one are bound.
var knownKeys = map[string]bool{}

func init() {
	v := viper.New()
	setDefaults(v)
	for _, k := range v.AllKeys() {
		knownKeys[k] = true
	}
}

// Validate rejects settings the rest of the program cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("server.mode must be debug, release or test, got %q", c.Server.Mode))
	}
	if c.Server.ReadLimit <= 0 {
		errs = append(errs, errors.New("server.read_limit must be positive"))
	}
	if c.Server.PingPeriod <= 0 {
		errs = append(errs, errors.New("server.ping_period must be positive"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	switch c.Media.Source {
	case "synthetic", "device":
	case "file":
		if c.Media.VideoFile == "" && c.Media.AudioFile == "" {
			errs = append(errs, errors.New("media.source file needs media.video_file or media.audio_file"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown media.source %q", c.Media.Source))
	}
	if c.Session.ConnectTimeout < 0 {
		errs = append(errs, errors.New("session.connect_timeout must not be negative"))
	}
	if c.Metrics.Enabled && c.Metrics.Interval <= 0 {
		errs = append(errs, errors.New("metrics.interval must be positive"))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log.level %q", s)
	}
	return l, nil
}
