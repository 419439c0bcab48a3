package config

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration. Values resolve in the usual
// precedence order: flags over environment (RTCC_ prefix) over file over
// defaults.
type Config struct {
	Stream    StreamConfig    `mapstructure:"stream"`
	Synthetic SyntheticConfig `mapstructure:"synthetic"`
	Failsafe  FailsafeConfig  `mapstructure:"failsafe"`
	State     StateConfig     `mapstructure:"state"`
	Sim       SimConfig       `mapstructure:"sim"`
	Log       LogConfig       `mapstructure:"log"`
}

type StreamConfig struct {
	URL               string        `mapstructure:"url"`
	Token             string        `mapstructure:"token"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ReconnectBase     time.Duration `mapstructure:"reconnect_base"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	MaxPongMisses     int           `mapstructure:"max_pong_misses"`
}

type SyntheticConfig struct {
	MinInterval  time.Duration `mapstructure:"min_interval"`
	MaxInterval  time.Duration `mapstructure:"max_interval"`
	CenterLat    float64       `mapstructure:"center_lat"`
	CenterLon    float64       `mapstructure:"center_lon"`
	JitterDeg    float64       `mapstructure:"jitter_deg"`
}

type FailsafeConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type StateConfig struct {
	// Path of the local key-value record holding the reachability flag and
	// the demo mode toggle. Scoped per session/process, not shared.
	Path     string `mapstructure:"path"`
	DemoMode bool   `mapstructure:"demo_mode"`
}

type SimConfig struct {
	Addr          string        `mapstructure:"addr"`
	EventInterval time.Duration `mapstructure:"event_interval"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// Otel routes logs through the OpenTelemetry bridge instead of plain JSON.
	Otel bool `mapstructure:"otel"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("stream.url", "ws://localhost:8090/ws")
	v.SetDefault("stream.heartbeat_interval", "30s")
	v.SetDefault("stream.connect_timeout", "5s")
	v.SetDefault("stream.reconnect_base", "1s")
	v.SetDefault("stream.max_attempts", 10)
	v.SetDefault("stream.max_pong_misses", 2)

	v.SetDefault("synthetic.min_interval", "10s")
	v.SetDefault("synthetic.max_interval", "30s")
	v.SetDefault("synthetic.center_lat", 39.2904)
	v.SetDefault("synthetic.center_lon", -76.6122)
	v.SetDefault("synthetic.jitter_deg", 0.05)

	v.SetDefault("failsafe.timeout", "5s")

	v.SetDefault("state.path", ".rtcc/state.json")
	v.SetDefault("state.demo_mode", false)

	v.SetDefault("sim.addr", ":8090")
	v.SetDefault("sim.event_interval", "5s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.otel", false)
}

// Flags returns the pflag set recognized on top of file/env configuration.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("rtcc-stream", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist = pflag.ParseErrorsWhitelist{UnknownFlags: true}
	fs.String("stream.url", "", "stream endpoint URL")
	fs.String("stream.token", "", "stream auth token")
	fs.Bool("state.demo_mode", false, "force demo mode (synthetic data only)")
	fs.String("log.level", "", "log level (debug, info, warn, error)")
	return fs
}

// LoadConfig reads configuration from the optional file at path, the
// environment, and the given flags. When the file exists it is watched and
// registered reload hooks fire on change.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RTCC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if path != "" {
		watchReloads(v, cfg)
	}
	return cfg, nil
}

var (
	reloadMu    sync.Mutex
	reloadHooks []func(*Config)
)

// OnReload registers a hook invoked with the freshly parsed configuration
// whenever the watched file changes. Hooks must tolerate being called from
// the watcher goroutine.
func OnReload(hook func(*Config)) {
	reloadMu.Lock()
	defer reloadMu.Unlock()
	reloadHooks = append(reloadHooks, hook)
}

func watchReloads(v *viper.Viper, cfg *Config) {
	v.OnConfigChange(func(e fsnotify.Event) {
		fresh := &Config{}
		if err := v.Unmarshal(fresh); err != nil {
			slog.Warn("config reload ignored", "file", e.Name, "err", err)
			return
		}

		reloadMu.Lock()
		hooks := make([]func(*Config), len(reloadHooks))
		copy(hooks, reloadHooks)
		reloadMu.Unlock()

		slog.Info("config reloaded", "file", e.Name)
		for _, hook := range hooks {
			hook(fresh)
		}
	})
	v.WatchConfig()
}
