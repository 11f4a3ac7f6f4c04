package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "DECOYWATCH"

type Config struct {
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
	Retry   RetryConfig   `mapstructure:"retry" yaml:"retry"`
	Link    LinkConfig    `mapstructure:"link" yaml:"link"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Poll    PollConfig    `mapstructure:"poll" yaml:"poll"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// BackendConfig points at the honeyfile backend API.
type BackendConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	// WSURL overrides the live channel URL derived from BaseURL.
	WSURL   string        `mapstructure:"ws_url" yaml:"ws_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`
}

type RetryConfig struct {
	Attempts  int           `mapstructure:"attempts" yaml:"attempts"`
	BaseDelay time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	// Backoff is "linear" or "exponential".
	Backoff  string        `mapstructure:"backoff" yaml:"backoff"`
	MaxDelay time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

type LinkConfig struct {
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	PingInterval   time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
}

type StoreConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

// PollConfig sets the background refresh cadence. A zero interval
// disables that poller.
type PollConfig struct {
	Monitor time.Duration `mapstructure:"monitor" yaml:"monitor"`
	Logs    time.Duration `mapstructure:"logs" yaml:"logs"`
	Stats   time.Duration `mapstructure:"stats" yaml:"stats"`
	// LogHours and LogLimit shape the event log bulk load.
	LogHours int `mapstructure:"log_hours" yaml:"log_hours"`
	LogLimit int `mapstructure:"log_limit" yaml:"log_limit"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.base_url", "http://127.0.0.1:8000/api")
	v.SetDefault("backend.ws_url", "")
	v.SetDefault("backend.timeout", "10s")
	v.SetDefault("backend.rate_limit", 20.0)
	v.SetDefault("backend.rate_burst", 10)

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.base_delay", "300ms")
	v.SetDefault("retry.backoff", "linear")
	v.SetDefault("retry.max_delay", "5s")

	v.SetDefault("link.reconnect_delay", "3s")
	v.SetDefault("link.ping_interval", "0s")

	v.SetDefault("store.capacity", 100)

	v.SetDefault("poll.monitor", "5s")
	v.SetDefault("poll.logs", "30s")
	v.SetDefault("poll.stats", "30s")
	v.SetDefault("poll.log_hours", 24)
	v.SetDefault("poll.log_limit", 100)

	v.SetDefault("server.addr", "127.0.0.1:8090")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("log.level", "info")
}

// Load reads defaults, then the optional YAML file, then a .env file in
// the working directory, then DECOYWATCH_* environment variables.
// Nested keys map to env names with "_" (DECOYWATCH_BACKEND_BASE_URL).
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return load(viper.New(), configPath)
}

func load(v *viper.Viper, configPath string) (*Config, error) {
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without consulting files or
// the environment.
func Default() *Config {
	cfg, err := load(viper.New(), "")
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs error
	if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = multierr.Append(errs, fmt.Errorf("backend.base_url %q is not an absolute URL", c.Backend.BaseURL))
	}
	if c.Backend.WSURL != "" {
		if u, err := url.Parse(c.Backend.WSURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = multierr.Append(errs, fmt.Errorf("backend.ws_url %q must use ws or wss", c.Backend.WSURL))
		}
	}
	if c.Backend.RateLimit < 0 {
		errs = multierr.Append(errs, errors.New("backend.rate_limit must not be negative"))
	}
	if c.Retry.Attempts < 1 {
		errs = multierr.Append(errs, errors.New("retry.attempts must be at least 1"))
	}
	if c.Retry.BaseDelay < 0 {
		errs = multierr.Append(errs, errors.New("retry.base_delay must not be negative"))
	}
	switch c.Retry.Backoff {
	case "linear", "exponential":
	default:
		errs = multierr.Append(errs, fmt.Errorf("retry.backoff %q must be linear or exponential", c.Retry.Backoff))
	}
	if c.Link.ReconnectDelay <= 0 {
		errs = multierr.Append(errs, errors.New("link.reconnect_delay must be positive"))
	}
	if c.Link.PingInterval < 0 {
		errs = multierr.Append(errs, errors.New("link.ping_interval must not be negative"))
	}
	if c.Store.Capacity < 1 {
		errs = multierr.Append(errs, errors.New("store.capacity must be at least 1"))
	}
	if c.Poll.Monitor < 0 || c.Poll.Logs < 0 || c.Poll.Stats < 0 {
		errs = multierr.Append(errs, errors.New("poll intervals must not be negative"))
	}
	if errs != nil {
		return fmt.Errorf("invalid config: %w", errs)
	}
	return nil
}

func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
