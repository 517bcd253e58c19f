// Package config loads clanwatch configuration using Viper from defaults, an
// optional YAML file, and environment variables.
//
// Every key can be set through a CLANWATCH_ variable, with dots replaced by
// underscores (CLANWATCH_API_RATE_LIMIT for api.rate_limit). These legacy
// variable names are accepted as well:
//
//	APPLICATION_ID               application_id
//	DATAFILE                     storage.csv_path
//	WOT_RATE_LIMIT               api.rate_limit
//	DISCORD_RECRUITMENT_WEBHOOK  notify.webhook_url
//	CLAN_ID_UPDATE_INTERVAL      resolve_interval
//	MEMBERS_UPDATE_INTERVAL      refresh_interval
//	LOG_LEVEL                    log.level
//
// Intervals and durations accept Go duration strings ("90m") or plain
// integers, which are read as seconds.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/clanwatch/pkg/api"
	"github.com/Sternrassler/clanwatch/pkg/catalog"
	"github.com/Sternrassler/clanwatch/pkg/client"
	"github.com/Sternrassler/clanwatch/pkg/logging"
	"github.com/Sternrassler/clanwatch/pkg/notify"
	"github.com/Sternrassler/clanwatch/pkg/pipeline"
	"github.com/Sternrassler/clanwatch/pkg/storage"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every clanwatch environment variable.
const EnvPrefix = "CLANWATCH"

// MaxGroupSizeLimit is the most clan ids the detail endpoint accepts per call.
const MaxGroupSizeLimit = 100

// ErrMissingApplicationID is returned when no API application id is configured.
var ErrMissingApplicationID = errors.New("application id is required")

// Config is the complete clanwatch configuration.
type Config struct {
	ApplicationID   string        `mapstructure:"application_id"`
	ResolveInterval time.Duration `mapstructure:"resolve_interval"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`

	API     APIConfig     `mapstructure:"api"`
	Workers WorkersConfig `mapstructure:"workers"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// APIConfig configures the clan API endpoints, budget and retries.
type APIConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	UserAgent    string        `mapstructure:"user_agent"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateWindow   time.Duration `mapstructure:"rate_window"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	BackoffUnit  time.Duration `mapstructure:"backoff_unit"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxGroupSize int           `mapstructure:"max_group_size"`
}

// WorkersConfig sizes the fetch pool, the reconcilers and the channels between them.
type WorkersConfig struct {
	Fetch         int `mapstructure:"fetch"`
	Reconcilers   int `mapstructure:"reconcilers"`
	ChannelBuffer int `mapstructure:"channel_buffer"`
}

// NotifyConfig configures the Discord webhook and its rate limit.
type NotifyConfig struct {
	WebhookURL     string        `mapstructure:"webhook_url"`
	Username       string        `mapstructure:"username"`
	ProfileBaseURL string        `mapstructure:"profile_base_url"`
	RateLimit      int           `mapstructure:"rate_limit"`
	RateWindow     time.Duration `mapstructure:"rate_window"`
}

// StorageConfig selects the roster backend and its location.
type StorageConfig struct {
	Backend       string `mapstructure:"backend"`
	CSVPath       string `mapstructure:"csv_path"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisKey      string `mapstructure:"redis_key"`
}

// LogConfig sets the log level and output format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MetricsConfig configures the health and metrics listener.
type MetricsConfig struct {
	// Addr is the listen address for /health and /metrics. Empty disables
	// the listener.
	Addr string `mapstructure:"addr"`
}

// legacyEnv maps keys to their legacy environment variable names.
var legacyEnv = map[string]string{
	"application_id":     "APPLICATION_ID",
	"storage.csv_path":   "DATAFILE",
	"api.rate_limit":     "WOT_RATE_LIMIT",
	"notify.webhook_url": "DISCORD_RECRUITMENT_WEBHOOK",
	"resolve_interval":   "CLAN_ID_UPDATE_INTERVAL",
	"refresh_interval":   "MEMBERS_UPDATE_INTERVAL",
	"log.level":          "LOG_LEVEL",
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("application_id", "")
	v.SetDefault("resolve_interval", 7*24*time.Hour)
	v.SetDefault("refresh_interval", time.Hour)

	v.SetDefault("api.base_url", "https://api.worldoftanks.eu/wot")
	v.SetDefault("api.user_agent", "clanwatch/0.1.0")
	v.SetDefault("api.rate_limit", 10)
	v.SetDefault("api.rate_window", time.Second)
	v.SetDefault("api.max_attempts", 5)
	v.SetDefault("api.backoff_unit", time.Second)
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.max_group_size", MaxGroupSizeLimit)

	v.SetDefault("workers.fetch", 4)
	v.SetDefault("workers.reconcilers", 1)
	v.SetDefault("workers.channel_buffer", 64)

	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.username", notify.DefaultUsername)
	v.SetDefault("notify.profile_base_url", notify.DefaultProfileBaseURL)
	v.SetDefault("notify.rate_limit", 30)
	v.SetDefault("notify.rate_window", 60*time.Second)

	v.SetDefault("storage.backend", storage.BackendCSV)
	v.SetDefault("storage.csv_path", "wot.csv")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.redis_key", storage.DefaultRedisKey)

	v.SetDefault("log.level", string(logging.LevelInfo))
	v.SetDefault("log.pretty", false)

	v.SetDefault("metrics.addr", "")
}

// NewViper returns a Viper instance with defaults and environment bindings.
// configFile, when non-empty, is read as YAML.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}
	return v, nil
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsHook,
		mapstructure.StringToTimeDurationHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsHook reads plain integers, and strings that hold one, as seconds.
func secondsHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType || from == durationType {
		return data, nil
	}
	switch from.Kind() {
	case reflect.String:
		s := strings.TrimSpace(reflect.ValueOf(data).String())
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.Duration(n) * time.Second, nil
		}
		return s, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
	case reflect.Float32, reflect.Float64:
		return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
	}
	return data, nil
}

// Validate checks the configuration for values the watcher cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ApplicationID) == "" {
		return ErrMissingApplicationID
	}
	if c.ResolveInterval < 0 || c.RefreshInterval < 0 {
		return fmt.Errorf("intervals must be >= 0")
	}

	if err := c.API.validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if c.Workers.Fetch < 1 || c.Workers.Reconcilers < 1 {
		return fmt.Errorf("workers: fetch and reconcilers must be >= 1")
	}
	if c.Workers.ChannelBuffer < 0 {
		return fmt.Errorf("workers: channel_buffer must be >= 0")
	}
	if c.Notify.RateLimit <= 0 || c.Notify.RateWindow <= 0 {
		return fmt.Errorf("notify: rate_limit and rate_window must be > 0")
	}
	if err := c.Storage.validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

func (a APIConfig) validate() error {
	if a.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if a.RateLimit <= 0 || a.RateWindow <= 0 {
		return fmt.Errorf("rate_limit and rate_window must be > 0")
	}
	if a.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1 (got %d)", a.MaxAttempts)
	}
	if a.BackoffUnit <= 0 || a.Timeout <= 0 {
		return fmt.Errorf("backoff_unit and timeout must be > 0")
	}
	if a.MaxGroupSize < 1 || a.MaxGroupSize > MaxGroupSizeLimit {
		return fmt.Errorf("max_group_size must be between 1 and %d (got %d)", MaxGroupSizeLimit, a.MaxGroupSize)
	}
	return nil
}

func (s StorageConfig) validate() error {
	switch s.Backend {
	case storage.BackendCSV:
		if s.CSVPath == "" {
			return fmt.Errorf("csv_path is required for the csv backend")
		}
	case storage.BackendRedis:
		if s.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	return nil
}

// RunOnce reports whether both loops are configured to run a single cycle.
func (c *Config) RunOnce() bool {
	return c.ResolveInterval == 0 && c.RefreshInterval == 0
}

// Pipeline returns the pipeline configuration.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		ApplicationID:   c.ApplicationID,
		Endpoints:       api.NewEndpoints(c.API.BaseURL),
		ResolveInterval: c.ResolveInterval,
		RefreshInterval: c.RefreshInterval,
		MaxGroupSize:    c.API.MaxGroupSize,
		FetchWorkers:    c.Workers.Fetch,
		Reconcilers:     c.Workers.Reconcilers,
		ChannelBuffer:   c.Workers.ChannelBuffer,
		FlushTimeout:    pipeline.DefaultFlushTimeout,
		Client: client.Config{
			UserAgent: c.API.UserAgent,
			Timeout:   c.API.Timeout,
			Retry: client.RetryConfig{
				MaxAttempts: c.API.MaxAttempts,
				BackoffUnit: c.API.BackoffUnit,
			},
		},
		Notify: notify.Config{ProfileBaseURL: c.Notify.ProfileBaseURL},
	}
}

// Catalog returns the catalogue configuration for a listing narrowed by
// search. An empty search lists every clan.
func (c *Config) Catalog(search string) catalog.Config {
	return catalog.Config{
		ApplicationID: c.ApplicationID,
		Endpoints:     api.NewEndpoints(c.API.BaseURL),
		Search:        search,
		MaxGroupSize:  c.API.MaxGroupSize,
	}
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(strings.ToLower(c.Log.Level))
	cfg.Pretty = c.Log.Pretty
	return cfg
}
