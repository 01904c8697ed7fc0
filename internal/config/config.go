// Package config loads service configuration from a YAML file with
// environment variable overrides. A .env file, when present, is loaded first.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/reviewguard/reviewguard/internal/detect"
)

// Duration wraps time.Duration so YAML values like "90s" or "5m" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all configuration for the detection service.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Detection     DetectionConfig     `yaml:"detection"`
	Response      ResponseConfig      `yaml:"response"`
	Sweep         SweepConfig         `yaml:"sweep"`
	Logging       LoggingConfig       `yaml:"logging"`
	CORS          CORSConfig          `yaml:"cors"`
}

// ServiceConfig holds service-level configuration.
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Port    int    `yaml:"port"`
	Debug   bool   `yaml:"debug"`
}

// ElasticsearchConfig holds connection settings and index names.
type ElasticsearchConfig struct {
	URL        string   `yaml:"url"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	MaxRetries int      `yaml:"max_retries"`
	Timeout    Duration `yaml:"timeout"`

	ReviewsIndex    string `yaml:"reviews_index"`
	BusinessesIndex string `yaml:"businesses_index"`
	IncidentsIndex  string `yaml:"incidents_index"`
	LocksIndex      string `yaml:"locks_index"`
}

// DetectionConfig holds classifier thresholds and lookback-window bounds.
type DetectionConfig struct {
	Thresholds           detect.Thresholds `yaml:"thresholds"`
	DefaultLookbackHours int               `yaml:"default_lookback_hours"`
	MaxLookbackHours     int               `yaml:"max_lookback_hours"`
}

// ResponseConfig holds mitigation settings.
type ResponseConfig struct {
	// HoldWindow bounds how far back qualifying reviews are held.
	HoldWindow Duration `yaml:"hold_window"`
	// HoldMaxStars is the highest star rating a held review may carry.
	HoldMaxStars     float64 `yaml:"hold_max_stars"`
	ProtectionReason string  `yaml:"protection_reason"`
	HoldReason       string  `yaml:"hold_reason"`
}

// SweepConfig bounds detection sweeps.
type SweepConfig struct {
	// MaxBusinesses caps the discovery fan-out of a full sweep.
	MaxBusinesses int `yaml:"max_businesses"`
	// Workers bounds concurrent per-business evaluations.
	Workers int `yaml:"workers"`
	// Timeout is the overall sweep deadline; in-flight evaluations finish
	// but no new ones start once it expires.
	Timeout Duration `yaml:"timeout"`
	// RunnerInterval drives the optional background sweep runner.
	RunnerInterval Duration `yaml:"runner_interval"`
	// RunnerEnabled starts the background runner at boot.
	RunnerEnabled bool `yaml:"runner_enabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CORSConfig holds CORS configuration for the API.
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// Load reads the YAML config at path (a missing file is fine, defaults
// apply), applies environment overrides and defaults, then validates.
func Load(path string) (*Config, error) {
	// .env is optional; ignore absence.
	_ = godotenv.Load()

	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err == nil {
		if unmarshalErr := yaml.Unmarshal(data, cfg); unmarshalErr != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, unmarshalErr)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if validateErr := cfg.Validate(); validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return cfg, nil
}

// applyEnvOverrides maps well-known environment variables onto the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REVIEWGUARD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Service.Port = port
		}
	}
	if v := os.Getenv("REVIEWGUARD_DEBUG"); v != "" {
		cfg.Service.Debug = v == "true" || v == "1"
	}
	if v := os.Getenv("ELASTICSEARCH_URL"); v != "" {
		cfg.Elasticsearch.URL = v
	}
	if v := os.Getenv("ELASTICSEARCH_USERNAME"); v != "" {
		cfg.Elasticsearch.Username = v
	}
	if v := os.Getenv("ELASTICSEARCH_PASSWORD"); v != "" {
		cfg.Elasticsearch.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

const (
	defaultPort           = 8094
	defaultMaxRetries     = 3
	defaultESTimeout      = 30 * time.Second
	defaultLookbackHours  = 24
	maxLookbackHoursCap   = 168
	defaultHoldWindow     = time.Hour
	defaultHoldMaxStars   = 2.0
	defaultSweepFanout    = 100
	defaultSweepWorkers   = 8
	defaultSweepTimeout   = 2 * time.Minute
	defaultRunnerInterval = 5 * time.Minute
)

// setDefaults applies default values to the config.
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "reviewguard"
	}
	if cfg.Service.Version == "" {
		cfg.Service.Version = "1.0.0"
	}
	if cfg.Service.Port == 0 {
		cfg.Service.Port = defaultPort
	}

	if cfg.Elasticsearch.URL == "" {
		cfg.Elasticsearch.URL = "http://localhost:9200"
	}
	if cfg.Elasticsearch.MaxRetries == 0 {
		cfg.Elasticsearch.MaxRetries = defaultMaxRetries
	}
	if cfg.Elasticsearch.Timeout == 0 {
		cfg.Elasticsearch.Timeout = Duration(defaultESTimeout)
	}
	if cfg.Elasticsearch.ReviewsIndex == "" {
		cfg.Elasticsearch.ReviewsIndex = "reviews"
	}
	if cfg.Elasticsearch.BusinessesIndex == "" {
		cfg.Elasticsearch.BusinessesIndex = "businesses"
	}
	if cfg.Elasticsearch.IncidentsIndex == "" {
		cfg.Elasticsearch.IncidentsIndex = "incidents"
	}
	if cfg.Elasticsearch.LocksIndex == "" {
		cfg.Elasticsearch.LocksIndex = "incident-locks"
	}

	if cfg.Detection.Thresholds == (detect.Thresholds{}) {
		cfg.Detection.Thresholds = detect.DefaultThresholds()
	}
	if cfg.Detection.DefaultLookbackHours == 0 {
		cfg.Detection.DefaultLookbackHours = defaultLookbackHours
	}
	if cfg.Detection.MaxLookbackHours == 0 {
		cfg.Detection.MaxLookbackHours = maxLookbackHoursCap
	}

	if cfg.Response.HoldWindow == 0 {
		cfg.Response.HoldWindow = Duration(defaultHoldWindow)
	}
	if cfg.Response.HoldMaxStars == 0 {
		cfg.Response.HoldMaxStars = defaultHoldMaxStars
	}
	if cfg.Response.ProtectionReason == "" {
		cfg.Response.ProtectionReason = "automated review bomb mitigation"
	}
	if cfg.Response.HoldReason == "" {
		cfg.Response.HoldReason = "suspected review bomb"
	}

	if cfg.Sweep.MaxBusinesses == 0 {
		cfg.Sweep.MaxBusinesses = defaultSweepFanout
	}
	if cfg.Sweep.Workers == 0 {
		cfg.Sweep.Workers = defaultSweepWorkers
	}
	if cfg.Sweep.Timeout == 0 {
		cfg.Sweep.Timeout = Duration(defaultSweepTimeout)
	}
	if cfg.Sweep.RunnerInterval == 0 {
		cfg.Sweep.RunnerInterval = Duration(defaultRunnerInterval)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
	if len(cfg.CORS.AllowedMethods) == 0 {
		cfg.CORS.AllowedMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	}
	if len(cfg.CORS.AllowedHeaders) == 0 {
		cfg.CORS.AllowedHeaders = []string{"Content-Type", "Authorization"}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("service.port: invalid port %d", c.Service.Port)
	}
	if c.Elasticsearch.URL == "" {
		return fmt.Errorf("elasticsearch.url: is required")
	}
	if c.Detection.MaxLookbackHours < 1 || c.Detection.MaxLookbackHours > maxLookbackHoursCap {
		return fmt.Errorf("detection.max_lookback_hours: must be between 1 and %d",
			maxLookbackHoursCap)
	}
	if c.Detection.DefaultLookbackHours < 1 ||
		c.Detection.DefaultLookbackHours > c.Detection.MaxLookbackHours {
		return fmt.Errorf("detection.default_lookback_hours: must be between 1 and %d",
			c.Detection.MaxLookbackHours)
	}
	if c.Sweep.MaxBusinesses < 1 {
		return fmt.Errorf("sweep.max_businesses: must be greater than 0")
	}
	if c.Sweep.Workers < 1 {
		return fmt.Errorf("sweep.workers: must be greater than 0")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	return nil
}

// GetConfigPath returns the config path from CONFIG_PATH or the fallback.
func GetConfigPath(fallback string) string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return fallback
}
