// Package config provides configuration management for boxbridge.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/boxbridge/credentials"
	"github.com/otherjamesbrown/boxbridge/pkg/analytics"
	"github.com/otherjamesbrown/boxbridge/pkg/box"
	"github.com/otherjamesbrown/boxbridge/pkg/db"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/extraction"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/pipeline"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/queues"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/selection"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/suggestions"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/workers"
	bberrors "github.com/otherjamesbrown/boxbridge/pkg/errors"
	"github.com/otherjamesbrown/boxbridge/pkg/logging"
	"github.com/otherjamesbrown/boxbridge/pkg/webhook"
)

// OutputFormat represents the output format for command results.
type OutputFormat string

const (
	// OutputFormatText outputs results as human-readable text.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON outputs results as JSON.
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatYAML outputs results as YAML.
	OutputFormatYAML OutputFormat = "yaml"
)

// Default configuration values.
const (
	DefaultConfigDir    = ".boxbridge"
	DefaultConfigFile   = "config.yaml"
	DefaultEnvFile      = ".env"
	DefaultScope        = "enterprise"
	DefaultOutputFormat = OutputFormatText
)

// Environment variables kept from the original deployment.
const (
	EnvBoxAPIToken           = "BOX_API_TOKEN"
	EnvSalesforceEndpoint    = "SALESFORCE_DATA_CLOUD_ENDPOINT"
	EnvSalesforceAccessToken = "SALESFORCE_ACCESS_TOKEN"
	EnvPort                  = "PORT"
)

// EnvConfigDir overrides the configuration directory.
const EnvConfigDir = "BOXBRIDGE_CONFIG_DIR"

// Queue backends.
const (
	QueueBackendMemory = "memory"
	QueueBackendRedis  = "redis"
)

// BoxConfig configures the Box API client.
type BoxConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Token             string        `yaml:"-"`
	Scope             string        `yaml:"scope"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxRetries        int           `yaml:"max_retries"`
	Debug             bool          `yaml:"debug"`
}

// Options converts the section to client options.
func (b BoxConfig) Options() *box.Options {
	return &box.Options{
		BaseURL:           b.BaseURL,
		Token:             b.Token,
		Timeout:           b.Timeout,
		RequestsPerSecond: b.RequestsPerSecond,
		Burst:             b.Burst,
		MaxRetries:        b.MaxRetries,
		Debug:             b.Debug,
	}
}

// AnalyticsConfig configures the Salesforce Data Cloud ingestion endpoint.
type AnalyticsConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Token        string        `yaml:"-"`
	EnterpriseID int64         `yaml:"enterprise_id"`
	Timeout      time.Duration `yaml:"timeout"`
}

// QueueConfig selects and configures the task queue.
type QueueConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"-"`
	RedisDB       int    `yaml:"redis_db"`
	// PublishEvents publishes pipeline events on Redis pub/sub when the
	// redis backend is in use.
	PublishEvents      bool `yaml:"publish_events"`
	queues.QueueConfig `yaml:",inline"`
}

// PipelineConfig tunes template selection and suggestion fetching.
type PipelineConfig struct {
	Deadline       time.Duration `yaml:"deadline"`
	Threshold      float64       `yaml:"threshold"`
	SuggestionMode string        `yaml:"suggestion_mode"`
}

// LoggingConfig configures the service logger.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	JSON        bool   `yaml:"json"`
	Environment string `yaml:"environment"`
}

// Logger returns the logging configuration writing to out.
func (l LoggingConfig) Logger(serviceName string, out io.Writer) *logging.Config {
	return &logging.Config{
		Level:       logging.ParseLevel(l.Level),
		ServiceName: serviceName,
		Environment: l.Environment,
		JSONFormat:  l.JSON,
		Output:      out,
	}
}

// Config is the complete boxbridge configuration.
type Config struct {
	Box        BoxConfig         `yaml:"box"`
	Analytics  AnalyticsConfig   `yaml:"analytics"`
	Server     webhook.Config    `yaml:"server"`
	Queue      QueueConfig       `yaml:"queue"`
	Workers    workers.Config    `yaml:"workers"`
	Pipeline   PipelineConfig    `yaml:"pipeline"`
	Extraction extraction.Config `yaml:"extraction"`
	Database   *db.Config        `yaml:"database"`
	Logging    LoggingConfig     `yaml:"logging"`
	Output     OutputFormat      `yaml:"output"`

	// Path is the file the configuration was read from, empty when none.
	Path string `yaml:"-"`
}

// DefaultConfig returns a Config with default values and no secrets.
func DefaultConfig() *Config {
	boxOpts := box.DefaultOptions()
	return &Config{
		Box: BoxConfig{
			BaseURL:           boxOpts.BaseURL,
			Scope:             DefaultScope,
			Timeout:           boxOpts.Timeout,
			RequestsPerSecond: boxOpts.RequestsPerSecond,
			Burst:             boxOpts.Burst,
			MaxRetries:        boxOpts.MaxRetries,
		},
		Analytics: AnalyticsConfig{
			EnterpriseID: analytics.DefaultEnterpriseID,
			Timeout:      30 * time.Second,
		},
		Server: webhook.DefaultConfig(),
		Queue: QueueConfig{
			Backend:     QueueBackendMemory,
			RedisAddr:   "localhost:6379",
			QueueConfig: queues.DefaultQueueConfig(),
		},
		Workers: workers.DefaultConfig(),
		Pipeline: PipelineConfig{
			Deadline:       pipeline.DefaultDeadline,
			Threshold:      float64(selection.DefaultThreshold),
			SuggestionMode: string(suggestions.ModeStructured),
		},
		Extraction: extraction.DefaultConfig(),
		Database:   db.DefaultConfig(),
		Logging: LoggingConfig{
			Level:       string(logging.LevelInfo),
			JSON:        true,
			Environment: "production",
		},
		Output: DefaultOutputFormat,
	}
}

// ConfigDir returns the configuration directory path.
// Uses $BOXBRIDGE_CONFIG_DIR if set, otherwise ~/.boxbridge
func ConfigDir() (string, error) {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the default configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// Load reads the configuration. Later sources override earlier ones:
//  1. Default values
//  2. path, or $BOXBRIDGE_CONFIG_DIR/config.yaml when path is empty
//  3. .env in the working directory ($BOXBRIDGE_ENV_FILE overrides), which
//     never replaces variables already set in the environment
//  4. Environment variables
//
// Load does not validate; callers validate for the command they run.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		p, err := ConfigPath()
		if err != nil {
			return nil, fmt.Errorf("getting config path: %w", err)
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		cfg.Path = path
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	if err := loadFromEnv(cfg, os.LookupEnv); err != nil {
		return nil, bberrors.InvalidConfiguration(err)
	}

	return cfg, nil
}

// loadFromFile overlays a YAML file onto cfg.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Database == nil {
		cfg.Database = db.DefaultConfig()
	}
	return nil
}

func loadDotEnv() error {
	path := os.Getenv("BOXBRIDGE_ENV_FILE")
	if path == "" {
		path = DefaultEnvFile
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *Config, lookup lookupFunc) error {
	env := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	var errs []error
	setInt := func(key string, dst *int) {
		if v := env(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v := env(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := env(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	setString := func(key string, dst *string) {
		if v := env(key); v != "" {
			*dst = v
		}
	}

	setString(EnvBoxAPIToken, &cfg.Box.Token)
	setString("BOXBRIDGE_BOX_BASE_URL", &cfg.Box.BaseURL)
	setString("BOXBRIDGE_SCOPE", &cfg.Box.Scope)
	setBool("BOXBRIDGE_DEBUG", &cfg.Box.Debug)

	setString(EnvSalesforceEndpoint, &cfg.Analytics.Endpoint)
	setString(EnvSalesforceAccessToken, &cfg.Analytics.Token)
	if v := env("BOXBRIDGE_ENTERPRISE_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("BOXBRIDGE_ENTERPRISE_ID: %w", err))
		} else {
			cfg.Analytics.EnterpriseID = id
		}
	}

	setInt(EnvPort, &cfg.Server.Port)
	setString("BOXBRIDGE_HOST", &cfg.Server.Host)
	setString("BOXBRIDGE_WEBHOOK_PATH", &cfg.Server.Path)

	setString("BOXBRIDGE_QUEUE_BACKEND", &cfg.Queue.Backend)
	setString("BOXBRIDGE_REDIS_ADDR", &cfg.Queue.RedisAddr)
	setString("BOXBRIDGE_REDIS_PASSWORD", &cfg.Queue.RedisPassword)
	setInt("BOXBRIDGE_REDIS_DB", &cfg.Queue.RedisDB)
	setBool("BOXBRIDGE_PUBLISH_EVENTS", &cfg.Queue.PublishEvents)

	setInt("BOXBRIDGE_WORKERS", &cfg.Workers.Count)

	setDuration("BOXBRIDGE_DEADLINE", &cfg.Pipeline.Deadline)
	if v := env("BOXBRIDGE_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("BOXBRIDGE_THRESHOLD: %w", err))
		} else {
			cfg.Pipeline.Threshold = f
		}
	}
	setString("BOXBRIDGE_SUGGESTION_MODE", &cfg.Pipeline.SuggestionMode)
	setBool("BOXBRIDGE_ALL_TEMPLATES", &cfg.Extraction.AllTemplates)

	setString("BOXBRIDGE_DATABASE_URL", &cfg.Database.URL)

	setString("BOXBRIDGE_LOG_LEVEL", &cfg.Logging.Level)
	setBool("BOXBRIDGE_LOG_JSON", &cfg.Logging.JSON)
	setString("BOXBRIDGE_ENVIRONMENT", &cfg.Logging.Environment)

	if v := env("BOXBRIDGE_OUTPUT_FORMAT"); v != "" {
		cfg.Output = OutputFormat(v)
	}

	return errors.Join(errs...)
}

// ApplyCredentials fills tokens that the file and environment left empty
// from the encrypted credential store.
func (c *Config) ApplyCredentials(creds *credentials.Credentials) {
	if creds == nil {
		return
	}
	if c.Box.Token == "" {
		c.Box.Token = creds.BoxAPIToken
	}
	if c.Analytics.Token == "" {
		c.Analytics.Token = creds.SalesforceAccessToken
	}
}

// Validate checks everything serve needs. Missing settings are reported
// together as one Configuration error naming each variable.
func (c *Config) Validate() error {
	var missing []string
	if c.Box.Token == "" {
		missing = append(missing, EnvBoxAPIToken)
	}
	if c.Analytics.Endpoint == "" {
		missing = append(missing, EnvSalesforceEndpoint)
	}
	if c.Analytics.Token == "" {
		missing = append(missing, EnvSalesforceAccessToken)
	}
	if len(missing) > 0 {
		return bberrors.Configuration(missing...)
	}
	return c.validateSettings()
}

// ValidateBox checks the settings needed by commands that only talk to Box.
func (c *Config) ValidateBox() error {
	if c.Box.Token == "" {
		return bberrors.Configuration(EnvBoxAPIToken)
	}
	return c.validateSettings()
}

func (c *Config) validateSettings() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		errs = append(errs, fmt.Errorf("server.path %q must start with /", c.Server.Path))
	}
	switch c.Queue.Backend {
	case QueueBackendMemory:
	case QueueBackendRedis:
		if c.Queue.RedisAddr == "" {
			errs = append(errs, errors.New("queue.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown queue.backend %q (want memory or redis)", c.Queue.Backend))
	}
	if c.Workers.Count <= 0 {
		errs = append(errs, errors.New("workers.count must be positive"))
	}
	if c.Pipeline.Threshold < 0 || c.Pipeline.Threshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.threshold %v must be between 0 and 1", c.Pipeline.Threshold))
	}
	if _, err := suggestions.ParseMode(c.Pipeline.SuggestionMode); err != nil {
		errs = append(errs, err)
	}
	if c.Database.Enabled() {
		if err := c.Database.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if !c.Output.IsValid() {
		errs = append(errs, fmt.Errorf("invalid output format: %q (must be text, json, or yaml)", c.Output))
	}

	if len(errs) > 0 {
		return bberrors.InvalidConfiguration(errors.Join(errs...))
	}
	return nil
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON, OutputFormatYAML:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// ExpandPath expands ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}
