// Package config loads sceneplane configuration from an optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AlgorithmConfig describes one entry of the algorithm catalog.
type AlgorithmConfig struct {
	ID            string  `mapstructure:"id"`
	Name          string  `mapstructure:"name"`
	Version       string  `mapstructure:"version"`
	ServiceID     string  `mapstructure:"service_id"`
	MaxCloudCover float64 `mapstructure:"max_cloud_cover"`
	Command       string  `mapstructure:"command"`
}

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port for the controller
	HTTPPort int

	// Port of the worker's metrics/internal server
	WorkerMetricsPort int

	// Bounds time spent in ACTIVATING, measured from job creation
	ActivationTimeout time.Duration

	// Bounds total time before an unresponsive remote execution is declared failed
	JobTimeout time.Duration

	// Interval between reconciliation passes
	ReconcileInterval time.Duration

	// Jobs advanced in parallel within a pass
	ReconcileConcurrency int

	// Scene activation polling
	ActivationPollInterval time.Duration
	ActivationMaxAttempts  int
	ActivationConcurrency  int

	// Remote execution service
	ExecutionURL       string
	ExecutionAPIKey    string
	ExecutionRateLimit float64

	// Imagery broker
	BrokerURL string

	// Shared secret for internal endpoints; empty disables them
	SystemSecret string

	OTELEndpoint string
	LogLevel     string

	Algorithms []AlgorithmConfig
}

var envBindings = map[string]string{
	"database_url":             "DATABASE_URL",
	"port":                     "PORT",
	"worker_metrics_port":      "WORKER_METRICS_PORT",
	"activation_timeout":       "ACTIVATION_TIMEOUT",
	"job_timeout":              "JOB_TIMEOUT",
	"reconcile_interval":       "RECONCILE_INTERVAL",
	"reconcile_concurrency":    "RECONCILE_CONCURRENCY",
	"activation_poll_interval": "ACTIVATION_POLL_INTERVAL",
	"activation_max_attempts":  "ACTIVATION_MAX_ATTEMPTS",
	"activation_concurrency":   "ACTIVATION_CONCURRENCY",
	"execution_url":            "EXECUTION_URL",
	"execution_api_key":        "EXECUTION_API_KEY",
	"execution_rate_limit":     "EXECUTION_RATE_LIMIT",
	"broker_url":               "BROKER_URL",
	"system_secret":            "SYSTEM_SECRET",
	"otel_endpoint":            "OTEL_EXPORTER_OTLP_ENDPOINT",
	"log_level":                "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 6161)
	v.SetDefault("worker_metrics_port", 6162)
	v.SetDefault("activation_timeout", 30*time.Minute)
	v.SetDefault("job_timeout", 4*time.Hour)
	v.SetDefault("reconcile_interval", 30*time.Second)
	v.SetDefault("reconcile_concurrency", 4)
	v.SetDefault("activation_poll_interval", 10*time.Second)
	v.SetDefault("activation_max_attempts", 180)
	v.SetDefault("activation_concurrency", 16)
	v.SetDefault("execution_url", "http://localhost:8081")
	v.SetDefault("execution_rate_limit", 10.0)
	v.SetDefault("broker_url", "http://localhost:8082")
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("log_level", "info")
}

// Load reads configuration from path (or sceneplane.yaml in the working directory
// when path is empty) and lets environment variables override it.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sceneplane")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// An explicit path must exist; the default file is optional.
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{
		DatabaseURL:            v.GetString("database_url"),
		HTTPPort:               v.GetInt("port"),
		WorkerMetricsPort:      v.GetInt("worker_metrics_port"),
		ActivationTimeout:      v.GetDuration("activation_timeout"),
		JobTimeout:             v.GetDuration("job_timeout"),
		ReconcileInterval:      v.GetDuration("reconcile_interval"),
		ReconcileConcurrency:   v.GetInt("reconcile_concurrency"),
		ActivationPollInterval: v.GetDuration("activation_poll_interval"),
		ActivationMaxAttempts:  v.GetInt("activation_max_attempts"),
		ActivationConcurrency:  v.GetInt("activation_concurrency"),
		ExecutionURL:           strings.TrimSuffix(v.GetString("execution_url"), "/"),
		ExecutionAPIKey:        v.GetString("execution_api_key"),
		ExecutionRateLimit:     v.GetFloat64("execution_rate_limit"),
		BrokerURL:              strings.TrimSuffix(v.GetString("broker_url"), "/"),
		SystemSecret:           v.GetString("system_secret"),
		OTELEndpoint:           v.GetString("otel_endpoint"),
		LogLevel:               v.GetString("log_level"),
	}

	if err := v.UnmarshalKey("algorithms", &cfg.Algorithms); err != nil {
		return nil, fmt.Errorf("invalid algorithms: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the relations between options.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database_url is required (env: DATABASE_URL)")
	}
	if c.ActivationTimeout <= 0 {
		return fmt.Errorf("activation_timeout must be positive, got %v", c.ActivationTimeout)
	}
	if c.JobTimeout <= c.ActivationTimeout {
		return fmt.Errorf("job_timeout (%v) must exceed activation_timeout (%v)", c.JobTimeout, c.ActivationTimeout)
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile_interval must be positive, got %v", c.ReconcileInterval)
	}
	if c.ActivationPollInterval <= 0 {
		return fmt.Errorf("activation_poll_interval must be positive, got %v", c.ActivationPollInterval)
	}
	if c.ActivationMaxAttempts <= 0 {
		return fmt.Errorf("activation_max_attempts must be positive, got %d", c.ActivationMaxAttempts)
	}

	seen := make(map[string]bool, len(c.Algorithms))
	for _, a := range c.Algorithms {
		if a.ID == "" || a.ServiceID == "" {
			return fmt.Errorf("algorithm %q: id and service_id are required", a.Name)
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate algorithm id %q", a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}
