// Package config loads the lodestone configuration from a TOML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config is the application configuration.
type Config struct {
	DBPath    string          `toml:"db_path"`
	Ollama    OllamaConfig    `toml:"ollama"`
	Index     IndexConfig     `toml:"index"`
	Search    SearchConfig    `toml:"search"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Logging   LoggingConfig   `toml:"logging"`
}

type OllamaConfig struct {
	URL               string  `toml:"url" validate:"required,url"`
	Model             string  `toml:"model" validate:"required"`
	Dim               int     `toml:"dim" validate:"gt=0"`
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"gte=0"`
}

type IndexConfig struct {
	Workers   int      `toml:"workers" validate:"gte=0"`
	MaxTokens int      `toml:"max_tokens" validate:"gt=0"`
	Includes  []string `toml:"includes"`
	Schedule  string   `toml:"schedule"` // cron expression, empty = run once
}

type SearchConfig struct {
	TopK           int     `toml:"top_k" validate:"gt=0"`
	ScoreThreshold float64 `toml:"score_threshold" validate:"gte=0"`
}

type TelemetryConfig struct {
	PrometheusURL   string `toml:"prometheus_url" validate:"omitempty,url"`
	AlertmanagerURL string `toml:"alertmanager_url" validate:"omitempty,url"`
	LokiURL         string `toml:"loki_url" validate:"omitempty,url"`
	CacheTTL        string `toml:"cache_ttl"` // e.g. "30s"
}

// CacheTTLDuration parses the telemetry cache TTL, defaulting to 30s.
func (t TelemetryConfig) CacheTTLDuration() time.Duration {
	d, err := time.ParseDuration(t.CacheTTL)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

type LoggingConfig struct {
	Level string `toml:"level" validate:"oneof=trace debug info warn error"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DBPath: ".lodestone/index.db",
		Ollama: OllamaConfig{
			URL:               "http://localhost:11434",
			Model:             "nomic-embed-text",
			Dim:               768,
			RequestsPerSecond: 0,
		},
		Index: IndexConfig{
			Workers:   0, // 0 = NumCPU
			MaxTokens: 512,
		},
		Search: SearchConfig{
			TopK:           8,
			ScoreThreshold: 0.3,
		},
		Telemetry: TelemetryConfig{
			CacheTTL: "30s",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the TOML file at path (missing file is fine when path is the
// default), applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults + env only
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnv honors the environment names the original indexing job used,
// plus LODESTONE_* for the rest.
func applyEnv(cfg *Config) {
	setString(&cfg.Ollama.URL, "OLLAMA_URL")
	setString(&cfg.Ollama.Model, "EMBEDDING_MODEL")
	setString(&cfg.DBPath, "LODESTONE_DB")
	setString(&cfg.Index.Schedule, "LODESTONE_SCHEDULE")
	setString(&cfg.Telemetry.PrometheusURL, "PROMETHEUS_URL")
	setString(&cfg.Telemetry.AlertmanagerURL, "ALERTMANAGER_URL")
	setString(&cfg.Telemetry.LokiURL, "LOKI_URL")
	setString(&cfg.Logging.Level, "LODESTONE_LOG_LEVEL")
	setInt(&cfg.Index.MaxTokens, "CHUNK_MAX_TOKENS")
	setInt(&cfg.Index.Workers, "LODESTONE_WORKERS")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
