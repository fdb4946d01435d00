// Package config handles configuration loading for NewsPulse.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	yaml "go.yaml.in/yaml/v3"
)

// Config represents the complete application configuration.
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"       yaml:"llm"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"   yaml:"fetcher"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"  yaml:"analysis"`
	Localize  LocalizeConfig  `mapstructure:"localize"  yaml:"localize"`
	Storage   StorageConfig   `mapstructure:"storage"   yaml:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Query     QueryConfig     `mapstructure:"query"     yaml:"query"`
	API       APIConfig       `mapstructure:"api"       yaml:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"   yaml:"logging"`
}

// LLMConfig holds generation provider configuration.
type LLMConfig struct {
	Primary     string  `mapstructure:"primary"     yaml:"primary"` // "gemini" or "openai"
	GeminiKey   string  `mapstructure:"gemini_key"  yaml:"gemini_key"`
	OpenAIKey   string  `mapstructure:"openai_key"  yaml:"openai_key"`
	Model       string  `mapstructure:"model"       yaml:"model"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"  yaml:"max_tokens"`
}

// FetcherConfig holds article fetching settings.
type FetcherConfig struct {
	MaxArticles    int `mapstructure:"max_articles"     yaml:"max_articles"`
	MaxAgeDays     int `mapstructure:"max_age_days"     yaml:"max_age_days"`
	RequestsPerSec int `mapstructure:"requests_per_sec" yaml:"requests_per_sec"`
}

// AnalysisConfig holds analysis engine settings.
type AnalysisConfig struct {
	MaxAttempts     int `mapstructure:"max_attempts"      yaml:"max_attempts"`
	MaxArticleChars int `mapstructure:"max_article_chars" yaml:"max_article_chars"`
	FanOut          int `mapstructure:"fan_out"           yaml:"fan_out"` // concurrent per-article analyses
}

// LocalizeConfig holds translation and speech synthesis settings.
type LocalizeConfig struct {
	Enabled     bool   `mapstructure:"enabled"      yaml:"enabled"`
	Language    string `mapstructure:"language"     yaml:"language"` // target language code, e.g. "hi"
	MaxAttempts int    `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// StorageConfig holds the durable storage layout.
type StorageConfig struct {
	Root        string `mapstructure:"root"         yaml:"root"`         // root data directory
	CompanyFile string `mapstructure:"company_file" yaml:"company_file"` // CSV company list
}

// SchedulerConfig holds background run scheduling settings.
type SchedulerConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes" yaml:"interval_minutes"`
	MaxConcurrent   int `mapstructure:"max_concurrent"   yaml:"max_concurrent"`
}

// QueryConfig holds QueryAnswerer settings.
type QueryConfig struct {
	MaxExcerpts int    `mapstructure:"max_excerpts" yaml:"max_excerpts"`
	RecentSize  int    `mapstructure:"recent_size"  yaml:"recent_size"`
	ValkeyAddr  string `mapstructure:"valkey_addr"  yaml:"valkey_addr"` // optional external cache
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format" yaml:"format"` // "text" or "json"
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.newspulse/config.yaml (home directory)
//  3. /etc/newspulse/config.yaml (system)
//
// A .env file in the working directory is loaded first if present.
// Environment variables override config file values.
// Format: NEWSPULSE_<SECTION>_<KEY>, e.g., NEWSPULSE_LLM_GEMINI_KEY
func Load() (*Config, error) {
	_ = gotenv.Load() // .env is optional

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".newspulse"))
	v.AddConfigPath("/etc/newspulse")

	v.SetEnvPrefix("NEWSPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found — that's fine, use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	_ = gotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("NEWSPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// LLM defaults
	v.SetDefault("llm.primary", "gemini")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2048)

	// Fetcher defaults
	v.SetDefault("fetcher.max_articles", 10)
	v.SetDefault("fetcher.max_age_days", 30)
	v.SetDefault("fetcher.requests_per_sec", 2)

	// Analysis defaults
	v.SetDefault("analysis.max_attempts", 3)
	v.SetDefault("analysis.max_article_chars", 5000)
	v.SetDefault("analysis.fan_out", 4)

	// Localization defaults
	v.SetDefault("localize.enabled", true)
	v.SetDefault("localize.language", "hi")
	v.SetDefault("localize.max_attempts", 3)

	// Storage defaults
	v.SetDefault("storage.root", "./data")
	v.SetDefault("storage.company_file", "./data/companies.csv")

	// Scheduler defaults
	v.SetDefault("scheduler.interval_minutes", 360)
	v.SetDefault("scheduler.max_concurrent", 3)

	// Query defaults
	v.SetDefault("query.max_excerpts", 8)
	v.SetDefault("query.recent_size", 50)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
// Credential values are read here and must never be logged.
func overrideFromEnv(cfg *Config) {
	if key := os.Getenv("NEWSPULSE_LLM_GEMINI_KEY"); key != "" {
		cfg.LLM.GeminiKey = key
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" && cfg.LLM.GeminiKey == "" {
		cfg.LLM.GeminiKey = key
	}
	if key := os.Getenv("NEWSPULSE_LLM_OPENAI_KEY"); key != "" {
		cfg.LLM.OpenAIKey = key
	}
	if addr := os.Getenv("NEWSPULSE_QUERY_VALKEY_ADDR"); addr != "" {
		cfg.Query.ValkeyAddr = addr
	}
}

// ConfigFilePath returns the path the loader reads first and SaveToFile
// writes by default.
func ConfigFilePath() string {
	return filepath.Join("config", "config.yaml")
}

// SaveToFile writes the configuration as YAML. Credential values are
// stripped before writing; keys live in the environment, not on disk.
func SaveToFile(cfg *Config, path string) error {
	out := *cfg
	out.LLM.GeminiKey = ""
	out.LLM.OpenAIKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// Sanitized returns a copy of the configuration safe to expose over the
// API: credential fields are replaced with a mask.
func (c *Config) Sanitized() Config {
	out := *c
	if out.LLM.GeminiKey != "" {
		out.LLM.GeminiKey = maskKey(out.LLM.GeminiKey)
	}
	if out.LLM.OpenAIKey != "" {
		out.LLM.OpenAIKey = maskKey(out.LLM.OpenAIKey)
	}
	return out
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
