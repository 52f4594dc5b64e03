// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.adjutant/config.yaml)
//  3. Default values
//
// Security: the API key is never logged; Config masks it in MarshalJSON and
// String. Validation fails fast with sentinel errors checkable via
// errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/adjutant-ai/adjutant/internal/openai"
)

var (
	// ErrMissingAPIKey indicates no completion-endpoint API key is set.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrMissingWebhookURL indicates no webhook backend URL is set.
	ErrMissingWebhookURL = errors.New("missing webhook URL")

	// ErrInvalidTemperature indicates the temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxRetries indicates a negative retry budget.
	ErrInvalidMaxRetries = errors.New("invalid max retries")

	// ErrInvalidHistoryLimit indicates the history limit is not positive.
	ErrInvalidHistoryLimit = errors.New("invalid history limit")
)

// User-facing guidance for the two settings nothing works without.
const (
	MissingAPIKeyGuidance     = "No API key configured. Set OPENAI_API_KEY or add openai_api_key to ~/.adjutant/config.yaml."
	MissingWebhookURLGuidance = "No webhook URL configured. Set ADJUTANT_WEBHOOK_URL or add webhook_url to ~/.adjutant/config.yaml."
)

// Config stores application configuration.
// SECURITY: OpenAIAPIKey is masked in MarshalJSON.
type Config struct {
	OpenAIAPIKey string `mapstructure:"openai_api_key" json:"openai_api_key"` // SENSITIVE: masked in MarshalJSON
	WebhookURL   string `mapstructure:"webhook_url" json:"webhook_url"`

	Model       string  `mapstructure:"model" json:"model"`
	BaseURL     string  `mapstructure:"base_url" json:"base_url"`
	Temperature float64 `mapstructure:"temperature" json:"temperature"`

	MaxRetries     int           `mapstructure:"max_retries" json:"max_retries"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout"`

	HistoryLimit int    `mapstructure:"history_limit" json:"history_limit"`
	SnapshotPath string `mapstructure:"snapshot_path" json:"snapshot_path"`

	LogLevel string `mapstructure:"log_level" json:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".adjutant")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("model", openai.DefaultModel)
	v.SetDefault("base_url", openai.DefaultBaseURL)
	v.SetDefault("temperature", openai.DefaultTemperature)
	v.SetDefault("max_retries", 2)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("history_limit", 30)
	v.SetDefault("snapshot_path", filepath.Join(configDir, "conversation.json"))
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// bindEnvVariables binds environment overrides. The API key uses the
// conventional provider variable; everything else carries the app prefix.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key string, envVars ...string) {
		if err := v.BindEnv(append([]string{key}, envVars...)...); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q: %v", key, err))
		}
	}

	mustBind("openai_api_key", "OPENAI_API_KEY", "ADJUTANT_OPENAI_API_KEY")
	mustBind("webhook_url", "ADJUTANT_WEBHOOK_URL")
	mustBind("model", "ADJUTANT_MODEL")
	mustBind("base_url", "ADJUTANT_BASE_URL")
	mustBind("log_level", "ADJUTANT_LOG_LEVEL")
	mustBind("snapshot_path", "ADJUTANT_SNAPSHOT_PATH")
}

// Validate checks the configuration, fail-fast.
func (c *Config) Validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("%w: %s", ErrMissingAPIKey, MissingAPIKeyGuidance)
	}
	if c.WebhookURL == "" {
		return fmt.Errorf("%w: %s", ErrMissingWebhookURL, MissingWebhookURLGuidance)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (must be between 0 and 2)", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: %d (must not be negative)", ErrInvalidMaxRetries, c.MaxRetries)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("%w: %d (must be positive)", ErrInvalidHistoryLimit, c.HistoryLimit)
	}
	return nil
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging: short secrets mask fully,
// longer ones keep the first and last two characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with the API key masked.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.OpenAIAPIKey = maskSecret(a.OpenAIAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of the key.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
