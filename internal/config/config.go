package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/exec-email-agent/")
	v.AddConfigPath("$HOME/.exec-email-agent")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("EMAIL_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// LLM provider defaults
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.backoff_base", "1s")
	v.SetDefault("llm.backoff_max", "8s")
	v.SetDefault("llm.backoff_jitter", "250ms")
	v.SetDefault("llm.min_interval", "500ms")

	// Bedrock defaults
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("bedrock.model_id", "anthropic.claude-v2")
	v.SetDefault("bedrock.max_tokens", 1000)
	v.SetDefault("bedrock.temperature", 0.1)
	v.SetDefault("bedrock.top_p", 0.9)
	v.SetDefault("bedrock.max_body_size", 4096)

	// Gemini defaults
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-pro")
	v.SetDefault("gemini.max_tokens", 1000)
	v.SetDefault("gemini.temperature", 0.1)
	v.SetDefault("gemini.top_p", 0.9)
	v.SetDefault("gemini.max_body_size", 4096)

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model_name", "gpt-4")
	v.SetDefault("openai.max_tokens", 1000)
	v.SetDefault("openai.temperature", 0.1)
	v.SetDefault("openai.top_p", 0.9)
	v.SetDefault("openai.max_body_size", 4096)

	// Decision engine defaults
	v.SetDefault("decision.draft_auto_threshold", 0.65)
	v.SetDefault("decision.review_task_threshold", 0.60)
	v.SetDefault("decision.review_threshold", 0.45)
	v.SetDefault("decision.draft_min_final_score", 0.55)
	v.SetDefault("decision.max_behavior_influence", 0.40)
	v.SetDefault("decision.full_behavior_at_samples", 25)
	v.SetDefault("decision.low_sample_invariant_limit", 8)
	v.SetDefault("decision.clear_ignore_confidence", 0.90)
	v.SetDefault("decision.muted_domains", []string{})

	// Retry queue defaults
	v.SetDefault("retry.max_attempts", 8)
	v.SetDefault("retry.base_delay", "15s")
	v.SetDefault("retry.max_delay", "1h")
	v.SetDefault("retry.batch_size", 10)
	v.SetDefault("retry.interval", "30s")

	// Store defaults
	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.sqlite_path", "/data/email_agent.db")
	v.SetDefault("store.mysql_dsn", "user:password@tcp(localhost:3306)/email_agent")

	// Collaborator defaults
	v.SetDefault("gmail.credentials_file", "")
	v.SetDefault("calendar.credentials_file", "")
	v.SetDefault("calendar.id", "primary")

	// Intake defaults
	v.SetDefault("intake.enabled", true)
	v.SetDefault("intake.listen_address", "0.0.0.0:10025")
	v.SetDefault("intake.process_timeout", "60s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	return time.ParseDuration(c.GetString(key))
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
