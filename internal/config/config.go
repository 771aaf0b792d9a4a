package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/unipost/unipost/internal/tracing"
)

// Config holds the full service configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Search    SearchConfig    `mapstructure:"search"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Tracing   tracing.Config  `mapstructure:"tracing"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port        int           `mapstructure:"port"`
	MetricsPort int           `mapstructure:"metrics_port"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// RateLimit is per-user generation requests per second; Burst caps spikes.
	RateLimit float64 `mapstructure:"rate_limit"`
	Burst     int     `mapstructure:"burst"`
}

type SearchConfig struct {
	URL      string        `mapstructure:"url"`
	Index    string        `mapstructure:"index"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Size     int           `mapstructure:"size"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type EmbeddingConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	DefaultModel string        `mapstructure:"default_model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	MaxLRU       int           `mapstructure:"max_lru"`
}

type LLMConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	DefaultModel string        `mapstructure:"default_model"`
	MaxTokens    int           `mapstructure:"max_tokens"`
	Temperature  float64       `mapstructure:"temperature"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

type WebhookConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxElapsed time.Duration `mapstructure:"max_elapsed"`
}

type AuthConfig struct {
	SigningKey   string         `mapstructure:"signing_key"`
	AccessExpiry time.Duration  `mapstructure:"access_expiry"`
	SkipAuth     bool           `mapstructure:"skip_auth"`
	APIKeys      []APIKeyConfig `mapstructure:"api_keys"`
}

// APIKeyConfig is a statically configured machine credential
type APIKeyConfig struct {
	Key      string `mapstructure:"key"`
	Username string `mapstructure:"username"`
	Role     string `mapstructure:"role"`
}

// PipelineConfig carries the tunable knobs of the generation pipeline.
// These are hot-reloadable via the Watcher.
type PipelineConfig struct {
	TopK           int           `mapstructure:"top_k"`
	ContextBudget  int           `mapstructure:"context_budget"`
	SearchCacheTTL time.Duration `mapstructure:"search_cache_ttl"`
	MinSimilarity  float64       `mapstructure:"min_similarity"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads the service configuration from CONFIG_PATH (default
// /app/config/unipost.yaml), applying UNIPOST_* environment overrides.
// A missing file is not an error; defaults plus env apply.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "/app/config/unipost.yaml"
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	v.SetEnvPrefix("UNIPOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(cfgPath); statErr == nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 2112)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.rate_limit", 1.0)
	v.SetDefault("server.burst", 3)

	v.SetDefault("search.url", "http://localhost:9200")
	v.SetDefault("search.index", "unipost_content")
	v.SetDefault("search.size", 10)
	v.SetDefault("search.timeout", 30*time.Second)

	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.default_model", "text-embedding-3-small")
	v.SetDefault("embedding.timeout", 5*time.Second)
	v.SetDefault("embedding.cache_ttl", time.Hour)
	v.SetDefault("embedding.max_lru", 2048)

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.default_model", "gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 1000)
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.timeout", 30*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "unipost")
	v.SetDefault("database.database", "unipost")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.max_elapsed", 2*time.Minute)

	v.SetDefault("auth.access_expiry", time.Hour)

	v.SetDefault("pipeline.top_k", 5)
	v.SetDefault("pipeline.context_budget", 6000)
	v.SetDefault("pipeline.search_cache_ttl", 30*time.Minute)
	v.SetDefault("pipeline.min_similarity", 0.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// DSN returns the Postgres connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)
}
