package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the bridge server. Every field
// has a default except DATABASE_URL, which is required to serve.
type Config struct {
	Port string `mapstructure:"PORT"`
	Host string `mapstructure:"HOST"`
	Env  string `mapstructure:"ENV"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	// Hard deadline for one interactive translate request.
	RequestDeadlineMS int `mapstructure:"REQUEST_DEADLINE_MS"`

	JobMaxConcurrent int `mapstructure:"JOB_MAX_CONCURRENT"`
	JobItemDelayMS   int `mapstructure:"JOB_ITEM_DELAY_MS"`
	JobRetentionMS   int `mapstructure:"JOB_RETENTION_MS"`

	EmbeddingDim   int    `mapstructure:"EMBEDDING_DIM"`
	GeminiAPIKey   string `mapstructure:"GEMINI_API_KEY"`
	EmbeddingModel string `mapstructure:"EMBEDDING_MODEL"`
	EmbedTimeoutMS int    `mapstructure:"EMBED_TIMEOUT_MS"`

	AnthropicAPIKey string `mapstructure:"ANTHROPIC_API_KEY"`
	LLMModel        string `mapstructure:"LLM_MODEL"`
	LLMTimeoutMS    int    `mapstructure:"LLM_TIMEOUT_MS"`

	WHOICDBaseURL   string `mapstructure:"WHO_ICD_BASE_URL"`
	WHOClientID     string `mapstructure:"WHO_CLIENT_ID"`
	WHOClientSecret string `mapstructure:"WHO_CLIENT_SECRET"`

	CacheMappingsSize   int `mapstructure:"CACHE_MAPPINGS_SIZE"`
	CacheEmbeddingsSize int `mapstructure:"CACHE_EMBEDDINGS_SIZE"`
	CacheSearchSize     int `mapstructure:"CACHE_SEARCH_SIZE"`
	CacheFHIRSize       int `mapstructure:"CACHE_FHIR_SIZE"`

	RateLimitEnabled bool   `mapstructure:"RATE_LIMIT_ENABLED"`
	WebhookSecret    string `mapstructure:"WEBHOOK_SECRET"`
	JWTSecret        string `mapstructure:"JWT_SECRET"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 25)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("REQUEST_DEADLINE_MS", 25000)
	v.SetDefault("JOB_MAX_CONCURRENT", 3)
	v.SetDefault("JOB_ITEM_DELAY_MS", 500)
	v.SetDefault("JOB_RETENTION_MS", 86400000)
	v.SetDefault("EMBEDDING_DIM", 768)
	v.SetDefault("EMBEDDING_MODEL", "gemini-embedding-001")
	v.SetDefault("EMBED_TIMEOUT_MS", 10000)
	v.SetDefault("LLM_MODEL", "claude-sonnet-4-5")
	v.SetDefault("LLM_TIMEOUT_MS", 15000)
	v.SetDefault("WHO_ICD_BASE_URL", "https://id.who.int")
	v.SetDefault("CACHE_MAPPINGS_SIZE", 5000)
	v.SetDefault("CACHE_EMBEDDINGS_SIZE", 2000)
	v.SetDefault("CACHE_SEARCH_SIZE", 1000)
	v.SetDefault("CACHE_FHIR_SIZE", 1000)
	v.SetDefault("RATE_LIMIT_ENABLED", true)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("HOST")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REQUEST_DEADLINE_MS")
	v.BindEnv("JOB_MAX_CONCURRENT")
	v.BindEnv("JOB_ITEM_DELAY_MS")
	v.BindEnv("JOB_RETENTION_MS")
	v.BindEnv("EMBEDDING_DIM")
	v.BindEnv("GEMINI_API_KEY")
	v.BindEnv("EMBEDDING_MODEL")
	v.BindEnv("EMBED_TIMEOUT_MS")
	v.BindEnv("ANTHROPIC_API_KEY")
	v.BindEnv("LLM_MODEL")
	v.BindEnv("LLM_TIMEOUT_MS")
	v.BindEnv("WHO_ICD_BASE_URL")
	v.BindEnv("WHO_CLIENT_ID")
	v.BindEnv("WHO_CLIENT_SECRET")
	v.BindEnv("CACHE_MAPPINGS_SIZE")
	v.BindEnv("CACHE_EMBEDDINGS_SIZE")
	v.BindEnv("CACHE_SEARCH_SIZE")
	v.BindEnv("CACHE_FHIR_SIZE")
	v.BindEnv("RATE_LIMIT_ENABLED")
	v.BindEnv("WEBHOOK_SECRET")
	v.BindEnv("JWT_SECRET")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// RequestDeadline returns the interactive translate deadline as a Duration.
func (c *Config) RequestDeadline() time.Duration {
	return time.Duration(c.RequestDeadlineMS) * time.Millisecond
}

// JobItemDelay returns the pause inserted between batch job items.
func (c *Config) JobItemDelay() time.Duration {
	return time.Duration(c.JobItemDelayMS) * time.Millisecond
}

// JobRetention returns how long terminal jobs are kept in memory.
func (c *Config) JobRetention() time.Duration {
	return time.Duration(c.JobRetentionMS) * time.Millisecond
}

// EmbedTimeout returns the inner timeout for a single embedder call.
func (c *Config) EmbedTimeout() time.Duration {
	return time.Duration(c.EmbedTimeoutMS) * time.Millisecond
}

// LLMTimeout returns the inner timeout for a single adjudicator call.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutMS) * time.Millisecond
}

// Validate checks that the configuration is safe to run. The external model
// keys are optional: without them the pipeline degrades to lexical retrieval
// and the adjudicator fallback, which is allowed. The inner model timeouts
// must stay below the request deadline so the outer 504 is almost never hit.
func (c *Config) Validate() error {
	if c.RequestDeadlineMS <= 0 {
		return fmt.Errorf("REQUEST_DEADLINE_MS must be positive, got %d", c.RequestDeadlineMS)
	}
	if c.EmbedTimeoutMS >= c.RequestDeadlineMS {
		return fmt.Errorf("EMBED_TIMEOUT_MS (%d) must be below REQUEST_DEADLINE_MS (%d)", c.EmbedTimeoutMS, c.RequestDeadlineMS)
	}
	if c.LLMTimeoutMS >= c.RequestDeadlineMS {
		return fmt.Errorf("LLM_TIMEOUT_MS (%d) must be below REQUEST_DEADLINE_MS (%d)", c.LLMTimeoutMS, c.RequestDeadlineMS)
	}
	if c.JobMaxConcurrent <= 0 {
		return fmt.Errorf("JOB_MAX_CONCURRENT must be positive, got %d", c.JobMaxConcurrent)
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("EMBEDDING_DIM must be positive, got %d", c.EmbeddingDim)
	}
	return nil
}
