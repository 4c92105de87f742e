package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Geocode    GeocodeConfig    `yaml:"geocode" mapstructure:"geocode"`
	Research   ResearchConfig   `yaml:"research" mapstructure:"research"`
	Jobs       JobsConfig       `yaml:"jobs" mapstructure:"jobs"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings for the extraction passes.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
}

// GeocodeConfig configures the name geocoder.
type GeocodeConfig struct {
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	DefaultLat    float64 `yaml:"default_lat" mapstructure:"default_lat"`
	DefaultLon    float64 `yaml:"default_lon" mapstructure:"default_lon"`
}

// ResearchConfig configures the deep-research orchestrator and provider
// adapter. The confidence constants are pinned; changing them is a product
// decision, not a tuning knob.
type ResearchConfig struct {
	Provider                string   `yaml:"provider" mapstructure:"provider"`
	FallbackModels          []string `yaml:"fallback_models" mapstructure:"fallback_models"`
	QueryTimeoutSecs        int      `yaml:"query_timeout_secs" mapstructure:"query_timeout_secs"`
	SlowQueryTimeoutSecs    int      `yaml:"slow_query_timeout_secs" mapstructure:"slow_query_timeout_secs"`
	RetryDelaySecs          int      `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
	MaxResearchChars        int      `yaml:"max_research_chars" mapstructure:"max_research_chars"`
	CircuitFailureThreshold int      `yaml:"circuit_failure_threshold" mapstructure:"circuit_failure_threshold"`
	CircuitResetSecs        int      `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// QueryTimeout returns the per-call timeout for standard models.
func (c ResearchConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSecs) * time.Second
}

// SlowQueryTimeout returns the per-call timeout for high-cost models.
func (c ResearchConfig) SlowQueryTimeout() time.Duration {
	return time.Duration(c.SlowQueryTimeoutSecs) * time.Second
}

// JobsConfig configures the job queue and processor.
type JobsConfig struct {
	MaxConcurrent     int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	DispatchDelayMs   int `yaml:"dispatch_delay_ms" mapstructure:"dispatch_delay_ms"`
	HeartbeatSecs     int `yaml:"heartbeat_secs" mapstructure:"heartbeat_secs"`
	StaleAfterMins    int `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
	ReadTimeoutSecs   int `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
	StreamTimeoutSecs int `yaml:"stream_timeout_secs" mapstructure:"stream_timeout_secs"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PORTRESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "port-research.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.rate_per_second", 1.0)
	v.SetDefault("geocode.timeout_secs", 30)
	// Default fallback point: Port of Rotterdam.
	v.SetDefault("geocode.default_lat", 51.9244)
	v.SetDefault("geocode.default_lon", 4.4777)
	v.SetDefault("research.provider", "perplexity")
	v.SetDefault("research.fallback_models", []string{"sonar", "sonar-reasoning"})
	v.SetDefault("research.query_timeout_secs", 240)
	v.SetDefault("research.slow_query_timeout_secs", 360)
	v.SetDefault("research.retry_delay_secs", 2)
	v.SetDefault("research.max_research_chars", 60000)
	v.SetDefault("research.circuit_failure_threshold", 5)
	v.SetDefault("research.circuit_reset_secs", 30)
	v.SetDefault("jobs.max_concurrent", 2)
	v.SetDefault("jobs.dispatch_delay_ms", 1000)
	v.SetDefault("jobs.heartbeat_secs", 30)
	v.SetDefault("jobs.stale_after_mins", 10)
	v.SetDefault("jobs.read_timeout_secs", 360)
	v.SetDefault("jobs.stream_timeout_secs", 600)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
