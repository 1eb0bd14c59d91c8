// Package config provides unified configuration loading for the service.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	AzureAI       AzureAIConfig       `yaml:"azure_ai"`
	Search        SearchConfig        `yaml:"search"`
	Resilience    ResilienceConfig    `yaml:"resilience"`
	Cache         CacheConfig         `yaml:"cache"`
	HTTPClients   HTTPClientsConfig   `yaml:"http_clients"`
	WebSearch     WebSearchConfig     `yaml:"websearch"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator"`
	Ingestion     IngestionConfig     `yaml:"ingestion"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	RequestDeadline  time.Duration `yaml:"request_deadline"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// AzureAIConfig holds remote AI provider endpoints and model settings.
type AzureAIConfig struct {
	OpenAIEndpoint          string       `yaml:"openai_endpoint"`
	OpenAIAPIKey            string       `yaml:"openai_api_key"`
	SearchEndpoint          string       `yaml:"search_endpoint"`
	SearchAPIKey            string       `yaml:"search_api_key"`
	DocIntelligenceEndpoint string       `yaml:"doc_intelligence_endpoint"`
	DocIntelligenceAPIKey   string       `yaml:"doc_intelligence_api_key"`
	Models                  ModelsConfig `yaml:"models"`
}

// ModelsConfig names the deployed models.
type ModelsConfig struct {
	Chat        string  `yaml:"chat"`
	Embedding   string  `yaml:"embedding"`
	Planner     string  `yaml:"planner"`
	Vision      string  `yaml:"vision"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// SearchConfig holds index settings.
type SearchConfig struct {
	IndexName             string `yaml:"index_name"`
	BatchSize             int    `yaml:"batch_size"`
	MaxSearchResults      int    `yaml:"max_search_results"`
	EnableHybridSearch    bool   `yaml:"enable_hybrid_search"`
	EnableSemanticRanking bool   `yaml:"enable_semantic_ranking"`
	VectorDimension       int    `yaml:"vector_dimension"`
}

// ResilienceConfig holds circuit breaker and retry settings.
type ResilienceConfig struct {
	CircuitBreaker map[string]BreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig              `yaml:"retry"`
	Fallback       FallbackConfig           `yaml:"fallback"`
}

// BreakerConfig configures one named circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	BreakDuration    time.Duration `yaml:"break_duration"`
}

// RetryConfig configures the shared retry policy.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// FallbackConfig configures fallback behavior.
type FallbackConfig struct {
	CacheExpiration time.Duration `yaml:"cache_expiration"`
}

// CacheConfig holds query cache settings.
type CacheConfig struct {
	Driver            string        `yaml:"driver"` // memory or redis
	DefaultDuration   time.Duration `yaml:"default_duration"`
	MaxEntries        int           `yaml:"max_entries"`
	MemoryLimitMB     int           `yaml:"memory_limit_mb"`
	EnableCompression bool          `yaml:"enable_compression"`
	Redis             RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// HTTPClientsConfig bounds the shared outbound HTTP transports.
type HTTPClientsConfig struct {
	MaxConnsPerEndpoint int           `yaml:"max_conns_per_endpoint"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	PooledLifetime      time.Duration `yaml:"pooled_lifetime"`
	EnableHTTP2         bool          `yaml:"enable_http2"`
}

// WebSearchConfig holds web search facade settings.
type WebSearchConfig struct {
	Endpoint       string   `yaml:"endpoint"`
	APIKey         string   `yaml:"api_key"`
	RatePerSecond  float64  `yaml:"rate_per_second"`
	Burst          int      `yaml:"burst"`
	AllowedDomains []string `yaml:"allowed_domains"`
	BlockedDomains []string `yaml:"blocked_domains"`
	ContentBudget  int      `yaml:"content_budget"`
}

// OrchestratorConfig holds orchestration settings.
type OrchestratorConfig struct {
	MaxConcurrentCalls   int           `yaml:"max_concurrent_calls"`
	ProcessCallLimit     int64         `yaml:"process_call_limit"`
	AgentTimeout         time.Duration `yaml:"agent_timeout"`
	RerankAgentWeight    float64       `yaml:"rerank_agent_weight"`
	RerankSemanticWeight float64       `yaml:"rerank_semantic_weight"`
	SynthesisSnippets    int           `yaml:"synthesis_snippets"`
}

// IngestionConfig holds processor settings.
type IngestionConfig struct {
	CSVDelimiter       string  `yaml:"csv_delimiter"`
	CSVHasHeader       bool    `yaml:"csv_has_header"`
	MaxRows            int     `yaml:"max_rows"`
	MaxColumns         int     `yaml:"max_columns"`
	ChunkSize          int     `yaml:"chunk_size"`
	PreserveRelational bool    `yaml:"preserve_relational_integrity"`
	MergeThreshold     float64 `yaml:"merge_threshold"`
	SplitThreshold     float64 `yaml:"split_threshold"`
	MaxChunkTokens     int     `yaml:"max_chunk_tokens"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      120 * time.Second,
			RequestDeadline:  60 * time.Second,
			GracefulShutdown: 10 * time.Second,
		},
		AzureAI: AzureAIConfig{
			Models: ModelsConfig{
				Chat:        "gpt-4o",
				Embedding:   "text-embedding-3-large",
				Planner:     "gpt-4o-mini",
				Vision:      "gpt-4o",
				MaxTokens:   2048,
				Temperature: 0.2,
			},
		},
		Search: SearchConfig{
			IndexName:             "motorcycle-unified-v1",
			BatchSize:             250,
			MaxSearchResults:      50,
			EnableHybridSearch:    true,
			EnableSemanticRanking: true,
			VectorDimension:       3072,
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: map[string]BreakerConfig{
				"openai.chat":      {FailureThreshold: 5, BreakDuration: 30 * time.Second},
				"openai.embed":     {FailureThreshold: 5, BreakDuration: 30 * time.Second},
				"search.query":     {FailureThreshold: 5, BreakDuration: 30 * time.Second},
				"search.upsert":    {FailureThreshold: 5, BreakDuration: 30 * time.Second},
				"docintel.analyze": {FailureThreshold: 3, BreakDuration: 60 * time.Second},
				"websearch.fetch":  {FailureThreshold: 5, BreakDuration: 30 * time.Second},
			},
			Retry: RetryConfig{
				MaxRetries: 3,
				BaseDelay:  time.Second,
				MaxDelay:   30 * time.Second,
			},
			Fallback: FallbackConfig{
				CacheExpiration: 10 * time.Minute,
			},
		},
		Cache: CacheConfig{
			Driver:          "memory",
			DefaultDuration: 30 * time.Minute,
			MaxEntries:      10000,
			MemoryLimitMB:   256,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
			},
		},
		HTTPClients: HTTPClientsConfig{
			MaxConnsPerEndpoint: 32,
			ConnectTimeout:      5 * time.Second,
			RequestTimeout:      30 * time.Second,
			PooledLifetime:      5 * time.Minute,
			EnableHTTP2:         true,
		},
		WebSearch: WebSearchConfig{
			RatePerSecond: 5,
			Burst:         10,
			ContentBudget: 4000,
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentCalls:   8,
			ProcessCallLimit:     64,
			AgentTimeout:         30 * time.Second,
			RerankAgentWeight:    0.7,
			RerankSemanticWeight: 0.3,
			SynthesisSnippets:    10,
		},
		Ingestion: IngestionConfig{
			CSVDelimiter:       ",",
			CSVHasHeader:       true,
			MaxRows:            10000,
			MaxColumns:         150,
			ChunkSize:          50,
			PreserveRelational: true,
			MergeThreshold:     0.85,
			SplitThreshold:     0.35,
			MaxChunkTokens:     1200,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Search.BatchSize <= 0 {
		return fmt.Errorf("search batch_size must be positive")
	}

	if c.Search.MaxSearchResults <= 0 {
		return fmt.Errorf("search max_search_results must be positive")
	}

	if c.AzureAI.Models.Temperature < 0 || c.AzureAI.Models.Temperature > 2 {
		return fmt.Errorf("model temperature must be in [0,2]")
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if w := c.Orchestrator.RerankAgentWeight + c.Orchestrator.RerankSemanticWeight; w <= 0 {
		return fmt.Errorf("rerank weights must sum to a positive value")
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v := os.Getenv("AZURE_OPENAI_ENDPOINT"); v != "" {
		cfg.AzureAI.OpenAIEndpoint = v
	}

	if v := os.Getenv("AZURE_OPENAI_API_KEY"); v != "" {
		cfg.AzureAI.OpenAIAPIKey = v
	}

	if v := os.Getenv("AZURE_SEARCH_ENDPOINT"); v != "" {
		cfg.AzureAI.SearchEndpoint = v
	}

	if v := os.Getenv("AZURE_SEARCH_API_KEY"); v != "" {
		cfg.AzureAI.SearchAPIKey = v
	}

	if v := os.Getenv("AZURE_DOCINTEL_ENDPOINT"); v != "" {
		cfg.AzureAI.DocIntelligenceEndpoint = v
	}

	if v := os.Getenv("AZURE_DOCINTEL_API_KEY"); v != "" {
		cfg.AzureAI.DocIntelligenceAPIKey = v
	}

	if v := os.Getenv("WEBSEARCH_ENDPOINT"); v != "" {
		cfg.WebSearch.Endpoint = v
	}

	if v := os.Getenv("WEBSEARCH_API_KEY"); v != "" {
		cfg.WebSearch.APIKey = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = trimScheme(v, "redis://")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

func trimScheme(v, scheme string) string {
	if len(v) >= len(scheme) && v[:len(scheme)] == scheme {
		return v[len(scheme):]
	}
	return v
}
