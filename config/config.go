package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the article workflow service
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Sources    SourcesConfig    `mapstructure:"sources"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Knowledge  KnowledgeConfig  `mapstructure:"knowledge"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Storage    StorageConfig    `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"` // text or json
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
	// MaxConcurrentRuns bounds workflow runs started through the API.
	MaxConcurrentRuns int `mapstructure:"max_concurrent_runs"`
}

// LLMConfig contains LLM provider configurations and the tier routing.
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Tiers     LLMTiersConfig         `mapstructure:"tiers"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type    string        `mapstructure:"type"` // openai, anthropic
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// EmbeddingModel is used by providers that can embed (openai).
	EmbeddingModel string `mapstructure:"embedding_model"`
}

// LLMTier routes one model tier to a configured provider.
type LLMTier struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMTiersConfig distinguishes generation/judgment from short tasks.
type LLMTiersConfig struct {
	High LLMTier `mapstructure:"high"`
	Low  LLMTier `mapstructure:"low"`
}

// Validate checks every tier points at a configured provider.
func (c LLMConfig) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("llm.providers must not be empty")
	}
	for name, p := range c.Providers {
		switch p.Type {
		case "openai", "anthropic":
		default:
			return fmt.Errorf("llm.providers.%s: unsupported type %q", name, p.Type)
		}
	}
	for label, tier := range map[string]LLMTier{"high": c.Tiers.High, "low": c.Tiers.Low} {
		if _, ok := c.Providers[tier.Provider]; !ok {
			return fmt.Errorf("llm.tiers.%s.provider %q not configured", label, tier.Provider)
		}
		if strings.TrimSpace(tier.Model) == "" {
			return fmt.Errorf("llm.tiers.%s.model required", label)
		}
	}
	return nil
}

// TelemetryConfig contains tracing settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// SourcesConfig contains web search and page fetch configuration
type SourcesConfig struct {
	WebSearch WebSearchConfig `mapstructure:"web_search"`
	WebFetch  WebFetchConfig  `mapstructure:"web_fetch"`
}

// WebSearchConfig contains web search settings
type WebSearchConfig struct {
	Provider     string        `mapstructure:"provider"` // tavily, serper, brave
	TavilyAPIKey string        `mapstructure:"tavily_api_key"`
	SerperAPIKey string        `mapstructure:"serper_api_key"`
	BraveAPIKey  string        `mapstructure:"brave_api_key"`
	MaxResults   int           `mapstructure:"max_results"`
	Timeout      time.Duration `mapstructure:"timeout"`
	// Qualifier is appended to the brief keywords to keep results in-domain.
	Qualifier     string `mapstructure:"qualifier"`
	DomainProfile string `mapstructure:"domain_profile"`
	// ProfilesFile overrides the embedded domain profile definitions.
	ProfilesFile string `mapstructure:"profiles_file"`
	// RequestsPerSecond throttles outbound search calls; 0 disables.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	// Endpoint overrides the provider's search URL (proxies, tests).
	Endpoint string `mapstructure:"endpoint"`
}

// Validate checks the selected provider has credentials.
func (w WebSearchConfig) Validate() error {
	switch w.Provider {
	case "tavily":
		if w.TavilyAPIKey == "" {
			return fmt.Errorf("sources.web_search.tavily_api_key required for provider tavily")
		}
	case "serper":
		if w.SerperAPIKey == "" {
			return fmt.Errorf("sources.web_search.serper_api_key required for provider serper")
		}
	case "brave":
		if w.BraveAPIKey == "" {
			return fmt.Errorf("sources.web_search.brave_api_key required for provider brave")
		}
	default:
		return fmt.Errorf("sources.web_search.provider %q unsupported", w.Provider)
	}
	return nil
}

// WebFetchConfig controls headless fetching of competitor pages.
type WebFetchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxChars int           `mapstructure:"max_chars"`
	MaxPages int           `mapstructure:"max_pages"`
}

// RubricConfig holds the review category ceilings. They must sum to 100.
type RubricConfig struct {
	TargetAppeal           int `mapstructure:"target_appeal"`
	LogicalStructure       int `mapstructure:"logical_structure"`
	SEOFitness             int `mapstructure:"seo_fitness"`
	StructuralCompleteness int `mapstructure:"structural_completeness"`
}

// Total returns the sum of all ceilings.
func (r RubricConfig) Total() int {
	return r.TargetAppeal + r.LogicalStructure + r.SEOFitness + r.StructuralCompleteness
}

// BlendConfig holds the weight given to the deterministic measurement in a
// hybrid category; the LLM judgment receives the remainder.
type BlendConfig struct {
	StructuralDeterministic float64 `mapstructure:"structural_deterministic"`
	SEOQuantitative         float64 `mapstructure:"seo_quantitative"`
}

// KeywordDensityConfig describes the ideal keyword density band in percent.
type KeywordDensityConfig struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

// RetryConfig configures the shared retry policy for external calls.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

// WorkflowConfig holds the orchestration and scoring constants.
type WorkflowConfig struct {
	PassThreshold  int                  `mapstructure:"pass_threshold"`
	RevisionBudget int                  `mapstructure:"revision_budget"`
	Rubric         RubricConfig         `mapstructure:"rubric"`
	Blend          BlendConfig          `mapstructure:"blend"`
	KeywordDensity KeywordDensityConfig `mapstructure:"keyword_density"`
	Retry          RetryConfig          `mapstructure:"retry"`
	TitleCount     int                  `mapstructure:"title_count"`
	// EnrichmentEnabled turns on image/link decoration after drafting.
	EnrichmentEnabled bool `mapstructure:"enrichment_enabled"`
}

// DefaultWorkflowConfig returns the stock scoring and loop constants.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		PassThreshold:  80,
		RevisionBudget: 3,
		Rubric: RubricConfig{
			TargetAppeal:           25,
			LogicalStructure:       30,
			SEOFitness:             25,
			StructuralCompleteness: 20,
		},
		Blend: BlendConfig{
			StructuralDeterministic: 0.6,
			SEOQuantitative:         0.4,
		},
		KeywordDensity: KeywordDensityConfig{Min: 1.0, Max: 3.0},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 2 * time.Second,
			MaxInterval:     10 * time.Second,
			Multiplier:      2,
		},
		TitleCount: 5,
	}
}

// Normalize fills unset values from DefaultWorkflowConfig.
func (c WorkflowConfig) Normalize() WorkflowConfig {
	def := DefaultWorkflowConfig()
	if c.PassThreshold <= 0 {
		c.PassThreshold = def.PassThreshold
	}
	if c.Rubric.Total() == 0 {
		c.Rubric = def.Rubric
	}
	if c.Blend.StructuralDeterministic == 0 && c.Blend.SEOQuantitative == 0 {
		c.Blend = def.Blend
	}
	if c.KeywordDensity.Max <= 0 {
		c.KeywordDensity = def.KeywordDensity
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if c.Retry.InitialInterval <= 0 {
		c.Retry.InitialInterval = def.Retry.InitialInterval
	}
	if c.Retry.MaxInterval <= 0 {
		c.Retry.MaxInterval = def.Retry.MaxInterval
	}
	if c.Retry.Multiplier <= 1 {
		c.Retry.Multiplier = def.Retry.Multiplier
	}
	if c.TitleCount <= 0 {
		c.TitleCount = def.TitleCount
	}
	return c
}

// Validate ensures the scoring constants are coherent.
func (c WorkflowConfig) Validate() error {
	if c.RevisionBudget < 0 {
		return fmt.Errorf("workflow.revision_budget cannot be negative")
	}
	if c.PassThreshold <= 0 || c.PassThreshold > 100 {
		return fmt.Errorf("workflow.pass_threshold must be within 1..100")
	}
	r := c.Rubric
	if r.TargetAppeal < 0 || r.LogicalStructure < 0 || r.SEOFitness < 0 || r.StructuralCompleteness < 0 {
		return fmt.Errorf("workflow.rubric ceilings cannot be negative")
	}
	if r.Total() != 100 {
		return fmt.Errorf("workflow.rubric ceilings must sum to 100, got %d", r.Total())
	}
	for name, w := range map[string]float64{
		"structural_deterministic": c.Blend.StructuralDeterministic,
		"seo_quantitative":         c.Blend.SEOQuantitative,
	} {
		if math.IsNaN(w) || w < 0 || w > 1 {
			return fmt.Errorf("workflow.blend.%s must be within [0,1]", name)
		}
	}
	if c.KeywordDensity.Min < 0 || c.KeywordDensity.Max <= c.KeywordDensity.Min {
		return fmt.Errorf("workflow.keyword_density requires 0 <= min < max")
	}
	return nil
}

// KnowledgeConfig controls the internal knowledge lookup.
type KnowledgeConfig struct {
	Backend    string `mapstructure:"backend"` // bleve or pgvector
	Collection string `mapstructure:"collection"`
	DocsDir    string `mapstructure:"docs_dir"`
	TopK       int    `mapstructure:"top_k"`
	// ReindexCron schedules periodic re-seeding of DocsDir; empty disables.
	ReindexCron string `mapstructure:"reindex_cron"`
	ChunkSize   int    `mapstructure:"chunk_size"`
}

// Validate checks the knowledge backend selection.
func (k KnowledgeConfig) Validate() error {
	switch k.Backend {
	case "bleve", "pgvector":
	default:
		return fmt.Errorf("knowledge.backend %q unsupported", k.Backend)
	}
	if k.TopK <= 0 {
		return fmt.Errorf("knowledge.top_k must be > 0")
	}
	return nil
}

// EnrichmentConfig configures the best-effort decoration services.
type EnrichmentConfig struct {
	UnsplashAccessKey string        `mapstructure:"unsplash_access_key"`
	PexelsAPIKey      string        `mapstructure:"pexels_api_key"`
	ImagesPerPrompt   int           `mapstructure:"images_per_prompt"`
	MaxLinks          int           `mapstructure:"max_links"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Enabled reports whether a redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

func setDefaults(v *viper.Viper) {
	def := DefaultWorkflowConfig()
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.log_format", "text")
	v.SetDefault("general.default_timeout", 60*time.Second)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.max_concurrent_runs", 4)
	v.SetDefault("llm.tiers.high.temperature", 0.7)
	v.SetDefault("llm.tiers.low.temperature", 0.3)
	v.SetDefault("telemetry.service_name", "articleflow")
	v.SetDefault("sources.web_search.provider", "tavily")
	v.SetDefault("sources.web_search.max_results", 5)
	v.SetDefault("sources.web_search.timeout", 20*time.Second)
	v.SetDefault("sources.web_search.qualifier", "FP&A budget management")
	v.SetDefault("sources.web_search.domain_profile", "balanced")
	v.SetDefault("sources.web_fetch.enabled", false)
	v.SetDefault("sources.web_fetch.timeout", 30*time.Second)
	v.SetDefault("sources.web_fetch.max_chars", 20000)
	v.SetDefault("sources.web_fetch.max_pages", 3)
	v.SetDefault("workflow.pass_threshold", def.PassThreshold)
	v.SetDefault("workflow.revision_budget", def.RevisionBudget)
	v.SetDefault("workflow.rubric.target_appeal", def.Rubric.TargetAppeal)
	v.SetDefault("workflow.rubric.logical_structure", def.Rubric.LogicalStructure)
	v.SetDefault("workflow.rubric.seo_fitness", def.Rubric.SEOFitness)
	v.SetDefault("workflow.rubric.structural_completeness", def.Rubric.StructuralCompleteness)
	v.SetDefault("workflow.blend.structural_deterministic", def.Blend.StructuralDeterministic)
	v.SetDefault("workflow.blend.seo_quantitative", def.Blend.SEOQuantitative)
	v.SetDefault("workflow.keyword_density.min", def.KeywordDensity.Min)
	v.SetDefault("workflow.keyword_density.max", def.KeywordDensity.Max)
	v.SetDefault("workflow.retry.max_attempts", def.Retry.MaxAttempts)
	v.SetDefault("workflow.retry.initial_interval", def.Retry.InitialInterval)
	v.SetDefault("workflow.retry.max_interval", def.Retry.MaxInterval)
	v.SetDefault("workflow.retry.multiplier", def.Retry.Multiplier)
	v.SetDefault("workflow.title_count", def.TitleCount)
	v.SetDefault("workflow.enrichment_enabled", true)
	v.SetDefault("knowledge.backend", "bleve")
	v.SetDefault("knowledge.collection", "knowledge_base")
	v.SetDefault("knowledge.docs_dir", "./knowledge")
	v.SetDefault("knowledge.top_k", 5)
	v.SetDefault("knowledge.chunk_size", 1200)
	v.SetDefault("enrichment.images_per_prompt", 3)
	v.SetDefault("enrichment.max_links", 5)
	v.SetDefault("enrichment.timeout", 10*time.Second)
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", 5*time.Second)
	v.SetDefault("storage.redis.ttl", 24*time.Hour)
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.postgres.timeout", 10*time.Second)
}

// LoadConfig loads config from file and ARTICLEFLOW_* environment variables.
// A missing config file is not an error when path is empty.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("ARTICLEFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Workflow = cfg.Workflow.Normalize()

	if err := cfg.Workflow.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Knowledge.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Redis.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
