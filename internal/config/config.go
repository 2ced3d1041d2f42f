// Package config provides unified configuration for the postgate server and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted by BackendConfig.Provider.
const (
	ProviderOpenAICompatible = "openai_compatible"
	ProviderGemini           = "gemini"
	ProviderMock             = "mock"
)

// PII policy names.
const (
	PolicyBaseline = "baseline"
	PolicyEnhanced = "enhanced"
)

// Analytics layouts.
const (
	LayoutPerEvent = "per_event"
	LayoutDaily    = "daily"
)

// Config holds the unified configuration for postgate.
type Config struct {
	// DataDir is the base directory for all local files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	HTTP       HTTPConfig       `json:"http" yaml:"http"`
	Backend    BackendConfig    `json:"backend" yaml:"backend"`
	Generation GenerationConfig `json:"generation" yaml:"generation"`
	Budget     BudgetConfig     `json:"budget" yaml:"budget"`
	PII        PIIConfig        `json:"pii" yaml:"pii"`
	Similarity SimilarityConfig `json:"similarity" yaml:"similarity"`
	Analytics  AnalyticsConfig  `json:"analytics" yaml:"analytics"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	Export     ExportConfig     `json:"export" yaml:"export"`
}

// LoggingConfig controls the zerolog output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is json or console
	Format string `json:"format" yaml:"format"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// MaxUploadBytes caps multipart PDF uploads
	MaxUploadBytes int64 `json:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// BackendConfig configures the chat-completion backend.
type BackendConfig struct {
	// Provider is openai_compatible, gemini or mock
	Provider string `json:"provider" yaml:"provider"`

	// BaseURL is the OpenAI-compatible API root
	BaseURL string `json:"base_url" yaml:"base_url"`

	// APIKey is normally supplied through the environment
	APIKey string `json:"api_key" yaml:"api_key"`

	// Referer and Title are sent as HTTP-Referer and X-Title when set
	Referer string `json:"referer" yaml:"referer"`
	Title   string `json:"title" yaml:"title"`

	GenerationModel   string `json:"generation_model" yaml:"generation_model"`
	SummaryModel      string `json:"summary_model" yaml:"summary_model"`
	VerificationModel string `json:"verification_model" yaml:"verification_model"`

	// Timeout bounds every backend round trip
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxConcurrency bounds in-flight backend calls across all requests
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`
}

// GenerationConfig holds the post generator parameters.
type GenerationConfig struct {
	BaseTemperature float64 `json:"base_temperature" yaml:"base_temperature"`
	TemperatureStep float64 `json:"temperature_step" yaml:"temperature_step"`
	TopP            float64 `json:"top_p" yaml:"top_p"`
	MaxTokens       int     `json:"max_tokens" yaml:"max_tokens"`

	// MaxAttempts is the attempt cap before a request is exhausted
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// AcceptFirstAttempt hard-accepts attempt 0 regardless of similarity
	AcceptFirstAttempt bool `json:"accept_first_attempt" yaml:"accept_first_attempt"`

	MinContentChars  int `json:"min_content_chars" yaml:"min_content_chars"`
	MinContentTokens int `json:"min_content_tokens" yaml:"min_content_tokens"`

	// TokenizerModel selects the tiktoken encoding used for estimates.
	// Empty means the generation model; ids tiktoken does not know fall
	// back to the character heuristic without fetching anything.
	TokenizerModel string `json:"tokenizer_model" yaml:"tokenizer_model"`
}

// BudgetConfig holds the token budget and summarization constants.
type BudgetConfig struct {
	MaxTotalTokens         int     `json:"max_total_tokens" yaml:"max_total_tokens"`
	ReservedResponseTokens int     `json:"reserved_response_tokens" yaml:"reserved_response_tokens"`
	SummaryInputChars      int     `json:"summary_input_chars" yaml:"summary_input_chars"`
	SummaryMaxTokens       int     `json:"summary_max_tokens" yaml:"summary_max_tokens"`
	SummaryTemperature     float64 `json:"summary_temperature" yaml:"summary_temperature"`
	FallbackPrefixChars    int     `json:"fallback_prefix_chars" yaml:"fallback_prefix_chars"`
}

// PIIConfig configures detection.
type PIIConfig struct {
	// Policy is baseline or enhanced
	Policy string `json:"policy" yaml:"policy"`

	Threshold         float64 `json:"threshold" yaml:"threshold"`
	EnhancedThreshold float64 `json:"enhanced_threshold" yaml:"enhanced_threshold"`

	// Verify sends the shortlist to the verification model
	Verify bool `json:"verify" yaml:"verify"`

	// Entities restricts the statistical path; empty means all
	Entities []string `json:"entities" yaml:"entities"`
}

// SimilarityConfig configures the similarity gate.
type SimilarityConfig struct {
	Threshold   float64 `json:"threshold" yaml:"threshold"`
	HistorySize int     `json:"history_size" yaml:"history_size"`
}

// AnalyticsConfig configures the analytics log.
type AnalyticsConfig struct {
	// Layout is per_event or daily
	Layout string `json:"layout" yaml:"layout"`

	// Prefix is the object key prefix under the storage root
	Prefix string `json:"prefix" yaml:"prefix"`

	// FetchConcurrency is the number of partitions fetched in parallel
	FetchConcurrency int `json:"fetch_concurrency" yaml:"fetch_concurrency"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket   string `json:"bucket" yaml:"bucket"`
	Region   string `json:"region" yaml:"region"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// CacheConfig sizes the summary cache.
type CacheConfig struct {
	Enabled  bool  `json:"enabled" yaml:"enabled"`
	MaxBytes int64 `json:"max_bytes" yaml:"max_bytes"`
}

// ExportConfig configures post export.
type ExportConfig struct {
	Dir string `json:"dir" yaml:"dir"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/postgate",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   5 * time.Minute,
			IdleTimeout:    120 * time.Second,
			MaxUploadBytes: 20 << 20,
		},
		Backend: BackendConfig{
			Provider:          ProviderOpenAICompatible,
			BaseURL:           "https://openrouter.ai/api/v1",
			Title:             "PDF to Social Media Post Generator",
			GenerationModel:   "mistralai/mistral-small-3.2-24b-instruct:free",
			SummaryModel:      "mistralai/mistral-small-3.2-24b-instruct:free",
			VerificationModel: "mistralai/mistral-small-3.2-24b-instruct:free",
			Timeout:           60 * time.Second,
			MaxConcurrency:    8,
		},
		Generation: GenerationConfig{
			BaseTemperature:  0.7,
			TemperatureStep:  0.1,
			TopP:             0.85,
			MaxTokens:        3000,
			MaxAttempts:      5,
			MinContentChars:  300,
			MinContentTokens: 100,
		},
		Budget: BudgetConfig{
			MaxTotalTokens:         32000,
			ReservedResponseTokens: 3000,
			SummaryInputChars:      80000,
			SummaryMaxTokens:       4000,
			SummaryTemperature:     0.5,
			FallbackPrefixChars:    1000,
		},
		PII: PIIConfig{
			Policy:            PolicyEnhanced,
			Threshold:         0.8,
			EnhancedThreshold: 0.65,
		},
		Similarity: SimilarityConfig{
			Threshold:   0.85,
			HistorySize: 10,
		},
		Analytics: AnalyticsConfig{
			Layout:           LayoutPerEvent,
			Prefix:           "analytics_logs",
			FetchConcurrency: 4,
		},
		Storage: StorageConfig{
			Type: "local",
		},
		Cache: CacheConfig{
			Enabled:  true,
			MaxBytes: 16 << 20,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/postgate"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Export.Dir == "" {
		c.Export.Dir = filepath.Join(c.DataDir, "exports")
	}
	if c.Backend.SummaryModel == "" {
		c.Backend.SummaryModel = c.Backend.GenerationModel
	}
	if c.Backend.VerificationModel == "" {
		c.Backend.VerificationModel = c.Backend.GenerationModel
	}
	if c.Generation.TokenizerModel == "" {
		c.Generation.TokenizerModel = c.Backend.GenerationModel
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Backend.Provider {
	case ProviderOpenAICompatible:
		if c.Backend.BaseURL == "" {
			return fmt.Errorf("backend.base_url is required for provider %s", c.Backend.Provider)
		}
	case ProviderGemini, ProviderMock:
	default:
		return fmt.Errorf("invalid backend provider: %s (must be openai_compatible, gemini or mock)", c.Backend.Provider)
	}
	if c.Backend.GenerationModel == "" && c.Backend.Provider != ProviderMock {
		return fmt.Errorf("backend.generation_model is required")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive, got %s", c.Backend.Timeout)
	}
	if c.Backend.MaxConcurrency < 1 {
		return fmt.Errorf("backend.max_concurrency must be at least 1, got %d", c.Backend.MaxConcurrency)
	}

	g := c.Generation
	if g.MaxAttempts < 1 {
		return fmt.Errorf("generation.max_attempts must be at least 1, got %d", g.MaxAttempts)
	}
	if g.BaseTemperature < 0 || g.TemperatureStep < 0 {
		return fmt.Errorf("generation temperatures must be non-negative")
	}
	if maxT := g.BaseTemperature + g.TemperatureStep*float64(g.MaxAttempts-1); maxT > 2 {
		return fmt.Errorf("generation temperature reaches %.2f on the last attempt (max 2)", maxT)
	}
	if g.TopP <= 0 || g.TopP > 1 {
		return fmt.Errorf("generation.top_p must be in (0, 1], got %v", g.TopP)
	}
	if g.MaxTokens < 1 {
		return fmt.Errorf("generation.max_tokens must be positive")
	}

	b := c.Budget
	if b.MaxTotalTokens-b.ReservedResponseTokens <= 0 {
		return fmt.Errorf("budget.max_total_tokens must exceed budget.reserved_response_tokens")
	}
	if b.SummaryInputChars < 1 || b.SummaryMaxTokens < 1 || b.FallbackPrefixChars < 1 {
		return fmt.Errorf("budget summary limits must be positive")
	}

	switch c.PII.Policy {
	case PolicyBaseline, PolicyEnhanced:
	default:
		return fmt.Errorf("invalid pii policy: %s (must be baseline or enhanced)", c.PII.Policy)
	}
	if !inUnitRange(c.PII.Threshold) || !inUnitRange(c.PII.EnhancedThreshold) {
		return fmt.Errorf("pii thresholds must be in [0, 1]")
	}

	if !inUnitRange(c.Similarity.Threshold) {
		return fmt.Errorf("similarity.threshold must be in [0, 1], got %v", c.Similarity.Threshold)
	}
	if c.Similarity.HistorySize < 0 {
		return fmt.Errorf("similarity.history_size must not be negative")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	switch c.Analytics.Layout {
	case LayoutPerEvent:
	case LayoutDaily:
		if c.Storage.Type == "s3" {
			return fmt.Errorf("analytics layout daily needs appendable storage; use per_event with s3")
		}
	default:
		return fmt.Errorf("invalid analytics layout: %s (must be per_event or daily)", c.Analytics.Layout)
	}
	if c.Analytics.FetchConcurrency < 1 {
		return fmt.Errorf("analytics.fetch_concurrency must be at least 1")
	}

	return nil
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the POSTGATE_ prefix. The backend key also
// falls back to OPENROUTER_API_KEY and GEMINI_API_KEY.
func LoadFromEnv(cfg *Config) {
	setString(&cfg.DataDir, "POSTGATE_DATA_DIR")

	setString(&cfg.Logging.Level, "POSTGATE_LOG_LEVEL")
	setString(&cfg.Logging.Format, "POSTGATE_LOG_FORMAT")

	setString(&cfg.HTTP.Addr, "POSTGATE_HTTP_ADDR")

	// Backend configuration
	setString(&cfg.Backend.Provider, "POSTGATE_BACKEND_PROVIDER")
	setString(&cfg.Backend.BaseURL, "POSTGATE_BACKEND_BASE_URL")
	setString(&cfg.Backend.GenerationModel, "POSTGATE_BACKEND_GENERATION_MODEL")
	setString(&cfg.Backend.SummaryModel, "POSTGATE_BACKEND_SUMMARY_MODEL")
	setString(&cfg.Backend.VerificationModel, "POSTGATE_BACKEND_VERIFICATION_MODEL")
	setString(&cfg.Backend.Referer, "POSTGATE_BACKEND_REFERER")
	setString(&cfg.Backend.Title, "POSTGATE_BACKEND_TITLE")
	setDuration(&cfg.Backend.Timeout, "POSTGATE_BACKEND_TIMEOUT")
	setInt(&cfg.Backend.MaxConcurrency, "POSTGATE_BACKEND_MAX_CONCURRENCY")
	for _, key := range []string{"POSTGATE_BACKEND_API_KEY", "OPENROUTER_API_KEY", "GEMINI_API_KEY"} {
		if v := os.Getenv(key); v != "" {
			cfg.Backend.APIKey = v
			break
		}
	}

	// Generation configuration
	setFloat(&cfg.Generation.BaseTemperature, "POSTGATE_GENERATION_BASE_TEMPERATURE")
	setFloat(&cfg.Generation.TemperatureStep, "POSTGATE_GENERATION_TEMPERATURE_STEP")
	setInt(&cfg.Generation.MaxAttempts, "POSTGATE_GENERATION_MAX_ATTEMPTS")
	setBool(&cfg.Generation.AcceptFirstAttempt, "POSTGATE_GENERATION_ACCEPT_FIRST_ATTEMPT")
	setString(&cfg.Generation.TokenizerModel, "POSTGATE_TOKENIZER_MODEL")

	// PII configuration
	setString(&cfg.PII.Policy, "POSTGATE_PII_POLICY")
	setBool(&cfg.PII.Verify, "POSTGATE_PII_VERIFY")

	// Similarity configuration
	setFloat(&cfg.Similarity.Threshold, "POSTGATE_SIMILARITY_THRESHOLD")
	setInt(&cfg.Similarity.HistorySize, "POSTGATE_SIMILARITY_HISTORY_SIZE")

	// Analytics and storage configuration
	setString(&cfg.Analytics.Layout, "POSTGATE_ANALYTICS_LAYOUT")
	setString(&cfg.Analytics.Prefix, "POSTGATE_ANALYTICS_PREFIX")
	setString(&cfg.Storage.Type, "POSTGATE_STORAGE_TYPE")
	setString(&cfg.Storage.Path, "POSTGATE_STORAGE_PATH")
	setString(&cfg.Storage.S3.Bucket, "POSTGATE_S3_BUCKET")
	setString(&cfg.Storage.S3.Region, "POSTGATE_S3_REGION")
	setString(&cfg.Storage.S3.Endpoint, "POSTGATE_S3_ENDPOINT")

	setBool(&cfg.Cache.Enabled, "POSTGATE_CACHE_ENABLED")
	setString(&cfg.Export.Dir, "POSTGATE_EXPORT_DIR")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.Export.Dir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
