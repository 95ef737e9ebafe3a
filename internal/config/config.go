// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.zonda/config.yaml)
//  3. Default values (sensible defaults for quick start)
//
// Main configuration categories:
//   - AI: generation model, embedder model, sampling parameters
//   - Auth: JWT secrets and token lifetimes
//   - Retrieval: top-k and over-fetch tuning for the vector index
//   - Server: CORS origins, proxy trust
//   - Tracing: OTLP trace export (see internal/observability)
//
// Security: sensitive fields (JWT secrets) are never logged; the config
// directory uses 0750 permissions.
//
// Error Handling:
//   - Uses sentinel errors for Go-idiomatic error checking with errors.Is()
//   - Wrap with context using fmt.Errorf("%w: details", ErrXxx)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbeddingDimension indicates the requested embedding dimension is invalid.
	ErrInvalidEmbeddingDimension = errors.New("invalid embedding dimension")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidTopP indicates the top_p value is out of range.
	ErrInvalidTopP = errors.New("invalid top_p")

	// ErrInvalidMaxTokens indicates the max output tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max output tokens")

	// ErrMissingTokenSecret indicates a required JWT signing secret is not set.
	ErrMissingTokenSecret = errors.New("missing token secret")

	// ErrInvalidTokenSecret indicates a JWT signing secret is too short.
	ErrInvalidTokenSecret = errors.New("invalid token secret")

	// ErrReusedTokenSecret indicates the access and refresh secrets are identical.
	ErrReusedTokenSecret = errors.New("access and refresh secrets must differ")

	// ErrInvalidTokenTTL indicates a token lifetime is out of range.
	ErrInvalidTokenTTL = errors.New("invalid token lifetime")

	// ErrInvalidTopK indicates the retrieval top_k is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top_k")

	// ErrInvalidOverfetch indicates the retrieval over-fetch factor is out of range.
	ErrInvalidOverfetch = errors.New("invalid retrieval over-fetch factor")

	// ErrInvalidEnvironment indicates the environment name is not recognized.
	ErrInvalidEnvironment = errors.New("invalid environment")
)

const (
	// DefaultGenerationModel is the default Gemini generation model.
	DefaultGenerationModel = "gemini-2.0-flash"

	// DefaultGeminiEmbedderModel is the default Gemini embedder model.
	// gemini-embedding-001 outputs 3072 dimensions by default and supports
	// truncation via OutputDimensionality (Matryoshka Representation Learning).
	DefaultGeminiEmbedderModel = "gemini-embedding-001"

	// googleAIPrefix qualifies bare model names for the Genkit GoogleAI plugin.
	googleAIPrefix = "googleai/"
)

// Deployment environment identifiers used in Config.Environment.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// AuthConfig holds JWT signing secrets and token lifetimes.
// SECURITY: Secrets are masked in MarshalJSON.
type AuthConfig struct {
	// AccessSecret signs access tokens (HS256). SENSITIVE: masked in MarshalJSON.
	AccessSecret string `mapstructure:"access_secret" json:"access_secret" sensitive:"true"`
	// RefreshSecret signs refresh tokens (HS256). Must differ from AccessSecret.
	// SENSITIVE: masked in MarshalJSON.
	RefreshSecret string `mapstructure:"refresh_secret" json:"refresh_secret" sensitive:"true"`
	// AccessTTLMinutes is the access token lifetime in minutes (default: 30).
	AccessTTLMinutes int `mapstructure:"access_ttl_minutes" json:"access_ttl_minutes"`
	// RefreshTTLDays is the refresh token lifetime in days (default: 7).
	RefreshTTLDays int `mapstructure:"refresh_ttl_days" json:"refresh_ttl_days"`
}

// MarshalJSON implements json.Marshaler with secret masking.
func (a AuthConfig) MarshalJSON() ([]byte, error) {
	type alias AuthConfig
	m := alias(a)
	m.AccessSecret = maskSecret(m.AccessSecret)
	m.RefreshSecret = maskSecret(m.RefreshSecret)
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal auth config: %w", err)
	}
	return data, nil
}

// RetrievalConfig tunes the vector index search.
type RetrievalConfig struct {
	// TopK is the number of role-visible documents returned per search (default: 3).
	TopK int `mapstructure:"top_k" json:"top_k"`
	// OverfetchFactor multiplies TopK for the pre-filter candidate pool
	// (default: 3). The index fetches min(TopK*OverfetchFactor, corpus size)
	// candidates before applying the role filter.
	OverfetchFactor int `mapstructure:"overfetch_factor" json:"overfetch_factor"`
}

// TracingConfig holds OTLP trace export configuration.
// Tracing is disabled when Endpoint is empty.
type TracingConfig struct {
	// Endpoint is the OTLP HTTP collector endpoint (e.g., "localhost:4318").
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	// Environment is the deployment environment tag (default: dev)
	Environment string `mapstructure:"environment" json:"environment"`
	// ServiceName is the service name reported on exported spans (default: zonda)
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, API keys, tokens), update
// the owning struct's MarshalJSON.
type Config struct {
	// Environment selects deployment behavior ("development" or "production").
	// Production enables HSTS on HTTPS responses.
	Environment string `mapstructure:"environment" json:"environment"`

	// AI model configuration
	ModelName          string  `mapstructure:"model_name" json:"model_name"`         // generation model (e.g., "gemini-2.0-flash")
	EmbedderModel      string  `mapstructure:"embedder_model" json:"embedder_model"` // embedding model (e.g., "gemini-embedding-001")
	EmbeddingDimension int32   `mapstructure:"embedding_dimension" json:"embedding_dimension"`
	Temperature        float32 `mapstructure:"temperature" json:"temperature"`
	TopP               float32 `mapstructure:"top_p" json:"top_p"`
	MaxOutputTokens    int     `mapstructure:"max_output_tokens" json:"max_output_tokens"`

	// DataDir holds the index snapshot files. Empty resolves to ~/.zonda.
	DataDir string `mapstructure:"data_dir" json:"data_dir"`

	// Subsystem configuration
	Auth      AuthConfig      `mapstructure:"auth" json:"auth"`
	Retrieval RetrievalConfig `mapstructure:"retrieval" json:"retrieval"`
	Tracing   TracingConfig   `mapstructure:"tracing" json:"tracing"`

	// Server configuration (serve mode only)
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For headers (set true behind reverse proxy)
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	// Configuration directory: ~/.zonda/
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".zonda")

	// Ensure directory exists (use 0750 permission for better security)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	// Configure Viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".") // Also support current directory

	setDefaults()
	bindEnvVariables()

	// Read configuration file (if exists)
	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	// Use Unmarshal to automatically map to struct (type-safe)
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = configDir
	}

	// CRITICAL: Validate immediately (fail-fast)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	viper.SetDefault("environment", EnvDevelopment)

	// AI defaults (sampling tuned for factual grounded answers)
	viper.SetDefault("model_name", DefaultGenerationModel)
	viper.SetDefault("embedder_model", DefaultGeminiEmbedderModel)
	viper.SetDefault("embedding_dimension", 0) // 0 = provider default
	viper.SetDefault("temperature", 0.2)
	viper.SetDefault("top_p", 0.8)
	viper.SetDefault("max_output_tokens", 1024)

	// Auth defaults (secrets have no defaults; they must be provided)
	viper.SetDefault("auth.access_ttl_minutes", 30)
	viper.SetDefault("auth.refresh_ttl_days", 7)

	// Retrieval defaults
	viper.SetDefault("retrieval.top_k", 3)
	viper.SetDefault("retrieval.overfetch_factor", 3)

	// CORS defaults (local frontend dev servers)
	viper.SetDefault("cors_origins", []string{"http://localhost:3000", "http://127.0.0.1:3000"})

	// Proxy trust (default: false, safe for direct exposure; set true behind reverse proxy)
	viper.SetDefault("trust_proxy", false)

	// Tracing defaults (disabled until an endpoint is configured)
	viper.SetDefault("tracing.endpoint", "")
	viper.SetDefault("tracing.environment", "dev")
	viper.SetDefault("tracing.service_name", "zonda")
}

// bindEnvVariables binds environment variable overrides explicitly.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail)
	// If this panics, it's a BUG in our code, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	// JWT secrets and lifetimes
	mustBind("auth.access_secret", "JWT_SECRET_KEY")
	mustBind("auth.refresh_secret", "JWT_REFRESH_SECRET_KEY")
	mustBind("auth.access_ttl_minutes", "ACCESS_TOKEN_EXPIRE_MINUTES")
	mustBind("auth.refresh_ttl_days", "REFRESH_TOKEN_EXPIRE_DAYS")

	// Deployment and model overrides
	mustBind("environment", "ZONDA_ENV")
	mustBind("model_name", "ZONDA_MODEL")
	mustBind("embedder_model", "ZONDA_EMBEDDER_MODEL")
	mustBind("embedding_dimension", "ZONDA_EMBEDDING_DIMENSION")
	mustBind("data_dir", "ZONDA_DATA_DIR")

	// Retrieval tuning
	mustBind("retrieval.top_k", "ZONDA_TOP_K")
	mustBind("retrieval.overfetch_factor", "ZONDA_OVERFETCH_FACTOR")

	// Server overrides
	mustBind("cors_origins", "ZONDA_CORS_ORIGINS")
	mustBind("trust_proxy", "ZONDA_TRUST_PROXY")

	// Tracing
	mustBind("tracing.endpoint", "ZONDA_OTLP_ENDPOINT")

	// NOTE: GEMINI_API_KEY is read directly by Genkit, not via Viper.
	// Validation checks its presence in cfg.Validate().
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid substring matching against real secret
// characters; "****" and "[REDACTED]" both leak when the secret contains
// the placeholder's characters.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked to prevent substring
// matching; longer secrets keep the first and last 2 characters for debug
// utility. This defends against accidental logging, not compromised logs:
// if logs leak, rotate the secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - Auth.AccessSecret, Auth.RefreshSecret (via AuthConfig.MarshalJSON)
//
// When adding new sensitive fields, update the owning struct's MarshalJSON.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	data, err := json.Marshal(alias(c))
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// FullModelName returns the provider-qualified generation model name for
// Genkit (e.g., "googleai/gemini-2.0-flash"). A name already containing "/"
// is returned as-is.
func (c *Config) FullModelName() string {
	return qualifyModel(c.ModelName)
}

// FullEmbedderName returns the provider-qualified embedder name for Genkit.
func (c *Config) FullEmbedderName() string {
	return qualifyModel(c.EmbedderModel)
}

func qualifyModel(name string) string {
	if strings.Contains(name, "/") {
		return name
	}
	return googleAIPrefix + name
}

// AccessTTL returns the access token lifetime as a duration.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.Auth.AccessTTLMinutes) * time.Minute
}

// RefreshTTL returns the refresh token lifetime as a duration.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.Auth.RefreshTTLDays) * 24 * time.Hour
}

// IsDev reports whether the service runs in a development environment.
func (c *Config) IsDev() bool {
	return c.Environment != EnvProduction
}
