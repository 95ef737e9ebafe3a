package config

import (
	"fmt"
	"os"
)

// minSecretLength is the minimum accepted length for JWT signing secrets.
// HS256 security degrades sharply below the hash block size; 16 bytes is
// the floor this service accepts.
const minSecretLength = 16

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	// 0. Check for nil config (defensive programming)
	if c == nil {
		return ErrConfigNil
	}

	// 1. Environment
	if c.Environment != EnvDevelopment && c.Environment != EnvProduction {
		return fmt.Errorf("%w: %q is not valid, must be %q or %q",
			ErrInvalidEnvironment, c.Environment, EnvDevelopment, EnvProduction)
	}

	// 2. API key (required for embeddings and generation)
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
			"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
			ErrMissingAPIKey)
	}

	// 3. Model configuration
	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// 0 means provider default; otherwise must be positive
	if c.EmbeddingDimension < 0 {
		return fmt.Errorf("%w: must be 0 (provider default) or positive, got %d",
			ErrInvalidEmbeddingDimension, c.EmbeddingDimension)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	// Reference: Gemini API documentation
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.TopP < 0.0 || c.TopP > 1.0 {
		return fmt.Errorf("%w: must be between 0.0 and 1.0, got %.2f", ErrInvalidTopP, c.TopP)
	}

	// MaxOutputTokens range: 1 to 65536 (Gemini 2.x output cap)
	if c.MaxOutputTokens < 1 || c.MaxOutputTokens > 65536 {
		return fmt.Errorf("%w: must be between 1 and 65,536, got %d", ErrInvalidMaxTokens, c.MaxOutputTokens)
	}

	// 4. JWT secrets
	if c.Auth.AccessSecret == "" {
		return fmt.Errorf("%w: auth.access_secret must be set (JWT_SECRET_KEY)", ErrMissingTokenSecret)
	}
	if c.Auth.RefreshSecret == "" {
		return fmt.Errorf("%w: auth.refresh_secret must be set (JWT_REFRESH_SECRET_KEY)", ErrMissingTokenSecret)
	}
	if len(c.Auth.AccessSecret) < minSecretLength {
		return fmt.Errorf("%w: auth.access_secret must be at least %d characters (got %d)",
			ErrInvalidTokenSecret, minSecretLength, len(c.Auth.AccessSecret))
	}
	if len(c.Auth.RefreshSecret) < minSecretLength {
		return fmt.Errorf("%w: auth.refresh_secret must be at least %d characters (got %d)",
			ErrInvalidTokenSecret, minSecretLength, len(c.Auth.RefreshSecret))
	}
	// Distinct secrets keep the token kind separation cryptographic, not just
	// a claim check.
	if c.Auth.AccessSecret == c.Auth.RefreshSecret {
		return ErrReusedTokenSecret
	}

	// 5. Token lifetimes
	if c.Auth.AccessTTLMinutes < 1 || c.Auth.AccessTTLMinutes > 24*60 {
		return fmt.Errorf("%w: auth.access_ttl_minutes must be between 1 and 1440, got %d",
			ErrInvalidTokenTTL, c.Auth.AccessTTLMinutes)
	}
	if c.Auth.RefreshTTLDays < 1 || c.Auth.RefreshTTLDays > 365 {
		return fmt.Errorf("%w: auth.refresh_ttl_days must be between 1 and 365, got %d",
			ErrInvalidTokenTTL, c.Auth.RefreshTTLDays)
	}

	// 6. Retrieval tuning
	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 10 {
		return fmt.Errorf("%w: must be between 1 and 10, got %d", ErrInvalidTopK, c.Retrieval.TopK)
	}
	if c.Retrieval.OverfetchFactor < 1 || c.Retrieval.OverfetchFactor > 10 {
		return fmt.Errorf("%w: must be between 1 and 10, got %d", ErrInvalidOverfetch, c.Retrieval.OverfetchFactor)
	}

	return nil
}
