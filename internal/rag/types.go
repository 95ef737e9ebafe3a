package rag

// Result represents a single retrieved document with its similarity score.
type Result struct {
	ID      string  `json:"id"`
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Score   float32 `json:"score"` // Cosine similarity (0-1)
}

// SearchOption configures search behavior using the functional options pattern.
type SearchOption func(*searchConfig)

// searchConfig holds internal search configuration.
type searchConfig struct {
	topK int
	role string
}

// WithTopK sets the maximum number of results to return.
// Values below 1 are ignored and the index default applies.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithRole restricts results to documents the given role may access.
// An empty role disables filtering.
func WithRole(role string) SearchOption {
	return func(c *searchConfig) {
		c.role = role
	}
}

// buildSearchConfig applies search options over the index defaults.
func buildSearchConfig(defaultTopK int, opts []SearchOption) searchConfig {
	cfg := searchConfig{topK: defaultTopK}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
