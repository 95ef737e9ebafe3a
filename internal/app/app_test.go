package app

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/koopa0/zonda/internal/chat"
	"github.com/koopa0/zonda/internal/config"
	"github.com/koopa0/zonda/internal/log"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment:     config.EnvDevelopment,
		ModelName:       "gemini-2.0-flash",
		EmbedderModel:   "gemini-embedding-001",
		Temperature:     0.2,
		TopP:            0.8,
		MaxOutputTokens: 1024,
		DataDir:         t.TempDir(),
		Auth: config.AuthConfig{
			AccessSecret:     "test-access-secret-0123456789abcdef",
			RefreshSecret:    "test-refresh-secret-0123456789abcdef",
			AccessTTLMinutes: 30,
			RefreshTTLDays:   7,
		},
		Retrieval: config.RetrievalConfig{TopK: 3, OverfetchFactor: 3},
	}
}

// TestSetup wires the full application. The Gemini key is fake, so the
// warm-up embedding call fails; Setup must still succeed because the index
// rebuilds lazily on first search.
func TestSetup(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-api-key")
	chat.ResetFlowForTesting()

	// Bound the warm-up attempt so an unreachable API cannot stall the test.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := Setup(ctx, testConfig(t), log.NewNop())
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer a.Close(context.Background())

	if a.Config == nil {
		t.Error("Config not set")
	}
	if a.Genkit == nil {
		t.Error("Genkit not set")
	}
	if a.Embedder == nil {
		t.Error("Embedder not set")
	}
	if a.Users == nil {
		t.Error("Users not set")
	}
	if a.Tokens == nil {
		t.Error("Tokens not set")
	}
	if a.Index == nil {
		t.Error("Index not set")
	}
	if a.Chat == nil {
		t.Error("Chat not set")
	}
	if a.Flow == nil {
		t.Error("Flow not set")
	}
	if a.Server == nil {
		t.Fatal("Server not set")
	}
	if a.Server.Handler() == nil {
		t.Error("Server.Handler() returned nil")
	}
}

func TestSetupRejectsReusedSecrets(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-api-key")
	chat.ResetFlowForTesting()

	cfg := testConfig(t)
	cfg.Auth.RefreshSecret = cfg.Auth.AccessSecret

	a, err := Setup(context.Background(), cfg, log.NewNop())
	if err == nil {
		a.Close(context.Background())
		t.Fatal("Setup() succeeded with identical access and refresh secrets")
	}
	if !strings.Contains(err.Error(), "creating token service") {
		t.Errorf("Setup() error = %q, want token service failure", err)
	}
	if a != nil {
		t.Error("Setup() returned non-nil App on error")
	}
}

func TestCloseIdempotent(t *testing.T) {
	calls := 0
	a := &App{
		Logger: log.NewNop(),
		traceShutdown: func(context.Context) error {
			calls++
			return nil
		},
	}

	a.Close(context.Background())
	a.Close(context.Background())

	if calls != 1 {
		t.Errorf("trace shutdown ran %d times, want 1", calls)
	}
}

func TestClosePartialApp(t *testing.T) {
	// Must not panic on an App that never finished Setup.
	a := &App{}
	a.Close(context.Background())
}
