package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/koopa0/zonda/internal/api"
	"github.com/koopa0/zonda/internal/auth"
	"github.com/koopa0/zonda/internal/chat"
	"github.com/koopa0/zonda/internal/config"
	"github.com/koopa0/zonda/internal/knowledge"
	"github.com/koopa0/zonda/internal/log"
	"github.com/koopa0/zonda/internal/observability"
	"github.com/koopa0/zonda/internal/rag"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized
	defer func() {
		if retErr != nil {
			a.Close(ctx)
		}
	}()

	traceShutdown, err := observability.Setup(ctx, observability.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Tracing.Environment,
		ServiceName: cfg.Tracing.ServiceName,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.traceShutdown = traceShutdown

	g, err := provideGenkit(ctx)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder, err := provideEmbedder(g, cfg)
	if err != nil {
		return nil, err
	}
	a.Embedder = embedder

	index, err := provideIndex(cfg, embedder, logger)
	if err != nil {
		return nil, err
	}
	a.Index = index

	tokens, err := provideTokenService(cfg)
	if err != nil {
		return nil, err
	}
	a.Tokens = tokens
	a.Users = auth.NewStore(logger)

	orch, err := provideOrchestrator(g, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Chat = orch
	a.Flow = chat.NewFlow(g, orch)

	server, err := api.NewServer(api.ServerConfig{
		Logger:      logger,
		Users:       a.Users,
		Tokens:      a.Tokens,
		Index:       index,
		Flow:        a.Flow,
		TopK:        cfg.Retrieval.TopK,
		CORSOrigins: cfg.CORSOrigins,
		IsDev:       cfg.IsDev(),
		TrustProxy:  cfg.TrustProxy,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	a.Server = server

	// Warm last so configuration errors surface before the embedding calls.
	// A failed warm-up is not fatal: the index rebuilds lazily on the first
	// search.
	if err := index.Warm(ctx); err != nil {
		logger.Warn("index warm-up failed, deferring to first search", "error", err)
	}

	return a, nil
}

// provideGenkit initializes Genkit with the Gemini provider. The plugin
// reads GEMINI_API_KEY from the environment; config validation checks the
// key is present before Setup runs.
func provideGenkit(ctx context.Context) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit with gemini provider")
	}
	return g, nil
}

// provideEmbedder looks up the embedder registered by the Gemini plugin and
// wraps it for the vector index.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) (*rag.GeminiEmbedder, error) {
	e := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if e == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	return rag.NewGeminiEmbedder(e, cfg.EmbeddingDimension)
}

// provideIndex creates the role-filtered vector index over the knowledge
// corpus, with snapshots persisted under the data directory.
func provideIndex(cfg *config.Config, embedder *rag.GeminiEmbedder, logger log.Logger) (*rag.Index, error) {
	index, err := rag.NewIndex(rag.IndexConfig{
		Embedder:    embedder,
		Docs:        knowledge.Corpus(),
		Model:       cfg.EmbedderModel,
		Dimension:   cfg.EmbeddingDimension,
		TopK:        cfg.Retrieval.TopK,
		Overfetch:   cfg.Retrieval.OverfetchFactor,
		SnapshotDir: filepath.Join(cfg.DataDir, "index"),
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating knowledge index: %w", err)
	}
	return index, nil
}

// provideTokenService creates the JWT issuer/verifier from the configured
// secrets and lifetimes.
func provideTokenService(cfg *config.Config) (*auth.TokenService, error) {
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  []byte(cfg.Auth.AccessSecret),
		RefreshSecret: []byte(cfg.Auth.RefreshSecret),
		AccessTTL:     cfg.AccessTTL(),
		RefreshTTL:    cfg.RefreshTTL(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}
	return tokens, nil
}

// provideOrchestrator creates the chat orchestrator bound to the configured
// generation model.
func provideOrchestrator(g *genkit.Genkit, cfg *config.Config, logger log.Logger) (*chat.Orchestrator, error) {
	orch, err := chat.New(chat.Config{
		Genkit:          g,
		Logger:          logger,
		ModelName:       cfg.FullModelName(),
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		MaxOutputTokens: cfg.MaxOutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat orchestrator: %w", err)
	}
	return orch, nil
}
