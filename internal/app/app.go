// Package app provides application initialization and dependency wiring.
//
// App is the core container holding every initialized component: the Genkit
// runtime, the knowledge index, the credential and token services, the chat
// orchestrator, and the HTTP API server. Setup builds them in dependency
// order; Close releases them.
package app

import (
	"context"
	"time"

	"github.com/firebase/genkit/go/genkit"

	"github.com/koopa0/zonda/internal/api"
	"github.com/koopa0/zonda/internal/auth"
	"github.com/koopa0/zonda/internal/chat"
	"github.com/koopa0/zonda/internal/config"
	"github.com/koopa0/zonda/internal/log"
	"github.com/koopa0/zonda/internal/rag"
)

// App is the core application container.
type App struct {
	// Configuration
	Config *config.Config
	Logger log.Logger

	// Core services
	Genkit   *genkit.Genkit
	Embedder *rag.GeminiEmbedder
	Users    *auth.Store
	Tokens   *auth.TokenService
	Index    *rag.Index
	Chat     *chat.Orchestrator
	Flow     *chat.Flow
	Server   *api.Server

	// Lifecycle management
	traceShutdown func(context.Context) error
}

// Close flushes pending trace spans and releases resources. It is
// idempotent and safe to call on a partially initialized App.
func (a *App) Close(ctx context.Context) {
	if a.traceShutdown == nil {
		return
	}

	// Close typically runs after the parent context is canceled, so detach
	// before applying the flush deadline.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.traceShutdown(flushCtx); err != nil {
		a.Logger.Warn("shutting down tracer provider", "error", err)
	}
	a.traceShutdown = nil
}
