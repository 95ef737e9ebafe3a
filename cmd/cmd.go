// Package cmd provides the Zonda CLI commands.
//
// Commands:
//   - serve: HTTP API server with SSE streaming
//   - version: build and environment information
//
// The serve command handles SIGINT/SIGTERM via context cancellation and
// shuts down gracefully.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/koopa0/zonda/internal/log"
)

// Execute is the main entry point for the Zonda CLI.
func Execute() error {
	// Initialize logger once at entry point
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(log.New(log.Config{Level: level}))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("Zonda - Pagani Zonda R enterprise intelligence API")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  zonda serve [addr]  Start HTTP API server (default: 127.0.0.1:8000)")
	fmt.Println("  zonda version       Show version information")
	fmt.Println("  zonda help          Show this help")
	fmt.Println()
	fmt.Println("Endpoints:")
	fmt.Println("  POST /api/register     Create a user account")
	fmt.Println("  POST /api/login        Exchange credentials for a token pair")
	fmt.Println("  POST /api/refresh      Rotate an expired access token")
	fmt.Println("  GET  /api/me           Show the authenticated user")
	fmt.Println("  POST /api/chat         Ask a question (blocking)")
	fmt.Println("  POST /api/chat/stream  Ask a question (SSE stream)")
	fmt.Println("  GET  /api/health       Service health")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY               Required: Gemini API key")
	fmt.Println("  JWT_SECRET_KEY               Required: access token signing secret")
	fmt.Println("  JWT_REFRESH_SECRET_KEY       Required: refresh token signing secret")
	fmt.Println("  ACCESS_TOKEN_EXPIRE_MINUTES  Optional: access token lifetime (default: 30)")
	fmt.Println("  REFRESH_TOKEN_EXPIRE_DAYS    Optional: refresh token lifetime (default: 7)")
	fmt.Println("  ZONDA_ENV                    Optional: development or production")
	fmt.Println("  ZONDA_OTLP_ENDPOINT          Optional: OTLP collector endpoint for tracing")
	fmt.Println("  DEBUG                        Optional: enable debug logging")
	fmt.Println()
	fmt.Println("Learn more: https://github.com/koopa0/zonda")
}
