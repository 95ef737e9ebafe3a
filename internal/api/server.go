package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/koopa0/zonda/internal/auth"
	"github.com/koopa0/zonda/internal/chat"
	"github.com/koopa0/zonda/internal/log"
	"github.com/koopa0/zonda/internal/rag"
)

// defaultTopK is the number of context documents retrieved per question.
const defaultTopK = 3

// defaultCORSOrigins matches the development frontend.
var defaultCORSOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

// CredentialStore is the user backend the handlers depend on. *auth.Store
// satisfies it; a durable implementation can replace it without touching the
// handlers.
type CredentialStore interface {
	Register(username, password, role string) (auth.User, error)
	Authenticate(username, password string) (auth.User, error)
	Lookup(username string) (auth.User, bool)
	Count() int
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger      log.Logger
	Users       CredentialStore     // Required
	Tokens      *auth.TokenService  // Required
	Index       *rag.Index          // Required
	Flow        *chat.Flow          // Required
	TopK        int                 // Context documents per question (0 = default 3)
	CORSOrigins []string            // Allowed origins (empty = localhost:3000 defaults)
	IsDev       bool                // Disables HSTS (no HTTPS in dev)
	TrustProxy  bool                // Trust X-Real-IP/X-Forwarded-For (behind reverse proxy)
}

// Server is the JSON API HTTP server.
type Server struct {
	logger log.Logger
	users  CredentialStore
	tokens *auth.TokenService
	index  *rag.Index
	flow   *chat.Flow
	topK   int
	mux    *http.ServeMux
}

// NewServer creates an API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Users == nil {
		return nil, errors.New("credential store is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token service is required")
	}
	if cfg.Index == nil {
		return nil, errors.New("knowledge index is required")
	}
	if cfg.Flow == nil {
		return nil, errors.New("chat flow is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = defaultCORSOrigins
	}

	s := &Server{
		logger: logger,
		users:  cfg.Users,
		tokens: cfg.Tokens,
		index:  cfg.Index,
		flow:   cfg.Flow,
		topK:   topK,
	}

	requireAuth := authMiddleware(cfg.Tokens, cfg.Users, logger)
	limited := func(perMinute int) func(http.Handler) http.Handler {
		return rateLimitMiddleware(newRateLimiter(perMinute), cfg.TrustProxy, logger)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/register", limited(registerPerMinute)(http.HandlerFunc(s.handleRegister)))
	mux.Handle("POST /api/login", limited(loginPerMinute)(http.HandlerFunc(s.handleLogin)))
	mux.Handle("POST /api/refresh", limited(refreshPerMinute)(http.HandlerFunc(s.handleRefresh)))
	mux.Handle("GET /api/me", requireAuth(http.HandlerFunc(s.handleMe)))
	mux.Handle("POST /api/chat", limited(chatPerMinute)(requireAuth(http.HandlerFunc(s.handleChat))))
	mux.Handle("POST /api/chat/stream", limited(chatPerMinute)(requireAuth(http.HandlerFunc(s.handleChatStream))))

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before route matching so preflight OPTIONS
	// gets a 204 instead of a method mismatch.
	var handler http.Handler = mux
	handler = corsMiddleware(origins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	isDev := cfg.IsDev
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, isDev)
		handler.ServeHTTP(w, r)
	})

	// Use a top-level mux to separate the health probe from the middleware
	// stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /api/health", s.handleHealth)
	topMux.Handle("/", final)
	s.mux = topMux

	return s, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
