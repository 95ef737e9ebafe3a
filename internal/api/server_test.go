package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/zonda/internal/auth"
	"github.com/koopa0/zonda/internal/chat"
	"github.com/koopa0/zonda/internal/knowledge"
	"github.com/koopa0/zonda/internal/log"
	"github.com/koopa0/zonda/internal/rag"
	"github.com/koopa0/zonda/internal/testutil"
)

// Tests share the chat flow singleton through newTestServer, which resets it
// on entry; none of them may run in parallel.

const (
	testAccessSecret  = "unit-test-access-secret"
	testRefreshSecret = "unit-test-refresh-secret"
	fallbackAnswer    = "The Zonda R uses a naturally aspirated 6.0-liter AMG V12."

	// testQuestion gets an explicit embedding from seedCorpusVectors, so its
	// retrieval ranking is fixed: the admin-only financial report first, then
	// every other document in corpus order.
	testQuestion = "How much did the Zonda R cost?"
)

// testServer bundles a fully wired server over the real corpus with the mock
// model and mock embedder, plus handles on the pieces tests poke directly.
type testServer struct {
	srv     *Server
	handler http.Handler
	llm     *testutil.MockLLM
	emb     *testutil.MockEmbedder
	users   *auth.Store
	tokens  *auth.TokenService
	index   *rag.Index
}

type serverOptions struct {
	embedder rag.Embedder
	mutate   []func(*ServerConfig)
}

// withEmbedder swaps the index embedder, e.g. for retrieval-failure tests.
func withEmbedder(e rag.Embedder) func(*serverOptions) {
	return func(o *serverOptions) { o.embedder = e }
}

// withServerConfig adjusts the ServerConfig before NewServer runs.
func withServerConfig(f func(*ServerConfig)) func(*serverOptions) {
	return func(o *serverOptions) { o.mutate = append(o.mutate, f) }
}

func newTestServer(t *testing.T, opts ...func(*serverOptions)) *testServer {
	t.Helper()

	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}

	chat.ResetFlowForTesting()
	g := testutil.NewGenkit(t)
	llm := testutil.NewMockLLM(fallbackAnswer)
	llm.Register(g)

	emb := testutil.NewMockEmbedder(3)
	seedCorpusVectors(emb)
	var embedder rag.Embedder = emb
	if o.embedder != nil {
		embedder = o.embedder
	}

	index, err := rag.NewIndex(rag.IndexConfig{
		Embedder:  embedder,
		Docs:      knowledge.Corpus(),
		Model:     "gemini-embedding-001",
		TopK:      3,
		Overfetch: 3,
		Logger:    log.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewIndex failed: %v", err)
	}

	orch, err := chat.New(chat.Config{
		Genkit:          g,
		Logger:          log.NewNop(),
		ModelName:       testutil.MockModelName,
		Temperature:     0.2,
		TopP:            0.8,
		MaxOutputTokens: 1024,
		Retry: chat.RetryConfig{
			MaxRetries:      1,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
	})
	if err != nil {
		t.Fatalf("chat.New failed: %v", err)
	}

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  []byte(testAccessSecret),
		RefreshSecret: []byte(testRefreshSecret),
		AccessTTL:     30 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokenService failed: %v", err)
	}

	users := auth.NewStore(log.NewNop())

	cfg := ServerConfig{
		Logger: log.NewNop(),
		Users:  users,
		Tokens: tokens,
		Index:  index,
		Flow:   chat.NewFlow(g, orch),
		IsDev:  true,
	}
	for _, m := range o.mutate {
		m(&cfg)
	}

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	return &testServer{
		srv:     srv,
		handler: srv.Handler(),
		llm:     llm,
		emb:     emb,
		users:   users,
		tokens:  tokens,
		index:   index,
	}
}

// seedCorpusVectors pins an embedding geometry over the real corpus: for
// testQuestion the admin-only financial report is the top match and every
// other document follows in strict corpus order, all with distinct scores.
// chromem normalizes vectors on insert, so these need not be unit length.
func seedCorpusVectors(emb *testutil.MockEmbedder) {
	k := 0
	for _, d := range knowledge.Corpus() {
		if d.ID == "zonda:financial" {
			emb.SetVector(d.Content, []float32{1, 0, 0})
			continue
		}
		emb.SetVector(d.Content, []float32{1, 0.1 * float32(k+1), 0})
		k++
	}
	emb.SetVector(testQuestion, []float32{1, 0, 0})
}

// do runs one request through the full handler stack.
func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	r := httptest.NewRequest(method, path, reader)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

// doRaw is do for bodies that are deliberately not well-formed JSON.
func (ts *testServer) doRaw(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	r := httptest.NewRequest(method, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		r.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

// register creates an account and fails the test on any non-201 outcome.
func (ts *testServer) register(t *testing.T, username, password, role string) {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/register",
		registerRequest{Username: username, Password: password, Role: role}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("register %s: status = %d, body = %s", username, w.Code, w.Body.String())
	}
}

// login authenticates and returns the token pair.
func (ts *testServer) login(t *testing.T, username, password string) tokenResponse {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/login",
		loginRequest{Username: username, Password: password}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: status = %d, body = %s", username, w.Code, w.Body.String())
	}
	return decodeBody[tokenResponse](t, w)
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return v
}

func TestNewServerValidation(t *testing.T) {
	ts := newTestServer(t)

	valid := ServerConfig{
		Logger: log.NewNop(),
		Users:  ts.users,
		Tokens: ts.tokens,
		Index:  ts.index,
		Flow:   ts.srv.flow,
	}

	tests := []struct {
		name   string
		mutate func(*ServerConfig)
	}{
		{"nil users", func(c *ServerConfig) { c.Users = nil }},
		{"nil tokens", func(c *ServerConfig) { c.Tokens = nil }},
		{"nil index", func(c *ServerConfig) { c.Index = nil }},
		{"nil flow", func(c *ServerConfig) { c.Flow = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if _, err := NewServer(cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}

	srv, err := NewServer(valid)
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if srv.topK != defaultTopK {
		t.Errorf("topK = %d, want default %d", srv.topK, defaultTopK)
	}
}

func TestRouteRegistration(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/health", http.StatusOK},
		{http.MethodPost, "/api/register", http.StatusBadRequest}, // no body
		{http.MethodPost, "/api/login", http.StatusBadRequest},
		{http.MethodPost, "/api/refresh", http.StatusBadRequest},
		{http.MethodGet, "/api/me", http.StatusUnauthorized}, // no token
		{http.MethodPost, "/api/chat", http.StatusUnauthorized},
		{http.MethodPost, "/api/chat/stream", http.StatusUnauthorized},
		{http.MethodGet, "/api/chat", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nonexistent", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.path, nil, nil)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (body: %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	got := decodeBody[healthResponse](t, ts.do(t, http.MethodGet, "/api/health", nil, nil))
	want := healthResponse{
		Status:                 "operational",
		Service:                "Pagani Zonda R Enterprise Intelligence",
		VectorStoreInitialized: false,
		RegisteredUsers:        0,
	}
	if got != want {
		t.Errorf("health = %+v, want %+v", got, want)
	}

	// State must be reported truthfully, not cached.
	ts.register(t, "horacio", "zonda-r-2007", "admin")
	if err := ts.index.Warm(context.Background()); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}

	got = decodeBody[healthResponse](t, ts.do(t, http.MethodGet, "/api/health", nil, nil))
	if !got.VectorStoreInitialized {
		t.Error("vector_store_initialized = false after index build")
	}
	if got.RegisteredUsers != 1 {
		t.Errorf("registered_users = %d, want 1", got.RegisteredUsers)
	}
}

func TestRequestIDMiddleware_Sets(t *testing.T) {
	handler := requestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	got := w.Header().Get("X-Request-ID")
	if got == "" {
		t.Fatal("requestIDMiddleware() did not set X-Request-ID header")
	}
	if _, err := uuid.Parse(got); err != nil {
		t.Errorf("requestIDMiddleware() X-Request-ID = %q, not a valid UUID", got)
	}
}

func TestRequestIDMiddleware_ReusesValid(t *testing.T) {
	want := uuid.New().String()

	handler := requestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", want)

	handler.ServeHTTP(w, r)

	if got := w.Header().Get("X-Request-ID"); got != want {
		t.Errorf("requestIDMiddleware(valid) X-Request-ID = %q, want %q", got, want)
	}
}

func TestRequestIDMiddleware_RejectsInvalid(t *testing.T) {
	handler := requestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "not-a-valid-uuid")

	handler.ServeHTTP(w, r)

	got := w.Header().Get("X-Request-ID")
	if got == "not-a-valid-uuid" {
		t.Error("requestIDMiddleware(invalid) should not reuse invalid X-Request-ID")
	}
	if _, err := uuid.Parse(got); err != nil {
		t.Errorf("requestIDMiddleware(invalid) X-Request-ID = %q, not a valid UUID", got)
	}
}

func TestRequestIDMiddleware_InContext(t *testing.T) {
	want := uuid.New().String()

	var gotFromCtx string
	handler := requestIDMiddleware()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotFromCtx = requestIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", want)

	handler.ServeHTTP(w, r)

	if gotFromCtx != want {
		t.Errorf("requestIDFromContext() = %q, want %q", gotFromCtx, want)
	}
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t) // IsDev: true

	w := ts.do(t, http.MethodPost, "/api/login", loginRequest{Username: "x", Password: "y"}, nil)

	checks := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
		"Content-Security-Policy": "default-src 'none'",
	}
	for header, want := range checks {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Errorf("HSTS set in dev mode: %q", got)
	}

	prod := newTestServer(t, withServerConfig(func(c *ServerConfig) { c.IsDev = false }))
	w = prod.do(t, http.MethodPost, "/api/login", loginRequest{Username: "x", Password: "y"}, nil)
	if got := w.Header().Get("Strict-Transport-Security"); got == "" {
		t.Error("HSTS missing outside dev mode")
	}
}
