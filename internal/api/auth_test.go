package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/koopa0/zonda/internal/auth"
)

func TestRegister(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/register",
		registerRequest{Username: "horacio", Password: "carbotanium", Role: "admin"}, nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusCreated, w.Body.String())
	}
	got := decodeBody[registerResponse](t, w)
	want := registerResponse{Message: "User registered successfully", Username: "horacio", Role: "admin"}
	if got != want {
		t.Errorf("response = %+v, want %+v", got, want)
	}
}

func TestRegisterDefaultRole(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/register",
		registerRequest{Username: "guest", Password: "secret1"}, nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusCreated, w.Body.String())
	}
	if got := decodeBody[registerResponse](t, w); got.Role != "viewer" {
		t.Errorf("role = %q, want %q", got.Role, "viewer")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "sofia", "original-pass", "engineer")

	// A duplicate must not overwrite credentials or role.
	w := ts.do(t, http.MethodPost, "/api/register",
		registerRequest{Username: "sofia", Password: "other-pass", Role: "admin"}, nil)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if got := decodeBody[ErrorResponse](t, w); got.Detail != "Username already exists" {
		t.Errorf("detail = %q, want %q", got.Detail, "Username already exists")
	}

	tok := ts.login(t, "sofia", "original-pass")
	if tok.Role != "engineer" {
		t.Errorf("role after duplicate attempt = %q, want %q", tok.Role, "engineer")
	}
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		req  registerRequest
		want string
	}{
		{
			name: "invalid role",
			req:  registerRequest{Username: "davide", Password: "secret1", Role: "root"},
			want: "Invalid role. Must be one of: admin, engineer, viewer",
		},
		{
			name: "username too short",
			req:  registerRequest{Username: "ab", Password: "secret1"},
			want: "Username must be between 3 and 50 characters",
		},
		{
			name: "username too long",
			req:  registerRequest{Username: strings.Repeat("a", 51), Password: "secret1"},
			want: "Username must be between 3 and 50 characters",
		},
		{
			name: "whitespace-only username",
			req:  registerRequest{Username: "   ", Password: "secret1"},
			want: "Username must be between 3 and 50 characters",
		},
		{
			name: "password too short",
			req:  registerRequest{Username: "davide", Password: "12345"},
			want: "Password must be between 6 and 128 characters",
		},
		{
			name: "password too long",
			req:  registerRequest{Username: "davide", Password: strings.Repeat("p", 129)},
			want: "Password must be between 6 and 128 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/register", tt.req, nil)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if got := decodeBody[ErrorResponse](t, w); got.Detail != tt.want {
				t.Errorf("detail = %q, want %q", got.Detail, tt.want)
			}
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		w := ts.doRaw(t, http.MethodPost, "/api/register", `{"username": `, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
		if got := decodeBody[ErrorResponse](t, w); got.Detail != "Invalid request body" {
			t.Errorf("detail = %q, want %q", got.Detail, "Invalid request body")
		}
	})
}

func TestRegisterTrimsUsername(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/register",
		registerRequest{Username: "  valentino  ", Password: "secret1"}, nil)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusCreated, w.Body.String())
	}
	if got := decodeBody[registerResponse](t, w); got.Username != "valentino" {
		t.Errorf("username = %q, want %q", got.Username, "valentino")
	}
	ts.login(t, "valentino", "secret1")
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "horacio", "carbotanium", "admin")

	got := ts.login(t, "horacio", "carbotanium")

	if got.TokenType != "bearer" {
		t.Errorf("token_type = %q, want %q", got.TokenType, "bearer")
	}
	if got.ExpiresIn != 1800 {
		t.Errorf("expires_in = %d, want 1800", got.ExpiresIn)
	}
	if got.Role != "admin" || got.Username != "horacio" {
		t.Errorf("identity = %s/%s, want horacio/admin", got.Username, got.Role)
	}
	if got.AccessToken == "" || got.RefreshToken == "" {
		t.Fatal("token pair has empty tokens")
	}

	id, err := ts.tokens.Verify(got.AccessToken, auth.KindAccess)
	if err != nil {
		t.Fatalf("issued access token does not verify: %v", err)
	}
	if id.Username != "horacio" || id.Role != "admin" {
		t.Errorf("token identity = %+v, want horacio/admin", id)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "horacio", "carbotanium", "admin")

	unknownUser := ts.do(t, http.MethodPost, "/api/login",
		loginRequest{Username: "nobody", Password: "carbotanium"}, nil)
	wrongPassword := ts.do(t, http.MethodPost, "/api/login",
		loginRequest{Username: "horacio", Password: "wrong"}, nil)

	if unknownUser.Code != http.StatusUnauthorized || wrongPassword.Code != http.StatusUnauthorized {
		t.Fatalf("statuses = %d/%d, want both 401", unknownUser.Code, wrongPassword.Code)
	}

	// The two failures must be indistinguishable so the endpoint cannot be
	// used to probe which usernames exist.
	if unknownUser.Body.String() != wrongPassword.Body.String() {
		t.Errorf("bodies differ:\n unknown user:  %s\n wrong password: %s",
			unknownUser.Body.String(), wrongPassword.Body.String())
	}
	if got := decodeBody[ErrorResponse](t, unknownUser); got.Detail != "Invalid username or password" {
		t.Errorf("detail = %q, want %q", got.Detail, "Invalid username or password")
	}
}

func TestRefresh(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "sofia", "secret1", "engineer")
	tok := ts.login(t, "sofia", "secret1")

	w := ts.do(t, http.MethodPost, "/api/refresh",
		refreshRequest{RefreshToken: tok.RefreshToken}, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}
	got := decodeBody[tokenResponse](t, w)
	if got.TokenType != "bearer" || got.ExpiresIn != 1800 {
		t.Errorf("pair metadata = %s/%d, want bearer/1800", got.TokenType, got.ExpiresIn)
	}
	if got.Username != "sofia" || got.Role != "engineer" {
		t.Errorf("identity = %s/%s, want sofia/engineer", got.Username, got.Role)
	}

	me := ts.do(t, http.MethodGet, "/api/me", nil, bearer(got.AccessToken))
	if me.Code != http.StatusOK {
		t.Errorf("refreshed access token rejected: status = %d", me.Code)
	}
}

func TestRefreshRejects(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "sofia", "secret1", "engineer")
	tok := ts.login(t, "sofia", "secret1")

	ghost, err := ts.tokens.Issue("ghost", "admin")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	tests := []struct {
		name    string
		refresh string
		want    string
	}{
		{"access token presented", tok.AccessToken, "Invalid refresh token type"},
		{"garbage token", "not.a.token", "Refresh token has expired or is invalid"},
		{"empty token", "", "Refresh token has expired or is invalid"},
		{"user no longer exists", ghost.Refresh, "User no longer exists"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/refresh",
				refreshRequest{RefreshToken: tt.refresh}, nil)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			if got := decodeBody[ErrorResponse](t, w); got.Detail != tt.want {
				t.Errorf("detail = %q, want %q", got.Detail, tt.want)
			}
		})
	}
}

func TestRefreshUsesCurrentRole(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "sofia", "secret1", "viewer")

	// A refresh token carrying a stale role: the reissued pair must reflect
	// the store, not the old claims.
	stale, err := ts.tokens.Issue("sofia", "engineer")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	w := ts.do(t, http.MethodPost, "/api/refresh",
		refreshRequest{RefreshToken: stale.Refresh}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}

	got := decodeBody[tokenResponse](t, w)
	if got.Role != "viewer" {
		t.Errorf("role = %q, want store role %q", got.Role, "viewer")
	}
	id, err := ts.tokens.Verify(got.AccessToken, auth.KindAccess)
	if err != nil {
		t.Fatalf("reissued access token does not verify: %v", err)
	}
	if id.Role != "viewer" {
		t.Errorf("reissued token role = %q, want %q", id.Role, "viewer")
	}
}

func TestMe(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "horacio", "carbotanium", "admin")
	tok := ts.login(t, "horacio", "carbotanium")

	w := ts.do(t, http.MethodGet, "/api/me", nil, bearer(tok.AccessToken))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusOK, w.Body.String())
	}

	got := decodeBody[userInfoResponse](t, w)
	if got.Username != "horacio" || got.Role != "admin" {
		t.Errorf("identity = %s/%s, want horacio/admin", got.Username, got.Role)
	}
	createdAt, err := time.Parse(time.RFC3339, got.CreatedAt)
	if err != nil {
		t.Fatalf("created_at = %q, not RFC 3339: %v", got.CreatedAt, err)
	}
	if age := time.Since(createdAt); age < 0 || age > time.Minute {
		t.Errorf("created_at = %v, not recent", createdAt)
	}
}

func TestMeAuthErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "horacio", "carbotanium", "admin")
	tok := ts.login(t, "horacio", "carbotanium")

	ghost, err := ts.tokens.Issue("ghost", "admin")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	expired := issueExpiredAccessToken(t, "horacio", "admin")
	missingClaims := signAccessToken(t, jwt.MapClaims{
		"type": "access",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})

	tests := []struct {
		name          string
		header        string
		want          string
		wantChallenge bool
	}{
		{"no credentials", "", "Authentication required", true},
		{"wrong scheme", "Basic aG9yYWNpbzpwdw==", "Authentication required", true},
		{"garbage token", "Bearer not.a.token", "Token has expired or is invalid", true},
		{"expired token", "Bearer " + expired, "Token has expired or is invalid", true},
		{"refresh token presented", "Bearer " + tok.RefreshToken, "Invalid token type", false},
		{"missing claims", "Bearer " + missingClaims, "Invalid token payload", false},
		{"user no longer exists", "Bearer " + ghost.Access, "User no longer exists", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			w := ts.do(t, http.MethodGet, "/api/me", nil, headers)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d (body: %s)", w.Code, http.StatusUnauthorized, w.Body.String())
			}
			if got := decodeBody[ErrorResponse](t, w); got.Detail != tt.want {
				t.Errorf("detail = %q, want %q", got.Detail, tt.want)
			}
			challenge := w.Header().Get("WWW-Authenticate")
			if tt.wantChallenge && challenge != "Bearer" {
				t.Errorf("WWW-Authenticate = %q, want %q", challenge, "Bearer")
			}
			if !tt.wantChallenge && challenge != "" {
				t.Errorf("WWW-Authenticate = %q, want unset", challenge)
			}
		})
	}
}

// issueExpiredAccessToken signs an access token whose lifetime ended half an
// hour ago, using a clock wound back one hour over the same secrets.
func issueExpiredAccessToken(t *testing.T, username, role string) string {
	t.Helper()

	past, err := auth.NewTokenService(auth.TokenConfig{
		AccessSecret:  []byte(testAccessSecret),
		RefreshSecret: []byte(testRefreshSecret),
		AccessTTL:     30 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Now:           func() time.Time { return time.Now().Add(-time.Hour) },
	})
	if err != nil {
		t.Fatalf("NewTokenService failed: %v", err)
	}
	pair, err := past.Issue(username, role)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return pair.Access
}

// signAccessToken signs arbitrary claims with the access secret, for tokens
// the service itself would never mint.
func signAccessToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte(testAccessSecret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}
