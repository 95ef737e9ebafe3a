package api

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/koopa0/zonda/internal/auth"
)

// Field bounds enforced at the gateway. The credential store itself only
// cares about non-empty values.
const (
	usernameMinLen = 3
	usernameMaxLen = 50
	passwordMinLen = 6
	passwordMaxLen = 128
)

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type registerResponse struct {
	Message  string `json:"message"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// tokenResponse is the shared shape of login and refresh responses.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Role         string `json:"role"`
	Username     string `json:"username"`
}

type userInfoResponse struct {
	Username  string `json:"username"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// handleRegister creates an account. POST /api/register
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if n := utf8.RuneCountInString(req.Username); n < usernameMinLen || n > usernameMaxLen {
		writeError(w, http.StatusBadRequest, "Username must be between 3 and 50 characters")
		return
	}
	if n := utf8.RuneCountInString(req.Password); n < passwordMinLen || n > passwordMaxLen {
		writeError(w, http.StatusBadRequest, "Password must be between 6 and 128 characters")
		return
	}

	user, err := s.users.Register(req.Username, req.Password, req.Role)
	switch {
	case errors.Is(err, auth.ErrInvalidRole):
		writeError(w, http.StatusBadRequest,
			"Invalid role. Must be one of: "+strings.Join(auth.ValidRoles(), ", "))
		return
	case errors.Is(err, auth.ErrDuplicateUsername):
		writeError(w, http.StatusConflict, "Username already exists")
		return
	case err != nil:
		s.logger.Error("registration failed", "username", req.Username, "error", err)
		writeErrorCode(w, http.StatusInternalServerError,
			"An internal server error occurred.", "INTERNAL_ERROR")
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		Message:  "User registered successfully",
		Username: user.Username,
		Role:     user.Role,
	})
}

// handleLogin exchanges credentials for a token pair. POST /api/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := s.users.Authenticate(req.Username, req.Password)
	if err != nil {
		// Unknown usernames and wrong passwords produce this same response.
		writeError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	pair, err := s.tokens.Issue(user.Username, user.Role)
	if err != nil {
		s.logger.Error("issuing tokens", "username", user.Username, "error", err)
		writeErrorCode(w, http.StatusInternalServerError,
			"An internal server error occurred.", "INTERNAL_ERROR")
		return
	}

	s.logger.Info("user authenticated", "username", user.Username, "role", user.Role)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.Access,
		RefreshToken: pair.Refresh,
		TokenType:    "bearer",
		ExpiresIn:    pair.ExpiresIn,
		Role:         user.Role,
		Username:     user.Username,
	})
}

// handleRefresh rotates a token pair. POST /api/refresh
//
// Both tokens are reissued, and the role comes from the current store
// record rather than the old token, so a role change takes effect at the
// next refresh.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id, err := s.tokens.Verify(req.RefreshToken, auth.KindRefresh)
	if err != nil {
		s.logger.Warn("refresh token verification failed", "error", err)
		if errors.Is(err, auth.ErrTokenWrongKind) {
			writeError(w, http.StatusUnauthorized, "Invalid refresh token type")
			return
		}
		writeError(w, http.StatusUnauthorized, "Refresh token has expired or is invalid")
		return
	}

	user, exists := s.users.Lookup(id.Username)
	if !exists {
		writeError(w, http.StatusUnauthorized, "User no longer exists")
		return
	}

	pair, err := s.tokens.Issue(user.Username, user.Role)
	if err != nil {
		s.logger.Error("issuing tokens", "username", user.Username, "error", err)
		writeErrorCode(w, http.StatusInternalServerError,
			"An internal server error occurred.", "INTERNAL_ERROR")
		return
	}

	s.logger.Info("token refreshed", "username", user.Username)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.Access,
		RefreshToken: pair.Refresh,
		TokenType:    "bearer",
		ExpiresIn:    pair.ExpiresIn,
		Role:         user.Role,
		Username:     user.Username,
	})
}

// handleMe returns the authenticated account. GET /api/me
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	user, ok := userFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User no longer exists")
		return
	}

	writeJSON(w, http.StatusOK, userInfoResponse{
		Username:  id.Username,
		Role:      id.Role,
		CreatedAt: user.CreatedAt.UTC().Format(time.RFC3339),
	})
}
