package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes the two token types a credential pair carries.
type Kind string

const (
	// KindAccess tokens authorize API calls.
	KindAccess Kind = "access"
	// KindRefresh tokens mint new pairs.
	KindRefresh Kind = "refresh"
)

var (
	// ErrTokenExpired indicates the token's lifetime is over. A token
	// presented exactly at its expiry instant is already expired.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenWrongKind indicates a structurally valid token of the other
	// kind, e.g. a refresh token presented where an access token is required.
	ErrTokenWrongKind = errors.New("token kind mismatch")

	// ErrTokenInvalid indicates a bad signature, undecodable input, or an
	// otherwise unverifiable token.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenMalformed indicates a verified token whose payload lacks
	// required claims.
	ErrTokenMalformed = errors.New("token malformed")
)

// Identity is the authenticated principal carried by a verified token.
type Identity struct {
	Username string
	Role     string
}

// Pair bundles the two tokens issued together.
type Pair struct {
	Access  string
	Refresh string
	// ExpiresIn is the access token lifetime in seconds, for the login response.
	ExpiresIn int
}

// TokenConfig configures the token service. Now is injectable for expiry
// boundary tests and defaults to time.Now.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Now           func() time.Time
}

// TokenService issues and verifies HS256 token pairs. Access and refresh
// tokens are signed with distinct secrets and tagged with a "type" claim;
// both checks must pass during verification.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// tokenClaims is the JWT payload: registered claims (sub, iat, exp) plus the
// role and the kind tag.
type tokenClaims struct {
	Role string `json:"role"`
	Kind string `json:"type"`
	jwt.RegisteredClaims
}

// NewTokenService validates the configuration and builds the service.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("token service: both secrets are required")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("token service: access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token service: token lifetimes must be positive")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		accessSecret:  cfg.AccessSecret,
		refreshSecret: cfg.RefreshSecret,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           now,
	}, nil
}

// Issue mints an access/refresh pair for the given principal.
func (s *TokenService) Issue(username, role string) (Pair, error) {
	access, err := s.sign(username, role, KindAccess)
	if err != nil {
		return Pair{}, fmt.Errorf("signing access token: %w", err)
	}
	refresh, err := s.sign(username, role, KindRefresh)
	if err != nil {
		return Pair{}, fmt.Errorf("signing refresh token: %w", err)
	}
	return Pair{
		Access:    access,
		Refresh:   refresh,
		ExpiresIn: int(s.accessTTL.Seconds()),
	}, nil
}

func (s *TokenService) sign(username, role string, kind Kind) (string, error) {
	now := s.now()
	claims := tokenClaims{
		Role: role,
		Kind: string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttlFor(kind))),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretFor(kind))
}

// Verify checks a token against the expected kind and returns its identity.
//
// Classification order matters: a token signed with the other kind's secret
// fails the MAC here, so on signature failure the token is re-parsed under
// the other secret. If it verifies there and carries the other kind's tag,
// the caller gets ErrTokenWrongKind instead of a generic ErrTokenInvalid.
// Genuinely forged or corrupted tokens fail both parses.
func (s *TokenService) Verify(tokenString string, kind Kind) (Identity, error) {
	claims, err := s.parse(tokenString, s.secretFor(kind))
	switch {
	case err == nil:
		if claims.Kind != string(kind) {
			return Identity{}, ErrTokenWrongKind
		}
		return identityFrom(claims)
	case errors.Is(err, jwt.ErrTokenExpired):
		return Identity{}, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		if s.isOtherKind(tokenString, kind) {
			return Identity{}, ErrTokenWrongKind
		}
		return Identity{}, ErrTokenInvalid
	default:
		return Identity{}, ErrTokenInvalid
	}
}

func (s *TokenService) parse(tokenString string, secret []byte) (*tokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// isOtherKind reports whether the token verifies under the other kind's
// secret and carries the other kind's tag. Claims validation is skipped so
// an expired token still classifies by kind; the signature check is not.
func (s *TokenService) isOtherKind(tokenString string, kind Kind) bool {
	other := KindRefresh
	if kind == KindRefresh {
		other = KindAccess
	}
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretFor(other), nil
	}, jwt.WithTimeFunc(s.now), jwt.WithoutClaimsValidation())
	if err != nil {
		return false
	}
	return claims.Kind == string(other)
}

func identityFrom(claims *tokenClaims) (Identity, error) {
	if claims.Subject == "" || claims.Role == "" || claims.Kind == "" {
		return Identity{}, ErrTokenMalformed
	}
	return Identity{Username: claims.Subject, Role: claims.Role}, nil
}

func (s *TokenService) secretFor(kind Kind) []byte {
	if kind == KindRefresh {
		return s.refreshSecret
	}
	return s.accessSecret
}

func (s *TokenService) ttlFor(kind Kind) time.Duration {
	if kind == KindRefresh {
		return s.refreshTTL
	}
	return s.accessTTL
}
