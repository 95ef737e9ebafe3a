// Package auth provides the credential store and the JWT token service.
//
// The credential store keeps users in memory behind a mutex; handlers depend
// on the Store type directly but the surface is small enough to swap for a
// database-backed implementation without touching the HTTP layer.
//
// Error Handling:
//   - Sentinel errors checked with errors.Is()
//   - Authenticate never distinguishes unknown users from wrong passwords
package auth

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/koopa0/zonda/internal/log"
)

// Roles recognized by the service. Role names appear in JWT claims and in
// document access lists.
const (
	RoleAdmin    = "admin"
	RoleEngineer = "engineer"
	RoleViewer   = "viewer"
)

var (
	// ErrDuplicateUsername indicates the username is already registered.
	ErrDuplicateUsername = errors.New("username already exists")

	// ErrInvalidRole indicates an unrecognized role name.
	ErrInvalidRole = errors.New("invalid role")

	// ErrInvalidCredentials indicates a failed login. Unknown usernames and
	// wrong passwords return this same value so responses cannot be used to
	// enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// bcryptInputLimit is bcrypt's maximum password input length in bytes.
// Longer passwords are truncated before hashing; x/crypto/bcrypt rejects
// oversized input outright, and the API accepts passwords up to 128 chars.
const bcryptInputLimit = 72

// ValidRoles returns the recognized role names in stable order.
func ValidRoles() []string {
	return []string{RoleAdmin, RoleEngineer, RoleViewer}
}

// ValidRole reports whether role is a recognized role name.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleEngineer, RoleViewer:
		return true
	}
	return false
}

// User is a registered account. The password hash never leaves the store.
type User struct {
	Username  string
	Role      string
	CreatedAt time.Time

	passwordHash []byte
}

// Store is an in-memory credential store.
type Store struct {
	mu     sync.RWMutex
	users  map[string]User
	logger log.Logger
	now    func() time.Time
}

// NewStore creates an empty credential store.
func NewStore(logger log.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		users:  make(map[string]User),
		logger: logger,
		now:    time.Now,
	}
}

// Register creates a new account. An empty role defaults to viewer.
// The duplicate check and the insert happen under one write lock, so two
// concurrent registrations of the same username cannot both succeed.
func (s *Store) Register(username, password, role string) (User, error) {
	if role == "" {
		role = RoleViewer
	}
	if !ValidRole(role) {
		return User{}, ErrInvalidRole
	}

	// Hash outside the lock: bcrypt is deliberately slow.
	hash, err := bcrypt.GenerateFromPassword(truncateForBcrypt(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		Username:     username,
		Role:         role,
		CreatedAt:    s.now().UTC(),
		passwordHash: hash,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return User{}, ErrDuplicateUsername
	}
	s.users[username] = user

	s.logger.Info("user registered", "username", username, "role", role)
	return user, nil
}

// Authenticate verifies a username/password pair.
func (s *Store) Authenticate(username, password string) (User, error) {
	s.mu.RLock()
	user, exists := s.users[username]
	s.mu.RUnlock()

	if !exists {
		return User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(user.passwordHash, truncateForBcrypt(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// Lookup returns the current account for username, if registered.
func (s *Store) Lookup(username string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[username]
	return user, exists
}

// Count returns the number of registered accounts.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.users)
}

func truncateForBcrypt(password string) []byte {
	b := []byte(password)
	if len(b) > bcryptInputLimit {
		b = b[:bcryptInputLimit]
	}
	return b
}
