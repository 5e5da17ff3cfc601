package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tphan267/meshtalk/pkg/providers"
	"github.com/tphan267/meshtalk/pkg/storage/repositories"
	"github.com/tphan267/meshtalk/pkg/utils"
	"golang.org/x/crypto/bcrypt"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 64
	minPasswordLen = 6

	tokenLength = 48
)

// ErrInvalidCredentials is returned when a login attempt fails.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrInvalidToken is returned when a session token is unknown or revoked.
var ErrInvalidToken = errors.New("invalid token")

// ErrUserExists is returned when registering a username that is taken.
var ErrUserExists = repositories.ErrUserExists

// Service implements authentication backed by the user repository.
// Session tokens are opaque and live for the lifetime of the process.
type Service struct {
	users  *repositories.UserRepository
	tokens map[string]providers.Identity // token -> identity
	mu     sync.RWMutex
}

// NewService creates a new auth service
func NewService() *Service {
	return &Service{
		tokens: make(map[string]providers.Identity),
	}
}

// Name returns the service name
func (s *Service) Name() string {
	return "auth"
}

// Initialize sets up the service with the user repository
func (s *Service) Initialize(ctx context.Context, registry *providers.Registry) error {
	if registry.DB() == nil {
		return fmt.Errorf("auth service requires storage")
	}
	s.users = registry.DB().UserRepo()
	return nil
}

// IsRunnable returns false as auth service doesn't need background processing
func (s *Service) IsRunnable() bool {
	return false
}

// Start is not used for auth service
func (s *Service) Start(ctx context.Context) error {
	return nil
}

// Stop gracefully shuts down the service
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Revoke tokens on shutdown
	s.tokens = make(map[string]providers.Identity)
	return nil
}

// RegisterAPIRoutes registers auth-related routes
func (s *Service) RegisterAPIRoutes(app interface{}) error {
	// Auth routes are handled by the API server
	return nil
}

// Register creates a new user account with a bcrypt-hashed password
func (s *Service) Register(ctx context.Context, username, password string) (*providers.Identity, error) {
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return nil, fmt.Errorf("username must be %d-%d characters", minUsernameLen, maxUsernameLen)
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.users.CreateUser(username, string(hash))
	if err != nil {
		return nil, err
	}

	return &providers.Identity{UserID: user.ID, Username: user.Username}, nil
}

// Authenticate validates credentials and returns a session token
func (s *Service) Authenticate(ctx context.Context, username, password string) (string, *providers.Identity, error) {
	user, err := s.users.GetUserByUsername(username)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := utils.GenerateRandomString(tokenLength)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	identity := providers.Identity{UserID: user.ID, Username: user.Username}

	s.mu.Lock()
	s.tokens[token] = identity
	s.mu.Unlock()

	return token, &identity, nil
}

// ValidateToken validates a token and returns the identity it was issued for
func (s *Service) ValidateToken(ctx context.Context, token string) (*providers.Identity, error) {
	s.mu.RLock()
	identity, exists := s.tokens[token]
	s.mu.RUnlock()

	if !exists {
		return nil, ErrInvalidToken
	}

	return &identity, nil
}

// Verify that Service implements both Service and AuthProvider interfaces
var _ providers.Service = (*Service)(nil)
var _ providers.AuthProvider = (*Service)(nil)
