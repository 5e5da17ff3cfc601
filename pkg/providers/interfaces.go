package providers

import (
	"context"
)

// Identity describes an authenticated user
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// AuthProvider defines authentication operations
type AuthProvider interface {
	// Register creates a new user account
	Register(ctx context.Context, username, password string) (*Identity, error)
	// Authenticate validates user credentials and returns a session token
	Authenticate(ctx context.Context, username, password string) (string, *Identity, error)
	// ValidateToken verifies a token and returns the identity it was issued for
	ValidateToken(ctx context.Context, token string) (*Identity, error)
}
