// Package storage defines the collaborator interfaces the issuer reads clients from
// and persists pending authorization codes to.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrClientNotFound is returned when a client_id is not registered.
	ErrClientNotFound = errors.New("client not found")

	// ErrAuthorizationCodeNotFound is returned when a code does not exist,
	// including when it has already been consumed.
	ErrAuthorizationCodeNotFound = errors.New("authorization code not found")

	// ErrAuthorizationCodeExists is returned when an insert collides with an existing code.
	ErrAuthorizationCodeExists = errors.New("authorization code already exists")
)

// Client is a registered OAuth client application.
type Client struct {
	ClientID string

	// ClientSecretHash is the bcrypt hash of the client secret. Never the secret itself.
	// The token endpoint authenticates clients with PKCE only and does not check it;
	// the hash is kept for deployments that add confidential clients.
	ClientSecretHash string

	Name string

	// RedirectURI is compared byte-for-byte against the redirect_uri of a request.
	RedirectURI string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuthorizationCode is a pending, single-use grant artifact.
type AuthorizationCode struct {
	Code        string
	ClientID    string
	RedirectURI string

	// UserID is the authenticated subject. Empty when no login happened before issuance.
	UserID string

	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
	ExpiresAt           time.Time
	CreatedAt           time.Time
}

// IsExpired reports whether the code can no longer be redeemed at now.
func (c *AuthorizationCode) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// ClientRegistry resolves client identifiers. The issuer only reads from it.
type ClientRegistry interface {
	// GetClient returns ErrClientNotFound when clientID is not registered.
	GetClient(ctx context.Context, clientID string) (*Client, error)
}

// ClientStore is the write side of the registry, used by the administration CLI.
type ClientStore interface {
	ClientRegistry

	// SaveClient inserts or replaces a client.
	SaveClient(ctx context.Context, client *Client) error

	// ListClients returns every registered client.
	ListClients(ctx context.Context) ([]*Client, error)
}

// CodeStore persists pending authorization codes.
// All methods accept context.Context for tracing and cancellation.
type CodeStore interface {
	// SaveAuthorizationCode inserts a new code. It must not overwrite an existing one.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// ConsumeAuthorizationCode atomically fetches and deletes a code.
	// Exactly one of any number of concurrent callers for the same code receives it;
	// the others get ErrAuthorizationCodeNotFound.
	// Expiry is not checked here, the caller owns the clock.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)
}

// RefreshTokenLedger records refresh token use so each token can be redeemed once.
// This is optional; without a ledger refresh tokens are stateless.
type RefreshTokenLedger interface {
	// MarkRefreshTokenUsed records tokenID and reports whether this call was the first use.
	// expiresAt bounds how long the record must be kept.
	MarkRefreshTokenUsed(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error)
}

// HashClientSecret returns the bcrypt hash stored in Client.ClientSecretHash.
func HashClientSecret(secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("client secret is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash client secret: %w", err)
	}
	return string(hash), nil
}
