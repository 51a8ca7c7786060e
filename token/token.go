package token

import (
	"errors"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

const (
	// MinSecretLength is the minimum HS256 secret size in bytes
	MinSecretLength = 32

	// DefaultAccessTokenTTL is the default access token lifetime
	DefaultAccessTokenTTL = time.Hour

	// DefaultRefreshTokenTTL is the default refresh token lifetime (30 days)
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour

	// TypeRefresh is the value of the type claim on refresh tokens
	TypeRefresh = "refresh"
)

var (
	// ErrSecretTooShort is returned by New when the signing secret is under MinSecretLength bytes.
	ErrSecretTooShort = fmt.Errorf("signing secret must be at least %d bytes", MinSecretLength)

	// ErrInvalidToken is returned for malformed tokens, bad signatures and claim mismatches.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when exp has passed.
	ErrTokenExpired = errors.New("token expired")

	// ErrWrongTokenType is returned when a token of the other kind is presented.
	ErrWrongTokenType = errors.New("wrong token type")
)

// Config configures a Minter.
type Config struct {
	// Secret is the HS256 signing key. Required, at least MinSecretLength bytes.
	Secret []byte

	// Issuer is placed in the iss claim and checked on verification when set.
	Issuer string

	// AccessTokenTTL defaults to DefaultAccessTokenTTL.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL defaults to DefaultRefreshTokenTTL.
	RefreshTokenTTL time.Duration
}

// Option customizes a Minter.
type Option func(*Minter)

// WithClock replaces time.Now. Used by tests to mint and verify at fixed instants.
func WithClock(now func() time.Time) Option {
	return func(m *Minter) {
		if now != nil {
			m.now = now
		}
	}
}

// Token is a signed credential and the instants it covers.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Lifetime returns ExpiresAt - IssuedAt.
func (t *Token) Lifetime() time.Duration {
	return t.ExpiresAt.Sub(t.IssuedAt)
}

// Claims are the verified contents of a token.
type Claims struct {
	Subject   string
	Scope     string
	ID        string
	Type      string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// customClaims are the non-registered claims merged into the JWT payload
type customClaims struct {
	Scope string `json:"scope,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Minter signs and verifies access and refresh tokens. It is safe for concurrent use.
type Minter struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	signer     gojose.Signer
	now        func() time.Time
}

// New creates a Minter. It fails with ErrSecretTooShort if the secret is too small.
func New(cfg Config, opts ...Option) (*Minter, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.HS256, Key: secret},
		(&gojose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("new signer: %w", err)
	}

	m := &Minter{
		secret:     secret,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		signer:     signer,
		now:        time.Now,
	}
	if m.accessTTL <= 0 {
		m.accessTTL = DefaultAccessTokenTTL
	}
	if m.refreshTTL <= 0 {
		m.refreshTTL = DefaultRefreshTokenTTL
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// AccessTokenTTL returns the configured access token lifetime.
func (m *Minter) AccessTokenTTL() time.Duration { return m.accessTTL }

// RefreshTokenTTL returns the configured refresh token lifetime.
func (m *Minter) RefreshTokenTTL() time.Duration { return m.refreshTTL }

// MintAccessToken signs an access token for subject and scope.
func (m *Minter) MintAccessToken(subject, scope string) (*Token, error) {
	return m.mint(subject, scope, "", m.accessTTL)
}

// MintRefreshToken signs a refresh token for subject and scope.
func (m *Minter) MintRefreshToken(subject, scope string) (*Token, error) {
	return m.mint(subject, scope, TypeRefresh, m.refreshTTL)
}

func (m *Minter) mint(subject, scope, tokenType string, ttl time.Duration) (*Token, error) {
	// JWT dates have second resolution
	now := time.Unix(m.now().Unix(), 0)
	expiresAt := now.Add(ttl)

	std := gojwt.Claims{
		Subject:  subject,
		Issuer:   m.issuer,
		ID:       uuid.NewString(),
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(expiresAt),
	}
	custom := customClaims{
		Scope: scope,
		Type:  tokenType,
	}

	value, err := gojwt.Signed(m.signer).Claims(std).Claims(custom).Serialize()
	if err != nil {
		return nil, fmt.Errorf("serialize jwt: %w", err)
	}

	return &Token{
		Value:     value,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// VerifyRefreshToken checks the signature, exp (no leeway), iss and the type claim
// of a refresh token and returns its claims.
func (m *Minter) VerifyRefreshToken(raw string) (*Claims, error) {
	claims, err := m.verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.Type != TypeRefresh {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// VerifyAccessToken checks an access token the same way and rejects refresh tokens.
func (m *Minter) VerifyAccessToken(raw string) (*Claims, error) {
	claims, err := m.verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.Type != "" {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

func (m *Minter) verify(raw string) (*Claims, error) {
	parsed, err := gojwt.ParseSigned(raw, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: parse token: %v", ErrInvalidToken, err)
	}

	var std gojwt.Claims
	var custom customClaims
	if err := parsed.Claims(m.secret, &std, &custom); err != nil {
		return nil, fmt.Errorf("%w: verify token: %v", ErrInvalidToken, err)
	}

	if std.Expiry == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}

	expected := gojwt.Expected{
		Issuer: m.issuer,
		Time:   m.now(),
	}
	if err := std.ValidateWithLeeway(expected, 0); err != nil {
		if errors.Is(err, gojwt.ErrExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: validate claims: %v", ErrInvalidToken, err)
	}

	claims := &Claims{
		Subject:   std.Subject,
		Scope:     custom.Scope,
		ID:        std.ID,
		Type:      custom.Type,
		Issuer:    std.Issuer,
		ExpiresAt: std.Expiry.Time(),
	}
	if std.IssuedAt != nil {
		claims.IssuedAt = std.IssuedAt.Time()
	}

	return claims, nil
}
