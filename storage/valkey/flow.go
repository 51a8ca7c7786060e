package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/giantswarm/oauth-issuer/internal/util"
	"github.com/giantswarm/oauth-issuer/storage"
)

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveAuthorizationCode saves an issued authorization code with a TTL matching its expiry.
// An existing code with the same value is never overwritten.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}
	if len(code.Code) > MaxCodeLength {
		return errInputTooLarge
	}

	data, err := json.Marshal(toAuthorizationCodeJSON(code))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	ttl := calculateTTL(code.ExpiresAt, s.now())
	if ttl < time.Millisecond {
		return fmt.Errorf("authorization code already expired")
	}

	stored, err := s.setIfAbsent(ctx, s.codeKey(code.Code), string(data), ttl)
	if err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	if !stored {
		return storage.ErrAuthorizationCodeExists
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, codeLogLength))
	return nil
}

// ConsumeAuthorizationCode atomically fetches and deletes an authorization code.
//
// SECURITY: the GET and DEL run in one Lua script, so only ONE concurrent
// redemption of a code can receive it.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	if code == "" || len(code) > MaxCodeLength {
		return nil, storage.ErrAuthorizationCodeNotFound
	}

	data, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaGetAndDelete).
			Numkeys(1).
			Key(s.codeKey(code)).
			Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrAuthorizationCodeNotFound
		}
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	var j authorizationCodeJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, codeLogLength))

	return fromAuthorizationCodeJSON(&j), nil
}

// ============================================================
// RefreshTokenLedger Implementation
// ============================================================

// MarkRefreshTokenUsed records a refresh token ID until the token expires.
// It returns false if the ID was already recorded.
func (s *Store) MarkRefreshTokenUsed(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	if tokenID == "" {
		return false, fmt.Errorf("refresh token ID is empty")
	}
	if len(tokenID) > MaxIDLength {
		return false, errInputTooLarge
	}

	// An already-expired token cannot verify again, but keep a short record anyway
	ttl := calculateTTL(expiresAt, s.now())
	if ttl < time.Second {
		ttl = time.Second
	}

	first, err := s.setIfAbsent(ctx, s.refreshKey(tokenID), "1", ttl)
	if err != nil {
		return false, fmt.Errorf("failed to record refresh token use: %w", err)
	}

	return first, nil
}
