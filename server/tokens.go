package server

import (
	"fmt"
)

// TokenResponse is the JSON body of a successful token endpoint response (RFC 6749 section 5.1).
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope,omitempty"`
}

// mintTokenPair signs a fresh access and refresh token for subject and scope.
// Any minter failure is a server_error.
func (s *Server) mintTokenPair(subject, scope string) (*TokenResponse, error) {
	access, err := s.minter.MintAccessToken(subject, scope)
	if err != nil {
		s.Logger.Error("Failed to mint access token", "error", err)
		return nil, ErrServerError(fmt.Errorf("mint access token: %w", err))
	}

	refresh, err := s.minter.MintRefreshToken(subject, scope)
	if err != nil {
		s.Logger.Error("Failed to mint refresh token", "error", err)
		return nil, ErrServerError(fmt.Errorf("mint refresh token: %w", err))
	}

	return &TokenResponse{
		AccessToken:  access.Value,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(access.Lifetime().Seconds()),
		RefreshToken: refresh.Value,
		Scope:        scope,
	}, nil
}
