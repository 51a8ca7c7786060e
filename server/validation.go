package server

import (
	"context"
	"errors"

	"github.com/giantswarm/oauth-issuer/storage"
)

// Protocol constants
const (
	ResponseTypeCode           = "code"
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeRefreshToken      = "refresh_token"
	TokenTypeBearer            = "Bearer"

	// PKCE (RFC 7636)
	PKCEMethodS256        = "S256"
	CodeChallengeLength   = 43
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
)

// AuthorizationRequest is the query of a request to the authorization endpoint.
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	State               string
	Scope               string
	ResponseType        string
	CodeChallenge       string
	CodeChallengeMethod string

	// Subject is the authenticated end-user placed in the request context by
	// upstream login middleware. Empty when no login happened.
	Subject string

	// ClientIP is only used for audit records.
	ClientIP string
}

// Validate checks the parameters that need no collaborator: required fields
// first, then response_type.
func (r *AuthorizationRequest) Validate() error {
	switch {
	case r.ClientID == "":
		return ErrInvalidRequest("client_id is required")
	case r.RedirectURI == "":
		return ErrInvalidRequest("redirect_uri is required")
	case r.State == "":
		return ErrInvalidRequest("state is required")
	}

	if r.ResponseType != "" && r.ResponseType != ResponseTypeCode {
		return ErrUnsupportedResponseType("only response_type=code is supported")
	}

	return nil
}

// validatePKCEParams checks code_challenge and code_challenge_method.
// An absent method with a challenge present means S256.
func validatePKCEParams(challenge, method string, allowMissing bool) error {
	if challenge == "" {
		if method != "" {
			return ErrInvalidRequest("code_challenge_method without code_challenge")
		}
		if allowMissing {
			return nil
		}
		return ErrInvalidRequest("code_challenge is required")
	}

	if method != "" && method != PKCEMethodS256 {
		return ErrInvalidRequest("code_challenge_method must be S256")
	}

	if len(challenge) != CodeChallengeLength || !isBase64URL(challenge) {
		return ErrInvalidRequest("code_challenge must be 43 base64url characters")
	}

	return nil
}

func isBase64URL(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		ok := (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_'
		if !ok {
			return false
		}
	}
	return true
}

// ValidatedAuthorizationRequest is an authorization request that passed every check.
type ValidatedAuthorizationRequest struct {
	Client              *storage.Client
	RedirectURI         string
	State               string
	Scope               string
	CodeChallenge       string
	CodeChallengeMethod string
	Subject             string
	ClientIP            string
}

// ValidateAuthorizationRequest checks req against the protocol and the client registry,
// in this order:
//
//  1. client_id, redirect_uri and state present (invalid_request)
//  2. response_type absent or "code" (unsupported_response_type)
//  3. client registered (invalid_client)
//  4. redirect_uri byte-equal to the registered one (invalid_redirect_uri)
//  5. PKCE parameters well formed (invalid_request)
//
// It has no side effects other than audit records.
func (s *Server) ValidateAuthorizationRequest(ctx context.Context, req *AuthorizationRequest) (*ValidatedAuthorizationRequest, error) {
	if err := req.Validate(); err != nil {
		s.auditAuthorizationRejected(req, err)
		return nil, err
	}

	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			s.Auditor.LogAuthFailure(req.Subject, req.ClientID, req.ClientIP, "unknown_client")
			return nil, ErrInvalidClient("unknown client_id")
		}
		s.Logger.Error("Client lookup failed", "client_id", req.ClientID, "error", err)
		return nil, ErrServerError(err)
	}

	if client.RedirectURI != req.RedirectURI {
		s.Auditor.LogInvalidRedirect(req.ClientID, req.ClientIP, req.RedirectURI)
		return nil, ErrInvalidRedirectURI("redirect_uri does not match the registered redirect URI")
	}

	if err := validatePKCEParams(req.CodeChallenge, req.CodeChallengeMethod, s.Config.AllowMissingPKCE); err != nil {
		s.auditAuthorizationRejected(req, err)
		return nil, err
	}

	method := ""
	if req.CodeChallenge != "" {
		method = PKCEMethodS256
	}

	return &ValidatedAuthorizationRequest{
		Client:              client,
		RedirectURI:         req.RedirectURI,
		State:               req.State,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: method,
		Subject:             req.Subject,
		ClientIP:            req.ClientIP,
	}, nil
}

func (s *Server) auditAuthorizationRejected(req *AuthorizationRequest, err error) {
	s.Auditor.LogAuthorizationRejected(req.ClientID, req.ClientIP, AsError(err).Code)
}

// AuthorizationCodeGrantRequest is a token request with grant_type=authorization_code.
type AuthorizationCodeGrantRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string

	// ClientID is optional. When present it must match the code's client.
	ClientID string

	ClientIP string
}

// Validate checks that the required parameters are present. code_verifier is
// required unless requireVerifier is false.
func (r *AuthorizationCodeGrantRequest) Validate(requireVerifier bool) error {
	switch {
	case r.GrantType != GrantTypeAuthorizationCode:
		return ErrInvalidRequest("grant_type must be authorization_code")
	case r.Code == "":
		return ErrInvalidRequest("code is required")
	case r.RedirectURI == "":
		return ErrInvalidRequest("redirect_uri is required")
	case requireVerifier && r.CodeVerifier == "":
		return ErrInvalidRequest("code_verifier is required")
	}
	return nil
}

// RefreshTokenGrantRequest is a token request with grant_type=refresh_token.
type RefreshTokenGrantRequest struct {
	GrantType    string
	RefreshToken string
	ClientIP     string
}

// Validate checks that the required parameters are present.
func (r *RefreshTokenGrantRequest) Validate() error {
	switch {
	case r.GrantType != GrantTypeRefreshToken:
		return ErrInvalidRequest("grant_type must be refresh_token")
	case r.RefreshToken == "":
		return ErrInvalidRequest("refresh_token is required")
	}
	return nil
}
