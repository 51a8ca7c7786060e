package server

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-issuer/instrumentation"
	"github.com/giantswarm/oauth-issuer/internal/util"
	"github.com/giantswarm/oauth-issuer/storage"
)

// AuthorizationResponse is the outcome of a successful authorization request.
type AuthorizationResponse struct {
	// RedirectURL is LoginURL with code and state added to its query
	RedirectURL string
	Code        string
	State       string
	ExpiresAt   time.Time
}

// generateAuthorizationCode returns 32 random bytes as 43 base64url characters.
func generateAuthorizationCode() string {
	return oauth2.GenerateVerifier()
}

// Authorize validates req and issues an authorization code for it.
func (s *Server) Authorize(ctx context.Context, req *AuthorizationRequest) (resp *AuthorizationResponse, err error) {
	ctx, span := s.startSpan(ctx, "oauth.server.authorize", req.ClientIP)
	defer func() { finishSpan(span, err) }()

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrResponseType, req.ResponseType))
	instrumentation.AddOAuthFlowAttributes(span, req.ClientID, "", req.Scope)

	validated, err := s.ValidateAuthorizationRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	return s.IssueAuthorizationCode(ctx, validated)
}

// IssueAuthorizationCode creates and persists a single-use code for a validated
// request and builds the redirect to LoginURL. If the code cannot be stored no
// code is returned.
func (s *Server) IssueAuthorizationCode(ctx context.Context, req *ValidatedAuthorizationRequest) (*AuthorizationResponse, error) {
	now := s.now()

	authCode := &storage.AuthorizationCode{
		Code:                generateAuthorizationCode(),
		ClientID:            req.Client.ClientID,
		RedirectURI:         req.RedirectURI,
		UserID:              req.Subject,
		Scope:               req.Scope,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		State:               req.State,
		ExpiresAt:           now.Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
		CreatedAt:           now,
	}

	redirectURL, err := util.AppendQuery(s.Config.LoginURL, url.Values{
		"code":  {authCode.Code},
		"state": {authCode.State},
	})
	if err != nil {
		return nil, ErrServerError(fmt.Errorf("build login redirect: %w", err))
	}

	if err := s.codes.SaveAuthorizationCode(ctx, authCode); err != nil {
		s.Logger.Error("Failed to save authorization code",
			"client_id", authCode.ClientID,
			"error", err)
		return nil, ErrServerError(err)
	}

	s.Logger.Debug("Issued authorization code",
		"client_id", authCode.ClientID,
		"code_prefix", util.SafeTruncate(authCode.Code, 8))

	s.Auditor.LogAuthorizationCodeIssued(authCode.UserID, authCode.ClientID, req.ClientIP, authCode.Scope)
	if m := s.metrics(); m != nil {
		m.RecordAuthorizationStarted(ctx, authCode.ClientID)
	}

	return &AuthorizationResponse{
		RedirectURL: redirectURL,
		Code:        authCode.Code,
		State:       authCode.State,
		ExpiresAt:   authCode.ExpiresAt,
	}, nil
}
