package server

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oauth-issuer/instrumentation"
	"github.com/giantswarm/oauth-issuer/internal/util"
	"github.com/giantswarm/oauth-issuer/storage"
)

// ExchangeAuthorizationCode redeems an authorization code for an access and refresh token.
//
// SECURITY: the code is consumed (fetched and deleted atomically) before any
// other check. A redemption that fails afterwards, whether on expiry,
// redirect_uri, PKCE or minting, still burns the code, and of any number of
// concurrent redemptions at most one can succeed.
func (s *Server) ExchangeAuthorizationCode(ctx context.Context, req *AuthorizationCodeGrantRequest) (resp *TokenResponse, err error) {
	ctx, span := s.startSpan(ctx, "oauth.server.exchange_code", req.ClientIP)
	defer func() {
		if err != nil {
			if m := s.metrics(); m != nil {
				m.RecordGrantRejected(ctx, GrantTypeAuthorizationCode, AsError(err).Code)
			}
		}
		finishSpan(span, err)
	}()

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, GrantTypeAuthorizationCode))

	if err := req.Validate(!s.Config.AllowMissingPKCE); err != nil {
		return nil, err
	}

	authCode, err := s.codes.ConsumeAuthorizationCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrAuthorizationCodeNotFound) {
			// Unknown, already redeemed or purged after expiry. The store does not tell these apart.
			s.Logger.Debug("Authorization code redemption failed",
				"reason", "not_found",
				"code_prefix", util.SafeTruncate(req.Code, 8))
			s.Auditor.LogCodeRedemptionFailed(req.ClientID, req.ClientIP, "not_found")
			return nil, ErrInvalidGrant("authorization code is invalid or has already been used")
		}
		s.Logger.Error("Failed to consume authorization code", "error", err)
		return nil, ErrServerError(err)
	}

	instrumentation.AddOAuthFlowAttributes(span, authCode.ClientID, authCode.UserID, authCode.Scope)

	if authCode.IsExpired(s.now()) {
		s.rejectRedemption(authCode, req, "expired")
		return nil, ErrInvalidGrant("authorization code has expired")
	}

	if authCode.RedirectURI != req.RedirectURI {
		s.rejectRedemption(authCode, req, "redirect_uri_mismatch")
		return nil, ErrInvalidGrant("redirect_uri does not match the authorization request")
	}

	if req.ClientID != "" && req.ClientID != authCode.ClientID {
		s.rejectRedemption(authCode, req, "client_id_mismatch")
		return nil, ErrInvalidGrant("authorization code was issued to another client")
	}

	if authCode.CodeChallenge != "" {
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrPKCEMethod, authCode.CodeChallengeMethod))

		if !VerifyPKCE(authCode.CodeChallenge, req.CodeVerifier) {
			s.Auditor.LogPKCEValidationFailed(authCode.UserID, authCode.ClientID, req.ClientIP)
			if m := s.metrics(); m != nil {
				m.RecordPKCEValidationFailed(ctx, authCode.CodeChallengeMethod)
			}
			return nil, ErrInvalidGrant("code_verifier does not match code_challenge")
		}
	}

	resp, err = s.mintTokenPair(authCode.UserID, authCode.Scope)
	if err != nil {
		return nil, err
	}

	s.Auditor.LogTokenIssued(authCode.UserID, authCode.ClientID, req.ClientIP, authCode.Scope)
	if m := s.metrics(); m != nil {
		m.RecordCodeExchange(ctx, authCode.ClientID, authCode.CodeChallengeMethod)
	}

	return resp, nil
}

// rejectRedemption logs and audits a consumed code that failed a later check
func (s *Server) rejectRedemption(authCode *storage.AuthorizationCode, req *AuthorizationCodeGrantRequest, reason string) {
	s.Logger.Debug("Authorization code redemption failed",
		"reason", reason,
		"client_id", authCode.ClientID,
		"code_prefix", util.SafeTruncate(authCode.Code, 8))
	s.Auditor.LogCodeRedemptionFailed(authCode.ClientID, req.ClientIP, reason)
}
