package server

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oauth-issuer/instrumentation"
	"github.com/giantswarm/oauth-issuer/token"
)

// RefreshAccessToken verifies a refresh token and rotates it into a new
// access and refresh token for the same subject and scope.
//
// Refresh tokens are stateless unless a RefreshTokenLedger is set, in which
// case each token's jti is recorded and a second presentation is rejected.
func (s *Server) RefreshAccessToken(ctx context.Context, req *RefreshTokenGrantRequest) (resp *TokenResponse, err error) {
	ctx, span := s.startSpan(ctx, "oauth.server.refresh_token", req.ClientIP)
	defer func() {
		if err != nil {
			if m := s.metrics(); m != nil {
				m.RecordGrantRejected(ctx, GrantTypeRefreshToken, AsError(err).Code)
			}
		}
		finishSpan(span, err)
	}()

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, GrantTypeRefreshToken))

	if err := req.Validate(); err != nil {
		return nil, err
	}

	claims, err := s.minter.VerifyRefreshToken(req.RefreshToken)
	if err != nil {
		reason := "invalid"
		switch {
		case errors.Is(err, token.ErrTokenExpired):
			reason = "expired"
		case errors.Is(err, token.ErrWrongTokenType):
			reason = "wrong_type"
		}
		s.Logger.Debug("Refresh token rejected", "reason", reason, "error", err)
		s.Auditor.LogInvalidRefreshToken(req.ClientIP, reason)
		return nil, ErrInvalidGrant("refresh token is invalid or expired").withCause(err)
	}

	instrumentation.AddOAuthFlowAttributes(span, "", claims.Subject, claims.Scope)

	if s.refreshLedger != nil {
		first, err := s.refreshLedger.MarkRefreshTokenUsed(ctx, claims.ID, claims.ExpiresAt)
		if err != nil {
			s.Logger.Error("Failed to record refresh token use", "error", err)
			return nil, ErrServerError(err)
		}
		if !first {
			s.Logger.Warn("Refresh token reuse detected", "user_id_present", claims.Subject != "")
			s.Auditor.LogRefreshTokenReuse(claims.Subject, claims.ID, req.ClientIP)
			if m := s.metrics(); m != nil {
				m.RecordTokenReuseDetected(ctx)
			}
			return nil, ErrInvalidGrant("refresh token has already been used")
		}
	}

	resp, err = s.mintTokenPair(claims.Subject, claims.Scope)
	if err != nil {
		return nil, err
	}

	s.Auditor.LogTokenRefreshed(claims.Subject, req.ClientIP, s.refreshLedger != nil)
	if m := s.metrics(); m != nil {
		m.RecordTokenRefresh(ctx, s.refreshLedger != nil)
	}

	return resp, nil
}
