package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth-issuer/instrumentation"
	"github.com/giantswarm/oauth-issuer/security"
	"github.com/giantswarm/oauth-issuer/storage"
	"github.com/giantswarm/oauth-issuer/token"
)

// TokenMinter signs access and refresh tokens and verifies refresh tokens.
// *token.Minter is the production implementation.
type TokenMinter interface {
	MintAccessToken(subject, scope string) (*token.Token, error)
	MintRefreshToken(subject, scope string) (*token.Token, error)
	VerifyRefreshToken(raw string) (*token.Claims, error)
}

var _ TokenMinter = (*token.Minter)(nil)

// Server implements the authorization code + PKCE and refresh token grants.
// It holds no per-request state and is safe for concurrent use.
type Server struct {
	clients storage.ClientRegistry
	codes   storage.CodeStore
	minter  TokenMinter

	// refreshLedger is optional. When set, each refresh token is accepted once.
	refreshLedger storage.RefreshTokenLedger

	Auditor         *security.Auditor
	Instrumentation *instrumentation.Instrumentation
	Logger          *slog.Logger
	Config          *Config

	tracer trace.Tracer
	now    func() time.Time
}

// New creates a new OAuth server
func New(
	clients storage.ClientRegistry,
	codes storage.CodeStore,
	minter TokenMinter,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if clients == nil {
		return nil, fmt.Errorf("client registry is required")
	}
	if codes == nil {
		return nil, fmt.Errorf("code store is required")
	}
	if minter == nil {
		return nil, fmt.Errorf("token minter is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	if err := validateHTTPSEnforcement(config, logger); err != nil {
		return nil, err
	}

	return &Server{
		clients: clients,
		codes:   codes,
		minter:  minter,
		Logger:  logger,
		Config:  config,
		tracer:  tracenoop.NewTracerProvider().Tracer(""),
		now:     time.Now,
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetInstrumentation enables tracing and metrics for server operations
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("server")
	}
}

// SetRefreshTokenLedger makes refresh tokens one-time-use
func (s *Server) SetRefreshTokenLedger(ledger storage.RefreshTokenLedger) {
	s.refreshLedger = ledger
}

// SetClock replaces time.Now for code expiry. Used by tests.
func (s *Server) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// OneTimeRefreshTokens reports whether a refresh token ledger is configured
func (s *Server) OneTimeRefreshTokens() bool {
	return s.refreshLedger != nil
}

func (s *Server) metrics() *instrumentation.Metrics {
	if s.Instrumentation == nil {
		return nil
	}
	return s.Instrumentation.Metrics()
}

// startSpan starts a server span annotated with the request's client IP when allowed
func (s *Server) startSpan(ctx context.Context, name, clientIP string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, name)
	if s.Instrumentation != nil && s.Instrumentation.ShouldLogClientIPs() {
		instrumentation.AddSecurityAttributes(span, clientIP)
	}
	return ctx, span
}

// finishSpan marks span with the outcome of err and ends it
func finishSpan(span trace.Span, err error) {
	if err != nil {
		oauthErr := AsError(err)
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrError, oauthErr.Code))
		instrumentation.RecordError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	span.End()
}
