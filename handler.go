package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/giantswarm/oauth-issuer/instrumentation"
	"github.com/giantswarm/oauth-issuer/security"
	"github.com/giantswarm/oauth-issuer/server"
)

// Handler is a thin HTTP adapter for the OAuth Server.
// It parses requests, applies HTTP-layer policy (rate limits, CORS, headers)
// and delegates to the Server for protocol logic.
type Handler struct {
	server     *server.Server
	config     HandlerConfig
	ipResolver security.ClientIPResolver
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewHandler creates a new HTTP handler. config may be nil.
func NewHandler(srv *server.Server, config *HandlerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	var cfg HandlerConfig
	if config != nil {
		cfg = *config
	}
	cfg.applyDefaults()

	h := &Handler{
		server: srv,
		config: cfg,
		ipResolver: security.ClientIPResolver{
			TrustProxy:        cfg.TrustProxy,
			TrustedProxyCount: cfg.TrustedProxyCount,
		},
		logger: logger,
		tracer: tracenoop.NewTracerProvider().Tracer(""),
	}

	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}

	return h
}

// ServeAuthorizationServerMetadata serves RFC 8414 Authorization Server Metadata
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}

	h.setCORSHeaders(w, r)
	security.SetSecurityHeaders(w, h.server.Config.Issuer)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.buildAuthServerMetadata())
}

// buildAuthServerMetadata describes the single supported deployment: public
// clients using the authorization code grant with S256 PKCE.
func (h *Handler) buildAuthServerMetadata() AuthorizationServerMetadata {
	issuer := h.server.Config.Issuer
	return AuthorizationServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             endpointURL(issuer, AuthorizationPath),
		TokenEndpoint:                     endpointURL(issuer, TokenPath),
		ResponseTypesSupported:            []string{server.ResponseTypeCode},
		GrantTypesSupported:               []string{server.GrantTypeAuthorizationCode, server.GrantTypeRefreshToken},
		CodeChallengeMethodsSupported:     []string{server.PKCEMethodS256},
		TokenEndpointAuthMethodsSupported: []string{"none"},
	}
}

// ServeAuthorization handles OAuth authorization requests
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	ctx, span := h.tracer.Start(r.Context(), "oauth.http.authorization")
	defer span.End()
	r = r.WithContext(ctx)

	if r.Method != http.MethodGet {
		h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusMethodNotAllowed, startTime)
		h.methodNotAllowed(w, http.MethodGet)
		return
	}

	clientIP := h.ipResolver.Resolve(r)
	if h.checkRateLimit(ctx, w, clientIP, "authorization") {
		h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusTooManyRequests, startTime)
		instrumentation.SetSpanError(span, "rate limit exceeded")
		return
	}

	query := r.URL.Query()
	subject, _ := SubjectFromContext(ctx)

	req := &server.AuthorizationRequest{
		ClientID:            query.Get("client_id"),
		RedirectURI:         query.Get("redirect_uri"),
		State:               query.Get("state"),
		Scope:               query.Get("scope"),
		ResponseType:        query.Get("response_type"),
		CodeChallenge:       query.Get("code_challenge"),
		CodeChallengeMethod: query.Get("code_challenge_method"),
		Subject:             subject,
		ClientIP:            clientIP,
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrClientID, req.ClientID),
		attribute.String(instrumentation.AttrPKCEMethod, req.CodeChallengeMethod),
	)

	resp, err := h.server.Authorize(ctx, req)
	if err != nil {
		// rejections are audited by the server
		oauthErr := h.writeError(ctx, w, err)
		h.recordHTTPMetrics(ctx, "authorization", r.Method, oauthErr.Status, startTime)
		instrumentation.SetSpanError(span, oauthErr.Code)
		return
	}

	h.recordHTTPMetrics(ctx, "authorization", r.Method, http.StatusFound, startTime)
	instrumentation.SetSpanSuccess(span)

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	http.Redirect(w, r, resp.RedirectURL, http.StatusFound)
}

// ServeToken handles the OAuth token endpoint
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	if r.Method == http.MethodOptions {
		h.ServePreflightRequest(w, r)
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "oauth.http.token")
	defer span.End()

	if r.Method != http.MethodPost {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusMethodNotAllowed, startTime)
		h.methodNotAllowed(w, http.MethodPost)
		return
	}

	// Set CORS headers for browser-based clients
	h.setCORSHeaders(w, r)
	// RFC 6749 section 5.1: token responses, including errors, must not be cached
	security.SetNoStoreHeaders(w)

	clientIP := h.ipResolver.Resolve(r)
	if h.checkRateLimit(ctx, w, clientIP, "token") {
		h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusTooManyRequests, startTime)
		instrumentation.SetSpanError(span, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxFormBytes)
	if err := r.ParseForm(); err != nil {
		oauthErr := h.writeError(ctx, w, server.ErrInvalidRequest("Failed to parse request body"))
		h.recordHTTPMetrics(ctx, "token", r.Method, oauthErr.Status, startTime)
		instrumentation.SetSpanError(span, oauthErr.Code)
		return
	}

	grantType := r.PostForm.Get("grant_type")
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, grantType))

	var (
		resp *server.TokenResponse
		err  error
	)
	switch grantType {
	case server.GrantTypeAuthorizationCode:
		resp, err = h.server.ExchangeAuthorizationCode(ctx, &server.AuthorizationCodeGrantRequest{
			GrantType:    grantType,
			Code:         r.PostForm.Get("code"),
			RedirectURI:  r.PostForm.Get("redirect_uri"),
			CodeVerifier: r.PostForm.Get("code_verifier"),
			ClientID:     r.PostForm.Get("client_id"),
			ClientIP:     clientIP,
		})
	case server.GrantTypeRefreshToken:
		resp, err = h.server.RefreshAccessToken(ctx, &server.RefreshTokenGrantRequest{
			GrantType:    grantType,
			RefreshToken: r.PostForm.Get("refresh_token"),
			ClientIP:     clientIP,
		})
	case "":
		err = server.ErrInvalidRequest("grant_type is required")
	default:
		err = server.ErrUnsupportedGrantType(fmt.Sprintf("grant type %q is not supported", grantType))
	}

	if err != nil {
		oauthErr := h.writeError(ctx, w, err)
		h.recordHTTPMetrics(ctx, "token", r.Method, oauthErr.Status, startTime)
		instrumentation.SetSpanError(span, oauthErr.Code)
		return
	}

	security.LoggerWithRequestID(ctx, h.logger).Info("Token issued",
		"grant_type", grantType,
		"ip", clientIP)

	h.recordHTTPMetrics(ctx, "token", r.Method, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	h.writeTokenResponse(w, resp)
}

// ServeHealth reports liveness
func (h *Handler) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// ServePreflightRequest handles CORS preflight (OPTIONS) requests.
func (h *Handler) ServePreflightRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodOptions {
		h.methodNotAllowed(w, http.MethodOptions)
		return
	}

	h.setCORSHeaders(w, r)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusNoContent)
}

// checkRateLimit applies the per-IP limiter. It returns true if the limit was
// exceeded and a 429 response has been written.
func (h *Handler) checkRateLimit(ctx context.Context, w http.ResponseWriter, clientIP, endpoint string) bool {
	if h.config.RateLimiter == nil {
		return false
	}

	allowed, retryAfter := h.config.RateLimiter.Allow(clientIP)
	if allowed {
		return false
	}

	security.LoggerWithRequestID(ctx, h.logger).Warn("Rate limit exceeded",
		"ip", clientIP,
		"endpoint", endpoint)

	h.server.Auditor.LogRateLimitExceeded(clientIP, endpoint)
	if h.server.Instrumentation != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(ctx, endpoint)
	}

	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	h.writeError(ctx, w, server.ErrRateLimitExceeded("Too many requests, retry later"))
	return true
}

func (h *Handler) writeTokenResponse(w http.ResponseWriter, resp *server.TokenResponse) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	security.SetNoStoreHeaders(w)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// writeError writes err as an OAuth JSON error and returns the protocol error
// it was written as. Internal causes are logged, never sent.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) *server.Error {
	oauthErr := server.AsError(err)

	logger := security.LoggerWithRequestID(ctx, h.logger)
	if oauthErr.Status >= http.StatusInternalServerError {
		logger.Error("Request failed", "error_code", oauthErr.Code, "error", err)
	} else {
		logger.Debug("Request rejected", "error_code", oauthErr.Code, "error", err)
	}

	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oauthErr.Status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            oauthErr.Code,
		ErrorDescription: oauthErr.Description,
	})

	return oauthErr
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

func (h *Handler) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	// Skip if CORS not configured
	if len(h.config.CORS.AllowedOrigins) == 0 {
		return
	}

	// Skip if not a browser CORS request (no Origin header)
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	if !h.isAllowedOrigin(origin) {
		h.logger.Debug("CORS request from disallowed origin", "origin", origin)
		return
	}

	// Echo back the specific origin rather than using "*"
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", h.config.CORS.MaxAge))
}

// isAllowedOrigin checks if the given origin is in the allowed origins list.
// Supports exact matching and wildcard "*" for development.
func (h *Handler) isAllowedOrigin(origin string) bool {
	for _, allowed := range h.config.CORS.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// recordHTTPMetrics records HTTP request metrics (total count and duration)
func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, startTime time.Time) {
	if h.server.Instrumentation == nil {
		return
	}

	duration := time.Since(startTime).Seconds() * 1000 // milliseconds
	h.server.Instrumentation.Metrics().RecordHTTPRequest(ctx, method, endpoint, status, duration)
}

// Routes returns the issuer's HTTP surface wrapped in the request ID middleware.
// metrics is mounted at MetricsPath when non-nil.
func (h *Handler) Routes(metrics http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(AuthorizationPath, h.ServeAuthorization)
	mux.HandleFunc(TokenPath, h.ServeToken)
	mux.HandleFunc(MetadataPath, h.ServeAuthorizationServerMetadata)
	mux.HandleFunc(HealthPath, h.ServeHealth)
	if metrics != nil {
		mux.Handle(MetricsPath, metrics)
	}
	return security.RequestIDMiddleware(mux)
}
