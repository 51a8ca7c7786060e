package oauth

import (
	"strings"

	"github.com/giantswarm/oauth-issuer/security"
)

// Endpoint paths served by Handler.Routes
const (
	AuthorizationPath = "/oauth/authorize"
	TokenPath         = "/oauth/token"
	MetadataPath      = "/.well-known/oauth-authorization-server"
	HealthPath        = "/healthz"
	MetricsPath       = "/metrics"
)

const (
	// defaultCORSMaxAge is the preflight cache lifetime in seconds
	defaultCORSMaxAge = 3600

	// DefaultMaxFormBytes bounds the token endpoint request body
	DefaultMaxFormBytes = 64 << 10
)

// HandlerConfig holds the HTTP-layer settings. The protocol settings live in
// server.Config.
type HandlerConfig struct {
	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of proxies in front of the issuer.
	// Default: 1 when TrustProxy is set
	TrustedProxyCount int

	// RateLimiter limits requests per client IP on the authorization and token
	// endpoints. Nil disables limiting.
	RateLimiter *security.RateLimiter

	// CORS configures cross-origin access for browser-based public clients
	CORS CORSConfig

	// MaxFormBytes bounds the token endpoint request body (default 64 KiB)
	MaxFormBytes int64
}

// CORSConfig holds Cross-Origin Resource Sharing settings.
// CORS is disabled when AllowedOrigins is empty.
type CORSConfig struct {
	// AllowedOrigins lists origins that may call the token endpoint from a browser.
	// "*" allows every origin and is meant for development only.
	AllowedOrigins []string

	// MaxAge is the preflight cache lifetime in seconds (default 3600)
	MaxAge int
}

func (c *HandlerConfig) applyDefaults() {
	if c.TrustProxy && c.TrustedProxyCount <= 0 {
		c.TrustedProxyCount = 1
	}
	if c.MaxFormBytes <= 0 {
		c.MaxFormBytes = DefaultMaxFormBytes
	}
	if c.CORS.MaxAge <= 0 {
		c.CORS.MaxAge = defaultCORSMaxAge
	}
}

// endpointURL joins the issuer and an endpoint path. A relative path is
// returned when no issuer is configured.
func endpointURL(issuer, path string) string {
	return strings.TrimSuffix(issuer, "/") + path
}
