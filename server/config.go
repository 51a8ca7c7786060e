package server

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Config holds OAuth server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL).
	// Optional; when set it must be https unless it points at localhost or
	// AllowInsecureHTTP is set.
	Issuer string

	// LoginURL is where the authorization endpoint redirects with code and state.
	// Default: "/login"
	LoginURL string

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AllowMissingPKCE accepts authorization requests without code_challenge
	// WARNING: codes issued without a challenge can be redeemed by anyone who
	// intercepts them
	// Default: false (PKCE required)
	AllowMissingPKCE bool

	// AllowInsecureHTTP permits an http:// issuer on a non-localhost host
	// Default: false
	AllowInsecureHTTP bool
}

const (
	// DefaultLoginURL is the default redirect target after an authorization code is issued
	DefaultLoginURL = "/login"

	// DefaultAuthorizationCodeTTL is the default code lifetime in seconds
	DefaultAuthorizationCodeTTL = 600
)

// applySecureDefaults applies secure-by-default configuration values
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.AuthorizationCodeTTL <= 0 {
		config.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if config.LoginURL == "" {
		config.LoginURL = DefaultLoginURL
	}

	logSecurityWarnings(config, logger)

	return config
}

// logSecurityWarnings logs warnings for insecure configuration settings
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.AllowMissingPKCE {
		logger.Warn("SECURITY WARNING: PKCE is optional",
			"risk", "Authorization code interception attacks",
			"recommendation", "Leave AllowMissingPKCE=false",
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc7636#section-1")
	}
	if config.AllowInsecureHTTP {
		logger.Warn("SECURITY WARNING: Insecure HTTP issuer allowed",
			"risk", "Codes and tokens exposed to network interception",
			"recommendation", "Serve the issuer over https")
	}
	if config.AuthorizationCodeTTL > DefaultAuthorizationCodeTTL {
		logger.Warn("Authorization code lifetime exceeds 10 minutes",
			"authorization_code_ttl", config.AuthorizationCodeTTL,
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc6749#section-4.1.2")
	}
}

// validateHTTPSEnforcement rejects an http:// issuer outside localhost, since
// every code and token would cross the network in clear text.
func validateHTTPSEnforcement(config *Config, logger *slog.Logger) error {
	if config.Issuer == "" {
		return nil
	}

	u, err := url.Parse(config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "https":
		return nil
	case "http":
		if isLocalhostHostname(u.Hostname()) {
			logger.Warn("Issuer uses http on localhost; use https in production",
				"issuer", config.Issuer)
			return nil
		}
		if config.AllowInsecureHTTP {
			return nil
		}
		return fmt.Errorf("issuer %q must use https (set AllowInsecureHTTP to override)", config.Issuer)
	default:
		return fmt.Errorf("issuer %q must be an http(s) URL", config.Issuer)
	}
}

func isLocalhostHostname(hostname string) bool {
	switch strings.ToLower(hostname) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return strings.HasSuffix(strings.ToLower(hostname), ".localhost")
}
