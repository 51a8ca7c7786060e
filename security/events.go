package security

// Event type constants for security audit logging.
const (
	// Authorization flow events

	// EventAuthorizationCodeIssued is logged when a code is issued at the authorization endpoint
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationRejected is logged when an authorization request fails validation
	EventAuthorizationRejected = "authorization_rejected"

	// EventAuthorizationCodeRedemptionFailed is logged when a code cannot be redeemed
	// (unknown, already used, expired or bound to another redirect_uri)
	EventAuthorizationCodeRedemptionFailed = "authorization_code_redemption_failed"

	// Token lifecycle events

	// EventTokenIssued is logged when tokens are issued for an authorization code
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when a refresh token is rotated
	EventTokenRefreshed = "token_refreshed"

	// Security violation events

	// EventPKCEValidationFailed is logged when the code_verifier does not match the stored challenge
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventRefreshTokenReuseDetected is logged when a one-time refresh token is presented twice
	EventRefreshTokenReuseDetected = "refresh_token_reuse_detected"

	// EventInvalidRefreshToken is logged when a refresh token fails verification
	EventInvalidRefreshToken = "invalid_refresh_token"

	// EventAuthFailure is logged when a client cannot be authenticated or resolved
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventInvalidRedirect is logged when a redirect_uri does not match the registered one
	EventInvalidRedirect = "invalid_redirect"
)
