// Package security provides the protective plumbing around the issuer endpoints:
// audit logging, per-IP rate limiting, request IDs, response headers and client
// IP extraction.
//
// # Audit Logging
//
// The Auditor writes one "security_audit" record per event. User IDs and
// refresh token IDs are replaced by a truncated SHA-256 hash, so logs can be
// correlated without exposing who the subject is. A nil *Auditor discards
// events.
//
// # Rate Limiting
//
// RateLimiter keeps a golang.org/x/time/rate token bucket per identifier. The
// number of identifiers is capped (10,000 by default) and the least recently
// used one is evicted at the cap. Idle identifiers are swept periodically.
//
//	limiter := security.NewRateLimiter(security.RateLimitConfig{
//		RequestsPerSecond: 10,
//		Burst:             20,
//	})
//	defer limiter.Stop()
//
//	if ok, retryAfter := limiter.Allow(clientIP); !ok {
//		// respond 429 with Retry-After
//	}
//
// # Client IPs
//
// ClientIPResolver only trusts X-Forwarded-For and X-Real-IP when told it runs
// behind a proxy. Otherwise the connection's remote address is used.
package security
