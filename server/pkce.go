package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// S256Challenge returns base64url(SHA256(verifier)) without padding (RFC 7636 section 4.2).
func S256Challenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// VerifyPKCE reports whether verifier hashes to challenge under S256.
// Verifiers outside 43-128 characters never match. The comparison is constant time.
func VerifyPKCE(challenge, verifier string) bool {
	if challenge == "" {
		return false
	}
	if len(verifier) < MinCodeVerifierLength || len(verifier) > MaxCodeVerifierLength {
		return false
	}

	computed := S256Challenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
