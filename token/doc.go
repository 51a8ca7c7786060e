// Package token mints and verifies the bearer credentials handed out by the issuer.
//
// Access and refresh tokens are compact HS256 JWTs signed with a single shared
// secret. Both carry sub, scope, iat, exp and a random jti. Refresh tokens are
// additionally marked with a "type":"refresh" claim so one cannot be used in
// place of the other. Nothing is persisted; a token is valid for as long as its
// signature and exp hold.
package token
