// Package oauth is the HTTP surface of the issuer.
//
// Handler adapts a server.Server to net/http:
//
//   - GET  /oauth/authorize issues an authorization code and redirects to the login URL
//   - POST /oauth/token redeems codes (authorization_code) and rotates refresh tokens (refresh_token)
//   - GET  /.well-known/oauth-authorization-server serves RFC 8414 metadata
//   - GET  /healthz reports liveness
//
// Only public clients are supported: PKCE with S256 replaces the client secret
// at the token endpoint.
//
// Example:
//
//	store := memory.New()
//	minter, _ := token.New(token.Config{Secret: secret})
//	srv, _ := server.New(store, store, minter, &server.Config{Issuer: "https://auth.example.com"}, logger)
//	handler := oauth.NewHandler(srv, nil, logger)
//	http.ListenAndServe(":8080", handler.Routes(nil))
package oauth
