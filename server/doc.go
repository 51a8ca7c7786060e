// Package server implements the credential-issuance core of the issuer: the
// authorization code grant with PKCE (S256) and refresh token rotation.
//
// The Server depends on three collaborators:
//   - a storage.ClientRegistry to resolve client_id to its registered redirect URI
//   - a storage.CodeStore holding pending authorization codes, which must
//     support an atomic fetch-and-delete
//   - a TokenMinter that signs and verifies tokens (token.Minter)
//
// A storage.RefreshTokenLedger can be added with SetRefreshTokenLedger to make
// refresh tokens one-time-use.
//
// Every operation returns either a result or an *Error carrying one of the
// OAuth error codes. Collaborator failures become server_error; their cause is
// kept in Error.Err for logging and never shown to the client.
//
// Example usage:
//
//	store := memory.New()
//	minter, _ := token.New(token.Config{Secret: secret})
//
//	srv, err := server.New(store, store, minter, &server.Config{
//		Issuer: "https://auth.example.com",
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	resp, err := srv.Authorize(ctx, &server.AuthorizationRequest{...})
package server
