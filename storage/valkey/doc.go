// Package valkey provides a Valkey storage backend for the issuer.
//
// Valkey is a key-value store that is wire-compatible with Redis. This backend
// lets several issuer instances share pending authorization codes, which the
// in-memory store cannot do.
//
// # Implemented Interfaces
//
//   - [storage.ClientStore]: registered clients
//   - [storage.CodeStore]: pending authorization codes
//   - [storage.RefreshTokenLedger]: one-time-use refresh token records
//
// # Key Schema
//
// All keys use a configurable prefix (default "oauth:"):
//
//	{prefix}client:{clientID}   -> JSON(Client)
//	{prefix}code:{code}         -> JSON(AuthorizationCode), TTL until expiry
//	{prefix}refresh:{tokenID}   -> "1", TTL until the refresh token expires
//
// # Atomic Operations
//
// Single use is enforced with Lua scripts, which Valkey runs atomically:
//
//   - ConsumeAuthorizationCode: GET and DEL in one script
//   - MarkRefreshTokenUsed: SET NX with expiry in one script
//
// SaveAuthorizationCode uses SET NX so a colliding code is never overwritten.
//
// # Example
//
//	store, err := valkey.New(valkey.Config{
//		Address:   "localhost:6379",
//		KeyPrefix: "oauth:",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
package valkey
