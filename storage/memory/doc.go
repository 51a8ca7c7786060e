// Package memory provides an in-memory implementation of the issuer storage interfaces.
//
// The Store implements ClientStore, CodeStore and RefreshTokenLedger using maps
// guarded by a sync.RWMutex. It is suitable for development, testing and
// single-instance deployments where persistence is not required.
//
// Features:
//   - ConsumeAuthorizationCode is atomic under the write lock
//   - Background cleanup of expired codes and refresh token ledger entries
//   - Optional OpenTelemetry spans and storage metrics via SetInstrumentation
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, _ := server.New(store, store, minter, config, logger)
package memory
