// Package storage provides the persistence interfaces used by the issuer.
//
// The package defines:
//   - ClientRegistry / ClientStore: registered OAuth clients
//   - CodeStore: pending authorization codes with atomic fetch-and-delete
//   - RefreshTokenLedger: optional one-time-use record for refresh tokens
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development, tests and single-instance deployments
//   - storage/valkey: Valkey/Redis-compatible storage using Lua scripts for atomicity
//   - storage/postgres: PostgreSQL storage using DELETE ... RETURNING for atomicity
//   - storage/mock: configurable failing store for unit tests
package storage
