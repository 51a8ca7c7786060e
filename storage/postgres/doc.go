// Package postgres provides a PostgreSQL storage backend for the issuer.
//
// Clients, pending authorization codes and refresh token ledger entries live in
// three tables created by [Store.Migrate]. Single use of a code is enforced by
// DELETE ... RETURNING, so the row is gone by the time its contents are read.
//
// Expired rows are not removed automatically. Call [Store.PurgeExpired]
// periodically.
package postgres
