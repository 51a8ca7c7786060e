// Package util provides small helpers used across the issuer.
//
// Key utilities:
//   - SafeTruncate: log a prefix of a credential instead of the credential
//   - AppendQuery: merge query parameters into a relative or absolute URL
package util
