// Package testutil provides test fixtures and helpers shared by the issuer's
// package tests: a controllable clock, PKCE pairs, client and code fixtures and
// a small request builder for handler tests.
package testutil
