// Package util provides small helpers shared by the issuer packages.
package util

import (
	"fmt"
	"net/url"
)

// SafeTruncate returns at most maxLen bytes of s without panicking.
// It is used to log a recognizable prefix of a credential instead of the credential.
// A negative maxLen yields "".
//
// Example:
//
//	SafeTruncate("very-long-code-abc123", 8) // "very-lon"
//	SafeTruncate("short", 10)                // "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// AppendQuery returns rawURL with params merged into its query string.
// Existing parameters of the same name are replaced. Works for relative URLs such as "/login".
func AppendQuery(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	q := u.Query()
	for k, vs := range params {
		q.Del(k)
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}
