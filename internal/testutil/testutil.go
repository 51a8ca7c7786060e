package testutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-issuer/storage"
)

// TestSigningSecret is a 32-byte HS256 secret for tests
var TestSigningSecret = []byte("test-signing-secret-0123456789ab")

// MockTime provides a controllable time source for deterministic testing.
// It is safe for concurrent use.
type MockTime struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockTime creates a new mock time provider
func NewMockTime(t time.Time) *MockTime {
	return &MockTime{now: t}
}

// Now returns the current mock time
func (m *MockTime) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration
func (m *MockTime) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value
func (m *MockTime) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// GeneratePKCEPair returns an S256 challenge and the 43-char verifier it was derived from.
func GeneratePKCEPair() (challenge, verifier string) {
	verifier = oauth2.GenerateVerifier()
	return oauth2.S256ChallengeFromVerifier(verifier), verifier
}

// GenerateTestClient creates a registered client fixture
func GenerateTestClient(clientID, redirectURI string) *storage.Client {
	now := time.Now()
	return &storage.Client{
		ClientID:    clientID,
		Name:        "Test Client " + clientID,
		RedirectURI: redirectURI,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// GenerateTestAuthorizationCode creates a pending code fixture bound to challenge
func GenerateTestAuthorizationCode(client *storage.Client, userID, challenge string, now time.Time) *storage.AuthorizationCode {
	return &storage.AuthorizationCode{
		Code:                oauth2.GenerateVerifier(),
		ClientID:            client.ClientID,
		RedirectURI:         client.RedirectURI,
		UserID:              userID,
		Scope:               "read",
		CodeChallenge:       challenge,
		CodeChallengeMethod: "S256",
		State:               "test-state",
		ExpiresAt:           now.Add(10 * time.Minute),
		CreatedAt:           now,
	}
}

// AssertNoError fails the test if err is not nil
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertEqual fails the test if got != want
func AssertEqual[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// HTTPRequest is a small builder for handler requests
type HTTPRequest struct {
	method  string
	target  string
	form    url.Values
	headers map[string]string
	remote  string
}

// NewHTTPRequest starts building a request
func NewHTTPRequest(method, target string) *HTTPRequest {
	return &HTTPRequest{
		method:  method,
		target:  target,
		headers: make(map[string]string),
	}
}

// WithHeader sets a request header
func (r *HTTPRequest) WithHeader(key, value string) *HTTPRequest {
	r.headers[key] = value
	return r
}

// WithForm sets a form-encoded body
func (r *HTTPRequest) WithForm(form url.Values) *HTTPRequest {
	r.form = form
	return r
}

// WithRemoteAddr sets the connection's remote address
func (r *HTTPRequest) WithRemoteAddr(addr string) *HTTPRequest {
	r.remote = addr
	return r
}

// Do executes the request against handler and returns the recorded response
func (r *HTTPRequest) Do(handler http.Handler) *httptest.ResponseRecorder {
	var req *http.Request
	if r.form != nil {
		req = httptest.NewRequest(r.method, r.target, strings.NewReader(r.form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(r.method, r.target, nil)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	if r.remote != "" {
		req.RemoteAddr = r.remote
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}
