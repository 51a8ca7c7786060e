package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/giantswarm/oauth-issuer/internal/testutil"
	"github.com/giantswarm/oauth-issuer/security"
	"github.com/giantswarm/oauth-issuer/server"
	"github.com/giantswarm/oauth-issuer/storage/memory"
	"github.com/giantswarm/oauth-issuer/token"
)

const (
	testClientID    = "abc"
	testRedirectURI = "https://x/cb"
	testIssuer      = "https://auth.example.com"
)

func setupTestHandler(t *testing.T, config *HandlerConfig) (*Handler, *memory.Store) {
	t.Helper()

	store := memory.New()
	t.Cleanup(store.Stop)

	if err := store.SaveClient(context.Background(), testutil.GenerateTestClient(testClientID, testRedirectURI)); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	minter, err := token.New(token.Config{Secret: testutil.TestSigningSecret, Issuer: testIssuer})
	if err != nil {
		t.Fatalf("token.New() error = %v", err)
	}

	srv, err := server.New(store, store, minter, &server.Config{Issuer: testIssuer}, nil)
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}

	return NewHandler(srv, config, nil), store
}

// authorizeQuery builds a valid authorization request query for the test client
func authorizeQuery(challenge string) url.Values {
	return url.Values{
		"client_id":             {testClientID},
		"redirect_uri":          {testRedirectURI},
		"state":                 {"s1"},
		"scope":                 {"read"},
		"response_type":         {"code"},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}
}

// obtainCode runs the authorization endpoint and returns the issued code
func obtainCode(t *testing.T, handler *Handler, challenge string) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, AuthorizationPath+"?"+authorizeQuery(challenge).Encode(), nil)
	w := httptest.NewRecorder()
	handler.ServeAuthorization(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, want %d (body %s)", w.Code, http.StatusFound, w.Body.String())
	}

	location, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("invalid Location: %v", err)
	}
	return location.Query().Get("code")
}

func postToken(handler *Handler, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, TokenPath, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler.ServeToken(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

func TestNewHandler(t *testing.T) {
	handler, _ := setupTestHandler(t, &HandlerConfig{TrustProxy: true})

	if handler.logger == nil {
		t.Error("logger should not be nil")
	}
	if handler.config.TrustedProxyCount != 1 {
		t.Errorf("TrustedProxyCount = %d, want 1", handler.config.TrustedProxyCount)
	}
	if handler.config.MaxFormBytes != DefaultMaxFormBytes {
		t.Errorf("MaxFormBytes = %d, want %d", handler.config.MaxFormBytes, DefaultMaxFormBytes)
	}
}

func TestHandler_ServeAuthorizationServerMetadata(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, MetadataPath, nil)
	w := httptest.NewRecorder()
	handler.ServeAuthorizationServerMetadata(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var meta AuthorizationServerMetadata
	if err := json.NewDecoder(w.Body).Decode(&meta); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	testutil.AssertEqual(t, meta.Issuer, testIssuer)
	testutil.AssertEqual(t, meta.AuthorizationEndpoint, testIssuer+"/oauth/authorize")
	testutil.AssertEqual(t, meta.TokenEndpoint, testIssuer+"/oauth/token")
	testutil.AssertEqual(t, strings.Join(meta.ResponseTypesSupported, ","), "code")
	testutil.AssertEqual(t, strings.Join(meta.GrantTypesSupported, ","), "authorization_code,refresh_token")
	testutil.AssertEqual(t, strings.Join(meta.CodeChallengeMethodsSupported, ","), "S256")
	testutil.AssertEqual(t, strings.Join(meta.TokenEndpointAuthMethodsSupported, ","), "none")
}

// Scenario A: register, authorize, redeem
func TestHandler_AuthorizationCodeFlow(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)
	challenge, verifier := testutil.GeneratePKCEPair()

	req := httptest.NewRequest(http.MethodGet, AuthorizationPath+"?"+authorizeQuery(challenge).Encode(), nil)
	w := httptest.NewRecorder()
	handler.ServeAuthorization(w, req)

	if w.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, want %d (body %s)", w.Code, http.StatusFound, w.Body.String())
	}

	location, err := url.Parse(w.Header().Get("Location"))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, location.Path, "/login")
	testutil.AssertEqual(t, location.Query().Get("state"), "s1")
	code := location.Query().Get("code")
	if len(code) < 32 {
		t.Fatalf("len(code) = %d, want >= 32", len(code))
	}

	w = postToken(handler, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
		"client_id":     {testClientID},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("token status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}
	testutil.AssertEqual(t, w.Header().Get("Cache-Control"), "no-store")
	testutil.AssertEqual(t, w.Header().Get("Content-Type"), "application/json")

	var resp TokenResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode token response: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatal("expected non-empty tokens")
	}
	testutil.AssertEqual(t, resp.TokenType, "Bearer")
	testutil.AssertEqual(t, resp.ExpiresIn, int64(3600))
	testutil.AssertEqual(t, resp.Scope, "read")

	// second redemption of the same code
	w = postToken(handler, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {verifier},
	})
	testutil.AssertEqual(t, w.Code, http.StatusBadRequest)
	testutil.AssertEqual(t, decodeError(t, w).Error, ErrorCodeInvalidGrant)

	// refresh
	w = postToken(handler, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {resp.RefreshToken},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}
}

// Scenario B: unknown client
func TestHandler_ServeAuthorization_UnknownClient(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)
	challenge, _ := testutil.GeneratePKCEPair()

	query := authorizeQuery(challenge)
	query.Set("client_id", "zzz")

	req := httptest.NewRequest(http.MethodGet, AuthorizationPath+"?"+query.Encode(), nil)
	w := httptest.NewRecorder()
	handler.ServeAuthorization(w, req)

	testutil.AssertEqual(t, w.Code, http.StatusUnauthorized)
	testutil.AssertEqual(t, w.Header().Get("Location"), "")
	testutil.AssertEqual(t, decodeError(t, w).Error, ErrorCodeInvalidClient)
}

// Scenario C: redeem with another redirect_uri
func TestHandler_ServeToken_RedirectURIMismatch(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)
	challenge, verifier := testutil.GeneratePKCEPair()
	code := obtainCode(t, handler, challenge)

	w := postToken(handler, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://x/elsewhere"},
		"code_verifier": {verifier},
	})

	testutil.AssertEqual(t, w.Code, http.StatusBadRequest)
	testutil.AssertEqual(t, decodeError(t, w).Error, ErrorCodeInvalidGrant)
	testutil.AssertEqual(t, w.Header().Get("Cache-Control"), "no-store")
}

func TestHandler_ServeAuthorization_Errors(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)
	challenge, _ := testutil.GeneratePKCEPair()

	tests := []struct {
		name       string
		mutate     func(q url.Values)
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing state",
			mutate:     func(q url.Values) { q.Del("state") },
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRequest,
		},
		{
			name:       "token response type",
			mutate:     func(q url.Values) { q.Set("response_type", "token") },
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeUnsupportedResponseType,
		},
		{
			name:       "unregistered redirect",
			mutate:     func(q url.Values) { q.Set("redirect_uri", "https://evil.example.com/cb") },
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRedirectURI,
		},
		{
			name:       "missing challenge",
			mutate:     func(q url.Values) { q.Del("code_challenge") },
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query := authorizeQuery(challenge)
			tt.mutate(query)

			req := httptest.NewRequest(http.MethodGet, AuthorizationPath+"?"+query.Encode(), nil)
			w := httptest.NewRecorder()
			handler.ServeAuthorization(w, req)

			testutil.AssertEqual(t, w.Code, tt.wantStatus)
			testutil.AssertEqual(t, decodeError(t, w).Error, tt.wantCode)
		})
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)

	tests := []struct {
		name      string
		method    string
		path      string
		serve     http.HandlerFunc
		wantAllow string
	}{
		{name: "POST authorize", method: http.MethodPost, path: AuthorizationPath, serve: handler.ServeAuthorization, wantAllow: http.MethodGet},
		{name: "GET token", method: http.MethodGet, path: TokenPath, serve: handler.ServeToken, wantAllow: http.MethodPost},
		{name: "POST metadata", method: http.MethodPost, path: MetadataPath, serve: handler.ServeAuthorizationServerMetadata, wantAllow: http.MethodGet},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			w := httptest.NewRecorder()
			tt.serve(w, req)

			testutil.AssertEqual(t, w.Code, http.StatusMethodNotAllowed)
			testutil.AssertEqual(t, w.Header().Get("Allow"), tt.wantAllow)
		})
	}
}

func TestHandler_ServeToken_GrantType(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)

	tests := []struct {
		name     string
		form     url.Values
		wantCode string
	}{
		{name: "missing", form: url.Values{}, wantCode: ErrorCodeInvalidRequest},
		{name: "client credentials", form: url.Values{"grant_type": {"client_credentials"}}, wantCode: ErrorCodeUnsupportedGrantType},
		{name: "password", form: url.Values{"grant_type": {"password"}}, wantCode: ErrorCodeUnsupportedGrantType},
		{name: "code without verifier", form: url.Values{"grant_type": {"authorization_code"}, "code": {"c"}, "redirect_uri": {testRedirectURI}}, wantCode: ErrorCodeInvalidRequest},
		{name: "refresh without token", form: url.Values{"grant_type": {"refresh_token"}}, wantCode: ErrorCodeInvalidRequest},
		{name: "garbage refresh token", form: url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"x.y.z"}}, wantCode: ErrorCodeInvalidGrant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postToken(handler, tt.form)

			testutil.AssertEqual(t, w.Code, http.StatusBadRequest)
			testutil.AssertEqual(t, decodeError(t, w).Error, tt.wantCode)
			testutil.AssertEqual(t, w.Header().Get("Cache-Control"), "no-store")
		})
	}
}

func TestHandler_ServeToken_IgnoresQueryParameters(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodPost, TokenPath+"?grant_type=refresh_token", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler.ServeToken(w, req)

	testutil.AssertEqual(t, decodeError(t, w).Error, ErrorCodeInvalidRequest)
}

func TestHandler_ServeToken_BodyTooLarge(t *testing.T) {
	handler, _ := setupTestHandler(t, &HandlerConfig{MaxFormBytes: 16})

	w := postToken(handler, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {strings.Repeat("a", 64)},
	})

	testutil.AssertEqual(t, w.Code, http.StatusBadRequest)
	testutil.AssertEqual(t, decodeError(t, w).Error, ErrorCodeInvalidRequest)
}

func TestHandler_RateLimit(t *testing.T) {
	limiter := security.NewRateLimiter(security.RateLimitConfig{RequestsPerSecond: 0.01, Burst: 2})
	t.Cleanup(limiter.Stop)

	handler, _ := setupTestHandler(t, &HandlerConfig{RateLimiter: limiter})
	challenge, _ := testutil.GeneratePKCEPair()
	target := AuthorizationPath + "?" + authorizeQuery(challenge).Encode()

	for i := 0; i < 2; i++ {
		w := testutil.NewHTTPRequest(http.MethodGet, target).
			WithRemoteAddr("198.51.100.7:4000").
			Do(http.HandlerFunc(handler.ServeAuthorization))
		testutil.AssertEqual(t, w.Code, http.StatusFound)
	}

	w := testutil.NewHTTPRequest(http.MethodGet, target).
		WithRemoteAddr("198.51.100.7:4000").
		Do(http.HandlerFunc(handler.ServeAuthorization))

	testutil.AssertEqual(t, w.Code, http.StatusTooManyRequests)
	testutil.AssertEqual(t, decodeError(t, w).Error, ErrorCodeRateLimitExceeded)
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}

	// other clients are unaffected
	w = testutil.NewHTTPRequest(http.MethodGet, target).
		WithRemoteAddr("203.0.113.9:4000").
		Do(http.HandlerFunc(handler.ServeAuthorization))
	testutil.AssertEqual(t, w.Code, http.StatusFound)
}

func TestHandler_CORS(t *testing.T) {
	handler, _ := setupTestHandler(t, &HandlerConfig{
		CORS: CORSConfig{AllowedOrigins: []string{"https://app.example.com"}},
	})

	tests := []struct {
		name       string
		origin     string
		wantHeader string
	}{
		{name: "allowed origin", origin: "https://app.example.com", wantHeader: "https://app.example.com"},
		{name: "other origin", origin: "https://evil.example.com", wantHeader: ""},
		{name: "no origin", origin: "", wantHeader: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, TokenPath, nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			handler.ServeToken(w, req)

			testutil.AssertEqual(t, w.Code, http.StatusNoContent)
			testutil.AssertEqual(t, w.Header().Get("Access-Control-Allow-Origin"), tt.wantHeader)
		})
	}
}

func TestHandler_ServeAuthorization_SubjectFromContext(t *testing.T) {
	handler, store := setupTestHandler(t, nil)
	challenge, _ := testutil.GeneratePKCEPair()

	req := httptest.NewRequest(http.MethodGet, AuthorizationPath+"?"+authorizeQuery(challenge).Encode(), nil)
	req = req.WithContext(ContextWithSubject(req.Context(), "alice"))
	w := httptest.NewRecorder()
	handler.ServeAuthorization(w, req)

	location, err := url.Parse(w.Header().Get("Location"))
	testutil.AssertNoError(t, err)

	stored, err := store.ConsumeAuthorizationCode(context.Background(), location.Query().Get("code"))
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, stored.UserID, "alice")
}

func TestHandler_Routes(t *testing.T) {
	handler, _ := setupTestHandler(t, nil)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	routes := handler.Routes(metrics)

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{path: HealthPath, wantStatus: http.StatusOK, wantBody: "ok"},
		{path: MetricsPath, wantStatus: http.StatusOK, wantBody: "# metrics"},
		{path: MetadataPath, wantStatus: http.StatusOK},
		{path: "/unknown", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := testutil.NewHTTPRequest(http.MethodGet, tt.path).Do(routes)

			testutil.AssertEqual(t, w.Code, tt.wantStatus)
			if tt.wantBody != "" {
				testutil.AssertEqual(t, w.Body.String(), tt.wantBody)
			}
			if w.Header().Get(security.RequestIDHeader) == "" {
				t.Error("request ID header missing")
			}
		})
	}
}

func TestSubjectFromContext(t *testing.T) {
	if _, ok := SubjectFromContext(context.Background()); ok {
		t.Error("empty context should have no subject")
	}
	if _, ok := SubjectFromContext(ContextWithSubject(context.Background(), "")); ok {
		t.Error("empty subject should not be reported")
	}

	subject, ok := SubjectFromContext(ContextWithSubject(context.Background(), "bob"))
	if !ok || subject != "bob" {
		t.Errorf("SubjectFromContext() = %q, %v, want bob, true", subject, ok)
	}
}

func TestEndpointURL(t *testing.T) {
	testutil.AssertEqual(t, endpointURL("https://a.example.com/", TokenPath), "https://a.example.com/oauth/token")
	testutil.AssertEqual(t, endpointURL("", TokenPath), "/oauth/token")
}
