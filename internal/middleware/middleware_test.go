package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func principalEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(Principal(r.Context())))
	})
}

func TestAPIKeyAuth(t *testing.T) {
	h := APIKeyAuth([]string{" secret-1 ", ""})(principalEcho())

	cases := []struct {
		name   string
		header map[string]string
		status int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong scheme", map[string]string{"Authorization": "Bearer secret-1"}, http.StatusUnauthorized},
		{"wrong key", map[string]string{"Authorization": "ApiKey nope"}, http.StatusUnauthorized},
		{"authorization header", map[string]string{"Authorization": "ApiKey secret-1"}, http.StatusOK},
		{"x-api-key header", map[string]string{"X-API-Key": "secret-1"}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if tc.status == http.StatusOK {
				if body := rec.Body.String(); !strings.HasPrefix(body, "key:") || strings.Contains(body, "secret") {
					t.Fatalf("unexpected principal %q", body)
				}
			} else if !strings.Contains(rec.Header().Get("WWW-Authenticate"), `realm="attachr"`) {
				t.Fatalf("missing WWW-Authenticate header")
			}
		})
	}
}

func signHS(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func TestJWTAuth_HMAC(t *testing.T) {
	auth, err := NewJWTAuthenticator(JWTOptions{Secret: "hmac-secret"})
	if err != nil {
		t.Fatalf("NewJWTAuthenticator: %v", err)
	}
	h := auth.Middleware()(principalEcho())
	exp := time.Now().Add(time.Hour).Unix()

	cases := []struct {
		name   string
		token  string
		status int
		body   string
	}{
		{"valid", signHS(t, "hmac-secret", jwt.MapClaims{"sub": "user-1", "exp": exp}), http.StatusOK, "user-1"},
		{"bad signature", signHS(t, "other", jwt.MapClaims{"sub": "user-1", "exp": exp}), http.StatusUnauthorized, ""},
		{"expired", signHS(t, "hmac-secret", jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized, ""},
		{"no exp", signHS(t, "hmac-secret", jwt.MapClaims{"sub": "user-1"}), http.StatusUnauthorized, ""},
		{"no sub", signHS(t, "hmac-secret", jwt.MapClaims{"exp": exp}), http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+tc.token)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if tc.body != "" && rec.Body.String() != tc.body {
				t.Fatalf("expected principal %q, got %q", tc.body, rec.Body.String())
			}
		})
	}
}

func TestJWTAuth_JWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	jwks := map[string]any{"keys": []map[string]string{{
		"kty": "RSA",
		"kid": "k1",
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	defer srv.Close()

	auth, err := NewJWTAuthenticator(JWTOptions{JWKSURL: srv.URL})
	if err != nil {
		t.Fatalf("NewJWTAuthenticator: %v", err)
	}
	defer auth.Close()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "rsa-user", "exp": time.Now().Add(time.Hour).Unix()})
	tok.Header["kid"] = "k1"
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sub, err := auth.Subject(context.Background(), signed); err != nil || sub != "rsa-user" {
		t.Fatalf("expected rsa-user, got %q (%v)", sub, err)
	}
	if _, err := auth.Subject(context.Background(), signHS(t, "x", jwt.MapClaims{"sub": "a", "exp": time.Now().Add(time.Hour).Unix()})); err == nil {
		t.Fatalf("expected hmac token to be rejected without secret")
	}
}

func TestNewJWTAuthenticator_RequiresKeys(t *testing.T) {
	if _, err := NewJWTAuthenticator(JWTOptions{}); err == nil {
		t.Fatalf("expected error without secret or jwks url")
	}
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example.com/"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/records/User/1/attachments/avatar", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("unexpected allow origin %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "X-API-Key") {
		t.Fatalf("expected X-API-Key in allowed headers")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTeapot || rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("disallowed origin should pass through without cors headers")
	}
}

func TestKeyedLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	l := newKeyedLimiter(2, time.Minute, func() time.Time { return now })

	for i := 0; i < 2; i++ {
		if ok, _ := l.allow("a"); !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	ok, retry := l.allow("a")
	if ok {
		t.Fatalf("third request should be limited")
	}
	if retry < 29*time.Second || retry > 30*time.Second {
		t.Fatalf("unexpected retry %v", retry)
	}
	if ok, _ := l.allow("b"); !ok {
		t.Fatalf("other key should be allowed")
	}
	now = now.Add(31 * time.Second)
	if ok, _ := l.allow("a"); !ok {
		t.Fatalf("token should have been refilled")
	}
	if ok, _ := l.allow("a"); ok {
		t.Fatalf("only one token should have been refilled")
	}
}

func TestKeyedLimiter_EvictsIdleKeys(t *testing.T) {
	now := time.Unix(1000, 0)
	l := newKeyedLimiter(1, time.Minute, func() time.Time { return now })
	l.allow("idle")

	now = now.Add(time.Hour)
	l.allow("fresh")
	if _, ok := l.entries["idle"]; ok {
		t.Fatalf("idle key should have been evicted")
	}
	if len(l.entries) != 1 {
		t.Fatalf("unexpected entries %d", len(l.entries))
	}
}

func TestRateLimit_IgnoresForwardedFor(t *testing.T) {
	limited := RateLimit(1, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	send := func(forwarded string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.2:4321"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		return rec
	}

	if rec := send("1.1.1.1"); rec.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", rec.Code)
	}
	rec := send("2.2.2.2")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("rotating X-Forwarded-For must not bypass the limit, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("unexpected Retry-After %q", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimit_KeysByPrincipal(t *testing.T) {
	limited := RateLimit(1, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	send := func(principal string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if principal != "" {
			req = req.WithContext(WithPrincipal(req.Context(), principal))
		}
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		return rec.Code
	}

	if send("alice") != http.StatusOK || send("bob") != http.StatusOK {
		t.Fatalf("distinct principals should have separate windows")
	}
	if code := send("alice"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if send("") != http.StatusOK {
		t.Fatalf("anonymous request keyed by ip should be allowed")
	}
}
