package identity

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	testIssuer   = "https://accounts.example.test"
	testClientID = "client-123"
)

func newTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, aud string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":     testIssuer,
		"aud":     aud,
		"sub":     "google-sub-1",
		"exp":     exp.Unix(),
		"iat":     time.Now().Unix(),
		"name":    "Runner One",
		"email":   "runner@example.com",
		"picture": "https://example.com/p.png",
	})
	raw, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func testGoogle(key *rsa.PrivateKey, tokenURL string) *Google {
	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	verifier := oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testClientID})
	cfg := Config{ClientID: testClientID, ClientSecret: "secret", RedirectURI: "http://localhost/cb"}
	return NewGoogleWithVerifier(verifier, oauthConfig(cfg, oauth2.Endpoint{
		AuthURL:   "https://accounts.example.test/auth",
		TokenURL:  tokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
	}))
}

func TestVerifyValidToken(t *testing.T) {
	key := newTestKey(t)
	g := testGoogle(key, "")

	user, err := g.Verify(context.Background(), signIDToken(t, key, testClientID, time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if user.ID != "google-sub-1" || user.Email != "runner@example.com" || user.Name != "Runner One" || user.Picture == "" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestVerifyRejectsExpiredAndWrongAudience(t *testing.T) {
	key := newTestKey(t)
	g := testGoogle(key, "")

	if _, err := g.Verify(context.Background(), signIDToken(t, key, testClientID, time.Now().Add(-time.Hour))); err == nil {
		t.Fatalf("expected expired token to fail")
	}
	if _, err := g.Verify(context.Background(), signIDToken(t, key, "other-client", time.Now().Add(time.Hour))); err == nil {
		t.Fatalf("expected audience mismatch to fail")
	}
	if _, err := g.Verify(context.Background(), "not-a-jwt"); err == nil {
		t.Fatalf("expected malformed token to fail")
	}

	other := newTestKey(t)
	if _, err := g.Verify(context.Background(), signIDToken(t, other, testClientID, time.Now().Add(time.Hour))); err == nil {
		t.Fatalf("expected foreign signature to fail")
	}
}

func TestNilGoogleNotConfigured(t *testing.T) {
	var g *Google
	if _, err := g.Verify(context.Background(), "x"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, _, err := g.Exchange(context.Background(), "code"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := NewGoogle(context.Background(), Config{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured without client id")
	}
}

func TestExchange(t *testing.T) {
	key := newTestKey(t)
	idToken := signIDToken(t, key, testClientID, time.Now().Add(time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code") != "auth-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "ya29.access",
			"refresh_token": "1//refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"id_token":      idToken,
		})
	}))
	defer srv.Close()

	g := testGoogle(key, srv.URL+"/token")
	tok, user, err := g.Exchange(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if tok.AccessToken != "ya29.access" || tok.RefreshToken != "1//refresh" {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if user.ID != "google-sub-1" {
		t.Fatalf("unexpected user: %+v", user)
	}

	if _, _, err := g.Exchange(context.Background(), "bad"); err == nil {
		t.Fatalf("expected exchange error")
	}
}

func TestExchangeMissingIDToken(t *testing.T) {
	key := newTestKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"a","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	g := testGoogle(key, srv.URL)
	if _, _, err := g.Exchange(context.Background(), "code"); !errors.Is(err, ErrMissingIDToken) {
		t.Fatalf("expected ErrMissingIDToken, got %v", err)
	}
}

func TestAuthCodeURL(t *testing.T) {
	g := testGoogle(newTestKey(t), "")
	u := g.AuthCodeURL("state-1")
	for _, want := range []string{"state=state-1", "access_type=offline", "client_id=" + testClientID, "fitness.activity.read"} {
		if !strings.Contains(u, want) {
			t.Fatalf("auth url %q missing %q", u, want)
		}
	}
}

func TestTokenSourceStaticWithoutConfig(t *testing.T) {
	var g *Google
	ts := g.TokenSource(context.Background(), &oauth2.Token{AccessToken: "a"})
	tok, err := ts.Token()
	if err != nil || tok.AccessToken != "a" {
		t.Fatalf("expected static token source")
	}
}
