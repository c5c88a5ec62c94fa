package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/littlehero/api/internal/config"
)

func TestLegacyToken(t *testing.T) {
	token, err := GenerateLegacyToken("user-1", "secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	id, err := VerifyLegacyToken(token, "secret")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.OwnerID != "user-1" {
		t.Errorf("unexpected identity %+v", id)
	}

	if _, err := VerifyLegacyToken(token, "other"); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected ErrUnauthenticated with the wrong secret, got %v", err)
	}

	old := jwt.NewWithClaims(jwt.SigningMethodHS256, legacyClaims{
		OwnerID:          "user-1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	})
	signed, _ := old.SignedString([]byte("secret"))
	if _, err := VerifyLegacyToken(signed, "secret"); err == nil {
		t.Error("expected expired token to be rejected")
	}

	// sub alone names the owner
	subOnly := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "user-2"})
	signed, _ = subOnly.SignedString([]byte("secret"))
	if id, err := VerifyLegacyToken(signed, "secret"); err != nil || id.OwnerID != "user-2" {
		t.Errorf("expected owner from sub, got %+v %v", id, err)
	}

	if _, err := GenerateLegacyToken("user-1", "", time.Hour); err == nil {
		t.Error("expected error without a secret")
	}
}

func TestLegacyToken_RejectsOtherAlgorithms(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS512, legacyClaims{OwnerID: "user-1"})
	signed, err := tok.SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := VerifyLegacyToken(signed, "secret"); err == nil {
		t.Error("expected HS512 token to be rejected")
	}
}

type stubVerifier struct {
	owner string
}

func (s stubVerifier) Verify(token string) (Identity, error) {
	if token != "oidc-token" {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{OwnerID: s.owner}, nil
}

func (stubVerifier) Close() error { return nil }

func TestAuthenticator(t *testing.T) {
	legacy, err := GenerateLegacyToken("legacy-user", "secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		authn   *Authenticator
		token   string
		want    string
		wantErr error
	}{
		{"oidc", NewAuthenticator(stubVerifier{owner: "oidc-user"}, "secret"), "oidc-token", "oidc-user", nil},
		{"legacy fallback", NewAuthenticator(stubVerifier{owner: "oidc-user"}, "secret"), legacy, "legacy-user", nil},
		{"legacy only", NewAuthenticator(nil, "secret"), legacy, "legacy-user", nil},
		{"oidc only rejects legacy", NewAuthenticator(stubVerifier{owner: "oidc-user"}, ""), legacy, "", ErrUnauthenticated},
		{"garbage", NewAuthenticator(stubVerifier{owner: "oidc-user"}, "secret"), "garbage", "", ErrUnauthenticated},
		{"not configured", NewAuthenticator(nil, ""), legacy, "", ErrNotConfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := tt.authn.Identify(tt.token)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("identify: %v", err)
			}
			if id.OwnerID != tt.want {
				t.Errorf("owner = %q, want %q", id.OwnerID, tt.want)
			}
		})
	}
}

func TestJWKSVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			json.NewEncoder(w).Encode(map[string]string{"issuer": srv.URL, "jwks_uri": srv.URL + "/keys"})
		case "/keys":
			json.NewEncoder(w).Encode(map[string]any{
				"keys": []map[string]string{{
					"kty": "RSA",
					"kid": "k1",
					"alg": "RS256",
					"use": "sig",
					"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	v, err := NewJWKSVerifier(context.Background(), config.OIDCConfig{Issuer: srv.URL, ClientID: "books"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	defer v.Close()

	sign := func(sub, aud string, exp time.Time) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    srv.URL,
			Audience:  jwt.ClaimStrings{aud},
			ExpiresAt: jwt.NewNumericDate(exp),
		})
		tok.Header["kid"] = "k1"
		s, err := tok.SignedString(key)
		if err != nil {
			t.Fatal(err)
		}
		return s
	}

	id, err := v.Verify(sign("user-1", "books", time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.OwnerID != "user-1" {
		t.Errorf("unexpected identity %+v", id)
	}

	if _, err := v.Verify(sign("user-1", "other-app", time.Now().Add(time.Hour))); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("expected audience mismatch, got %v", err)
	}
	if _, err := v.Verify(sign("user-1", "books", time.Now().Add(-time.Hour))); err == nil {
		t.Error("expected expired token to be rejected")
	}
	if _, err := v.Verify(sign("", "books", time.Now().Add(time.Hour))); err == nil {
		t.Error("expected token without subject to be rejected")
	}
}

func TestNewJWKSVerifier_IssuerMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"issuer": "https://elsewhere.example", "jwks_uri": "https://elsewhere.example/keys"})
	}))
	defer srv.Close()

	if _, err := NewJWKSVerifier(context.Background(), config.OIDCConfig{Issuer: srv.URL}); err == nil {
		t.Error("expected issuer mismatch to be rejected")
	}
}

func TestNewJWKSVerifier_RequiresIssuer(t *testing.T) {
	if _, err := NewJWKSVerifier(context.Background(), config.OIDCConfig{}); err == nil {
		t.Error("expected error without issuer")
	}
}
