package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
)

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return pub, priv
}

func sign(t *testing.T, priv ed25519.PrivateKey, claims accessClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func validClaims() accessClaims {
	return accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://id.freightdesk.test",
			Audience:  jwt.ClaimStrings{"freightdesk-ops"},
			Subject:   "user-7",
			ExpiresAt: jwt.NewNumericDate(fixedNow.Add(time.Hour)),
		},
		Role:     "client_admin",
		ClientID: "client-1",
		Email:    " Ana@Example.COM ",
		Phone:    "+1 (555) 010-2000",
	}
}

func newVerifier(t *testing.T, pub ed25519.PublicKey) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{
		Issuer:   "https://id.freightdesk.test",
		Audience: "freightdesk-ops",
		Key:      pub,
		Now:      func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return v
}

func TestVerifyMapsClaimsToActor(t *testing.T) {
	pub, priv := newKeys(t)
	v := newVerifier(t, pub)

	got, err := v.Verify(sign(t, priv, validClaims()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	want := actor.Actor{
		UserID:   "user-7",
		Role:     actor.RoleClientAdmin,
		ClientID: "client-1",
		Email:    "ana@example.com",
		Phone:    "+15550102000",
	}
	if got != want {
		t.Fatalf("actor = %+v, want %+v", got, want)
	}
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	pub, priv := newKeys(t)
	_, otherPriv := newKeys(t)
	v := newVerifier(t, pub)

	tests := []struct {
		name  string
		token func() string
		want  apperrors.Code
	}{
		{"empty", func() string { return "" }, apperrors.CodeUnauthenticated},
		{"garbage", func() string { return "not.a.token" }, apperrors.CodeUnauthenticated},
		{"wrong key", func() string { return sign(t, otherPriv, validClaims()) }, apperrors.CodeUnauthenticated},
		{"wrong issuer", func() string {
			c := validClaims()
			c.Issuer = "https://evil.test"
			return sign(t, priv, c)
		}, apperrors.CodeUnauthenticated},
		{"wrong audience", func() string {
			c := validClaims()
			c.Audience = jwt.ClaimStrings{"other"}
			return sign(t, priv, c)
		}, apperrors.CodeUnauthenticated},
		{"expired", func() string {
			c := validClaims()
			c.ExpiresAt = jwt.NewNumericDate(fixedNow.Add(-time.Minute))
			return sign(t, priv, c)
		}, apperrors.CodeUnauthenticated},
		{"missing exp", func() string {
			c := validClaims()
			c.ExpiresAt = nil
			return sign(t, priv, c)
		}, apperrors.CodeUnauthenticated},
		{"not yet valid", func() string {
			c := validClaims()
			c.NotBefore = jwt.NewNumericDate(fixedNow.Add(time.Minute))
			return sign(t, priv, c)
		}, apperrors.CodeUnauthenticated},
		{"missing subject", func() string {
			c := validClaims()
			c.Subject = ""
			return sign(t, priv, c)
		}, apperrors.CodeUnauthenticated},
		{"unknown role", func() string {
			c := validClaims()
			c.Role = "superuser"
			return sign(t, priv, c)
		}, apperrors.CodePermissionDenied},
		{"system role", func() string {
			c := validClaims()
			c.Role = "system"
			return sign(t, priv, c)
		}, apperrors.CodePermissionDenied},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(tc.token())
			if got := apperrors.CodeOf(err); got != tc.want {
				t.Fatalf("code = %s, want %s (err %v)", got, tc.want, err)
			}
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	pub, _ := newKeys(t)
	t.Setenv("FREIGHTDESK_AUTH_ISSUER", "https://id.freightdesk.test")
	t.Setenv("FREIGHTDESK_AUTH_AUDIENCE", "freightdesk-ops")
	t.Setenv("FREIGHTDESK_AUTH_PUBLIC_KEY", base64.RawStdEncoding.EncodeToString(pub))

	cfg, err := LoadConfigFromEnv(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Key.Equal(pub) || cfg.Now == nil {
		t.Fatalf("config = %+v", cfg)
	}

	t.Setenv("FREIGHTDESK_AUTH_PUBLIC_KEY", base64.StdEncoding.EncodeToString([]byte("short")))
	if _, err := LoadConfigFromEnv(nil); err == nil {
		t.Fatal("expected error for short key")
	}
	t.Setenv("FREIGHTDESK_AUTH_ISSUER", "")
	if _, err := LoadConfigFromEnv(nil); err == nil {
		t.Fatal("expected error for missing issuer")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"Basic abc", "", false},
		{"Bearer", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		got, ok := BearerToken(tc.header)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("BearerToken(%q) = %q, %v; want %q, %v", tc.header, got, ok, tc.want, tc.ok)
		}
	}
}
