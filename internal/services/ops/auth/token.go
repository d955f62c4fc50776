// Package auth verifies bearer tokens issued by the identity provider and
// maps their claims onto actors.
package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
)

// tokenEnv holds raw env values before post-parse validation.
type tokenEnv struct {
	Issuer    string `env:"FREIGHTDESK_AUTH_ISSUER"`
	Audience  string `env:"FREIGHTDESK_AUTH_AUDIENCE"`
	PublicKey string `env:"FREIGHTDESK_AUTH_PUBLIC_KEY"`
}

// Config defines how access tokens are verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

type accessClaims struct {
	jwt.RegisteredClaims
	Role     string `json:"role"`
	ClientID string `json:"client_id,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// LoadConfigFromEnv reads token verification configuration.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw tokenEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse auth env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	publicKey := strings.TrimSpace(raw.PublicKey)
	if issuer == "" {
		return Config{}, fmt.Errorf("FREIGHTDESK_AUTH_ISSUER is required")
	}
	if audience == "" {
		return Config{}, fmt.Errorf("FREIGHTDESK_AUTH_AUDIENCE is required")
	}
	if publicKey == "" {
		return Config{}, fmt.Errorf("FREIGHTDESK_AUTH_PUBLIC_KEY is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode auth public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return Config{}, fmt.Errorf("auth public key must be %d bytes", ed25519.PublicKeySize)
	}
	if now == nil {
		now = time.Now
	}
	return Config{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, nil
}

// Verifier turns bearer tokens into actors.
type Verifier struct {
	cfg Config
}

// NewVerifier validates cfg and returns a verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.Key) != ed25519.PublicKeySize {
		return nil, errors.New("token verifier is not configured")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Verifier{cfg: cfg}, nil
}

// Verify checks the token signature and claims and returns the actor.
func (v *Verifier) Verify(token string) (actor.Actor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return actor.Actor{}, unauthenticated("access token is required")
	}

	var parsed accessClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return v.cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return actor.Actor{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != v.cfg.Issuer {
		return actor.Actor{}, unauthenticated("access token issuer mismatch")
	}
	if !audienceContains(parsed.Audience, v.cfg.Audience) {
		return actor.Actor{}, unauthenticated("access token audience mismatch")
	}
	if parsed.ExpiresAt == nil {
		return actor.Actor{}, unauthenticated("access token exp is required")
	}
	now := v.cfg.Now().UTC()
	if !parsed.ExpiresAt.Time.After(now) {
		return actor.Actor{}, unauthenticated("access token is expired")
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time) {
		return actor.Actor{}, unauthenticated("access token not active yet")
	}

	subject := strings.TrimSpace(parsed.Subject)
	if subject == "" {
		return actor.Actor{}, unauthenticated("access token sub is required")
	}
	role, ok := actor.ParseRole(parsed.Role)
	if !ok || role == actor.RoleSystem {
		return actor.Actor{}, apperrors.WithMetadata(
			apperrors.CodePermissionDenied,
			"access token role is not recognized",
			map[string]string{"Field": "role"},
		)
	}
	return actor.Actor{
		UserID:   subject,
		Role:     role,
		ClientID: strings.TrimSpace(parsed.ClientID),
		Email:    actor.NormalizeEmail(parsed.Email),
		Phone:    actor.NormalizePhone(parsed.Phone),
	}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthenticated(message string) error {
	return apperrors.New(apperrors.CodeUnauthenticated, message)
}

func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return unauthenticated("access token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return unauthenticated("access token alg is invalid")
	}
	return unauthenticated("access token is invalid")
}

func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
