// Package devtoken generates the access token signing keypair and mints
// short-lived tokens for local development against the ops API.
package devtoken

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/pflag"

	entrypoint "github.com/louisbranch/freightdesk/internal/platform/cmd"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
)

// Config holds devtoken command configuration.
type Config struct {
	PrivateKey string        `env:"FREIGHTDESK_AUTH_PRIVATE_KEY"`
	Issuer     string        `env:"FREIGHTDESK_AUTH_ISSUER" envDefault:"https://id.freightdesk.local"`
	Audience   string        `env:"FREIGHTDESK_AUTH_AUDIENCE" envDefault:"freightdesk-ops"`
	TTL        time.Duration `env:"FREIGHTDESK_DEVTOKEN_TTL" envDefault:"1h"`

	Keygen   bool
	Subject  string
	Role     string
	ClientID string
	Email    string
	Phone    string
	Now      func() time.Time
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *pflag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.BoolVar(&cfg.Keygen, "keygen", false, "Print a fresh signing keypair instead of a token")
	fs.StringVar(&cfg.Subject, "sub", "dev-user", "Token subject (user id)")
	fs.StringVar(&cfg.Role, "role", string(actor.RoleAgent), "Actor role")
	fs.StringVar(&cfg.ClientID, "client-id", "", "Tenant id for client roles")
	fs.StringVar(&cfg.Email, "email", "", "Contact email claim")
	fs.StringVar(&cfg.Phone, "phone", "", "Contact phone claim")
	fs.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "Token lifetime")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run prints either a keypair or a signed token, depending on cfg.Keygen.
func Run(out io.Writer, cfg Config, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if cfg.Keygen {
		return GenerateKeys(out, reader)
	}
	token, err := Mint(cfg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

// GenerateKeys writes shell exports for a new ed25519 signing keypair.
func GenerateKeys(out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}
	publicKey, privateKey, err := ed25519.GenerateKey(reader)
	if err != nil {
		return fmt.Errorf("generate token key: %w", err)
	}
	if _, err := fmt.Fprintf(out, "export FREIGHTDESK_AUTH_PRIVATE_KEY=%s\n", base64.RawStdEncoding.EncodeToString(privateKey)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(out, "export FREIGHTDESK_AUTH_PUBLIC_KEY=%s\n", base64.RawStdEncoding.EncodeToString(publicKey)); err != nil {
		return err
	}
	return nil
}

// Mint signs an access token carrying the configured actor claims.
func Mint(cfg Config) (string, error) {
	raw := strings.TrimSpace(cfg.PrivateKey)
	if raw == "" {
		return "", errors.New("FREIGHTDESK_AUTH_PRIVATE_KEY is required")
	}
	keyBytes, err := base64.RawStdEncoding.DecodeString(raw)
	if err != nil {
		if keyBytes, err = base64.StdEncoding.DecodeString(raw); err != nil {
			return "", fmt.Errorf("decode private key: %w", err)
		}
	}
	if len(keyBytes) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("private key must be %d bytes", ed25519.PrivateKeySize)
	}
	role, ok := actor.ParseRole(cfg.Role)
	if !ok || role == actor.RoleSystem {
		return "", fmt.Errorf("role %q cannot be issued", cfg.Role)
	}
	if role.TenantScoped() && strings.TrimSpace(cfg.ClientID) == "" {
		return "", fmt.Errorf("role %s requires a client id", role)
	}
	subject := strings.TrimSpace(cfg.Subject)
	if subject == "" {
		return "", errors.New("subject is required")
	}
	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	issued := now().UTC()
	claims := jwt.MapClaims{
		"iss":  cfg.Issuer,
		"aud":  []string{cfg.Audience},
		"sub":  subject,
		"iat":  issued.Unix(),
		"exp":  issued.Add(ttl).Unix(),
		"role": string(role),
	}
	if v := strings.TrimSpace(cfg.ClientID); v != "" {
		claims["client_id"] = v
	}
	if v := strings.TrimSpace(cfg.Email); v != "" {
		claims["email"] = v
	}
	if v := strings.TrimSpace(cfg.Phone); v != "" {
		claims["phone"] = v
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(ed25519.PrivateKey(keyBytes))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}
