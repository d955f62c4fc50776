package ops

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/louisbranch/freightdesk/internal/platform/logging"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
)

func TestParseConfigDefaultsAndFlags(t *testing.T) {
	t.Setenv("FREIGHTDESK_STORAGE_DRIVER", "Postgres")
	t.Setenv("FREIGHTDESK_LOG_FORMAT", "text")

	fs := pflag.NewFlagSet("ops", pflag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"--http-addr", "127.0.0.1:9000"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9000" {
		t.Fatalf("http addr = %q, want flag value", cfg.HTTPAddr)
	}
	if cfg.GRPCAddr != ":8081" {
		t.Fatalf("grpc addr = %q, want :8081", cfg.GRPCAddr)
	}
	if cfg.StorageDriver != DriverPostgres {
		t.Fatalf("storage driver = %q, want %q", cfg.StorageDriver, DriverPostgres)
	}
	if cfg.Logging.Format != "text" || cfg.Logging.Level != "info" {
		t.Fatalf("logging = %+v, want text/info", cfg.Logging)
	}
	if cfg.Heartbeat != 25*time.Second {
		t.Fatalf("heartbeat = %v, want 25s", cfg.Heartbeat)
	}
	if cfg.Blob.Driver != "memory" {
		t.Fatalf("blob driver = %q, want memory", cfg.Blob.Driver)
	}
}

func TestOpenStoreDrivers(t *testing.T) {
	registry, err := event.NewDefaultRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	ctx := context.Background()

	mem, err := openStore(ctx, Config{StorageDriver: DriverMemory}, registry)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	_ = mem.Close()

	path := filepath.Join(t.TempDir(), "nested", "ops.db")
	sqlite, err := openStore(ctx, Config{StorageDriver: DriverSQLite, SQLitePath: path}, registry)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := sqlite.Close(); err != nil {
		t.Fatalf("close sqlite: %v", err)
	}

	if _, err := openStore(ctx, Config{StorageDriver: DriverPostgres}, registry); err == nil {
		t.Fatal("expected error for postgres without dsn")
	}
	if _, err := openStore(ctx, Config{StorageDriver: "mongo"}, registry); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestBuildWiresServer(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	t.Setenv("FREIGHTDESK_AUTH_ISSUER", "https://id.freightdesk.test")
	t.Setenv("FREIGHTDESK_AUTH_AUDIENCE", "freightdesk-ops")
	t.Setenv("FREIGHTDESK_AUTH_PUBLIC_KEY", base64.StdEncoding.EncodeToString(pub))

	cfg := Config{
		HTTPAddr:       "127.0.0.1:0",
		GRPCAddr:       "127.0.0.1:0",
		StorageDriver:  DriverMemory,
		NumberTimezone: "UTC",
		Heartbeat:      time.Second,
	}
	srv, err := build(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer srv.Close()
	if srv.HTTPAddr() == "" || srv.GRPCAddr() == "" {
		t.Fatalf("addrs = %q, %q, want both bound", srv.HTTPAddr(), srv.GRPCAddr())
	}
}

func TestBuildRequiresAuthConfig(t *testing.T) {
	t.Setenv("FREIGHTDESK_AUTH_ISSUER", "")
	cfg := Config{HTTPAddr: "127.0.0.1:0", GRPCAddr: "127.0.0.1:0", StorageDriver: DriverMemory}
	if _, err := build(context.Background(), cfg, logging.Discard()); err == nil {
		t.Fatal("expected error without auth config")
	}
}
