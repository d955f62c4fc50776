// Package ops parses ops service configuration and launches the service.
package ops

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"

	entrypoint "github.com/louisbranch/freightdesk/internal/platform/cmd"
	"github.com/louisbranch/freightdesk/internal/platform/config"
	"github.com/louisbranch/freightdesk/internal/platform/logging"
	"github.com/louisbranch/freightdesk/internal/services/ops/api/httpapi"
	server "github.com/louisbranch/freightdesk/internal/services/ops/app"
	"github.com/louisbranch/freightdesk/internal/services/ops/auth"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
	"github.com/louisbranch/freightdesk/internal/services/ops/metrics"
	"github.com/louisbranch/freightdesk/internal/services/ops/service"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage/blob"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage/memory"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage/sqlstore"
)

// Storage drivers accepted by FREIGHTDESK_STORAGE_DRIVER.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds ops command configuration.
type Config struct {
	HTTPAddr       string        `env:"FREIGHTDESK_HTTP_ADDR" envDefault:":8080"`
	GRPCAddr       string        `env:"FREIGHTDESK_GRPC_ADDR" envDefault:":8081"`
	StorageDriver  string        `env:"FREIGHTDESK_STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath     string        `env:"FREIGHTDESK_SQLITE_PATH" envDefault:"data/freightdesk.db"`
	PostgresDSN    string        `env:"FREIGHTDESK_POSTGRES_DSN"`
	NumberTimezone string        `env:"FREIGHTDESK_NUMBER_TIMEZONE" envDefault:"UTC"`
	MaxUpload      int64         `env:"FREIGHTDESK_MAX_UPLOAD_BYTES" envDefault:"10485760"`
	Heartbeat      time.Duration `env:"FREIGHTDESK_STREAM_HEARTBEAT" envDefault:"25s"`

	Blob    blob.Config
	Logging logging.Config
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *pflag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The HTTP API listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "The gRPC health listen address")
	fs.StringVar(&cfg.StorageDriver, "storage", cfg.StorageDriver, "Storage driver (sqlite, postgres, memory)")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "SQLite database path")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "PostgreSQL connection string")
	fs.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "Log level (debug, info, warn, error)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	return cfg, nil
}

// Run starts the ops HTTP API and its health endpoint.
func Run(ctx context.Context, cfg Config) error {
	logger, err := logging.New(os.Stderr, cfg.Logging)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	options := entrypoint.RunOptions{Logger: logger}
	return entrypoint.RunWithTelemetryAndOptions(ctx, entrypoint.ServiceOps, options, func(ctx context.Context) error {
		srv, err := build(ctx, cfg, logger)
		if err != nil {
			return err
		}
		return srv.Serve(ctx)
	})
}

func build(ctx context.Context, cfg Config, logger *slog.Logger) (*server.Server, error) {
	loc, err := config.LoadLocation(cfg.NumberTimezone)
	if err != nil {
		return nil, err
	}
	registry, err := event.NewDefaultRegistry()
	if err != nil {
		return nil, fmt.Errorf("load event registry: %w", err)
	}
	store, err := openStore(ctx, cfg, registry)
	if err != nil {
		return nil, err
	}
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	authCfg, err := auth.LoadConfigFromEnv(nil)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	verifier, err := auth.NewVerifier(authCfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	recorder := metrics.New()
	svc, err := service.New(service.Config{
		Store:     store,
		Blobs:     blobs,
		Registry:  registry,
		Metrics:   recorder,
		Logger:    logger,
		Location:  loc,
		MaxUpload: cfg.MaxUpload,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	handler, err := httpapi.New(httpapi.Options{
		Service:   svc,
		Tokens:    verifier,
		Metrics:   recorder,
		Logger:    logger,
		Heartbeat: cfg.Heartbeat,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	srv, err := server.New(server.Config{
		HTTPAddr: cfg.HTTPAddr,
		GRPCAddr: cfg.GRPCAddr,
		Handler:  handler.Router(),
		Store:    store,
		Logger:   logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return srv, nil
}

func openStore(ctx context.Context, cfg Config, registry *event.Registry) (storage.Store, error) {
	switch cfg.StorageDriver {
	case "", DriverSQLite:
		if err := ensureDir(cfg.SQLitePath); err != nil {
			return nil, err
		}
		store, err := sqlstore.OpenSQLite(ctx, cfg.SQLitePath, registry)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case DriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, fmt.Errorf("FREIGHTDESK_POSTGRES_DSN is required for the postgres driver")
		}
		store, err := sqlstore.OpenPostgres(ctx, cfg.PostgresDSN, registry)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	case DriverMemory:
		return memory.New(registry), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}
