// Package blob stores uploaded documents outside the relational store.
package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
)

// Driver names a blob backend.
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverS3     Driver = "s3"
)

// ErrNotFound indicates a missing object.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "document not found")

// Info describes a stored object.
type Info struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store persists opaque document bytes by key.
type Store interface {
	Driver() Driver
	Put(ctx context.Context, key string, data []byte, contentType string) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
}

// DocumentKey builds the object key for a document attached to an entity.
func DocumentKey(family, entityID, documentID, fileName string) string {
	name := sanitizeFileName(fileName)
	if name == "" {
		name = "document"
	}
	return path.Join("documents", family, entityID, documentID+"-"+name)
}

func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Config selects and configures a blob backend.
type Config struct {
	Driver Driver `env:"FREIGHTDESK_BLOB_DRIVER" envDefault:"memory"`
	S3     S3Config
}

// Open constructs the configured store.
func Open(ctx context.Context, cfg Config, opts ...S3Option) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverS3:
		return NewS3(ctx, cfg.S3, opts...)
	default:
		return nil, fmt.Errorf("unsupported blob driver %q", cfg.Driver)
	}
}
