package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/louisbranch/freightdesk/internal/platform/requestctx"
)

func TestNewJSONIncludesRequestIdentity(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, Config{Level: "debug", Format: "json"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	ctx := requestctx.WithRequestID(context.Background(), "req-1")
	ctx = requestctx.WithUserID(ctx, "user-7")
	logger.InfoContext(ctx, "transition applied", "entity_id", "e1")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record["request_id"] != "req-1" {
		t.Fatalf("request_id = %v, want req-1", record["request_id"])
	}
	if record["user_id"] != "user-7" {
		t.Fatalf("user_id = %v, want user-7", record["user_id"])
	}
	if record["entity_id"] != "e1" {
		t.Fatalf("entity_id = %v, want e1", record["entity_id"])
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, Config{Level: "warn", Format: "text"})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept")
	if strings.Contains(buf.String(), "dropped") {
		t.Fatalf("info record should be filtered: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn record missing: %q", buf.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, Config{Format: "xml"}); err == nil {
		t.Fatal("expected unknown format error")
	}
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("")
	if err != nil || level != slog.LevelInfo {
		t.Fatalf("ParseLevel(\"\") = %v, %v", level, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected parse error")
	}
}
