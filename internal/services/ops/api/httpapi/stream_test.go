package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStreamDeliversScopedInvalidations(t *testing.T) {
	s := setupTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	client := s.token(t, "user-1", "client_admin", "c1", "")
	agent := s.token(t, "agent-1", "agent", "", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/stream", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+client)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	waitFor := func(prefix string) string {
		t.Helper()
		for lines.Scan() {
			if line := lines.Text(); strings.HasPrefix(line, prefix) {
				return line
			}
		}
		t.Fatalf("stream ended before %q: %v", prefix, lines.Err())
		return ""
	}
	waitFor("event:ready")

	foreign := map[string]any{"client_id": "c2", "details": pickupBody["details"]}
	if w := s.do(t, http.MethodPost, "/api/v1/pickups", agent, foreign); w.Code != http.StatusCreated {
		t.Fatalf("foreign create = %d", w.Code)
	}
	w := s.do(t, http.MethodPost, "/api/v1/pickups", client, pickupBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d", w.Code)
	}
	own := decode[entityResponse](t, w)

	waitFor("event:invalidate")
	data := waitFor("data:")
	if !strings.Contains(data, own.ID) || !strings.Contains(data, `"event_type":"pickup.created"`) {
		t.Fatalf("first signal = %s, want own record %s", data, own.ID)
	}
}

func TestStreamRequiresScope(t *testing.T) {
	s := setupTestServer(t)
	tenantless := s.token(t, "user-3", "client_user", "", "")
	expectError(t, s.do(t, http.MethodGet, "/api/v1/stream", tenantless, nil), http.StatusForbidden, "PERMISSION_DENIED")
}
