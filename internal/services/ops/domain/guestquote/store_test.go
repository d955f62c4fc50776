package guestquote

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestStore(t *testing.T, start time.Time) (*Store, *MemoryKV, *fakeClock) {
	t.Helper()
	kv := NewMemoryKV()
	clock := &fakeClock{now: start}
	n := 0
	store := NewStore(kv,
		WithClock(clock.Now),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("00000000-0000-4000-8000-%012d", n)
		}),
	)
	return store, kv, clock
}

func sampleInput() Input {
	return Input{
		Origin:       entity.Place{City: "Bogotá", Country: "CO"},
		Destination:  entity.Place{City: "Madrid", Country: "ES"},
		Cargo:        entity.Cargo{Type: "documents", WeightKg: 1.2, PackageCount: 1, TransportMode: entity.TransportCourier},
		ContactEmail: "guest@example.com",
	}
}

func sampleResult() Result {
	return Result{
		Cost:                  entity.CostBreakdown{Total: entity.Money{Amount: 8900, Currency: "USD"}},
		EstimatedDeliveryDays: 5,
	}
}

func TestAddStampsIDAndExpiry(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store, _, _ := newTestStore(t, start)

	state, q, err := store.Add(sampleInput(), sampleResult())
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if q.ID == "" || len(state.Quotes) != 1 {
		t.Fatalf("state = %+v", state)
	}
	if !q.ExpiresAt.Equal(start.Add(7 * 24 * time.Hour)) {
		t.Fatalf("expires = %v", q.ExpiresAt)
	}
	if err := q.Validate(); err != nil {
		t.Fatalf("stored quote should validate: %v", err)
	}
}

func TestLoadDropsExpiredAndRewrites(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store, kv, clock := newTestStore(t, start)

	if _, _, err := store.Add(sampleInput(), sampleResult()); err != nil {
		t.Fatalf("add: %v", err)
	}
	clock.now = start.Add(6 * 24 * time.Hour)
	if _, _, err := store.Add(sampleInput(), sampleResult()); err != nil {
		t.Fatalf("add: %v", err)
	}

	clock.now = start.Add(8 * 24 * time.Hour)
	state, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(state.Quotes) != 1 {
		t.Fatalf("quotes = %d, want 1 survivor", len(state.Quotes))
	}

	raw, _ := kv.Get(StorageKey)
	var stored []GuestQuote
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		t.Fatalf("decode stored: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored = %d, want rewritten to 1", len(stored))
	}
}

func TestLoadDiscardsCorruptContent(t *testing.T) {
	store, kv, _ := newTestStore(t, time.Now())
	_ = kv.Set(StorageKey, "{not json")

	state, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(state.Quotes) != 0 {
		t.Fatalf("quotes = %d, want 0", len(state.Quotes))
	}
	raw, err := kv.Get(StorageKey)
	if err != nil || raw != "[]" {
		t.Fatalf("stored = %q, %v; want []", raw, err)
	}
}

func TestLoadEmpty(t *testing.T) {
	store, _, _ := newTestStore(t, time.Now())
	state, err := store.Load()
	if err != nil || len(state.Quotes) != 0 {
		t.Fatalf("load = %+v, %v", state, err)
	}
}

func TestAddEvictsOldest(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store, _, clock := newTestStore(t, start)
	var first GuestQuote
	for i := 0; i < MaxEntries+1; i++ {
		clock.now = start.Add(time.Duration(i) * time.Minute)
		_, q, err := store.Add(sampleInput(), sampleResult())
		if err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
		if i == 0 {
			first = q
		}
	}
	state, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(state.Quotes) != MaxEntries {
		t.Fatalf("quotes = %d, want %d", len(state.Quotes), MaxEntries)
	}
	if _, ok := state.Find(first.ID); ok {
		t.Fatal("oldest quote should be evicted")
	}
}

func TestRemoveAndClear(t *testing.T) {
	store, kv, _ := newTestStore(t, time.Now())
	_, a, _ := store.Add(sampleInput(), sampleResult())
	_, b, _ := store.Add(sampleInput(), sampleResult())

	state, err := store.Remove(a.ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(state.Quotes) != 1 || state.Quotes[0].ID != b.ID {
		t.Fatalf("state = %+v", state)
	}
	if _, err := store.Remove(b.ID); err != nil {
		t.Fatalf("remove last: %v", err)
	}
	if _, err := kv.Get(StorageKey); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected key cleared, got %v", err)
	}
}

func TestApplyReportKeepsRetryable(t *testing.T) {
	store, kv, _ := newTestStore(t, time.Now())
	_, attached, _ := store.Add(sampleInput(), sampleResult())
	_, retry, _ := store.Add(sampleInput(), sampleResult())
	_, invalid, _ := store.Add(sampleInput(), sampleResult())

	state, err := store.ApplyReport(Report{Outcomes: []Outcome{
		{GuestQuoteID: attached.ID, Status: OutcomeAttached, EntityID: "e1"},
		{GuestQuoteID: retry.ID, Status: OutcomeSkipped, Code: "PERSISTENCE_FAILED", Retryable: true},
		{GuestQuoteID: invalid.ID, Status: OutcomeSkipped, Code: "GUEST_QUOTE_INVALID"},
	}})
	if err != nil {
		t.Fatalf("apply report: %v", err)
	}
	if len(state.Quotes) != 1 || state.Quotes[0].ID != retry.ID {
		t.Fatalf("state = %+v, want only retryable quote", state)
	}

	if _, err := store.ApplyReport(Report{Outcomes: []Outcome{{GuestQuoteID: retry.ID, Status: OutcomeAttached}}}); err != nil {
		t.Fatalf("apply second report: %v", err)
	}
	if _, err := kv.Get(StorageKey); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected key cleared when empty, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	created := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	in, res := sampleInput(), sampleResult()
	valid := GuestQuote{ID: "6f1c2d9e-8a4b-4c3d-9e2f-1a2b3c4d5e6f", CreatedAt: created, ExpiresAt: created.Add(TTL), Input: &in, Result: &res}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid quote rejected: %v", err)
	}

	badID := valid
	badID.ID = "quote-1"
	if badID.Validate() == nil {
		t.Fatal("expected non-uuid id to be rejected")
	}

	stretched := valid
	stretched.ExpiresAt = created.Add(30 * 24 * time.Hour)
	if stretched.Validate() == nil {
		t.Fatal("expected extended expiry to be rejected")
	}
	if !stretched.Expired(created.Add(8 * 24 * time.Hour)) {
		t.Fatal("expiry must be capped at seven days")
	}

	free := valid
	zero := sampleResult()
	zero.Cost.Total.Amount = 0
	free.Result = &zero
	if free.Validate() == nil {
		t.Fatal("expected zero total to be rejected")
	}

	missing := valid
	missing.Input = nil
	if missing.Validate() == nil {
		t.Fatal("expected missing input to be rejected")
	}
}

func TestCanonicalID(t *testing.T) {
	const want = "6f1c2d9e-8a4b-4c3d-9e2f-1a2b3c4d5e6f"
	tests := []struct {
		id   string
		want string
	}{
		{want, want},
		{"6F1C2D9E-8A4B-4C3D-9E2F-1A2B3C4D5E6F", want},
		{" urn:uuid:6f1c2d9e-8a4b-4c3d-9e2f-1a2b3c4d5e6f ", want},
		{"{6f1c2d9e-8a4b-4c3d-9e2f-1a2b3c4d5e6f}", want},
		{"6f1c2d9e8a4b4c3d9e2f1a2b3c4d5e6f", want},
		{"quote-1", ""},
	}
	for _, tt := range tests {
		if got := (GuestQuote{ID: tt.id}).CanonicalID(); got != tt.want {
			t.Fatalf("CanonicalID(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}
