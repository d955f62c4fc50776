// Package storagetest holds the behaviour every storage backend must share.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/freightdesk/internal/services/ops/domain/authz"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage/filter"
)

// Factory opens a fresh, empty store for one test.
type Factory func(t *testing.T) storage.Store

// Run exercises a backend against the shared contract.
func Run(t *testing.T, open Factory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(*testing.T, storage.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateRejectsDuplicateNumber", testCreateRejectsDuplicateNumber},
		{"CreateRejectsDuplicateGuestQuote", testCreateRejectsDuplicateGuestQuote},
		{"MutateAdvancesVersionAndChain", testMutateAdvancesVersionAndChain},
		{"MutateAbortLeavesNoTrace", testMutateAbortLeavesNoTrace},
		{"MutateRejectsInvalidEvent", testMutateRejectsInvalidEvent},
		{"MutateConcurrent", testMutateConcurrent},
		{"AppendConcurrent", testAppendConcurrent},
		{"AppendEvent", testAppendEvent},
		{"EventsNeverPredateHistory", testEventsNeverPredateHistory},
		{"ListEventsFilter", testListEventsFilter},
		{"ListEntitiesScopeAndPaging", testListEntitiesScopeAndPaging},
		{"ListUnownedByContact", testListUnownedByContact},
		{"NextSequenceConcurrent", testNextSequenceConcurrent},
		{"Clients", testClients},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, open(t))
		})
	}
}

// Registry returns the default event registry or fails the test.
func Registry(t testing.TB) *event.Registry {
	t.Helper()
	registry, err := event.NewDefaultRegistry()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	return registry
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func pickup(number, clientID string, at time.Time) entity.Entity {
	return entity.Entity{
		Family:       entity.FamilyPickup,
		Number:       number,
		Status:       "REQUESTED",
		ClientID:     clientID,
		ContactEmail: "ops@example.com",
		CreatedAt:    at,
		Details: entity.Details{Pickup: &entity.PickupDetails{
			Address:      entity.Place{City: "Lisbon", Country: "PT"},
			PackageCount: 2,
			WeightKg:     12.5,
		}},
	}
}

func created(status entity.Status) event.Event {
	return event.Event{
		Type:      event.TypeFor(entity.FamilyPickup, event.KindCreated),
		NewStatus: status,
		ActorID:   "user-1",
		ActorRole: "client_admin",
		Metadata:  map[string]string{event.MetaOrigin: event.OriginDirect},
	}
}

func mustCreate(t *testing.T, s storage.Store, e entity.Entity) entity.Entity {
	t.Helper()
	got, _, err := s.CreateEntity(context.Background(), e, created(e.Status))
	if err != nil {
		t.Fatalf("create %s: %v", e.Number, err)
	}
	return got
}

func transition(to entity.Status, actorID string) storage.MutateFunc {
	return func(current entity.Entity) (entity.Entity, event.Event, error) {
		evt := event.Event{
			Type:      event.TypeFor(current.Family, event.KindStatusChanged),
			OldStatus: current.Status,
			NewStatus: to,
			ActorID:   actorID,
			ActorRole: "agent",
		}
		current.Status = to
		return current, evt, nil
	}
}

func testCreateAndGet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	e, evt, err := s.CreateEntity(ctx, pickup("PKP-20260301-00001", "client-1", base), created("REQUESTED"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if e.ID == "" || e.Version != 1 {
		t.Fatalf("entity = %+v, want id and version 1", e)
	}
	if evt.Seq != 1 || evt.PrevHash != "" || evt.Hash == "" || evt.EntityID != e.ID {
		t.Fatalf("created event = %+v", evt)
	}

	got, err := s.GetEntity(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Number != e.Number || got.Details.Pickup == nil || got.Details.Pickup.PackageCount != 2 {
		t.Fatalf("get = %+v", got)
	}
	if !got.CreatedAt.Equal(base) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, base)
	}

	byNumber, err := s.GetEntityByNumber(ctx, e.Number)
	if err != nil || byNumber.ID != e.ID {
		t.Fatalf("by number = %+v, %v", byNumber, err)
	}

	if _, err := s.GetEntity(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetEntityByGuestQuoteID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing guest quote err = %v, want ErrNotFound", err)
	}
}

func testCreateRejectsDuplicateNumber(t *testing.T, s storage.Store) {
	mustCreate(t, s, pickup("PKP-20260301-00001", "client-1", base))
	_, _, err := s.CreateEntity(context.Background(), pickup("PKP-20260301-00001", "client-2", base), created("REQUESTED"))
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func testCreateRejectsDuplicateGuestQuote(t *testing.T, s storage.Store) {
	ctx := context.Background()
	quote := func(number string) entity.Entity {
		return entity.Entity{
			Family:       entity.FamilyQuote,
			Number:       number,
			Status:       "PENDING",
			ClientID:     "client-1",
			GuestQuoteID: "3f1e2d3c-4b5a-4c6d-8e7f-8091a2b3c4d5",
			CreatedAt:    base,
			Details: entity.Details{Quote: &entity.QuoteDetails{
				Origin:      entity.Place{City: "Lisbon", Country: "PT"},
				Destination: entity.Place{City: "Madrid", Country: "ES"},
				Cost:        entity.CostBreakdown{Total: entity.Money{Amount: 1000, Currency: "EUR"}},
			}},
		}
	}
	createdQuote := event.Event{
		Type:      event.TypeFor(entity.FamilyQuote, event.KindCreated),
		NewStatus: "PENDING",
		Metadata:  map[string]string{event.MetaOrigin: event.OriginGuestQuote},
	}
	first, _, err := s.CreateEntity(ctx, quote("QUO-20260301-00001"), createdQuote)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, _, err = s.CreateEntity(ctx, quote("QUO-20260301-00002"), createdQuote)
	if !errors.Is(err, storage.ErrGuestQuoteAttached) {
		t.Fatalf("err = %v, want ErrGuestQuoteAttached", err)
	}
	got, err := s.GetEntityByGuestQuoteID(ctx, first.GuestQuoteID)
	if err != nil || got.ID != first.ID {
		t.Fatalf("by guest quote = %+v, %v", got, err)
	}
}

func testMutateAdvancesVersionAndChain(t *testing.T, s storage.Store) {
	ctx := context.Background()
	e := mustCreate(t, s, pickup("PKP-20260301-00001", "client-1", base))

	updated, evt, err := s.Mutate(ctx, e.ID, transition("SCHEDULED", "agent-1"))
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if updated.Status != "SCHEDULED" || updated.Version != 2 {
		t.Fatalf("updated = %+v", updated)
	}
	if updated.Number != e.Number || !updated.CreatedAt.Equal(e.CreatedAt) {
		t.Fatalf("immutable fields changed: %+v", updated)
	}

	events, err := s.ListEvents(ctx, e.ID, nil)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[1].Seq != 2 || events[1].PrevHash != events[0].Hash || events[1].Hash != evt.Hash {
		t.Fatalf("chain broken: %+v -> %+v", events[0], events[1])
	}
	for _, got := range events {
		want, err := event.ComputeHash(got)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		if got.Hash != want {
			t.Fatalf("stored hash %s does not recompute (%s)", got.Hash, want)
		}
	}
}

func testMutateAbortLeavesNoTrace(t *testing.T, s storage.Store) {
	ctx := context.Background()
	e := mustCreate(t, s, pickup("PKP-20260301-00001", "client-1", base))
	boom := errors.New("boom")
	_, _, err := s.Mutate(ctx, e.ID, func(current entity.Entity) (entity.Entity, event.Event, error) {
		current.Status = "SCHEDULED"
		return current, event.Event{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	got, err := s.GetEntity(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "REQUESTED" || got.Version != 1 {
		t.Fatalf("entity changed after abort: %+v", got)
	}
	if _, _, err := s.Mutate(ctx, "missing", transition("SCHEDULED", "a")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing err = %v, want ErrNotFound", err)
	}
}

func testMutateRejectsInvalidEvent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	e := mustCreate(t, s, pickup("PKP-20260301-00001", "client-1", base))
	_, _, err := s.Mutate(ctx, e.ID, func(current entity.Entity) (entity.Entity, event.Event, error) {
		current.Status = "CANCELED"
		return current, event.Event{
			Type:      event.TypeFor(entity.FamilyPickup, event.KindCanceled),
			OldStatus: "REQUESTED",
			NewStatus: "CANCELED",
		}, nil
	})
	if !errors.Is(err, event.ErrNotesRequired) {
		t.Fatalf("err = %v, want ErrNotesRequired", err)
	}
	got, _ := s.GetEntity(ctx, e.ID)
	if got.Status != "REQUESTED" {
		t.Fatalf("status = %s, want REQUESTED", got.Status)
	}
}

func testMutateConcurrent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	e := mustCreate(t, s, pickup("PKP-20260301-00001", "client-1", base))

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.Mutate(ctx, e.ID, func(current entity.Entity) (entity.Entity, event.Event, error) {
				current.Details.Pickup.Instructions = fmt.Sprintf("worker %d", i)
				return current, event.Event{
					Type:    event.TypeFor(entity.FamilyPickup, event.KindNoteAdded),
					ActorID: fmt.Sprintf("agent-%d", i),
					Notes:   "instructions updated",
				}, nil
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	succeeded := countSuccesses(t, errs)
	got, err := s.GetEntity(ctx, e.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != int64(succeeded+1) {
		t.Fatalf("version = %d, want %d", got.Version, succeeded+1)
	}
	assertChain(t, s, e.ID, succeeded+1)
}

func countSuccesses(t *testing.T, errs <-chan error) int {
	t.Helper()
	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, storage.ErrConflict):
		default:
			t.Fatalf("concurrent write: %v", err)
		}
	}
	if succeeded == 0 {
		t.Fatal("no concurrent write succeeded")
	}
	return succeeded
}

func assertChain(t *testing.T, s storage.Store, entityID string, want int) {
	t.Helper()
	events, err := s.ListEvents(context.Background(), entityID, nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != want {
		t.Fatalf("events = %d, want %d", len(events), want)
	}
	for i, evt := range events {
		if evt.Seq != int64(i+1) {
			t.Fatalf("event %d seq = %d", i, evt.Seq)
		}
		if i > 0 && evt.PrevHash != events[i-1].Hash {
			t.Fatalf("event %d does not link to its predecessor", i)
		}
	}
}

func testAppendConcurrent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	e := mustCreate(t, s, pickup("PKP-20260301-00001", "client-1", base))

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AppendEvent(ctx, event.Event{
				EntityID: e.ID,
				Type:     event.TypeFor(entity.FamilyPickup, event.KindNoteAdded),
				ActorID:  fmt.Sprintf("agent-%d", i),
				Notes:    "note",
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	assertChain(t, s, e.ID, countSuccesses(t, errs)+1)
}

func testAppendEvent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	e := mustCreate(t, s, pickup("PKP-20260301-00001", "client-1", base))
	evt, err := s.AppendEvent(ctx, event.Event{
		EntityID: e.ID,
		Type:     event.TypeFor(entity.FamilyPickup, event.KindNoteAdded),
		ActorID:  "agent-1",
		Notes:    "  gate code 1234  ",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if evt.Seq != 2 || evt.Notes != "gate code 1234" || evt.Family != entity.FamilyPickup {
		t.Fatalf("event = %+v", evt)
	}
	got, _ := s.GetEntity(ctx, e.ID)
	if got.Version != 1 {
		t.Fatalf("version = %d, want entity untouched", got.Version)
	}
	if _, err := s.AppendEvent(ctx, event.Event{EntityID: "missing", Type: "pickup.note_added", Notes: "x"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing err = %v, want ErrNotFound", err)
	}
}

func testEventsNeverPredateHistory(t *testing.T, s storage.Store) {
	ctx := context.Background()
	ahead := time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond)
	e := mustCreate(t, s, pickup("PKP-20260301-00001", "client-1", ahead))

	note, err := s.AppendEvent(ctx, event.Event{
		EntityID: e.ID,
		Type:     event.TypeFor(entity.FamilyPickup, event.KindNoteAdded),
		ActorID:  "agent-1",
		Notes:    "dock 4",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if note.CreatedAt.Before(ahead) {
		t.Fatalf("note created_at = %v, want >= %v", note.CreatedAt, ahead)
	}
	if _, _, err := s.Mutate(ctx, e.ID, transition("SCHEDULED", "agent-1")); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	events, err := s.ListEvents(ctx, e.ID, nil)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	for i := 1; i < len(events); i++ {
		if events[i].CreatedAt.Before(events[i-1].CreatedAt) {
			t.Fatalf("event %d at %v predates event %d at %v", events[i].Seq, events[i].CreatedAt, events[i-1].Seq, events[i-1].CreatedAt)
		}
	}
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
}

func testListEventsFilter(t *testing.T, s storage.Store) {
	ctx := context.Background()
	e := mustCreate(t, s, pickup("PKP-20260301-00001", "client-1", base))
	if _, _, err := s.Mutate(ctx, e.ID, transition("SCHEDULED", "agent-1")); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if _, _, err := s.Mutate(ctx, e.ID, transition("IN_PROGRESS", "agent-2")); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	f, err := filter.Parse(`type = "pickup.status_changed" AND actor_id = "agent-2"`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	events, err := s.ListEvents(ctx, e.ID, f)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 || events[0].NewStatus != "IN_PROGRESS" {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Metadata == nil {
		t.Fatal("metadata should decode to an empty map")
	}
	if _, err := s.ListEvents(ctx, "missing", nil); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing err = %v, want ErrNotFound", err)
	}
}

func testListEntitiesScopeAndPaging(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		mustCreate(t, s, pickup(fmt.Sprintf("PKP-20260301-%05d", i+1), "client-1", base.Add(time.Duration(i)*time.Minute)))
	}
	mustCreate(t, s, pickup("PKP-20260301-00099", "client-2", base))

	tenant := authz.Scope{Kind: authz.ScopeTenant, ClientID: "client-1"}
	q := storage.ListQuery{Family: entity.FamilyPickup, Scope: tenant, PageSize: 2}
	var numbers []string
	for page := 0; page < 5; page++ {
		got, err := s.ListEntities(ctx, q)
		if err != nil {
			t.Fatalf("list page %d: %v", page, err)
		}
		for _, e := range got.Entities {
			if e.ClientID != "client-1" {
				t.Fatalf("scope leak: %+v", e)
			}
			numbers = append(numbers, e.Number)
		}
		if got.NextPageToken == "" {
			break
		}
		q.PageToken = got.NextPageToken
	}
	want := []string{"PKP-20260301-00005", "PKP-20260301-00004", "PKP-20260301-00003", "PKP-20260301-00002", "PKP-20260301-00001"}
	if fmt.Sprint(numbers) != fmt.Sprint(want) {
		t.Fatalf("numbers = %v, want %v", numbers, want)
	}

	all, err := s.ListEntities(ctx, storage.ListQuery{Family: entity.FamilyPickup, Scope: authz.Scope{Kind: authz.ScopeAll}})
	if err != nil || len(all.Entities) != 6 {
		t.Fatalf("all scope = %d, %v", len(all.Entities), err)
	}
	none, err := s.ListEntities(ctx, storage.ListQuery{Family: entity.FamilyPickup, Scope: authz.Scope{Kind: authz.ScopeNone}})
	if err != nil || len(none.Entities) != 0 {
		t.Fatalf("none scope = %d, %v", len(none.Entities), err)
	}
	quotes, err := s.ListEntities(ctx, storage.ListQuery{Family: entity.FamilyQuote, Scope: authz.Scope{Kind: authz.ScopeAll}})
	if err != nil || len(quotes.Entities) != 0 {
		t.Fatalf("other family = %d, %v", len(quotes.Entities), err)
	}

	token := q.PageToken
	_, err = s.ListEntities(ctx, storage.ListQuery{Family: entity.FamilyPickup, Scope: authz.Scope{Kind: authz.ScopeAll}, PageToken: token})
	if err == nil {
		t.Fatal("expected token from another query to be rejected")
	}
}

func testListUnownedByContact(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := pickup("PKP-20260301-00001", "", base)
	a.ContactEmail = "guest@example.com"
	a = mustCreate(t, s, a)
	b := pickup("PKP-20260301-00002", "", base.Add(time.Minute))
	b.ContactEmail = ""
	b.ContactPhone = "+351911111111"
	b = mustCreate(t, s, b)
	c := pickup("PKP-20260301-00003", "client-1", base)
	c.ContactEmail = "guest@example.com"
	c.OwnerUserID = "someone"
	mustCreate(t, s, c)

	got, err := s.ListUnownedByContact(ctx, storage.ContactQuery{Email: "Guest@Example.com", Phone: "+351 911 111 111"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != a.ID || got[1].ID != b.ID {
		t.Fatalf("unowned = %+v", got)
	}
	empty, err := s.ListUnownedByContact(ctx, storage.ContactQuery{})
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty query = %+v, %v", empty, err)
	}
}

func testNextSequenceConcurrent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	const n = 20
	var wg sync.WaitGroup
	values := make(chan int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.NextSequence(ctx, "SHP-20260301")
			if err != nil {
				t.Errorf("next: %v", err)
				return
			}
			values <- v
		}()
	}
	wg.Wait()
	close(values)

	seen := make(map[int64]bool)
	for v := range values {
		if seen[v] {
			t.Fatalf("duplicate value %d", v)
		}
		seen[v] = true
	}
	for i := int64(1); i <= n; i++ {
		if !seen[i] {
			t.Fatalf("missing value %d", i)
		}
	}
	other, err := s.NextSequence(ctx, "SHP-20260302")
	if err != nil || other != 1 {
		t.Fatalf("new bucket = %d, %v", other, err)
	}
}

func testClients(t *testing.T, s storage.Store) {
	ctx := context.Background()
	c := entity.Client{ID: "client-1", Type: entity.ClientTypeCompany, DisplayName: "Acme", CreatedAt: base}
	if err := s.PutClient(ctx, c); err != nil {
		t.Fatalf("put: %v", err)
	}
	c.DisplayName = "Acme Logistics"
	if err := s.PutClient(ctx, c); err != nil {
		t.Fatalf("put again: %v", err)
	}
	got, err := s.GetClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DisplayName != "Acme Logistics" || got.Type != entity.ClientTypeCompany {
		t.Fatalf("client = %+v", got)
	}
	if _, err := s.GetClient(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing err = %v, want ErrNotFound", err)
	}
}
