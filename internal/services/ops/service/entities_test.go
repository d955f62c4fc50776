package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
	"github.com/louisbranch/freightdesk/internal/services/ops/journal"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage"
)

func TestCreateAssignsNumberStatusAndCreatedEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.svc.Create(ctx, clientAdmin, CreateInput{
		Family:       entity.FamilyPickup,
		ContactEmail: " Ana@Acme.TEST ",
		Details:      pickupDetails(),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if e.Number != "PKP-20260302-00001" {
		t.Fatalf("number = %q, want PKP-20260302-00001", e.Number)
	}
	if e.Status != "REQUESTED" || e.ClientID != "c1" || e.OwnerUserID != "user-1" || e.ContactEmail != "ana@acme.test" {
		t.Fatalf("entity = %+v", e)
	}
	events, err := f.store.ListEvents(ctx, e.ID, nil)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	created := events[0]
	if created.Type != "pickup.created" || created.NewStatus != "REQUESTED" || created.OldStatus != "" {
		t.Fatalf("created event = %+v", created)
	}
	if created.Metadata[event.MetaNumber] != e.Number || created.Metadata[event.MetaOrigin] != event.OriginDirect {
		t.Fatalf("created metadata = %v", created.Metadata)
	}

	second := mustCreate(t, f, agent, entity.FamilyPickup, pickupDetails())
	if second.Number != "PKP-20260302-00002" || second.OwnerUserID != "" {
		t.Fatalf("second = %+v", second)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, agent, CreateInput{Family: entity.FamilyPickup, Details: pickupDetails()})
	assertCode(t, err, apperrors.CodeValidation)

	_, err = f.svc.Create(ctx, clientAdmin, CreateInput{Family: entity.FamilyPickup, Details: purchaseDetails()})
	assertCode(t, err, apperrors.CodeValidation)

	_, err = f.svc.Create(ctx, clientAdmin, CreateInput{Family: entity.FamilyPickup, ClientID: "c2", Details: pickupDetails()})
	assertCode(t, err, apperrors.CodePermissionDenied)

	_, err = f.svc.Create(ctx, finance, CreateInput{Family: entity.FamilyPickup, ClientID: "c1", Details: pickupDetails()})
	assertCode(t, err, apperrors.CodePermissionDenied)

	_, err = f.svc.Create(ctx, clientAdmin, CreateInput{Family: "parcel", Details: pickupDetails()})
	assertCode(t, err, apperrors.CodeNotFound)
}

func TestPickupLifecycleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := mustCreate(t, f, clientAdmin, entity.FamilyPickup, pickupDetails())
	p = mustTransition(t, f, agent, p, "SCHEDULED", "")
	p = mustTransition(t, f, agent, p, "IN_PROGRESS", "")
	p = mustTransition(t, f, agent, p, "COMPLETED", "")
	if p.Version != 4 {
		t.Fatalf("version = %d, want 4", p.Version)
	}

	_, _, err := f.svc.Transition(ctx, admin, TransitionInput{Ref: refOf(p), To: "CANCELED", Notes: "too late"})
	assertCode(t, err, apperrors.CodeTransitionFromTerminal)

	events, err := f.svc.ListEvents(ctx, agent, refOf(p), "")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("events = %d, want 4", len(events))
	}
	wantStatus := []entity.Status{"REQUESTED", "SCHEDULED", "IN_PROGRESS", "COMPLETED"}
	for i, evt := range events {
		if evt.Seq != int64(i+1) || evt.NewStatus != wantStatus[i] {
			t.Fatalf("event %d = seq %d status %s, want seq %d status %s", i, evt.Seq, evt.NewStatus, i+1, wantStatus[i])
		}
	}
	replayed, err := journal.ReplayStatus(events)
	if err != nil || replayed != p.Status {
		t.Fatalf("replay = %q, %v; want %q", replayed, err, p.Status)
	}

	report, err := f.svc.VerifyHistory(ctx, admin, refOf(p))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !report.Consistent || !report.ChainValid || report.Events != 4 {
		t.Fatalf("report = %+v", report)
	}

	want := `
# HELP freightdesk_transitions_total Status transitions by family and outcome.
# TYPE freightdesk_transitions_total counter
freightdesk_transitions_total{code="",family="pickup",outcome="allowed"} 3
freightdesk_transitions_total{code="TRANSITION_FROM_TERMINAL",family="pickup",outcome="rejected"} 1
`
	if err := testutil.GatherAndCompare(f.metrics.Registry(), strings.NewReader(want), "freightdesk_transitions_total"); err != nil {
		t.Fatalf("transition metrics: %v", err)
	}
}

func TestTransitionRulesAreEnforced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := mustCreate(t, f, clientAdmin, entity.FamilyPickup, pickupDetails())

	tests := []struct {
		name string
		who  actor.Actor
		in   TransitionInput
		want apperrors.Code
	}{
		{"client cannot schedule", clientAdmin, TransitionInput{Ref: refOf(p), To: "SCHEDULED"}, apperrors.CodeTransitionRoleForbidden},
		{"skip ahead", agent, TransitionInput{Ref: refOf(p), To: "COMPLETED"}, apperrors.CodeTransitionNotInGraph},
		{"unknown status", agent, TransitionInput{Ref: refOf(p), To: "LOST"}, apperrors.CodeTransitionUnknownStatus},
		{"cancel needs notes", clientAdmin, TransitionInput{Ref: refOf(p), To: "CANCELED", Notes: "  "}, apperrors.CodeTransitionNotesRequired},
		{"finance cancel needs notes", finance, TransitionInput{Ref: refOf(p), To: "CANCELED"}, apperrors.CodeTransitionNotesRequired},
		{"other tenant", otherClient, TransitionInput{Ref: refOf(p), To: "CANCELED", Notes: "x"}, apperrors.CodePermissionDenied},
		{"wrong family", agent, TransitionInput{Ref: EntityRef{Family: entity.FamilyShipment, ID: p.ID}, To: "BOOKED"}, apperrors.CodeNotFound},
		{"unauthenticated", actor.Actor{}, TransitionInput{Ref: refOf(p), To: "SCHEDULED"}, apperrors.CodeUnauthenticated},
		{"acted on another status", agent, TransitionInput{Ref: refOf(p), From: "SCHEDULED", To: "IN_PROGRESS"}, apperrors.CodeStatusChanged},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := f.svc.Transition(ctx, tc.who, tc.in)
			assertCode(t, err, tc.want)
		})
	}

	got, err := f.svc.Get(ctx, agent, refOf(p))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "REQUESTED" || got.Version != 1 {
		t.Fatalf("rejected transitions changed the record: %+v", got)
	}

	canceled, evt, err := f.svc.Transition(ctx, clientAdmin, TransitionInput{
		Ref: refOf(p), To: "canceled", Notes: "no longer needed",
		Metadata: map[string]string{event.MetaReasonCode: "customer_request"},
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != "CANCELED" || evt.Type != "pickup.canceled" || evt.Notes != "no longer needed" {
		t.Fatalf("cancel = %+v / %+v", canceled, evt)
	}
}

func TestTransitionRejectsUndeclaredMetadata(t *testing.T) {
	f := newFixture(t)
	p := mustCreate(t, f, clientAdmin, entity.FamilyPickup, pickupDetails())
	_, _, err := f.svc.Transition(context.Background(), agent, TransitionInput{
		Ref: refOf(p), To: "SCHEDULED", Metadata: map[string]string{"driver_phone": "555"},
	})
	assertCode(t, err, apperrors.CodeEventMetadata)
}

func TestTransitionExpectVersion(t *testing.T) {
	f := newFixture(t)
	p := mustCreate(t, f, clientAdmin, entity.FamilyPickup, pickupDetails())
	p = mustTransition(t, f, agent, p, "SCHEDULED", "")

	_, _, err := f.svc.Transition(context.Background(), agent, TransitionInput{Ref: refOf(p), To: "IN_PROGRESS", ExpectVersion: 1})
	assertCode(t, err, apperrors.CodeStaleVersion)

	updated, _, err := f.svc.Transition(context.Background(), agent, TransitionInput{Ref: refOf(p), To: "IN_PROGRESS", ExpectVersion: 2})
	if err != nil {
		t.Fatalf("transition with current version: %v", err)
	}
	if updated.Version != 3 {
		t.Fatalf("version = %d, want 3", updated.Version)
	}
}

func TestShipmentMilestonesAreStamped(t *testing.T) {
	f := newFixture(t)
	s := mustCreate(t, f, clientAdmin, entity.FamilyShipment, shipmentDetails())
	s = mustTransition(t, f, clientAdmin, s, "BOOKED", "")
	s = mustTransition(t, f, agent, s, "PICKED_UP", "")
	if s.Details.Shipment.ActualPickup == nil || !s.Details.Shipment.ActualPickup.Equal(f.clock.Now()) {
		t.Fatalf("actual pickup = %v, want %v", s.Details.Shipment.ActualPickup, f.clock.Now())
	}
}

func TestConcurrentTransitionsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	p := mustCreate(t, f, clientAdmin, entity.FamilyPickup, pickupDetails())

	const workers = 6
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.Transition(context.Background(), agent, TransitionInput{Ref: refOf(p), From: "REQUESTED", To: "SCHEDULED"})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if apperrors.CodeOf(err) != apperrors.CodeStatusChanged || !apperrors.HasClass(err, apperrors.ClassConflict) {
				t.Errorf("loser error = %v, want status changed conflict", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
	events, err := f.store.ListEvents(context.Background(), p.ID, nil)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
}

func TestRacingScheduleAndCancelKeepOneBranch(t *testing.T) {
	for run := 0; run < 50; run++ {
		f := newFixture(t)
		p := mustCreate(t, f, clientAdmin, entity.FamilyPickup, pickupDetails())

		inputs := []TransitionInput{
			{Ref: refOf(p), From: "REQUESTED", To: "SCHEDULED"},
			{Ref: refOf(p), From: "REQUESTED", To: "CANCELED", Notes: "customer withdrew"},
		}
		errs := make([]error, len(inputs))
		var wg sync.WaitGroup
		for i, in := range inputs {
			i, in := i, in
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, errs[i] = f.svc.Transition(context.Background(), agent, in)
			}()
		}
		wg.Wait()

		failed := 0
		for _, err := range errs {
			if err == nil {
				continue
			}
			failed++
			if apperrors.CodeOf(err) != apperrors.CodeStatusChanged {
				t.Fatalf("run %d: loser error = %v, want %s", run, err, apperrors.CodeStatusChanged)
			}
		}
		if failed != 1 {
			t.Fatalf("run %d: failures = %d, want exactly 1 (errs %v)", run, failed, errs)
		}
		events, err := f.store.ListEvents(context.Background(), p.ID, nil)
		if err != nil {
			t.Fatalf("list events: %v", err)
		}
		if len(events) != 2 || events[1].OldStatus != "REQUESTED" {
			t.Fatalf("run %d: history = %+v, want one branch from REQUESTED", run, events)
		}
	}
}

func TestGetAndListRespectScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := mustCreate(t, f, clientAdmin, entity.FamilyPurchase, purchaseDetails())
	if _, err := f.svc.Create(ctx, agent, CreateInput{Family: entity.FamilyPurchase, ClientID: "c2", Details: purchaseDetails()}); err != nil {
		t.Fatalf("create for c2: %v", err)
	}

	if _, err := f.svc.Get(ctx, otherClient, refOf(mine)); apperrors.CodeOf(err) != apperrors.CodePermissionDenied {
		t.Fatalf("foreign get err = %v, want permission denied", err)
	}
	if _, err := f.svc.Get(ctx, clientAdmin, EntityRef{Family: entity.FamilyPurchase, ID: "missing"}); apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatalf("missing get err = %v, want not found", err)
	}

	page, err := f.svc.List(ctx, clientAdmin, ListInput{Family: entity.FamilyPurchase})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Entities) != 1 || page.Entities[0].ID != mine.ID {
		t.Fatalf("client list = %+v", page.Entities)
	}
	page, err = f.svc.List(ctx, agent, ListInput{Family: entity.FamilyPurchase, PageSize: 1})
	if err != nil {
		t.Fatalf("agent list: %v", err)
	}
	if len(page.Entities) != 1 || page.NextPageToken == "" {
		t.Fatalf("agent page = %+v", page)
	}
	next, err := f.svc.List(ctx, agent, ListInput{Family: entity.FamilyPurchase, PageSize: 1, PageToken: page.NextPageToken})
	if err != nil {
		t.Fatalf("agent next page: %v", err)
	}
	if len(next.Entities) != 1 || next.Entities[0].ID == page.Entities[0].ID {
		t.Fatalf("next page = %+v", next.Entities)
	}

	_, err = f.svc.List(ctx, clientAdmin, ListInput{Family: entity.FamilyPurchase, PageToken: page.NextPageToken})
	assertCode(t, err, apperrors.CodeCursorInvalid)

	_, err = f.svc.List(ctx, clientAdmin, ListInput{Family: entity.FamilyPurchase, Status: "SHIPPED"})
	assertCode(t, err, apperrors.CodeValidation)

	orphan := clientAdmin
	orphan.ClientID = ""
	_, err = f.svc.List(ctx, orphan, ListInput{Family: entity.FamilyPurchase})
	assertCode(t, err, apperrors.CodePermissionDenied)
}

type flakyStore struct {
	storage.Store
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) Mutate(ctx context.Context, id string, fn storage.MutateFunc) (entity.Entity, event.Event, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return entity.Entity{}, event.Event{}, storage.PersistenceError("mutate", context.DeadlineExceeded)
	}
	s.mu.Unlock()
	return s.Store.Mutate(ctx, id, fn)
}

func TestTransitionRetriesPersistenceFailures(t *testing.T) {
	base := newFixture(t)
	flaky := &flakyStore{Store: base.store}
	f := newFixtureWithStore(t, flaky, base.svc.registry, base.clock)

	p := mustCreate(t, f, clientAdmin, entity.FamilyPickup, pickupDetails())
	flaky.failures = 1
	p = mustTransition(t, f, agent, p, "SCHEDULED", "")
	if p.Status != "SCHEDULED" {
		t.Fatalf("status = %s, want SCHEDULED", p.Status)
	}

	flaky.failures = 5
	_, _, err := f.svc.Transition(context.Background(), agent, TransitionInput{Ref: refOf(p), To: "IN_PROGRESS"})
	assertCode(t, err, apperrors.CodePersistence)
	got, err := f.svc.Get(context.Background(), agent, refOf(p))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "SCHEDULED" || got.Version != 2 {
		t.Fatalf("failed write changed the record: %+v", got)
	}
}
