package service

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
	"github.com/louisbranch/freightdesk/internal/platform/logging"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
	"github.com/louisbranch/freightdesk/internal/services/ops/journal"
	"github.com/louisbranch/freightdesk/internal/services/ops/metrics"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage/memory"
)

var (
	agent       = actor.Actor{UserID: "agent-1", Role: actor.RoleAgent}
	admin       = actor.Actor{UserID: "admin-1", Role: actor.RoleAdmin}
	finance     = actor.Actor{UserID: "fin-1", Role: actor.RoleFinance}
	clientAdmin = actor.Actor{UserID: "user-1", Role: actor.RoleClientAdmin, ClientID: "c1", Email: "ana@acme.test"}
	otherClient = actor.Actor{UserID: "user-2", Role: actor.RoleClientUser, ClientID: "c2"}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *Service
	store   storage.Store
	clock   *testClock
	metrics *metrics.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry, err := event.NewDefaultRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	clock := &testClock{now: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)}
	store := memory.New(registry, memory.WithClock(clock.Now))
	return newFixtureWithStore(t, store, registry, clock)
}

func newFixtureWithStore(t *testing.T, store storage.Store, registry *event.Registry, clock *testClock) *fixture {
	t.Helper()
	recorder := metrics.New()
	svc, err := New(Config{
		Store:    store,
		Registry: registry,
		Metrics:  recorder,
		Logger:   logging.Discard(),
		Now:      clock.Now,
		Retry:    journal.RetryPolicy{Attempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := store.PutClient(context.Background(), entity.Client{ID: "c1", Type: entity.ClientTypeCompany, DisplayName: "Acme <b>Imports</b>"}); err != nil {
		t.Fatalf("put client: %v", err)
	}
	return &fixture{svc: svc, store: store, clock: clock, metrics: recorder}
}

func place(city, country string) entity.Place {
	return entity.Place{Line: "1 Dock Rd", City: city, Country: country}
}

func pickupDetails() entity.Details {
	return entity.Details{Pickup: &entity.PickupDetails{
		Address:      place("Lima", "PE"),
		PackageCount: 2,
		WeightKg:     14.5,
		Instructions: "Ring twice",
	}}
}

func shipmentDetails() entity.Details {
	lat, lon := -12.04, -77.03
	origin := place("Miami", "US")
	destination := place("Lima", "PE")
	destination.Latitude, destination.Longitude = &lat, &lon
	return entity.Details{Shipment: &entity.ShipmentDetails{
		Origin:        origin,
		Destination:   destination,
		Cargo:         entity.Cargo{Type: "Electronics", WeightKg: 120, PackageCount: 4, TransportMode: entity.TransportAir},
		DeclaredValue: entity.Money{Amount: 250000, Currency: "USD"},
		Cost:          entity.Money{Amount: 48000, Currency: "USD"},
		InternalNotes: "fragile, customer VIP",
	}}
}

func purchaseDetails() entity.Details {
	return entity.Details{Purchase: &entity.PurchaseDetails{
		Description:     "Espresso machine",
		ProductURL:      "https://shop.test/espresso",
		Quantity:        1,
		EstimatedCost:   entity.Money{Amount: 32000, Currency: "USD"},
		DeliveryAddress: place("Quito", "EC"),
	}}
}

func mustCreate(t *testing.T, f *fixture, a actor.Actor, family entity.Family, details entity.Details) entity.Entity {
	t.Helper()
	e, err := f.svc.Create(context.Background(), a, CreateInput{Family: family, ClientID: "c1", Details: details})
	if err != nil {
		t.Fatalf("create %s: %v", family, err)
	}
	return e
}

func mustTransition(t *testing.T, f *fixture, a actor.Actor, e entity.Entity, to entity.Status, notes string) entity.Entity {
	t.Helper()
	updated, _, err := f.svc.Transition(context.Background(), a, TransitionInput{
		Ref:   EntityRef{Family: e.Family, ID: e.ID},
		To:    to,
		Notes: notes,
	})
	if err != nil {
		t.Fatalf("transition %s -> %s: %v", e.Status, to, err)
	}
	return updated
}

func assertCode(t *testing.T, err error, want apperrors.Code) {
	t.Helper()
	if got := apperrors.CodeOf(err); got != want {
		t.Fatalf("code = %q, want %q (err %v)", got, want, err)
	}
}

func refOf(e entity.Entity) EntityRef {
	return EntityRef{Family: e.Family, ID: e.ID}
}
