package service

import (
	"context"
	"io"
	"testing"
	"time"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/authz"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
)

func quoteDetails() entity.Details {
	return entity.Details{Quote: &entity.QuoteDetails{
		Origin:      place("Miami", "US"),
		Destination: place("Bogota", "CO"),
		Cargo:       entity.Cargo{Type: "Textiles", WeightKg: 40, PackageCount: 2, TransportMode: entity.TransportSea},
		Cost: entity.CostBreakdown{
			Lines: []entity.CostLine{
				{Label: "Freight", Amount: entity.Money{Amount: 30000, Currency: "USD"}},
				{Label: "Fuel", Amount: entity.Money{Amount: 5000, Currency: "USD"}},
			},
			Total: entity.Money{Amount: 35000, Currency: "USD"},
		},
	}}
}

func TestAddNote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := mustCreate(t, f, clientAdmin, entity.FamilyPickup, pickupDetails())

	signals, cancel := f.svc.Broker().Subscribe(authz.ScopeFor(clientAdmin))
	defer cancel()

	evt, err := f.svc.AddNote(ctx, clientAdmin, refOf(p), "  gate code 4411 ")
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	if evt.Type != "pickup.note_added" || evt.Notes != "gate code 4411" || evt.Seq != 2 {
		t.Fatalf("note event = %+v", evt)
	}
	select {
	case sig := <-signals:
		if sig.EntityID != p.ID || sig.Seq != 2 || sig.EventType != "pickup.note_added" {
			t.Fatalf("signal = %+v", sig)
		}
	case <-time.After(time.Second):
		t.Fatal("no signal published for the note")
	}

	_, err = f.svc.AddNote(ctx, clientAdmin, refOf(p), "   ")
	assertCode(t, err, apperrors.CodeEventNotesRequired)

	_, err = f.svc.AddNote(ctx, otherClient, refOf(p), "peek")
	assertCode(t, err, apperrors.CodePermissionDenied)

	got, err := f.svc.Get(ctx, agent, refOf(p))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 1 {
		t.Fatalf("notes changed the record version to %d", got.Version)
	}
}

func TestUpdateCost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := mustCreate(t, f, clientAdmin, entity.FamilyShipment, shipmentDetails())

	_, err := f.svc.UpdateCost(ctx, finance, EntityRef{Family: entity.FamilyPickup, ID: s.ID}, entity.Money{Amount: 1, Currency: "USD"})
	assertCode(t, err, apperrors.CodeValidation)

	_, err = f.svc.UpdateCost(ctx, clientAdmin, refOf(s), entity.Money{Amount: 1, Currency: "USD"})
	assertCode(t, err, apperrors.CodePermissionDenied)

	_, err = f.svc.UpdateCost(ctx, finance, refOf(s), entity.Money{Amount: 100, Currency: "dollars"})
	assertCode(t, err, apperrors.CodeValidation)

	updated, err := f.svc.UpdateCost(ctx, finance, refOf(s), entity.Money{Amount: 52500, Currency: "usd"})
	if err != nil {
		t.Fatalf("update cost: %v", err)
	}
	if got := updated.Details.Shipment.Cost; got.Amount != 52500 || got.Currency != "USD" {
		t.Fatalf("cost = %+v", got)
	}
	events, err := f.svc.ListEvents(ctx, finance, refOf(s), `type = "shipment.cost_updated"`)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("cost events = %d, want 1", len(events))
	}
	meta := events[0].Metadata
	if meta[event.MetaAmount] != "52500" || meta[event.MetaCurrency] != "USD" || meta[event.MetaPreviousAmount] != "48000" {
		t.Fatalf("metadata = %v", meta)
	}

	canceled := mustTransition(t, f, agent, updated, "CANCELED", "customer withdrew")
	_, err = f.svc.UpdateCost(ctx, finance, refOf(canceled), entity.Money{Amount: 1, Currency: "USD"})
	assertCode(t, err, apperrors.CodeTransitionFromTerminal)
}

func TestUpdateCostReplacesQuoteBreakdown(t *testing.T) {
	f := newFixture(t)
	q := mustCreate(t, f, agent, entity.FamilyQuote, quoteDetails())

	updated, err := f.svc.UpdateCost(context.Background(), agent, refOf(q), entity.Money{Amount: 31000, Currency: "USD"})
	if err != nil {
		t.Fatalf("update cost: %v", err)
	}
	cost := updated.Details.Quote.Cost
	if len(cost.Lines) != 1 || cost.Total.Amount != 31000 || cost.Lines[0].Amount.Amount != 31000 {
		t.Fatalf("breakdown = %+v", cost)
	}
}

func TestUpdateSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := mustCreate(t, f, clientAdmin, entity.FamilyPickup, pickupDetails())
	start := time.Date(2026, 3, 4, 13, 0, 0, 0, time.UTC)

	_, err := f.svc.UpdateSchedule(ctx, clientAdmin, refOf(p), ScheduleInput{Start: start, End: start.Add(-time.Hour)})
	assertCode(t, err, apperrors.CodeValidation)

	_, err = f.svc.UpdateSchedule(ctx, clientAdmin, refOf(p), ScheduleInput{Start: start})
	assertCode(t, err, apperrors.CodeValidation)

	updated, err := f.svc.UpdateSchedule(ctx, clientAdmin, refOf(p), ScheduleInput{Start: start, End: start.Add(3 * time.Hour)})
	if err != nil {
		t.Fatalf("update schedule: %v", err)
	}
	d := updated.Details.Pickup
	if d.WindowStart == nil || !d.WindowStart.Equal(start) || d.WindowEnd == nil || !d.WindowEnd.Equal(start.Add(3*time.Hour)) {
		t.Fatalf("window = %v - %v", d.WindowStart, d.WindowEnd)
	}
	events, err := f.svc.ListEvents(ctx, clientAdmin, refOf(p), `type = "pickup.schedule_changed"`)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Metadata[event.MetaWindowStart] != "2026-03-04T13:00:00Z" {
		t.Fatalf("schedule events = %+v", events)
	}

	purchase := mustCreate(t, f, clientAdmin, entity.FamilyPurchase, purchaseDetails())
	_, err = f.svc.UpdateSchedule(ctx, agent, refOf(purchase), ScheduleInput{Start: start, End: start})
	assertCode(t, err, apperrors.CodeValidation)
}

func TestUpdateAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := mustCreate(t, f, clientAdmin, entity.FamilyShipment, shipmentDetails())

	_, err := f.svc.UpdateAddress(ctx, agent, refOf(s), "address", place("Cusco", "PE"))
	assertCode(t, err, apperrors.CodeValidation)

	_, err = f.svc.UpdateAddress(ctx, agent, refOf(s), "destination", entity.Place{City: "Cusco"})
	assertCode(t, err, apperrors.CodeValidation)

	updated, err := f.svc.UpdateAddress(ctx, agent, refOf(s), " Destination ", place("Cusco", "PE"))
	if err != nil {
		t.Fatalf("update address: %v", err)
	}
	if updated.Details.Shipment.Destination.City != "Cusco" || updated.Details.Shipment.Origin.City != "Miami" {
		t.Fatalf("places = %+v / %+v", updated.Details.Shipment.Origin, updated.Details.Shipment.Destination)
	}
	events, err := f.svc.ListEvents(ctx, agent, refOf(s), `type = "shipment.address_changed"`)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	meta := events[0].Metadata
	if meta[event.MetaField] != "destination" || meta[event.MetaPrevious] != "Lima, PE" || meta[event.MetaCurrent] != "Cusco, PE" {
		t.Fatalf("metadata = %v", meta)
	}
}

func TestAddTrackingPoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := mustCreate(t, f, clientAdmin, entity.FamilyShipment, shipmentDetails())
	lat, lon := 25.79, -80.29

	_, err := f.svc.AddTrackingPoint(ctx, clientAdmin, s.ID, TrackingPointInput{Location: "MIA"})
	assertCode(t, err, apperrors.CodePermissionDenied)

	_, err = f.svc.AddTrackingPoint(ctx, agent, s.ID, TrackingPointInput{Location: "MIA", Latitude: &lat})
	assertCode(t, err, apperrors.CodeValidation)

	_, err = f.svc.AddTrackingPoint(ctx, agent, s.ID, TrackingPointInput{Description: "somewhere"})
	assertCode(t, err, apperrors.CodeEventMetadata)

	evt, err := f.svc.AddTrackingPoint(ctx, agent, s.ID, TrackingPointInput{
		Location: "Miami hub", Description: "Arrived at origin hub", Latitude: &lat, Longitude: &lon,
	})
	if err != nil {
		t.Fatalf("add tracking point: %v", err)
	}
	if evt.Type != "shipment.tracking_point_added" || evt.Metadata[event.MetaLatitude] != "25.79" {
		t.Fatalf("event = %+v", evt)
	}

	p := mustCreate(t, f, clientAdmin, entity.FamilyPickup, pickupDetails())
	_, err = f.svc.AddTrackingPoint(ctx, agent, p.ID, TrackingPointInput{Location: "MIA"})
	assertCode(t, err, apperrors.CodeNotFound)
}

func TestUploadDocument(t *testing.T) {
	f := newFixture(t)
	f.svc.maxUpload = 16
	ctx := context.Background()
	purchase := mustCreate(t, f, clientAdmin, entity.FamilyPurchase, purchaseDetails())

	_, err := f.svc.UploadDocument(ctx, clientAdmin, refOf(purchase), DocumentInput{FileName: "a.pdf"})
	assertCode(t, err, apperrors.CodeValidation)

	_, err = f.svc.UploadDocument(ctx, clientAdmin, refOf(purchase), DocumentInput{FileName: "big.pdf", Data: make([]byte, 17)})
	assertCode(t, err, apperrors.CodeDocumentTooLarge)

	p := mustCreate(t, f, clientAdmin, entity.FamilyPickup, pickupDetails())
	_, err = f.svc.UploadDocument(ctx, clientAdmin, refOf(p), DocumentInput{FileName: "a.pdf", Data: []byte("x")})
	assertCode(t, err, apperrors.CodeValidation)

	evt, err := f.svc.UploadDocument(ctx, clientAdmin, refOf(purchase), DocumentInput{
		FileName: "invoice.pdf", ContentType: "application/pdf", Kind: "invoice", Data: []byte("%PDF-1.7 tiny"),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	key := evt.Metadata[event.MetaDocumentKey]
	if key == "" || evt.Metadata[event.MetaSizeBytes] != "13" || evt.Metadata[event.MetaDocumentKind] != "invoice" {
		t.Fatalf("metadata = %v", evt.Metadata)
	}
	info, body, err := f.svc.blobs.Get(ctx, key)
	if err != nil {
		t.Fatalf("get blob: %v", err)
	}
	defer body.Close()
	data, _ := io.ReadAll(body)
	if string(data) != "%PDF-1.7 tiny" || info.ContentType != "application/pdf" {
		t.Fatalf("blob = %q (%s)", data, info.ContentType)
	}
}

func TestListEventsFilterAndAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := mustCreate(t, f, clientAdmin, entity.FamilyPickup, pickupDetails())
	p = mustTransition(t, f, agent, p, "SCHEDULED", "")
	if _, err := f.svc.AddNote(ctx, agent, refOf(p), "driver assigned"); err != nil {
		t.Fatalf("add note: %v", err)
	}

	events, err := f.svc.ListEvents(ctx, clientAdmin, refOf(p), `actor_role = "agent"`)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("agent events = %d, want 2", len(events))
	}

	_, err = f.svc.ListEvents(ctx, clientAdmin, refOf(p), `type = `)
	assertCode(t, err, apperrors.CodeFilterInvalid)

	_, err = f.svc.ListEvents(ctx, otherClient, refOf(p), "")
	assertCode(t, err, apperrors.CodePermissionDenied)

	_, err = f.svc.VerifyHistory(ctx, clientAdmin, refOf(p))
	assertCode(t, err, apperrors.CodePermissionDenied)
}
