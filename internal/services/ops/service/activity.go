package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
	"github.com/louisbranch/freightdesk/internal/platform/id"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/authz"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
	"github.com/louisbranch/freightdesk/internal/services/ops/journal"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage/blob"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage/filter"
)

// AddNote appends a free-text note to the record's history.
func (s *Service) AddNote(ctx context.Context, a actor.Actor, ref EntityRef, notes string) (evt event.Event, err error) {
	ctx, done := s.operation(ctx, "add_note", a, attribute.String("family", string(ref.Family)))
	defer done(&err)

	e, err := s.loadFor(ctx, a, ref, authz.CapabilityAddNotes)
	if err != nil {
		return event.Event{}, err
	}
	return s.append(ctx, a, e, journal.Entry{
		Type:  event.TypeFor(e.Family, event.KindNoteAdded),
		Notes: notes,
	})
}

// append writes a history-only event for e.
func (s *Service) append(ctx context.Context, a actor.Actor, e entity.Entity, entry journal.Entry) (event.Event, error) {
	entry.EntityID = e.ID
	entry.Actor = a
	evt, err := s.journal.Append(ctx, entry)
	if err != nil {
		return event.Event{}, err
	}
	s.recorded(ctx, e, evt)
	return evt, nil
}

// UpdateCost replaces the record's price. Quotes receive a single-line
// breakdown; shipments their cost; purchases their estimate.
func (s *Service) UpdateCost(ctx context.Context, a actor.Actor, ref EntityRef, cost entity.Money) (e entity.Entity, err error) {
	ctx, done := s.operation(ctx, "update_cost", a, attribute.String("family", string(ref.Family)))
	defer done(&err)

	if err := requireKind(ref.Family, event.KindCostUpdated); err != nil {
		return entity.Entity{}, err
	}
	if err := authz.CanUse(a, authz.CapabilityUpdateCost).Err(); err != nil {
		return entity.Entity{}, err
	}
	cost.Currency = strings.ToUpper(strings.TrimSpace(cost.Currency))
	if err := cost.Validate(); err != nil {
		return entity.Entity{}, wrapValidation(err)
	}
	e, _, err = s.mutate(ctx, ref, "update cost", func(current entity.Entity) (entity.Entity, event.Event, error) {
		if err := authz.CanMutate(a, current, authz.CapabilityUpdateCost).Err(); err != nil {
			return entity.Entity{}, event.Event{}, err
		}
		if err := s.requireOpen(current); err != nil {
			return entity.Entity{}, event.Event{}, err
		}
		updated := current
		var previous entity.Money
		switch d := updated.Details; current.Family {
		case entity.FamilyQuote:
			previous = d.Quote.Cost.Total
			d.Quote.Cost = entity.CostBreakdown{
				Lines: []entity.CostLine{{Label: "Adjusted total", Amount: cost}},
				Total: cost,
			}
		case entity.FamilyShipment:
			previous = d.Shipment.Cost
			d.Shipment.Cost = cost
		case entity.FamilyPurchase:
			previous = d.Purchase.EstimatedCost
			d.Purchase.EstimatedCost = cost
		}
		evt := actorEvent(a, event.TypeFor(current.Family, event.KindCostUpdated))
		evt.Metadata = map[string]string{
			event.MetaAmount:   strconv.FormatInt(cost.Amount, 10),
			event.MetaCurrency: cost.Currency,
		}
		if !previous.IsZero() {
			evt.Metadata[event.MetaPreviousAmount] = strconv.FormatInt(previous.Amount, 10)
		}
		return updated, evt, nil
	})
	return e, err
}

// ScheduleInput is a new time window. For pickups it is the collection
// window; for shipments the estimated pickup and delivery.
type ScheduleInput struct {
	Start time.Time
	End   time.Time
}

// UpdateSchedule changes the record's time window.
func (s *Service) UpdateSchedule(ctx context.Context, a actor.Actor, ref EntityRef, in ScheduleInput) (e entity.Entity, err error) {
	ctx, done := s.operation(ctx, "update_schedule", a, attribute.String("family", string(ref.Family)))
	defer done(&err)

	if err := requireKind(ref.Family, event.KindScheduleChanged); err != nil {
		return entity.Entity{}, err
	}
	if err := authz.CanUse(a, authz.CapabilityUpdateLogistics).Err(); err != nil {
		return entity.Entity{}, err
	}
	if in.Start.IsZero() || in.End.IsZero() {
		return entity.Entity{}, validation("window start and end are required")
	}
	start, end := in.Start.UTC(), in.End.UTC()
	if end.Before(start) {
		return entity.Entity{}, validation("window end precedes window start")
	}
	e, _, err = s.mutate(ctx, ref, "update schedule", func(current entity.Entity) (entity.Entity, event.Event, error) {
		if err := authz.CanMutate(a, current, authz.CapabilityUpdateLogistics).Err(); err != nil {
			return entity.Entity{}, event.Event{}, err
		}
		if err := s.requireOpen(current); err != nil {
			return entity.Entity{}, event.Event{}, err
		}
		updated := current
		var prevStart, prevEnd *time.Time
		switch d := updated.Details; current.Family {
		case entity.FamilyPickup:
			prevStart, prevEnd = d.Pickup.WindowStart, d.Pickup.WindowEnd
			d.Pickup.WindowStart, d.Pickup.WindowEnd = &start, &end
		case entity.FamilyShipment:
			prevStart, prevEnd = d.Shipment.EstimatedPickup, d.Shipment.EstimatedDelivery
			d.Shipment.EstimatedPickup, d.Shipment.EstimatedDelivery = &start, &end
		}
		evt := actorEvent(a, event.TypeFor(current.Family, event.KindScheduleChanged))
		evt.Metadata = map[string]string{
			event.MetaWindowStart:   start.Format(time.RFC3339),
			event.MetaWindowEnd:     end.Format(time.RFC3339),
			event.MetaPreviousStart: formatOptional(prevStart),
			event.MetaPreviousEnd:   formatOptional(prevEnd),
		}
		return updated, evt, nil
	})
	return e, err
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// addressFields lists the editable places per family.
var addressFields = map[entity.Family][]string{
	entity.FamilyShipment: {"origin", "destination"},
	entity.FamilyPickup:   {"address"},
	entity.FamilyPurchase: {"delivery_address"},
}

// UpdateAddress replaces one place on the record.
func (s *Service) UpdateAddress(ctx context.Context, a actor.Actor, ref EntityRef, field string, place entity.Place) (e entity.Entity, err error) {
	ctx, done := s.operation(ctx, "update_address", a, attribute.String("family", string(ref.Family)))
	defer done(&err)

	if err := requireKind(ref.Family, event.KindAddressChanged); err != nil {
		return entity.Entity{}, err
	}
	if err := authz.CanUse(a, authz.CapabilityUpdateLogistics).Err(); err != nil {
		return entity.Entity{}, err
	}
	field = strings.ToLower(strings.TrimSpace(field))
	if !contains(addressFields[ref.Family], field) {
		return entity.Entity{}, validation("field must be one of %s", strings.Join(addressFields[ref.Family], ", "))
	}
	if strings.TrimSpace(place.City) == "" || strings.TrimSpace(place.Country) == "" {
		return entity.Entity{}, validation("%s city and country are required", field)
	}
	e, _, err = s.mutate(ctx, ref, "update address", func(current entity.Entity) (entity.Entity, event.Event, error) {
		if err := authz.CanMutate(a, current, authz.CapabilityUpdateLogistics).Err(); err != nil {
			return entity.Entity{}, event.Event{}, err
		}
		if err := s.requireOpen(current); err != nil {
			return entity.Entity{}, event.Event{}, err
		}
		updated := current
		target := placeField(updated.Details, field)
		previous := *target
		*target = place
		if err := updated.Details.Validate(updated.Family); err != nil {
			return entity.Entity{}, event.Event{}, wrapValidation(err)
		}
		evt := actorEvent(a, event.TypeFor(current.Family, event.KindAddressChanged))
		evt.Metadata = map[string]string{
			event.MetaField:    field,
			event.MetaPrevious: previous.Label(),
			event.MetaCurrent:  place.Label(),
		}
		return updated, evt, nil
	})
	return e, err
}

func placeField(d entity.Details, field string) *entity.Place {
	switch {
	case d.Shipment != nil && field == "origin":
		return &d.Shipment.Origin
	case d.Shipment != nil && field == "destination":
		return &d.Shipment.Destination
	case d.Pickup != nil:
		return &d.Pickup.Address
	default:
		return &d.Purchase.DeliveryAddress
	}
}

// TrackingPointInput is a location report for a shipment.
type TrackingPointInput struct {
	Location    string
	Description string
	Latitude    *float64
	Longitude   *float64
}

// AddTrackingPoint records a location report on a shipment's history.
func (s *Service) AddTrackingPoint(ctx context.Context, a actor.Actor, shipmentID string, in TrackingPointInput) (evt event.Event, err error) {
	ctx, done := s.operation(ctx, "add_tracking_point", a)
	defer done(&err)

	e, err := s.loadFor(ctx, a, EntityRef{Family: entity.FamilyShipment, ID: shipmentID}, authz.CapabilityAddTrackingPoint)
	if err != nil {
		return event.Event{}, err
	}
	if err := s.requireOpen(e); err != nil {
		return event.Event{}, err
	}
	metadata := map[string]string{
		event.MetaLocation:    in.Location,
		event.MetaDescription: in.Description,
	}
	if in.Latitude != nil || in.Longitude != nil {
		if in.Latitude == nil || in.Longitude == nil {
			return event.Event{}, validation("latitude and longitude go together")
		}
		if *in.Latitude < -90 || *in.Latitude > 90 || *in.Longitude < -180 || *in.Longitude > 180 {
			return event.Event{}, validation("coordinates out of range")
		}
		metadata[event.MetaLatitude] = strconv.FormatFloat(*in.Latitude, 'f', -1, 64)
		metadata[event.MetaLongitude] = strconv.FormatFloat(*in.Longitude, 'f', -1, 64)
	}
	return s.append(ctx, a, e, journal.Entry{
		Type:     event.TypeFor(entity.FamilyShipment, event.KindTrackingPointAdded),
		Metadata: metadata,
	})
}

// DocumentInput is an uploaded file.
type DocumentInput struct {
	FileName    string
	ContentType string
	Kind        string
	Data        []byte
}

// UploadDocument stores a file in blob storage and records it in history.
func (s *Service) UploadDocument(ctx context.Context, a actor.Actor, ref EntityRef, in DocumentInput) (evt event.Event, err error) {
	ctx, done := s.operation(ctx, "upload_document", a, attribute.String("family", string(ref.Family)))
	defer done(&err)

	if err := requireKind(ref.Family, event.KindDocumentUploaded); err != nil {
		return event.Event{}, err
	}
	if len(in.Data) == 0 {
		return event.Event{}, validation("document is empty")
	}
	if int64(len(in.Data)) > s.maxUpload {
		return event.Event{}, apperrors.WithMetadata(apperrors.CodeDocumentTooLarge,
			"document exceeds the upload limit",
			map[string]string{"limit_bytes": strconv.FormatInt(s.maxUpload, 10)})
	}
	e, err := s.loadFor(ctx, a, ref, authz.CapabilityUploadDocuments)
	if err != nil {
		return event.Event{}, err
	}
	documentID, err := id.NewID()
	if err != nil {
		return event.Event{}, apperrors.Wrap(apperrors.CodeInternal, "generate id", err)
	}
	contentType := strings.TrimSpace(in.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := blob.DocumentKey(string(e.Family), e.ID, documentID, in.FileName)
	info, err := s.blobs.Put(ctx, key, in.Data, contentType)
	if err != nil {
		return event.Event{}, err
	}
	return s.append(ctx, a, e, journal.Entry{
		Type: event.TypeFor(e.Family, event.KindDocumentUploaded),
		Metadata: map[string]string{
			event.MetaDocumentKey:  info.Key,
			event.MetaContentType:  info.ContentType,
			event.MetaSizeBytes:    strconv.FormatInt(info.Size, 10),
			event.MetaFileName:     in.FileName,
			event.MetaDocumentKind: in.Kind,
		},
	})
}

// ListEvents returns the record's history in seq order, narrowed by an
// AIP-160 filter expression.
func (s *Service) ListEvents(ctx context.Context, a actor.Actor, ref EntityRef, filterExpr string) (events []event.Event, err error) {
	ctx, done := s.operation(ctx, "list_events", a, attribute.String("family", string(ref.Family)))
	defer done(&err)

	f, err := filter.Parse(filterExpr)
	if err != nil {
		return nil, err
	}
	e, err := s.loadFor(ctx, a, ref, authz.CapabilityReadAudit)
	if err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, e.ID, f)
}

// VerifyHistory replays the record's events and checks the hash chain.
func (s *Service) VerifyHistory(ctx context.Context, a actor.Actor, ref EntityRef) (report journal.Report, err error) {
	ctx, done := s.operation(ctx, "verify_history", a, attribute.String("family", string(ref.Family)))
	defer done(&err)

	e, err := s.loadFor(ctx, a, ref, authz.CapabilityVerifyHistory)
	if err != nil {
		return journal.Report{}, err
	}
	events, err := s.store.ListEvents(ctx, e.ID, nil)
	if err != nil {
		return journal.Report{}, err
	}
	report = journal.Verify(e, events)
	if !report.Consistent {
		s.logger.WarnContext(ctx, "history verification failed",
			"entity_id", e.ID,
			"problems", fmt.Sprint(report.Problems),
		)
	}
	return report, nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
