package service

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/tracking"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage"
)

var errTrackingNotFound = apperrors.New(apperrors.CodeNotFound, "tracking number not found")

// Track returns the public view of a shipment by tracking number. Numbers
// are matched exactly; malformed or unknown numbers, other families and
// hidden statuses all read as not found.
func (s *Service) Track(ctx context.Context, number, acceptLanguage string) (view tracking.PublicView, err error) {
	ctx, done := s.operation(ctx, "track", actor.Anonymous())
	defer done(&err)

	number = strings.TrimSpace(number)
	if !tracking.ValidNumber(number) {
		s.metrics.Tracking("invalid")
		return tracking.PublicView{}, errTrackingNotFound
	}
	shipment, err := s.store.GetEntityByNumber(ctx, number)
	if errors.Is(err, storage.ErrNotFound) {
		s.metrics.Tracking("not_found")
		return tracking.PublicView{}, errTrackingNotFound
	}
	if err != nil {
		return tracking.PublicView{}, err
	}
	events, err := s.store.ListEvents(ctx, shipment.ID, nil)
	if err != nil {
		return tracking.PublicView{}, err
	}
	var client *entity.Client
	if shipment.ClientID != "" {
		c, err := s.store.GetClient(ctx, shipment.ClientID)
		switch {
		case err == nil:
			client = &c
		case !errors.Is(err, storage.ErrNotFound):
			return tracking.PublicView{}, err
		}
	}
	view, ok := s.projector.Project(shipment, client, events, s.bundle.Match(acceptLanguage))
	if !ok {
		s.metrics.Tracking("not_found")
		return tracking.PublicView{}, errTrackingNotFound
	}
	s.metrics.Tracking("found")
	return view, nil
}

// PublicRequest is an anonymous pickup or purchase submission.
type PublicRequest struct {
	Family       entity.Family
	ContactEmail string
	ContactPhone string
	Details      entity.Details
}

// SubmitPublic records an anonymous request. It has no tenant or owner until
// someone with the same email or phone claims it.
func (s *Service) SubmitPublic(ctx context.Context, in PublicRequest) (e entity.Entity, err error) {
	ctx, done := s.operation(ctx, "submit_public", actor.Anonymous(), attribute.String("family", string(in.Family)))
	defer done(&err)

	if in.Family != entity.FamilyPickup && in.Family != entity.FamilyPurchase {
		return entity.Entity{}, validation("public requests are limited to pickups and purchases")
	}
	email := actor.NormalizeEmail(in.ContactEmail)
	phone := actor.NormalizePhone(in.ContactPhone)
	if email == "" && phone == "" {
		return entity.Entity{}, validation("contact email or phone is required")
	}
	if email != "" && !strings.Contains(email, "@") {
		return entity.Entity{}, validation("contact email is malformed")
	}
	return s.open(ctx, actor.System(), entity.Entity{
		Family:       in.Family,
		ContactEmail: email,
		ContactPhone: phone,
		Details:      in.Details,
	}, map[string]string{event.MetaOrigin: event.OriginPublicForm})
}
