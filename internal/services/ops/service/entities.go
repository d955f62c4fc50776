package service

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
	"github.com/louisbranch/freightdesk/internal/platform/id"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/authz"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/workflow"
	"github.com/louisbranch/freightdesk/internal/services/ops/journal"
	"github.com/louisbranch/freightdesk/internal/services/ops/metrics"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage"
)

// CreateInput describes a new record.
type CreateInput struct {
	Family       entity.Family
	ClientID     string
	ContactEmail string
	ContactPhone string
	Details      entity.Details
}

// Create opens a record in its family's initial status.
func (s *Service) Create(ctx context.Context, a actor.Actor, in CreateInput) (e entity.Entity, err error) {
	ctx, done := s.operation(ctx, "create", a, attribute.String("family", string(in.Family)))
	defer done(&err)

	if !in.Family.Valid() {
		return entity.Entity{}, apperrors.New(apperrors.CodeNotFound, "unknown family")
	}
	clientID := strings.TrimSpace(in.ClientID)
	if a.Role.TenantScoped() && clientID == "" {
		clientID = a.ClientID
	}
	if err := authz.CanCreate(a, clientID).Err(); err != nil {
		return entity.Entity{}, err
	}
	if clientID == "" {
		return entity.Entity{}, validation("client_id is required")
	}
	owner := ""
	if a.Role.TenantScoped() {
		owner = a.UserID
	}
	return s.open(ctx, a, entity.Entity{
		Family:       in.Family,
		ClientID:     clientID,
		OwnerUserID:  owner,
		ContactEmail: actor.NormalizeEmail(in.ContactEmail),
		ContactPhone: actor.NormalizePhone(in.ContactPhone),
		Details:      in.Details,
	}, map[string]string{event.MetaOrigin: event.OriginDirect})
}

// open numbers e, stamps its initial status and writes it with its
// creation event. The caller has already authorized the write.
func (s *Service) open(ctx context.Context, a actor.Actor, e entity.Entity, metadata map[string]string) (entity.Entity, error) {
	if err := e.Details.Validate(e.Family); err != nil {
		return entity.Entity{}, wrapValidation(err)
	}
	status, createdType, err := s.workflow.Creation(e.Family)
	if err != nil {
		return entity.Entity{}, err
	}
	now := s.now().UTC()
	number, err := s.numbers.Next(ctx, e.Family.NumberPrefix(), now)
	if err != nil {
		return entity.Entity{}, err
	}
	entityID, err := id.NewID()
	if err != nil {
		return entity.Entity{}, apperrors.Wrap(apperrors.CodeInternal, "generate id", err)
	}
	e.ID = entityID
	e.Number = number
	e.Status = status
	e.CreatedAt = now

	created := actorEvent(a, createdType)
	created.NewStatus = status
	created.CreatedAt = now
	created.Metadata = map[string]string{event.MetaNumber: number}
	for k, v := range metadata {
		created.Metadata[k] = v
	}

	var (
		stored entity.Entity
		evt    event.Event
	)
	err = s.journal.Retry(ctx, "create "+string(e.Family), func(ctx context.Context) error {
		var err error
		stored, evt, err = s.store.CreateEntity(ctx, e, created)
		return err
	})
	if err != nil {
		return entity.Entity{}, journal.ClassifyEventError(err)
	}
	s.recorded(ctx, stored, evt)
	return stored, nil
}

// Get returns one record the actor may read.
func (s *Service) Get(ctx context.Context, a actor.Actor, ref EntityRef) (e entity.Entity, err error) {
	ctx, done := s.operation(ctx, "get", a, attribute.String("family", string(ref.Family)))
	defer done(&err)
	return s.loadFor(ctx, a, ref, authz.CapabilityReadEntities)
}

// ListInput selects a page of records.
type ListInput struct {
	Family    entity.Family
	Status    entity.Status
	PageSize  int
	PageToken string
}

// List returns the records of a family inside the actor's scope, newest first.
func (s *Service) List(ctx context.Context, a actor.Actor, in ListInput) (page storage.EntityPage, err error) {
	ctx, done := s.operation(ctx, "list", a, attribute.String("family", string(in.Family)))
	defer done(&err)

	if !in.Family.Valid() {
		return storage.EntityPage{}, apperrors.New(apperrors.CodeNotFound, "unknown family")
	}
	if err := authz.CanUse(a, authz.CapabilityReadEntities).Err(); err != nil {
		return storage.EntityPage{}, err
	}
	if in.Status != "" && !s.workflow.Known(in.Family, in.Status) {
		return storage.EntityPage{}, validation("unknown %s status %q", in.Family, in.Status)
	}
	return s.store.ListEntities(ctx, storage.ListQuery{
		Family:    in.Family,
		Scope:     authz.ScopeFor(a),
		Status:    in.Status,
		PageSize:  in.PageSize,
		PageToken: in.PageToken,
	})
}

// TransitionInput asks to move a record to another status. From is the
// status the caller acted on; when empty it is read before the write.
type TransitionInput struct {
	Ref           EntityRef
	From          entity.Status
	To            entity.Status
	Notes         string
	Metadata      map[string]string
	ExpectVersion int64
}

// Transition validates and applies a status change. The write only lands
// while the record is still in the status the caller acted on; a record
// moved by a concurrent writer is rejected as STATUS_CHANGED and never
// re-decided against its new status.
func (s *Service) Transition(ctx context.Context, a actor.Actor, in TransitionInput) (e entity.Entity, evt event.Event, err error) {
	ctx, done := s.operation(ctx, "transition", a,
		attribute.String("family", string(in.Ref.Family)),
		attribute.String("to", string(in.To)),
	)
	defer done(&err)

	to := normalizeStatus(in.To)
	from := normalizeStatus(in.From)
	if from == "" {
		observed, err := s.loadFor(ctx, a, in.Ref, authz.CapabilityTransition)
		if err != nil {
			return entity.Entity{}, event.Event{}, err
		}
		from = observed.Status
	} else if err := authz.CanUse(a, authz.CapabilityTransition).Err(); err != nil {
		return entity.Entity{}, event.Event{}, err
	}
	return s.mutate(ctx, in.Ref, "transition", func(current entity.Entity) (entity.Entity, event.Event, error) {
		if err := authz.CanMutate(a, current, authz.CapabilityTransition).Err(); err != nil {
			return entity.Entity{}, event.Event{}, err
		}
		if in.ExpectVersion > 0 && in.ExpectVersion != current.Version {
			return entity.Entity{}, event.Event{}, storage.ErrStaleVersion
		}
		if current.Status != from {
			s.metrics.Transition(string(current.Family), metrics.OutcomeRejected, string(apperrors.CodeStatusChanged))
			return entity.Entity{}, event.Event{}, apperrors.WithMetadata(apperrors.CodeStatusChanged,
				"record status changed concurrently",
				map[string]string{"expected": string(from), "current": string(current.Status)})
		}
		decision := s.workflow.Validate(workflow.Request{
			Family: current.Family,
			From:   current.Status,
			To:     to,
			Role:   a.Role,
			Notes:  in.Notes,
		})
		if !decision.Allowed {
			s.metrics.Transition(string(current.Family), metrics.OutcomeRejected, string(decision.Code))
			return entity.Entity{}, event.Event{}, decision.Err()
		}
		s.metrics.Transition(string(current.Family), metrics.OutcomeAllowed, "")

		updated := current
		updated.Status = to
		stampMilestones(&updated, s.now().UTC())

		evt := actorEvent(a, decision.EventType)
		evt.OldStatus = current.Status
		evt.NewStatus = to
		evt.Notes = in.Notes
		evt.Metadata = in.Metadata
		return updated, evt, nil
	})
}

func normalizeStatus(status entity.Status) entity.Status {
	return entity.Status(strings.ToUpper(strings.TrimSpace(string(status))))
}

// stampMilestones records the actual pickup and delivery times the first
// time a shipment reaches those statuses.
func stampMilestones(e *entity.Entity, now time.Time) {
	d := e.Details.Shipment
	if e.Family != entity.FamilyShipment || d == nil {
		return
	}
	switch e.Status {
	case "PICKED_UP":
		if d.ActualPickup == nil {
			d.ActualPickup = &now
		}
	case "DELIVERED":
		if d.ActualDelivery == nil {
			d.ActualDelivery = &now
		}
	}
}
