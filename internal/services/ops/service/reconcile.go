package service

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/authz"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/guestquote"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage"
)

// MaxReconcileBatch caps the quotes accepted in one reconcile call.
const MaxReconcileBatch = 50

// Reconcile attaches guest quotes computed before sign-in to accountID. Each
// candidate gets its own outcome; one failure never aborts the batch.
// Repeating a call is safe: already attached quotes report the existing
// record.
func (s *Service) Reconcile(ctx context.Context, a actor.Actor, accountID string, candidates []guestquote.GuestQuote) (report guestquote.Report, err error) {
	ctx, done := s.operation(ctx, "reconcile", a, attribute.Int("candidates", len(candidates)))
	defer done(&err)

	accountID = strings.TrimSpace(accountID)
	if err := authorizeReconcile(a, accountID); err != nil {
		return guestquote.Report{}, err
	}
	if len(candidates) > MaxReconcileBatch {
		return guestquote.Report{}, validation("at most %d quotes may be reconciled at once", MaxReconcileBatch)
	}

	report.Outcomes = make([]guestquote.Outcome, 0, len(candidates))
	for _, candidate := range candidates {
		outcome := s.reconcileOne(ctx, a, accountID, candidate)
		s.metrics.Reconcile(string(outcome.Status), outcome.Code)
		report.Outcomes = append(report.Outcomes, outcome)
	}
	s.logger.InfoContext(ctx, "guest quotes reconciled",
		"account_id", accountID,
		"attached", len(report.Attached()),
		"skipped", len(report.Skipped()),
	)
	return report, nil
}

func authorizeReconcile(a actor.Actor, accountID string) error {
	if !a.Authenticated() {
		return authz.CanReconcile(a, accountID).Err()
	}
	if accountID == "" {
		return validation("account_id is required")
	}
	return authz.CanReconcile(a, accountID).Err()
}

func (s *Service) reconcileOne(ctx context.Context, a actor.Actor, accountID string, q guestquote.GuestQuote) guestquote.Outcome {
	outcome := guestquote.Outcome{GuestQuoteID: strings.TrimSpace(q.ID), Status: guestquote.OutcomeSkipped}
	if err := q.Validate(); err != nil {
		outcome.Code = string(apperrors.CodeGuestQuoteInvalid)
		return outcome
	}
	q.ID = q.CanonicalID()
	outcome.GuestQuoteID = q.ID
	if q.Expired(s.now()) {
		outcome.Code = string(apperrors.CodeGuestQuoteNotFound)
		return outcome
	}
	if existing, err := s.store.GetEntityByGuestQuoteID(ctx, q.ID); err == nil {
		return alreadyAttached(outcome, existing, accountID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return failed(outcome, err)
	}

	clientID := ""
	if a.Role.TenantScoped() {
		clientID = a.ClientID
	}
	if err := authz.CanCreate(a, clientID).Err(); err != nil {
		return failed(outcome, err)
	}
	created, err := s.open(ctx, a, entity.Entity{
		Family:       entity.FamilyQuote,
		ClientID:     clientID,
		OwnerUserID:  accountID,
		ContactEmail: actor.NormalizeEmail(q.Input.ContactEmail),
		ContactPhone: actor.NormalizePhone(q.Input.ContactPhone),
		GuestQuoteID: q.ID,
		Details: entity.Details{Quote: &entity.QuoteDetails{
			Origin:                q.Input.Origin,
			Destination:           q.Input.Destination,
			Cargo:                 q.Input.Cargo,
			Cost:                  q.Result.Cost,
			EstimatedDeliveryDays: q.Result.EstimatedDeliveryDays,
		}},
	}, map[string]string{
		event.MetaOrigin:        event.OriginGuestQuote,
		event.MetaGuestQuoteID:  q.ID,
		event.MetaAccountID:     accountID,
		event.MetaMatchStrategy: event.MatchGuestQuote,
	})
	if errors.Is(err, storage.ErrGuestQuoteAttached) {
		existing, lookupErr := s.store.GetEntityByGuestQuoteID(ctx, q.ID)
		if lookupErr != nil {
			return failed(outcome, lookupErr)
		}
		return alreadyAttached(outcome, existing, accountID)
	}
	if err != nil {
		return failed(outcome, err)
	}
	outcome.Status = guestquote.OutcomeAttached
	outcome.EntityID = created.ID
	outcome.Number = created.Number
	return outcome
}

// alreadyAttached reports a quote that is already on file. The record is
// only identified when it belongs to accountID.
func alreadyAttached(outcome guestquote.Outcome, existing entity.Entity, accountID string) guestquote.Outcome {
	outcome.Code = string(apperrors.CodeGuestQuoteAlreadyAttached)
	if existing.OwnerUserID == accountID {
		outcome.EntityID = existing.ID
		outcome.Number = existing.Number
	}
	return outcome
}

func failed(outcome guestquote.Outcome, err error) guestquote.Outcome {
	code := apperrors.CodeOf(err)
	outcome.Code = string(code)
	outcome.Retryable = code == apperrors.CodePersistence
	return outcome
}

// ClaimResult reports one record considered for a claim. Records that were
// not attached carry only their family and the rejection code.
type ClaimResult struct {
	EntityID      string        `json:"entity_id,omitempty"`
	Family        entity.Family `json:"family"`
	Number        string        `json:"number,omitempty"`
	Attached      bool          `json:"attached"`
	MatchStrategy string        `json:"match_strategy,omitempty"`
	Code          string        `json:"code,omitempty"`
}

// Claim attaches unowned records whose contact email or phone matches the
// actor's to the actor's account and tenant.
func (s *Service) Claim(ctx context.Context, a actor.Actor) (results []ClaimResult, err error) {
	ctx, done := s.operation(ctx, "claim", a)
	defer done(&err)

	if err := authz.CanUse(a, authz.CapabilityClaim).Err(); err != nil {
		return nil, err
	}
	email := actor.NormalizeEmail(a.Email)
	phone := actor.NormalizePhone(a.Phone)
	if email == "" && phone == "" {
		return nil, validation("account has no email or phone to match")
	}
	candidates, err := s.store.ListUnownedByContact(ctx, storage.ContactQuery{Email: email, Phone: phone})
	if err != nil {
		return nil, err
	}
	results = make([]ClaimResult, 0, len(candidates))
	for _, candidate := range candidates {
		result := ClaimResult{Family: candidate.Family}
		if !event.Supports(candidate.Family, event.KindAttachedToAccount) {
			continue
		}
		ref := EntityRef{Family: candidate.Family, ID: candidate.ID}
		_, evt, err := s.mutate(ctx, ref, "claim", func(current entity.Entity) (entity.Entity, event.Event, error) {
			if err := authz.CanClaim(a, current).Err(); err != nil {
				return entity.Entity{}, event.Event{}, err
			}
			strategy := event.MatchPhone
			if email != "" && strings.EqualFold(current.ContactEmail, email) {
				strategy = event.MatchEmail
			} else if phone == "" || current.ContactPhone != phone {
				return entity.Entity{}, event.Event{}, storage.ErrNotFound
			}
			updated := current
			updated.OwnerUserID = a.UserID
			updated.ClientID = a.ClientID
			evt := actorEvent(a, event.TypeFor(current.Family, event.KindAttachedToAccount))
			evt.Metadata = map[string]string{
				event.MetaAccountID:     a.UserID,
				event.MetaMatchStrategy: strategy,
			}
			return updated, evt, nil
		})
		if err != nil {
			result.Code = string(apperrors.CodeOf(err))
		} else {
			result.EntityID = candidate.ID
			result.Number = candidate.Number
			result.Attached = true
			result.MatchStrategy = evt.Metadata[event.MetaMatchStrategy]
		}
		results = append(results, result)
	}
	return results, nil
}
