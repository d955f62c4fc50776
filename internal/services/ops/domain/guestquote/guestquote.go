// Package guestquote keeps price quotes computed for anonymous visitors on
// the client device until the visitor signs in, and defines the report the
// server returns when those quotes are reconciled into an account.
package guestquote

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
)

// TTL is how long a guest quote stays valid after creation.
const TTL = 7 * 24 * time.Hour

// Input is what the visitor asked to be priced.
type Input struct {
	Origin       entity.Place `json:"origin"`
	Destination  entity.Place `json:"destination"`
	Cargo        entity.Cargo `json:"cargo"`
	ContactEmail string       `json:"contact_email,omitempty"`
	ContactPhone string       `json:"contact_phone,omitempty"`
}

// Result is the frozen pricing shown to the visitor.
type Result struct {
	Cost                  entity.CostBreakdown `json:"cost"`
	EstimatedDeliveryDays int                  `json:"estimated_delivery_days,omitempty"`
}

// GuestQuote is one locally stored quote.
type GuestQuote struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Input     *Input    `json:"input"`
	Result    *Result   `json:"result"`
}

// Expired reports whether q is past its expiry at now. The expiry never
// extends beyond CreatedAt plus TTL, whatever ExpiresAt claims.
func (q GuestQuote) Expired(now time.Time) bool {
	deadline := q.CreatedAt.Add(TTL)
	if !q.ExpiresAt.IsZero() && q.ExpiresAt.Before(deadline) {
		deadline = q.ExpiresAt
	}
	return !now.Before(deadline)
}

// CanonicalID returns the quote id in lower-case hyphenated form, or "" when
// the id is not a UUID. Braced and urn:uuid: spellings collapse to the same
// value.
func (q GuestQuote) CanonicalID() string {
	parsed, err := uuid.Parse(strings.TrimSpace(q.ID))
	if err != nil {
		return ""
	}
	return parsed.String()
}

// Validate checks the structure of a quote received from a client.
func (q GuestQuote) Validate() error {
	if _, err := uuid.Parse(strings.TrimSpace(q.ID)); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if q.CreatedAt.IsZero() || q.ExpiresAt.IsZero() {
		return errors.New("timestamps are required")
	}
	if q.ExpiresAt.Before(q.CreatedAt) || q.ExpiresAt.After(q.CreatedAt.Add(TTL)) {
		return errors.New("expiry must fall within seven days of creation")
	}
	if q.Input == nil || q.Result == nil {
		return errors.New("input and result are required")
	}
	details := entity.Details{Quote: &entity.QuoteDetails{
		Origin:      q.Input.Origin,
		Destination: q.Input.Destination,
		Cargo:       q.Input.Cargo,
		Cost:        q.Result.Cost,
	}}
	if err := details.Validate(entity.FamilyQuote); err != nil {
		return err
	}
	if q.Result.Cost.Total.Amount <= 0 {
		return errors.New("total must be positive")
	}
	return nil
}

// OutcomeStatus is the per-quote reconciliation result.
type OutcomeStatus string

const (
	OutcomeAttached OutcomeStatus = "attached"
	OutcomeSkipped  OutcomeStatus = "skipped"
)

// Outcome reports what happened to one submitted quote.
type Outcome struct {
	GuestQuoteID string        `json:"guest_quote_id"`
	Status       OutcomeStatus `json:"status"`
	EntityID     string        `json:"entity_id,omitempty"`
	Number       string        `json:"number,omitempty"`
	Code         string        `json:"code,omitempty"`
	Retryable    bool          `json:"retryable,omitempty"`
}

// Report is the reconciliation result for a batch.
type Report struct {
	Outcomes []Outcome `json:"outcomes"`
}

// Attached returns the attached outcomes.
func (r Report) Attached() []Outcome {
	return r.filter(OutcomeAttached)
}

// Skipped returns the skipped outcomes.
func (r Report) Skipped() []Outcome {
	return r.filter(OutcomeSkipped)
}

func (r Report) filter(status OutcomeStatus) []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out
}
