// Package storage defines the persistence contracts of the operations
// service. Backends live in subpackages.
package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
	"github.com/louisbranch/freightdesk/internal/platform/id"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/authz"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage/cursor"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage/filter"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")
	// ErrConflict indicates a concurrent writer won the race for a record.
	ErrConflict = apperrors.New(apperrors.CodeConflict, "record was modified concurrently")
	// ErrStaleVersion indicates the caller's expected version is out of date.
	ErrStaleVersion = apperrors.New(apperrors.CodeStaleVersion, "record version is out of date")
	// ErrGuestQuoteAttached indicates a guest quote id is already bound to a quote.
	ErrGuestQuoteAttached = apperrors.New(apperrors.CodeGuestQuoteAlreadyAttached, "guest quote already attached")
)

// DefaultPageSize is used when a list query does not set one.
const DefaultPageSize = 50

// MaxPageSize caps list queries.
const MaxPageSize = 200

// EventValidator checks and normalizes an event before it is written.
type EventValidator interface {
	ValidateForAppend(evt event.Event) (event.Event, error)
}

// MutateFunc receives the current entity inside the write transaction and
// returns the updated entity plus the event describing the change. Returning
// an error aborts the transaction untouched.
type MutateFunc func(current entity.Entity) (entity.Entity, event.Event, error)

// ListQuery selects a page of entities of one family inside a scope.
type ListQuery struct {
	Family    entity.Family
	Scope     authz.Scope
	Status    entity.Status
	PageSize  int
	PageToken string
}

// EntityPage is one page of a list query.
type EntityPage struct {
	Entities      []entity.Entity
	NextPageToken string
}

// ContactQuery selects unowned entities by contact details. Empty fields
// never match.
type ContactQuery struct {
	Email string
	Phone string
}

// EntityStore persists entities together with their audit history.
type EntityStore interface {
	// CreateEntity inserts e and its creation event atomically. The event
	// receives seq 1.
	CreateEntity(ctx context.Context, e entity.Entity, created event.Event) (entity.Entity, event.Event, error)
	// Mutate loads an entity, applies fn and writes the result plus the
	// returned event in one transaction. The write is guarded by the loaded
	// version; losing a race returns ErrConflict.
	Mutate(ctx context.Context, id string, fn MutateFunc) (entity.Entity, event.Event, error)
	GetEntity(ctx context.Context, id string) (entity.Entity, error)
	GetEntityByNumber(ctx context.Context, number string) (entity.Entity, error)
	GetEntityByGuestQuoteID(ctx context.Context, guestQuoteID string) (entity.Entity, error)
	ListEntities(ctx context.Context, query ListQuery) (EntityPage, error)
	ListUnownedByContact(ctx context.Context, query ContactQuery) ([]entity.Entity, error)
}

// EventStore reads and appends audit events.
type EventStore interface {
	// AppendEvent chains evt after the entity's latest event. It does not
	// touch the entity row.
	AppendEvent(ctx context.Context, evt event.Event) (event.Event, error)
	// ListEvents returns the entity's events in seq order, narrowed by f.
	ListEvents(ctx context.Context, entityID string, f *filter.Filter) ([]event.Event, error)
}

// CounterStore hands out per-bucket sequence values.
type CounterStore interface {
	NextSequence(ctx context.Context, bucket string) (int64, error)
}

// ClientStore reads and writes tenants.
type ClientStore interface {
	PutClient(ctx context.Context, c entity.Client) error
	GetClient(ctx context.Context, id string) (entity.Client, error)
}

// Store is the full persistence surface.
type Store interface {
	EntityStore
	EventStore
	CounterStore
	ClientStore
	Close() error
}

// NormalizePageSize clamps size into [1, MaxPageSize].
func NormalizePageSize(size int) int {
	switch {
	case size <= 0:
		return DefaultPageSize
	case size > MaxPageSize:
		return MaxPageSize
	default:
		return size
	}
}

// PersistenceError wraps a backend failure as retryable.
func PersistenceError(op string, err error) error {
	return apperrors.Wrap(apperrors.CodePersistence, op+" failed", err)
}

// PrepareEvent stamps identity and timestamps onto evt, validates it and
// chains it after prev (nil for the first event of an entity). Callers hold
// the append lock, so now is the commit time. An event never predates prev.
func PrepareEvent(v EventValidator, evt event.Event, prev *event.Event, now time.Time) (event.Event, error) {
	if v == nil {
		return event.Event{}, fmt.Errorf("event validator is required")
	}
	if strings.TrimSpace(evt.ID) == "" {
		eventID, err := id.NewID()
		if err != nil {
			return event.Event{}, err
		}
		evt.ID = eventID
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = now
	}
	if prev != nil && evt.CreatedAt.Before(prev.CreatedAt) {
		evt.CreatedAt = prev.CreatedAt
	}
	validated, err := v.ValidateForAppend(evt)
	if err != nil {
		return event.Event{}, err
	}
	return event.Chain(validated, prev)
}

// ListQueryHash identifies the shape of a list query for cursor checks.
func ListQueryHash(q ListQuery) string {
	return cursor.HashQuery(string(q.Family), strconv.Itoa(int(q.Scope.Kind)), q.Scope.ClientID, string(q.Status))
}

// DecodePageToken validates a page token against q. An empty token yields nil.
func DecodePageToken(q ListQuery) (*cursor.Cursor, error) {
	if q.PageToken == "" {
		return nil, nil
	}
	c, err := cursor.Decode(q.PageToken)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCursorInvalid, "invalid page token", err)
	}
	if err := cursor.Validate(c, ListQueryHash(q)); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCursorInvalid, "invalid page token", err)
	}
	return &c, nil
}

// NextPageToken encodes a token continuing after last.
func NextPageToken(q ListQuery, last entity.Entity) (string, error) {
	return cursor.Encode(cursor.Cursor{
		CreatedAt: last.CreatedAt.UTC().UnixMilli(),
		ID:        last.ID,
		QueryHash: ListQueryHash(q),
	})
}

// NormalizeEntity prepares e for its first write.
func NormalizeEntity(e entity.Entity, now time.Time) (entity.Entity, error) {
	if strings.TrimSpace(e.ID) == "" {
		entityID, err := id.NewID()
		if err != nil {
			return entity.Entity{}, err
		}
		e.ID = entityID
	}
	if !e.Family.Valid() {
		return entity.Entity{}, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("unknown family %q", e.Family))
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Millisecond)
	e.UpdatedAt = e.CreatedAt
	e.Version = 1
	e.Details = e.Details.Clone()
	return e, nil
}

// SettleMutation pins the immutable fields of updated to current, advances
// the version and binds evt to the entity.
func SettleMutation(current, updated entity.Entity, evt event.Event, now time.Time) (entity.Entity, event.Event) {
	updated.ID = current.ID
	updated.Family = current.Family
	updated.Number = current.Number
	updated.CreatedAt = current.CreatedAt
	updated.Version = current.Version + 1
	updated.UpdatedAt = now.UTC().Truncate(time.Millisecond)
	updated.Details = updated.Details.Clone()
	evt.EntityID = current.ID
	evt.Family = current.Family
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = updated.UpdatedAt
	}
	return updated, evt
}

// BindCreated binds the creation event to a freshly normalized entity.
func BindCreated(e entity.Entity, evt event.Event) event.Event {
	evt.EntityID = e.ID
	evt.Family = e.Family
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = e.CreatedAt
	}
	return evt
}

// IsPersistence reports whether err is a retryable backend failure.
func IsPersistence(err error) bool {
	return apperrors.CodeOf(err) == apperrors.CodePersistence
}
