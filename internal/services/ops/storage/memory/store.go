// Package memory provides an in-process storage backend for tests and
// single-node development runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/authz"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage/filter"
)

// Store keeps every record in maps guarded by one mutex.
type Store struct {
	mu        sync.Mutex
	validator storage.EventValidator
	now       func() time.Time

	entities     map[string]entity.Entity
	byNumber     map[string]string
	byGuestQuote map[string]string
	events       map[string][]event.Event
	counters     map[string]int64
	clients      map[string]entity.Client
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty store validating events with validator.
func New(validator storage.EventValidator, opts ...Option) *Store {
	s := &Store{
		validator:    validator,
		now:          time.Now,
		entities:     make(map[string]entity.Entity),
		byNumber:     make(map[string]string),
		byGuestQuote: make(map[string]string),
		events:       make(map[string][]event.Event),
		counters:     make(map[string]int64),
		clients:      make(map[string]entity.Client),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ storage.Store = (*Store)(nil)

// Close is a no-op.
func (s *Store) Close() error { return nil }

// CreateEntity inserts e and its creation event.
func (s *Store) CreateEntity(ctx context.Context, e entity.Entity, created event.Event) (entity.Entity, event.Event, error) {
	if err := ctx.Err(); err != nil {
		return entity.Entity{}, event.Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := storage.NormalizeEntity(e, s.now().UTC())
	if err != nil {
		return entity.Entity{}, event.Event{}, err
	}
	if _, ok := s.entities[e.ID]; ok {
		return entity.Entity{}, event.Event{}, storage.ErrConflict
	}
	if _, ok := s.byNumber[e.Number]; ok {
		return entity.Entity{}, event.Event{}, storage.ErrConflict
	}
	if e.GuestQuoteID != "" {
		if _, ok := s.byGuestQuote[e.GuestQuoteID]; ok {
			return entity.Entity{}, event.Event{}, storage.ErrGuestQuoteAttached
		}
	}

	evt, err := storage.PrepareEvent(s.validator, storage.BindCreated(e, created), nil, e.CreatedAt)
	if err != nil {
		return entity.Entity{}, event.Event{}, err
	}

	s.entities[e.ID] = e
	s.byNumber[e.Number] = e.ID
	if e.GuestQuoteID != "" {
		s.byGuestQuote[e.GuestQuoteID] = e.ID
	}
	s.events[e.ID] = []event.Event{cloneEvent(evt)}
	return cloneEntity(e), evt, nil
}

// Mutate applies fn to the current entity and appends the returned event.
func (s *Store) Mutate(ctx context.Context, id string, fn storage.MutateFunc) (entity.Entity, event.Event, error) {
	if err := ctx.Err(); err != nil {
		return entity.Entity{}, event.Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entities[id]
	if !ok {
		return entity.Entity{}, event.Event{}, storage.ErrNotFound
	}
	updated, evt, err := fn(cloneEntity(current))
	if err != nil {
		return entity.Entity{}, event.Event{}, err
	}
	updated, evt = storage.SettleMutation(current, updated, evt, s.now())
	if updated.GuestQuoteID != current.GuestQuoteID {
		return entity.Entity{}, event.Event{}, storage.ErrConflict
	}

	history := s.events[id]
	prev := history[len(history)-1]
	evt, err = storage.PrepareEvent(s.validator, evt, &prev, updated.UpdatedAt)
	if err != nil {
		return entity.Entity{}, event.Event{}, err
	}

	s.entities[id] = updated
	s.events[id] = append(history, cloneEvent(evt))
	return cloneEntity(updated), evt, nil
}

// AppendEvent chains evt after the entity's latest event.
func (s *Store) AppendEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[evt.EntityID]
	if !ok {
		return event.Event{}, storage.ErrNotFound
	}
	evt.Family = e.Family
	history := s.events[e.ID]
	prev := history[len(history)-1]
	evt, err := storage.PrepareEvent(s.validator, evt, &prev, s.now().UTC())
	if err != nil {
		return event.Event{}, err
	}
	s.events[e.ID] = append(history, cloneEvent(evt))
	return evt, nil
}

// GetEntity returns the entity with id.
func (s *Store) GetEntity(ctx context.Context, id string) (entity.Entity, error) {
	if err := ctx.Err(); err != nil {
		return entity.Entity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return entity.Entity{}, storage.ErrNotFound
	}
	return cloneEntity(e), nil
}

// GetEntityByNumber returns the entity with the business number.
func (s *Store) GetEntityByNumber(ctx context.Context, number string) (entity.Entity, error) {
	return s.getBy(ctx, func() (string, bool) {
		id, ok := s.byNumber[number]
		return id, ok
	})
}

// GetEntityByGuestQuoteID returns the quote reconciled from guestQuoteID.
func (s *Store) GetEntityByGuestQuoteID(ctx context.Context, guestQuoteID string) (entity.Entity, error) {
	return s.getBy(ctx, func() (string, bool) {
		id, ok := s.byGuestQuote[guestQuoteID]
		return id, ok
	})
}

func (s *Store) getBy(ctx context.Context, lookup func() (string, bool)) (entity.Entity, error) {
	if err := ctx.Err(); err != nil {
		return entity.Entity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := lookup()
	if !ok {
		return entity.Entity{}, storage.ErrNotFound
	}
	return cloneEntity(s.entities[id]), nil
}

// ListEntities returns a page of entities newest first.
func (s *Store) ListEntities(ctx context.Context, q storage.ListQuery) (storage.EntityPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.EntityPage{}, err
	}
	after, err := storage.DecodePageToken(q)
	if err != nil {
		return storage.EntityPage{}, err
	}
	if q.Scope.Kind == authz.ScopeNone {
		return storage.EntityPage{}, nil
	}
	size := storage.NormalizePageSize(q.PageSize)

	s.mu.Lock()
	var matched []entity.Entity
	for _, e := range s.entities {
		if e.Family != q.Family || !q.Scope.Matches(e) {
			continue
		}
		if q.Status != "" && e.Status != q.Status {
			continue
		}
		if after != nil && !before(e, after.CreatedAt, after.ID) {
			continue
		}
		matched = append(matched, cloneEntity(e))
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return before(matched[j], matched[i].CreatedAt.UnixMilli(), matched[i].ID)
	})

	page := storage.EntityPage{Entities: matched}
	if len(matched) > size {
		page.Entities = matched[:size]
		token, err := storage.NextPageToken(q, page.Entities[size-1])
		if err != nil {
			return storage.EntityPage{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// before reports whether e sorts after the (createdAt, id) key in
// newest-first order.
func before(e entity.Entity, createdAt int64, id string) bool {
	ts := e.CreatedAt.UnixMilli()
	return ts < createdAt || (ts == createdAt && e.ID < id)
}

// ListUnownedByContact returns unowned entities matching email or phone.
func (s *Store) ListUnownedByContact(ctx context.Context, q storage.ContactQuery) ([]entity.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	email := actor.NormalizeEmail(q.Email)
	phone := actor.NormalizePhone(q.Phone)
	if email == "" && phone == "" {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entity.Entity
	for _, e := range s.entities {
		if e.Owned() {
			continue
		}
		if (email != "" && strings.EqualFold(e.ContactEmail, email)) || (phone != "" && e.ContactPhone == phone) {
			out = append(out, cloneEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListEvents returns the entity's events in seq order.
func (s *Store) ListEvents(ctx context.Context, entityID string, f *filter.Filter) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[entityID]; !ok {
		return nil, storage.ErrNotFound
	}
	var out []event.Event
	for _, evt := range s.events[entityID] {
		if f.Match(evt) {
			out = append(out, cloneEvent(evt))
		}
	}
	return out, nil
}

// NextSequence increments and returns the bucket's counter.
func (s *Store) NextSequence(ctx context.Context, bucket string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[bucket]++
	return s.counters[bucket], nil
}

// PutClient inserts or replaces a client.
func (s *Store) PutClient(ctx context.Context, c entity.Client) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now().UTC()
	}
	s.clients[c.ID] = c
	return nil
}

// GetClient returns the client with id.
func (s *Store) GetClient(ctx context.Context, id string) (entity.Client, error) {
	if err := ctx.Err(); err != nil {
		return entity.Client{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return entity.Client{}, storage.ErrNotFound
	}
	return c, nil
}

func cloneEntity(e entity.Entity) entity.Entity {
	e.Details = e.Details.Clone()
	return e
}

func cloneEvent(evt event.Event) event.Event {
	if evt.Metadata != nil {
		metadata := make(map[string]string, len(evt.Metadata))
		for k, v := range evt.Metadata {
			metadata[k] = v
		}
		evt.Metadata = metadata
	}
	return evt
}
