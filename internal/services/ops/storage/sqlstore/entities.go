package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/authz"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage"
)

const entityColumns = `id, family, number, status, client_id, owner_user_id, contact_email,
contact_phone, guest_quote_id, version, created_at, updated_at, details`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (entity.Entity, error) {
	var (
		e            entity.Entity
		family       string
		status       string
		guestQuoteID sql.NullString
		createdAt    int64
		updatedAt    int64
		details      string
	)
	if err := row.Scan(
		&e.ID, &family, &e.Number, &status, &e.ClientID, &e.OwnerUserID, &e.ContactEmail,
		&e.ContactPhone, &guestQuoteID, &e.Version, &createdAt, &updatedAt, &details,
	); err != nil {
		return entity.Entity{}, err
	}
	e.Family = entity.Family(family)
	e.Status = entity.Status(status)
	e.GuestQuoteID = guestQuoteID.String
	e.CreatedAt = fromMillis(createdAt)
	e.UpdatedAt = fromMillis(updatedAt)
	parsed, err := entity.UnmarshalDetails([]byte(details))
	if err != nil {
		return entity.Entity{}, fmt.Errorf("entity %s: %w", e.ID, err)
	}
	e.Details = parsed
	return e, nil
}

// CreateEntity inserts e and its creation event in one transaction.
func (s *Store) CreateEntity(ctx context.Context, e entity.Entity, created event.Event) (entity.Entity, event.Event, error) {
	e, err := storage.NormalizeEntity(e, s.now().UTC())
	if err != nil {
		return entity.Entity{}, event.Event{}, err
	}
	evt, err := storage.PrepareEvent(s.validator, storage.BindCreated(e, created), nil, e.CreatedAt)
	if err != nil {
		return entity.Entity{}, event.Event{}, err
	}
	details, err := entity.MarshalDetails(e.Details)
	if err != nil {
		return entity.Entity{}, event.Event{}, err
	}

	err = s.inTx(ctx, "create entity", func(tx *sql.Tx) error {
		if e.GuestQuoteID != "" {
			var existing string
			err := tx.QueryRowContext(ctx, s.q("SELECT id FROM entities WHERE guest_quote_id = ?"), e.GuestQuoteID).Scan(&existing)
			switch {
			case err == nil:
				return keep(storage.ErrGuestQuoteAttached)
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO entities (`+entityColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			e.ID, string(e.Family), e.Number, string(e.Status), e.ClientID, e.OwnerUserID, e.ContactEmail,
			e.ContactPhone, toNullString(e.GuestQuoteID), e.Version, toMillis(e.CreatedAt), toMillis(e.UpdatedAt), string(details),
		); err != nil {
			return err
		}
		return s.insertEvent(ctx, tx, evt)
	})
	if err != nil {
		return entity.Entity{}, event.Event{}, err
	}
	return e, evt, nil
}

// Mutate applies fn to the current row and appends its event atomically.
func (s *Store) Mutate(ctx context.Context, id string, fn storage.MutateFunc) (entity.Entity, event.Event, error) {
	var (
		updated entity.Entity
		evt     event.Event
	)
	err := s.inTx(ctx, "mutate entity", func(tx *sql.Tx) error {
		current, err := scanEntity(tx.QueryRowContext(ctx, s.q("SELECT "+entityColumns+" FROM entities WHERE id = ?"), id))
		if err != nil {
			return err
		}
		next, change, err := fn(current)
		if err != nil {
			return keep(err)
		}
		next, change = storage.SettleMutation(current, next, change, s.now())
		if next.GuestQuoteID != current.GuestQuoteID {
			return keep(storage.ErrConflict)
		}

		prev, err := s.lastEvent(ctx, tx, id)
		if err != nil {
			return err
		}
		change, err = storage.PrepareEvent(s.validator, change, &prev, next.UpdatedAt)
		if err != nil {
			return keep(err)
		}
		details, err := entity.MarshalDetails(next.Details)
		if err != nil {
			return keep(err)
		}

		res, err := tx.ExecContext(ctx, s.q(`UPDATE entities
SET status = ?, client_id = ?, owner_user_id = ?, contact_email = ?, contact_phone = ?,
    version = ?, updated_at = ?, details = ?
WHERE id = ? AND version = ?`),
			string(next.Status), next.ClientID, next.OwnerUserID, next.ContactEmail, next.ContactPhone,
			next.Version, toMillis(next.UpdatedAt), string(details),
			id, current.Version,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return keep(storage.ErrConflict)
		}
		if err := s.insertEvent(ctx, tx, change); err != nil {
			return err
		}
		updated, evt = next, change
		return nil
	})
	if err != nil {
		return entity.Entity{}, event.Event{}, err
	}
	return updated, evt, nil
}

// GetEntity returns the entity with id.
func (s *Store) GetEntity(ctx context.Context, id string) (entity.Entity, error) {
	return s.getEntity(ctx, "id", id)
}

// GetEntityByNumber returns the entity with the business number.
func (s *Store) GetEntityByNumber(ctx context.Context, number string) (entity.Entity, error) {
	return s.getEntity(ctx, "number", number)
}

// GetEntityByGuestQuoteID returns the quote reconciled from guestQuoteID.
func (s *Store) GetEntityByGuestQuoteID(ctx context.Context, guestQuoteID string) (entity.Entity, error) {
	return s.getEntity(ctx, "guest_quote_id", guestQuoteID)
}

func (s *Store) getEntity(ctx context.Context, column, value string) (entity.Entity, error) {
	if err := ctx.Err(); err != nil {
		return entity.Entity{}, err
	}
	e, err := scanEntity(s.db.QueryRowContext(ctx, s.q("SELECT "+entityColumns+" FROM entities WHERE "+column+" = ?"), value))
	if err != nil {
		return entity.Entity{}, s.mapError("get entity", err)
	}
	return e, nil
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

	conditions := []string{"family = ?"}
	params := []any{string(q.Family)}
	if q.Scope.Kind == authz.ScopeTenant {
		conditions = append(conditions, "client_id = ?")
		params = append(params, q.Scope.ClientID)
	}
	if q.Status != "" {
		conditions = append(conditions, "status = ?")
		params = append(params, string(q.Status))
	}
	if after != nil {
		conditions = append(conditions, "(created_at < ? OR (created_at = ? AND id < ?))")
		params = append(params, after.CreatedAt, after.CreatedAt, after.ID)
	}
	params = append(params, size+1)

	rows, err := s.db.QueryContext(ctx, s.q("SELECT "+entityColumns+" FROM entities WHERE "+
		strings.Join(conditions, " AND ")+" ORDER BY created_at DESC, id DESC LIMIT ?"), params...)
	if err != nil {
		return storage.EntityPage{}, s.mapError("list entities", err)
	}
	entities, err := collectEntities(rows)
	if err != nil {
		return storage.EntityPage{}, s.mapError("list entities", err)
	}

	page := storage.EntityPage{Entities: entities}
	if len(entities) > size {
		page.Entities = entities[:size]
		token, err := storage.NextPageToken(q, page.Entities[size-1])
		if err != nil {
			return storage.EntityPage{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

// ListUnownedByContact returns unowned entities matching email or phone,
// oldest first.
func (s *Store) ListUnownedByContact(ctx context.Context, q storage.ContactQuery) ([]entity.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		matches []string
		params  []any
	)
	if email := actor.NormalizeEmail(q.Email); email != "" {
		matches = append(matches, "lower(contact_email) = ?")
		params = append(params, email)
	}
	if phone := actor.NormalizePhone(q.Phone); phone != "" {
		matches = append(matches, "contact_phone = ?")
		params = append(params, phone)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, s.q("SELECT "+entityColumns+" FROM entities WHERE owner_user_id = '' AND ("+
		strings.Join(matches, " OR ")+") ORDER BY created_at, id"), params...)
	if err != nil {
		return nil, s.mapError("list unowned entities", err)
	}
	entities, err := collectEntities(rows)
	if err != nil {
		return nil, s.mapError("list unowned entities", err)
	}
	return entities, nil
}

func collectEntities(rows *sql.Rows) ([]entity.Entity, error) {
	defer rows.Close()
	var out []entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
