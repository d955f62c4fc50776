package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage/filter"
)

const eventColumns = `id, entity_id, family, seq, event_type, old_status, new_status, actor_id,
actor_role, metadata, notes, created_at, hash, prev_hash`

func (s *Store) insertEvent(ctx context.Context, tx *sql.Tx, evt event.Event) error {
	metadata := evt.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return keep(fmt.Errorf("marshal metadata: %w", err))
	}
	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO entity_events (`+eventColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		evt.ID, evt.EntityID, string(evt.Family), evt.Seq, string(evt.Type), string(evt.OldStatus), string(evt.NewStatus),
		evt.ActorID, evt.ActorRole, string(encoded), evt.Notes, toMillis(evt.CreatedAt), evt.Hash, evt.PrevHash,
	)
	return err
}

// lastEvent returns the seq and hash of the entity's latest event.
func (s *Store) lastEvent(ctx context.Context, tx *sql.Tx, entityID string) (event.Event, error) {
	var prev event.Event
	err := tx.QueryRowContext(ctx, s.q("SELECT seq, hash FROM entity_events WHERE entity_id = ? ORDER BY seq DESC LIMIT 1"), entityID).
		Scan(&prev.Seq, &prev.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Event{}, keep(fmt.Errorf("entity %s has no creation event", entityID))
	}
	return prev, err
}

func scanEvent(row rowScanner) (event.Event, error) {
	var (
		evt       event.Event
		family    string
		eventType string
		oldStatus string
		newStatus string
		metadata  string
		createdAt int64
	)
	if err := row.Scan(
		&evt.ID, &evt.EntityID, &family, &evt.Seq, &eventType, &oldStatus, &newStatus, &evt.ActorID,
		&evt.ActorRole, &metadata, &evt.Notes, &createdAt, &evt.Hash, &evt.PrevHash,
	); err != nil {
		return event.Event{}, err
	}
	evt.Family = entity.Family(family)
	evt.Type = event.Type(eventType)
	evt.OldStatus = entity.Status(oldStatus)
	evt.NewStatus = entity.Status(newStatus)
	evt.CreatedAt = fromMillis(createdAt)
	evt.Metadata = map[string]string{}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &evt.Metadata); err != nil {
			return event.Event{}, fmt.Errorf("event %s metadata: %w", evt.ID, err)
		}
	}
	return evt, nil
}

// AppendEvent chains evt after the entity's latest event.
func (s *Store) AppendEvent(ctx context.Context, evt event.Event) (event.Event, error) {
	var appended event.Event
	err := s.inTx(ctx, "append event", func(tx *sql.Tx) error {
		var family string
		if err := tx.QueryRowContext(ctx, s.q("SELECT family FROM entities WHERE id = ?"), evt.EntityID).Scan(&family); err != nil {
			return err
		}
		evt.Family = entity.Family(family)
		prev, err := s.lastEvent(ctx, tx, evt.EntityID)
		if err != nil {
			return err
		}
		prepared, err := storage.PrepareEvent(s.validator, evt, &prev, s.now().UTC())
		if err != nil {
			return keep(err)
		}
		if err := s.insertEvent(ctx, tx, prepared); err != nil {
			return err
		}
		appended = prepared
		return nil
	})
	if err != nil {
		return event.Event{}, err
	}
	return appended, nil
}

// ListEvents returns the entity's events in seq order, narrowed by f.
func (s *Store) ListEvents(ctx context.Context, entityID string, f *filter.Filter) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var exists int
	if err := s.db.QueryRowContext(ctx, s.q("SELECT 1 FROM entities WHERE id = ?"), entityID).Scan(&exists); err != nil {
		return nil, s.mapError("list events", err)
	}

	query := "SELECT " + eventColumns + " FROM entity_events WHERE entity_id = ?"
	params := []any{entityID}
	if cond := f.SQL(); cond.Clause != "" {
		query += " AND " + cond.Clause
		params = append(params, cond.Params...)
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, s.q(query), params...)
	if err != nil {
		return nil, s.mapError("list events", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, s.mapError("list events", err)
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, s.mapError("list events", err)
	}
	return out, nil
}
