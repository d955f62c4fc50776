package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/freightdesk/internal/services/ops/domain/encoding"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
)

// Type is a dotted "<family>.<kind>" event name.
type Type string

// Kind is the family-independent part of an event type.
type Kind string

const (
	KindCreated            Kind = "created"
	KindStatusChanged      Kind = "status_changed"
	KindCanceled           Kind = "canceled"
	KindAttachedToAccount  Kind = "attached_to_account"
	KindCostUpdated        Kind = "cost_updated"
	KindDocumentUploaded   Kind = "document_uploaded"
	KindAddressChanged     Kind = "address_changed"
	KindScheduleChanged    Kind = "schedule_changed"
	KindTrackingPointAdded Kind = "tracking_point_added"
	KindNoteAdded          Kind = "note_added"
)

// TypeFor joins a family and kind into an event type.
func TypeFor(f entity.Family, k Kind) Type {
	return Type(string(f) + "." + string(k))
}

// Family returns the family prefix of t.
func (t Type) Family() entity.Family {
	family, _, _ := strings.Cut(string(t), ".")
	return entity.Family(family)
}

// Kind returns the kind suffix of t.
func (t Type) Kind() Kind {
	_, kind, _ := strings.Cut(string(t), ".")
	return Kind(kind)
}

// Event is one immutable audit log entry.
type Event struct {
	ID        string
	EntityID  string
	Family    entity.Family
	Seq       int64
	Type      Type
	OldStatus entity.Status
	NewStatus entity.Status
	ActorID   string
	ActorRole string
	Metadata  map[string]string
	Notes     string
	CreatedAt time.Time
	Hash      string
	PrevHash  string
}

// StatusBearing reports whether the event records a status value.
func (e Event) StatusBearing() bool {
	return e.NewStatus != ""
}

type hashInput struct {
	EntityID  string            `json:"entity_id"`
	Family    string            `json:"family"`
	Seq       int64             `json:"seq"`
	Type      string            `json:"type"`
	OldStatus string            `json:"old_status"`
	NewStatus string            `json:"new_status"`
	ActorID   string            `json:"actor_id"`
	ActorRole string            `json:"actor_role"`
	Metadata  map[string]string `json:"metadata"`
	Notes     string            `json:"notes"`
	CreatedAt int64             `json:"created_at"`
	PrevHash  string            `json:"prev_hash"`
}

// ComputeHash returns the chain hash of e. The hash covers every field
// except ID and Hash itself, with timestamps at millisecond precision.
func ComputeHash(e Event) (string, error) {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	hash, err := encoding.ContentHash(hashInput{
		EntityID:  e.EntityID,
		Family:    string(e.Family),
		Seq:       e.Seq,
		Type:      string(e.Type),
		OldStatus: string(e.OldStatus),
		NewStatus: string(e.NewStatus),
		ActorID:   e.ActorID,
		ActorRole: e.ActorRole,
		Metadata:  metadata,
		Notes:     e.Notes,
		CreatedAt: e.CreatedAt.UTC().UnixMilli(),
		PrevHash:  e.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("hash event: %w", err)
	}
	return hash, nil
}

// Chain stamps seq, prev hash and hash onto e as the successor of prev.
// A zero prev starts a new chain at seq 1.
func Chain(e Event, prev *Event) (Event, error) {
	e.Seq = 1
	e.PrevHash = ""
	if prev != nil {
		e.Seq = prev.Seq + 1
		e.PrevHash = prev.Hash
	}
	e.CreatedAt = e.CreatedAt.UTC().Truncate(time.Millisecond)
	hash, err := ComputeHash(e)
	if err != nil {
		return Event{}, err
	}
	e.Hash = hash
	return e, nil
}
