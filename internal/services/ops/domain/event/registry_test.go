package event

import (
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry, err := NewDefaultRegistry()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	return registry
}

func TestRegistryRejectsDuplicateType(t *testing.T) {
	registry := NewRegistry()
	def := Definition{Type: "quote.created", Status: StatusCreate}
	if err := registry.Register(def); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(def); !errors.Is(err, ErrTypeAlreadyRegistered) {
		t.Fatalf("expected ErrTypeAlreadyRegistered, got %v", err)
	}
}

func TestRegistryRejectsFamilyMismatchOnRegister(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register(Definition{Type: "quote.created", Family: entity.FamilyShipment})
	if !errors.Is(err, ErrFamilyMismatch) {
		t.Fatalf("expected ErrFamilyMismatch, got %v", err)
	}
}

func TestValidateForAppendUnknownType(t *testing.T) {
	registry := newTestRegistry(t)
	_, err := registry.ValidateForAppend(Event{EntityID: "e1", Type: "pickup.tracking_point_added"})
	if !errors.Is(err, ErrTypeUnknown) {
		t.Fatalf("expected ErrTypeUnknown, got %v", err)
	}
}

func TestValidateForAppendStatusShape(t *testing.T) {
	registry := newTestRegistry(t)
	tests := []struct {
		name    string
		evt     Event
		wantErr error
	}{
		{
			name:    "created requires new status",
			evt:     Event{EntityID: "e1", Type: "quote.created"},
			wantErr: ErrStatusShape,
		},
		{
			name:    "created rejects old status",
			evt:     Event{EntityID: "e1", Type: "quote.created", OldStatus: "PENDING", NewStatus: "QUOTED"},
			wantErr: ErrStatusShape,
		},
		{
			name:    "status change requires both",
			evt:     Event{EntityID: "e1", Type: "shipment.status_changed", NewStatus: "BOOKED"},
			wantErr: ErrStatusShape,
		},
		{
			name:    "status change rejects same status",
			evt:     Event{EntityID: "e1", Type: "shipment.status_changed", OldStatus: "BOOKED", NewStatus: "BOOKED"},
			wantErr: ErrStatusShape,
		},
		{
			name:    "note rejects status",
			evt:     Event{EntityID: "e1", Type: "shipment.note_added", NewStatus: "BOOKED", Notes: "n"},
			wantErr: ErrStatusShape,
		},
		{
			name: "valid status change",
			evt:  Event{EntityID: "e1", Type: "shipment.status_changed", OldStatus: "DRAFT", NewStatus: "BOOKED"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.ValidateForAppend(tt.evt)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateForAppendMetadataShapeIsClosed(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.ValidateForAppend(Event{
		EntityID: "e1",
		Type:     "shipment.attached_to_account",
		Metadata: map[string]string{MetaAccountID: "acct-1"},
	})
	if !errors.Is(err, ErrMetadataMissing) {
		t.Fatalf("expected ErrMetadataMissing, got %v", err)
	}

	_, err = registry.ValidateForAppend(Event{
		EntityID: "e1",
		Type:     "shipment.attached_to_account",
		Metadata: map[string]string{MetaAccountID: "acct-1", MetaMatchStrategy: "email", "extra": "x"},
	})
	if !errors.Is(err, ErrMetadataUndeclared) {
		t.Fatalf("expected ErrMetadataUndeclared, got %v", err)
	}

	_, err = registry.ValidateForAppend(Event{
		EntityID: "e1",
		Type:     "shipment.attached_to_account",
		Metadata: map[string]string{MetaAccountID: "acct-1", MetaMatchStrategy: "fax"},
	})
	if !errors.Is(err, ErrMetadataValue) {
		t.Fatalf("expected ErrMetadataValue, got %v", err)
	}
}

func TestValidateForAppendNormalizes(t *testing.T) {
	registry := newTestRegistry(t)
	out, err := registry.ValidateForAppend(Event{
		EntityID:  "e1",
		Type:      " quote.created ",
		NewStatus: "PENDING",
		Metadata:  map[string]string{" number ": " QUO-20260301-00001 ", MetaGuestQuoteID: " "},
		Notes:     "  first  ",
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if out.Type != "quote.created" {
		t.Fatalf("type = %q", out.Type)
	}
	if out.Family != entity.FamilyQuote {
		t.Fatalf("family = %q, want quote", out.Family)
	}
	if out.Metadata[MetaNumber] != "QUO-20260301-00001" {
		t.Fatalf("number = %q", out.Metadata[MetaNumber])
	}
	if _, ok := out.Metadata[MetaGuestQuoteID]; ok {
		t.Fatal("expected blank optional value to be dropped")
	}
	if out.Notes != "first" {
		t.Fatalf("notes = %q", out.Notes)
	}
}

func TestValidateForAppendNotesRequired(t *testing.T) {
	registry := newTestRegistry(t)
	_, err := registry.ValidateForAppend(Event{
		EntityID:  "e1",
		Type:      "pickup.canceled",
		OldStatus: "REQUESTED",
		NewStatus: "CANCELED",
		Notes:     "   ",
	})
	if !errors.Is(err, ErrNotesRequired) {
		t.Fatalf("expected ErrNotesRequired, got %v", err)
	}
}

func TestValidateForAppendFamilyMismatch(t *testing.T) {
	registry := newTestRegistry(t)
	_, err := registry.ValidateForAppend(Event{
		EntityID:  "e1",
		Family:    entity.FamilyPickup,
		Type:      "quote.created",
		NewStatus: "PENDING",
	})
	if !errors.Is(err, ErrFamilyMismatch) {
		t.Fatalf("expected ErrFamilyMismatch, got %v", err)
	}
}

func TestDefaultRegistryFamilyKinds(t *testing.T) {
	registry := newTestRegistry(t)
	if _, ok := registry.Definition("shipment.tracking_point_added"); !ok {
		t.Fatal("shipment should support tracking points")
	}
	for _, f := range []entity.Family{entity.FamilyQuote, entity.FamilyPickup, entity.FamilyPurchase} {
		if _, ok := registry.Definition(TypeFor(f, KindTrackingPointAdded)); ok {
			t.Fatalf("%s should not support tracking points", f)
		}
	}
	if Supports(entity.FamilyPickup, KindCostUpdated) {
		t.Fatal("pickup should not support cost updates")
	}
}

func TestChainLinksHashes(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	first, err := Chain(Event{EntityID: "e1", Family: entity.FamilyPickup, Type: "pickup.created", NewStatus: "REQUESTED", CreatedAt: now}, nil)
	if err != nil {
		t.Fatalf("chain first: %v", err)
	}
	if first.Seq != 1 || first.PrevHash != "" || first.Hash == "" {
		t.Fatalf("first = seq %d prev %q hash %q", first.Seq, first.PrevHash, first.Hash)
	}
	if first.CreatedAt.Nanosecond()%int(time.Millisecond) != 0 {
		t.Fatal("expected timestamp truncated to milliseconds")
	}

	second, err := Chain(Event{EntityID: "e1", Family: entity.FamilyPickup, Type: "pickup.status_changed", OldStatus: "REQUESTED", NewStatus: "SCHEDULED", CreatedAt: now}, &first)
	if err != nil {
		t.Fatalf("chain second: %v", err)
	}
	if second.Seq != 2 || second.PrevHash != first.Hash {
		t.Fatalf("second = seq %d prev %q", second.Seq, second.PrevHash)
	}

	recomputed, err := ComputeHash(second)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if recomputed != second.Hash {
		t.Fatal("recomputed hash differs")
	}
	tampered := second
	tampered.Notes = "edited"
	if h, _ := ComputeHash(tampered); h == second.Hash {
		t.Fatal("expected tampering to change the hash")
	}
}

func TestTypeParts(t *testing.T) {
	typ := TypeFor(entity.FamilyShipment, KindStatusChanged)
	if typ != "shipment.status_changed" {
		t.Fatalf("TypeFor = %q", typ)
	}
	if typ.Family() != entity.FamilyShipment || typ.Kind() != KindStatusChanged {
		t.Fatalf("parts = %q %q", typ.Family(), typ.Kind())
	}
}

func TestAttachmentOf(t *testing.T) {
	tests := []struct {
		name string
		evt  Event
		want Attachment
		ok   bool
	}{
		{
			name: "claim",
			evt: Event{Type: "pickup.attached_to_account", Metadata: map[string]string{
				MetaAccountID: "user-1", MetaMatchStrategy: MatchEmail,
			}},
			want: Attachment{AccountID: "user-1", MatchStrategy: MatchEmail},
			ok:   true,
		},
		{
			name: "reconciled quote",
			evt: Event{Type: "quote.created", Metadata: map[string]string{
				MetaOrigin: OriginGuestQuote, MetaAccountID: "user-1", MetaMatchStrategy: MatchGuestQuote,
			}},
			want: Attachment{AccountID: "user-1", MatchStrategy: MatchGuestQuote},
			ok:   true,
		},
		{
			name: "direct creation",
			evt:  Event{Type: "quote.created", Metadata: map[string]string{MetaOrigin: OriginDirect}},
		},
		{
			name: "note",
			evt:  Event{Type: "quote.note_added", Metadata: map[string]string{MetaAccountID: "user-1"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := AttachmentOf(tt.evt)
			if ok != tt.ok || got != tt.want {
				t.Fatalf("AttachmentOf = %+v, %v, want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}
