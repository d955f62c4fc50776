package httpapi

import (
	"encoding/json"
	"time"

	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
)

type entityResponse struct {
	ID           string         `json:"id"`
	Family       entity.Family  `json:"family"`
	Number       string         `json:"number"`
	Status       entity.Status  `json:"status"`
	ClientID     string         `json:"client_id,omitempty"`
	OwnerUserID  string         `json:"owner_user_id,omitempty"`
	ContactEmail string         `json:"contact_email,omitempty"`
	ContactPhone string         `json:"contact_phone,omitempty"`
	GuestQuoteID string         `json:"guest_quote_id,omitempty"`
	Version      int64          `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Details      entity.Details `json:"details"`
}

// toEntityResponse renders e for a. Tenant users never see staff notes.
func toEntityResponse(a actor.Actor, e entity.Entity) entityResponse {
	details := e.Details.Clone()
	if details.Shipment != nil && a.Role.TenantScoped() {
		details.Shipment.InternalNotes = ""
	}
	return entityResponse{
		ID:           e.ID,
		Family:       e.Family,
		Number:       e.Number,
		Status:       e.Status,
		ClientID:     e.ClientID,
		OwnerUserID:  e.OwnerUserID,
		ContactEmail: e.ContactEmail,
		ContactPhone: e.ContactPhone,
		GuestQuoteID: e.GuestQuoteID,
		Version:      e.Version,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
		Details:      details,
	}
}

type eventResponse struct {
	ID        string            `json:"id"`
	EntityID  string            `json:"entity_id"`
	Seq       int64             `json:"seq"`
	Type      event.Type        `json:"type"`
	OldStatus entity.Status     `json:"old_status,omitempty"`
	NewStatus entity.Status     `json:"new_status,omitempty"`
	ActorID   string            `json:"actor_id,omitempty"`
	ActorRole string            `json:"actor_role"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Notes     string            `json:"notes,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	Hash      string            `json:"hash"`
	PrevHash  string            `json:"prev_hash,omitempty"`

	AttachedToAccount *attachmentResponse `json:"attached_to_account,omitempty"`
}

type attachmentResponse struct {
	AccountID     string `json:"account_id"`
	MatchStrategy string `json:"match_strategy"`
}

func toEventResponse(evt event.Event) eventResponse {
	resp := eventResponse{
		ID:        evt.ID,
		EntityID:  evt.EntityID,
		Seq:       evt.Seq,
		Type:      evt.Type,
		OldStatus: evt.OldStatus,
		NewStatus: evt.NewStatus,
		ActorID:   evt.ActorID,
		ActorRole: evt.ActorRole,
		Metadata:  evt.Metadata,
		Notes:     evt.Notes,
		CreatedAt: evt.CreatedAt,
		Hash:      evt.Hash,
		PrevHash:  evt.PrevHash,
	}
	if att, ok := event.AttachmentOf(evt); ok {
		resp.AttachedToAccount = &attachmentResponse{AccountID: att.AccountID, MatchStrategy: att.MatchStrategy}
	}
	return resp
}

// decodeDetails reads the family payload of a create request.
func decodeDetails(family entity.Family, raw json.RawMessage) (entity.Details, error) {
	if len(raw) == 0 {
		return entity.Details{}, badRequest("details are required")
	}
	var (
		d      entity.Details
		target any
	)
	switch family {
	case entity.FamilyQuote:
		d.Quote = &entity.QuoteDetails{}
		target = d.Quote
	case entity.FamilyShipment:
		d.Shipment = &entity.ShipmentDetails{}
		target = d.Shipment
	case entity.FamilyPickup:
		d.Pickup = &entity.PickupDetails{}
		target = d.Pickup
	case entity.FamilyPurchase:
		d.Purchase = &entity.PurchaseDetails{}
		target = d.Purchase
	default:
		return entity.Details{}, badRequest("unknown family")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return entity.Details{}, badRequest("details are malformed")
	}
	return d, nil
}
