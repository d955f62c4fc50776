package event

import (
	"fmt"

	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
)

// familyKinds lists the kinds each family may emit.
var familyKinds = map[entity.Family][]Kind{
	entity.FamilyQuote: {
		KindCreated, KindStatusChanged, KindCanceled, KindAttachedToAccount,
		KindCostUpdated, KindNoteAdded,
	},
	entity.FamilyShipment: {
		KindCreated, KindStatusChanged, KindCanceled, KindAttachedToAccount,
		KindCostUpdated, KindDocumentUploaded, KindAddressChanged, KindScheduleChanged,
		KindTrackingPointAdded, KindNoteAdded,
	},
	entity.FamilyPickup: {
		KindCreated, KindStatusChanged, KindCanceled, KindAttachedToAccount,
		KindAddressChanged, KindScheduleChanged, KindNoteAdded,
	},
	entity.FamilyPurchase: {
		KindCreated, KindStatusChanged, KindCanceled, KindAttachedToAccount,
		KindCostUpdated, KindDocumentUploaded, KindAddressChanged, KindNoteAdded,
	},
}

// Supports reports whether family f may emit kind k.
func Supports(f entity.Family, k Kind) bool {
	for _, kind := range familyKinds[f] {
		if kind == k {
			return true
		}
	}
	return false
}

func definitionFor(f entity.Family, k Kind) Definition {
	def := Definition{Type: TypeFor(f, k), Family: f}
	switch k {
	case KindCreated:
		def.Status = StatusCreate
		def.Optional = []string{MetaNumber, MetaOrigin, MetaGuestQuoteID, MetaAccountID, MetaMatchStrategy}
		def.Enums = map[string][]string{
			MetaOrigin:        {OriginDirect, OriginGuestQuote, OriginPublicForm},
			MetaMatchStrategy: {MatchGuestQuote},
		}
	case KindStatusChanged:
		def.Status = StatusChange
		def.Optional = []string{MetaReason, MetaLocation}
	case KindCanceled:
		def.Status = StatusChange
		def.Optional = []string{MetaReasonCode}
		def.NotesRequired = true
	case KindAttachedToAccount:
		def.Required = []string{MetaAccountID, MetaMatchStrategy}
		def.Enums = map[string][]string{MetaMatchStrategy: {MatchEmail, MatchPhone}}
	case KindCostUpdated:
		def.Required = []string{MetaAmount, MetaCurrency}
		def.Optional = []string{MetaPreviousAmount}
	case KindDocumentUploaded:
		def.Required = []string{MetaDocumentKey, MetaContentType, MetaSizeBytes}
		def.Optional = []string{MetaFileName, MetaDocumentKind}
	case KindAddressChanged:
		def.Required = []string{MetaField}
		def.Optional = []string{MetaPrevious, MetaCurrent}
	case KindScheduleChanged:
		def.Required = []string{MetaWindowStart, MetaWindowEnd}
		def.Optional = []string{MetaPreviousStart, MetaPreviousEnd}
	case KindTrackingPointAdded:
		def.Required = []string{MetaLocation}
		def.Optional = []string{MetaDescription, MetaLatitude, MetaLongitude}
	case KindNoteAdded:
		def.NotesRequired = true
	}
	return def
}

// NewDefaultRegistry returns a registry with every family's event types.
func NewDefaultRegistry() (*Registry, error) {
	registry := NewRegistry()
	for _, f := range entity.Families() {
		for _, k := range familyKinds[f] {
			if err := registry.Register(definitionFor(f, k)); err != nil {
				return nil, fmt.Errorf("register %s: %w", TypeFor(f, k), err)
			}
		}
	}
	return registry, nil
}
