package event

// Metadata keys shared across event types.
const (
	MetaNumber         = "number"
	MetaOrigin         = "origin"
	MetaGuestQuoteID   = "guest_quote_id"
	MetaAccountID      = "account_id"
	MetaMatchStrategy  = "match_strategy"
	MetaReason         = "reason"
	MetaLocation       = "location"
	MetaReasonCode     = "reason_code"
	MetaAmount         = "amount"
	MetaCurrency       = "currency"
	MetaPreviousAmount = "previous_amount"
	MetaDocumentKey    = "document_key"
	MetaContentType    = "content_type"
	MetaSizeBytes      = "size_bytes"
	MetaFileName       = "file_name"
	MetaDocumentKind   = "kind"
	MetaField          = "field"
	MetaPrevious       = "previous"
	MetaCurrent        = "current"
	MetaWindowStart    = "window_start"
	MetaWindowEnd      = "window_end"
	MetaPreviousStart  = "previous_start"
	MetaPreviousEnd    = "previous_end"
	MetaDescription    = "description"
	MetaLatitude       = "latitude"
	MetaLongitude      = "longitude"
)

// Creation origins recorded on created events.
const (
	OriginDirect     = "direct"
	OriginGuestQuote = "guest_quote"
	OriginPublicForm = "public_form"
)

// Match strategies recorded when a record is attached to an account.
const (
	MatchEmail      = "email"
	MatchPhone      = "phone"
	MatchGuestQuote = "guest_quote"
)

// Attachment is an account attachment recorded by an event.
type Attachment struct {
	AccountID     string
	MatchStrategy string
}

// AttachmentOf returns the attachment evt records, if any.
func AttachmentOf(evt Event) (Attachment, bool) {
	att := Attachment{
		AccountID:     evt.Metadata[MetaAccountID],
		MatchStrategy: evt.Metadata[MetaMatchStrategy],
	}
	switch evt.Type.Kind() {
	case KindAttachedToAccount:
	case KindCreated:
		if evt.Metadata[MetaOrigin] != OriginGuestQuote || att.MatchStrategy != MatchGuestQuote {
			return Attachment{}, false
		}
	default:
		return Attachment{}, false
	}
	if att.AccountID == "" {
		return Attachment{}, false
	}
	return att, true
}
