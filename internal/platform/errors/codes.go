// Package errors provides structured, coded errors shared by every layer.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeValidation          Code = "VALIDATION_FAILED"
	CodeEventTypeUnknown    Code = "EVENT_TYPE_UNKNOWN"
	CodeEventMetadata       Code = "EVENT_METADATA_INVALID"
	CodeEventStatusShape    Code = "EVENT_STATUS_SHAPE_INVALID"
	CodeEventNotesRequired  Code = "EVENT_NOTES_REQUIRED"
	CodeSequenceExhausted   Code = "SEQUENCE_EXHAUSTED"
	CodeFilterInvalid       Code = "FILTER_INVALID"
	CodeCursorInvalid       Code = "CURSOR_INVALID"
	CodeGuestQuoteInvalid   Code = "GUEST_QUOTE_INVALID"
	CodeDocumentTooLarge    Code = "DOCUMENT_TOO_LARGE"
	CodeCapabilityForbidden Code = "CAPABILITY_FORBIDDEN"

	// Transition errors
	CodeTransitionUnknownFamily Code = "TRANSITION_UNKNOWN_FAMILY"
	CodeTransitionUnknownStatus Code = "TRANSITION_UNKNOWN_STATUS"
	CodeTransitionFromTerminal  Code = "TRANSITION_FROM_TERMINAL"
	CodeTransitionNotInGraph    Code = "TRANSITION_NOT_IN_GRAPH"
	CodeTransitionRoleForbidden Code = "TRANSITION_ROLE_FORBIDDEN"
	CodeTransitionNotesRequired Code = "TRANSITION_NOTES_REQUIRED"

	// Access errors
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodePermissionDenied Code = "PERMISSION_DENIED"

	// Storage errors
	CodeNotFound                  Code = "NOT_FOUND"
	CodeConflict                  Code = "CONFLICT"
	CodeStaleVersion              Code = "STALE_VERSION"
	CodeStatusChanged             Code = "STATUS_CHANGED"
	CodeGuestQuoteNotFound        Code = "GUEST_QUOTE_NOT_FOUND"
	CodeGuestQuoteAlreadyAttached Code = "GUEST_QUOTE_ALREADY_ATTACHED"
	CodePersistence               Code = "PERSISTENCE_FAILED"

	CodeInternal Code = "INTERNAL"
)

// Class groups codes into the families callers branch on.
type Class string

const (
	ClassValidation        Class = "validation"
	ClassIllegalTransition Class = "illegal_transition"
	ClassAuthorization     Class = "authorization"
	ClassNotFound          Class = "not_found"
	ClassConflict          Class = "conflict"
	ClassPersistence       Class = "persistence"
	ClassInternal          Class = "internal"
)

// Class maps a code to its error class.
func (c Code) Class() Class {
	switch c {
	case CodeValidation,
		CodeEventMetadata,
		CodeEventStatusShape,
		CodeEventNotesRequired,
		CodeSequenceExhausted,
		CodeFilterInvalid,
		CodeCursorInvalid,
		CodeGuestQuoteInvalid,
		CodeDocumentTooLarge:
		return ClassValidation

	case CodeTransitionUnknownFamily,
		CodeTransitionUnknownStatus,
		CodeTransitionFromTerminal,
		CodeTransitionNotInGraph,
		CodeTransitionRoleForbidden,
		CodeTransitionNotesRequired:
		return ClassIllegalTransition

	case CodeUnauthenticated, CodePermissionDenied, CodeCapabilityForbidden:
		return ClassAuthorization

	case CodeNotFound, CodeGuestQuoteNotFound:
		return ClassNotFound

	case CodeConflict, CodeStaleVersion, CodeStatusChanged, CodeGuestQuoteAlreadyAttached:
		return ClassConflict

	case CodePersistence:
		return ClassPersistence

	default:
		return ClassInternal
	}
}

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	if c == CodeUnauthenticated {
		return http.StatusUnauthorized
	}
	if c == CodeTransitionNotesRequired {
		return http.StatusUnprocessableEntity
	}
	switch c.Class() {
	case ClassValidation:
		return http.StatusBadRequest
	case ClassIllegalTransition, ClassConflict:
		return http.StatusConflict
	case ClassAuthorization:
		return http.StatusForbidden
	case ClassNotFound:
		return http.StatusNotFound
	case ClassPersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
