// Package event defines the audit log record, the catalogue of event types
// each family may emit, and the registry that validates an event's shape
// before it is appended.
//
// Events are immutable. Each entity's events form a gap-free sequence and a
// hash chain; replaying the NewStatus of status-bearing events in order
// yields the entity's current status.
//
// Ownership is recorded in one of two shapes. A claim appends
// <family>.attached_to_account with match_strategy email or phone. A quote
// created by guest-quote reconciliation is attached at birth, so its
// quote.created event carries origin guest_quote, account_id and
// match_strategy guest_quote instead. AttachmentOf reads either shape.
package event
