// Package journal writes audit events and checks recorded histories.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
	"github.com/louisbranch/freightdesk/internal/platform/timeouts"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage"
)

// Appender persists a single event.
type Appender interface {
	AppendEvent(ctx context.Context, evt event.Event) (event.Event, error)
}

// Entry is the caller-facing description of an event to append.
type Entry struct {
	EntityID  string
	Type      event.Type
	OldStatus entity.Status
	NewStatus entity.Status
	Actor     actor.Actor
	Metadata  map[string]string
	Notes     string
}

// RetryPolicy bounds retries of transient persistence failures.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryPolicy retries three times with delays doubling from 50ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 4, InitialDelay: 50 * time.Millisecond, MaxDelay: timeouts.JournalRetry}
}

// Writer validates and appends events, retrying transient failures.
type Writer struct {
	appender Appender
	registry *event.Registry
	policy   RetryPolicy
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures a Writer.
type Option func(*Writer)

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(w *Writer) { w.policy = policy }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

func withSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Writer) { w.sleep = sleep }
}

// NewWriter builds a writer over appender.
func NewWriter(appender Appender, registry *event.Registry, opts ...Option) (*Writer, error) {
	if appender == nil {
		return nil, errors.New("event appender is required")
	}
	if registry == nil {
		return nil, errors.New("event registry is required")
	}
	w := &Writer{
		appender: appender,
		registry: registry,
		policy:   DefaultRetryPolicy(),
		logger:   slog.Default(),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	if w.policy.Attempts < 1 {
		w.policy.Attempts = 1
	}
	return w, nil
}

// Build turns an entry into an unsequenced event. The store stamps
// CreatedAt when the event is appended.
func (w *Writer) Build(entry Entry) event.Event {
	return event.Event{
		EntityID:  entry.EntityID,
		Family:    entry.Type.Family(),
		Type:      entry.Type,
		OldStatus: entry.OldStatus,
		NewStatus: entry.NewStatus,
		ActorID:   entry.Actor.UserID,
		ActorRole: string(entry.Actor.Role),
		Metadata:  entry.Metadata,
		Notes:     entry.Notes,
	}
}

// Validate checks evt against the registry and returns the normalized copy.
func (w *Writer) Validate(evt event.Event) (event.Event, error) {
	validated, err := w.registry.ValidateForAppend(evt)
	if err != nil {
		return event.Event{}, ClassifyEventError(err)
	}
	return validated, nil
}

// Append validates entry and persists it. Validation failures return at
// once; persistence failures and write races are retried with backoff and
// the last error is returned when attempts run out.
func (w *Writer) Append(ctx context.Context, entry Entry) (event.Event, error) {
	evt, err := w.Validate(w.Build(entry))
	if err != nil {
		return event.Event{}, err
	}
	var appended event.Event
	err = w.Retry(ctx, "append "+string(evt.Type), func(ctx context.Context) error {
		var err error
		appended, err = w.appender.AppendEvent(ctx, evt)
		return err
	})
	if err != nil {
		return event.Event{}, ClassifyEventError(err)
	}
	return appended, nil
}

// Retry runs fn until it succeeds, fails permanently or attempts run out.
func (w *Writer) Retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := w.policy.InitialDelay
	var err error
	for attempt := 1; attempt <= w.policy.Attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !Retryable(err) {
			return err
		}
		if attempt == w.policy.Attempts {
			break
		}
		w.logger.WarnContext(ctx, "journal write retry",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		if sleepErr := w.sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("%s: %w", op, sleepErr)
		}
		delay *= 2
		if w.policy.MaxDelay > 0 && delay > w.policy.MaxDelay {
			delay = w.policy.MaxDelay
		}
	}
	w.logger.ErrorContext(ctx, "journal write failed", slog.String("op", op), slog.Any("error", err))
	return err
}

// Retryable reports whether err is a transient write failure.
func Retryable(err error) bool {
	return storage.IsPersistence(err) || errors.Is(err, storage.ErrConflict)
}

// ClassifyEventError maps registry sentinels onto coded errors. Other errors
// are returned unchanged.
func ClassifyEventError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, event.ErrNotesRequired):
		return apperrors.Wrap(apperrors.CodeEventNotesRequired, "notes are required for this event", err)
	case errors.Is(err, event.ErrStatusShape):
		return apperrors.Wrap(apperrors.CodeEventStatusShape, "event status fields are invalid", err)
	case errors.Is(err, event.ErrMetadataMissing),
		errors.Is(err, event.ErrMetadataUndeclared),
		errors.Is(err, event.ErrMetadataValue):
		return apperrors.Wrap(apperrors.CodeEventMetadata, "event metadata is invalid", err)
	case errors.Is(err, event.ErrTypeUnknown),
		errors.Is(err, event.ErrTypeRequired),
		errors.Is(err, event.ErrFamilyMismatch),
		errors.Is(err, event.ErrEntityIDRequired):
		return apperrors.Wrap(apperrors.CodeEventTypeUnknown, "event type is not registered", err)
	default:
		return err
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
