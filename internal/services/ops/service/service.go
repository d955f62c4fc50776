// Package service implements the operations engine: lifecycle transitions,
// audit history, public tracking and guest quote reconciliation. Every
// operation resolves access first, validates second and writes last.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
	"github.com/louisbranch/freightdesk/internal/platform/i18n"
	"github.com/louisbranch/freightdesk/internal/platform/otel"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/authz"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/sequence"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/tracking"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/workflow"
	"github.com/louisbranch/freightdesk/internal/services/ops/journal"
	"github.com/louisbranch/freightdesk/internal/services/ops/metrics"
	"github.com/louisbranch/freightdesk/internal/services/ops/notify"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage/blob"
)

const tracerName = "github.com/louisbranch/freightdesk/internal/services/ops/service"

// Config wires the service dependencies. Only Store is required; the rest
// default to in-process implementations.
type Config struct {
	Store     storage.Store
	Blobs     blob.Store
	Registry  *event.Registry
	Workflow  *workflow.Validator
	Bundle    *i18n.Bundle
	Broker    *notify.Broker
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
	Location  *time.Location
	Retry     journal.RetryPolicy
	Now       func() time.Time
	MaxUpload int64
}

// Service runs the operations use cases.
type Service struct {
	store     storage.Store
	blobs     blob.Store
	registry  *event.Registry
	workflow  *workflow.Validator
	bundle    *i18n.Bundle
	projector *tracking.Projector
	numbers   *sequence.Generator
	journal   *journal.Writer
	broker    *notify.Broker
	metrics   *metrics.Recorder
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	maxUpload int64
}

// DefaultMaxUpload caps document uploads.
const DefaultMaxUpload = 10 << 20

// New builds a service from cfg.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	var err error
	if cfg.Registry == nil {
		if cfg.Registry, err = event.NewDefaultRegistry(); err != nil {
			return nil, fmt.Errorf("load event registry: %w", err)
		}
	}
	if cfg.Workflow == nil {
		if cfg.Workflow, err = workflow.NewValidator(); err != nil {
			return nil, fmt.Errorf("load workflow graphs: %w", err)
		}
	}
	if cfg.Bundle == nil {
		if cfg.Bundle, err = i18n.LoadEmbedded(); err != nil {
			return nil, fmt.Errorf("load message catalogs: %w", err)
		}
	}
	if cfg.Blobs == nil {
		cfg.Blobs = blob.NewMemory()
	}
	if cfg.Broker == nil {
		cfg.Broker = notify.NewBroker(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = DefaultMaxUpload
	}
	opts := []journal.Option{journal.WithLogger(cfg.Logger)}
	if cfg.Retry.Attempts > 0 {
		opts = append(opts, journal.WithRetryPolicy(cfg.Retry))
	}
	writer, err := journal.NewWriter(cfg.Store, cfg.Registry, opts...)
	if err != nil {
		return nil, err
	}
	return &Service{
		store:     cfg.Store,
		blobs:     cfg.Blobs,
		registry:  cfg.Registry,
		workflow:  cfg.Workflow,
		bundle:    cfg.Bundle,
		projector: tracking.NewProjector(cfg.Workflow, cfg.Bundle),
		numbers:   sequence.NewGenerator(cfg.Store, cfg.Location),
		journal:   writer,
		broker:    cfg.Broker,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		tracer:    otel.Tracer(tracerName),
		now:       cfg.Now,
		maxUpload: cfg.MaxUpload,
	}, nil
}

// Broker returns the invalidation broker signals are published on.
func (s *Service) Broker() *notify.Broker {
	return s.broker
}

// MaxUpload is the largest document UploadDocument accepts, in bytes.
func (s *Service) MaxUpload() int64 {
	return s.maxUpload
}

// operation opens a span for name and returns a finish func that records
// latency, span status and a log line for failures.
func (s *Service) operation(ctx context.Context, name string, a actor.Actor, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	start := time.Now()
	attrs = append(attrs,
		attribute.String("actor.role", string(a.Role)),
		attribute.String("actor.id", a.UserID),
	)
	ctx, span := s.tracer.Start(ctx, "ops."+name, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		code := string(apperrors.CodeOf(err))
		s.metrics.Observe(name, code, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
			level := slog.LevelInfo
			if cls := apperrors.CodeOf(err).Class(); cls == apperrors.ClassPersistence || cls == apperrors.ClassInternal {
				level = slog.LevelError
			}
			s.logger.Log(ctx, level, "operation failed",
				slog.String("operation", name),
				slog.String("code", code),
				slog.Any("error", err),
			)
		}
		span.End()
	}
}

// EntityRef addresses one record of a family.
type EntityRef struct {
	Family entity.Family
	ID     string
}

func (r EntityRef) validate() error {
	if !r.Family.Valid() {
		return apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("unknown family %q", r.Family))
	}
	if strings.TrimSpace(r.ID) == "" {
		return apperrors.New(apperrors.CodeValidation, "id is required")
	}
	return nil
}

// load fetches the record behind ref. Family mismatches read as missing.
func (s *Service) load(ctx context.Context, ref EntityRef) (entity.Entity, error) {
	if err := ref.validate(); err != nil {
		return entity.Entity{}, err
	}
	e, err := s.store.GetEntity(ctx, ref.ID)
	if err != nil {
		return entity.Entity{}, err
	}
	if e.Family != ref.Family {
		return entity.Entity{}, storage.ErrNotFound
	}
	return e, nil
}

// loadFor fetches ref and checks a may exercise capability on it.
func (s *Service) loadFor(ctx context.Context, a actor.Actor, ref EntityRef, capability authz.Capability) (entity.Entity, error) {
	if err := authz.CanUse(a, capability).Err(); err != nil {
		return entity.Entity{}, err
	}
	e, err := s.load(ctx, ref)
	if err != nil {
		return entity.Entity{}, err
	}
	if err := authz.CanMutate(a, e, capability).Err(); err != nil {
		return entity.Entity{}, err
	}
	return e, nil
}

// mutate runs a guarded write, retrying lost races and transient failures.
// fn sees fresh state on every attempt.
func (s *Service) mutate(ctx context.Context, ref EntityRef, op string, fn storage.MutateFunc) (entity.Entity, event.Event, error) {
	if err := ref.validate(); err != nil {
		return entity.Entity{}, event.Event{}, err
	}
	var (
		updated entity.Entity
		evt     event.Event
	)
	err := s.journal.Retry(ctx, op, func(ctx context.Context) error {
		var err error
		updated, evt, err = s.store.Mutate(ctx, ref.ID, func(current entity.Entity) (entity.Entity, event.Event, error) {
			if current.Family != ref.Family {
				return entity.Entity{}, event.Event{}, storage.ErrNotFound
			}
			return fn(current)
		})
		return err
	})
	if err != nil {
		return entity.Entity{}, event.Event{}, journal.ClassifyEventError(err)
	}
	s.recorded(ctx, updated, evt)
	return updated, evt, nil
}

// recorded publishes the bookkeeping for a written event.
func (s *Service) recorded(ctx context.Context, e entity.Entity, evt event.Event) {
	s.metrics.Event(string(evt.Type))
	s.broker.Publish(notify.NewSignal(e, string(evt.Type), evt.Seq, evt.CreatedAt))
	s.logger.DebugContext(ctx, "event recorded",
		slog.String("entity_id", e.ID),
		slog.String("type", string(evt.Type)),
		slog.Int64("seq", evt.Seq),
	)
}

func actorEvent(a actor.Actor, t event.Type) event.Event {
	return event.Event{Type: t, ActorID: a.UserID, ActorRole: string(a.Role)}
}

func validation(format string, args ...any) error {
	return apperrors.New(apperrors.CodeValidation, fmt.Sprintf(format, args...))
}

func wrapValidation(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	return apperrors.Wrap(apperrors.CodeValidation, err.Error(), err)
}

// requireKind rejects operations the family has no event type for.
func requireKind(f entity.Family, k event.Kind) error {
	if !event.Supports(f, k) {
		return validation("%s records do not support %s", f, strings.ReplaceAll(string(k), "_", " "))
	}
	return nil
}

// requireOpen rejects non-status changes to records in a terminal state.
func (s *Service) requireOpen(e entity.Entity) error {
	if s.workflow.IsTerminal(e.Family, e.Status) {
		return apperrors.New(apperrors.CodeTransitionFromTerminal, fmt.Sprintf("%s %s is %s", e.Family, e.Number, e.Status))
	}
	return nil
}
