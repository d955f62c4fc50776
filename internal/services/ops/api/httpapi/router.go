// Package httpapi exposes the operations service over HTTP.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
	"github.com/louisbranch/freightdesk/internal/services/ops/metrics"
	"github.com/louisbranch/freightdesk/internal/services/ops/service"
)

// DefaultHeartbeat is the keepalive interval of the invalidation stream.
const DefaultHeartbeat = 25 * time.Second

// Authenticator turns a bearer token into an actor.
type Authenticator interface {
	Verify(token string) (actor.Actor, error)
}

// Options configures the handler.
type Options struct {
	Service   *service.Service
	Tokens    Authenticator
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
	Heartbeat time.Duration
}

// Handler serves the HTTP surface of the operations service.
type Handler struct {
	svc       *service.Service
	tokens    Authenticator
	metrics   *metrics.Recorder
	logger    *slog.Logger
	heartbeat time.Duration
}

// New builds a handler. Without Tokens every authenticated route answers 401.
func New(opts Options) (*Handler, error) {
	if opts.Service == nil {
		return nil, errors.New("service is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	return &Handler{
		svc:       opts.Service,
		tokens:    opts.Tokens,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		heartbeat: opts.Heartbeat,
	}, nil
}

// Router registers every route on a new gin engine.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestID(), h.accessLog())
	r.NoRoute(func(c *gin.Context) {
		h.fail(c, errRouteNotFound)
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	v1 := r.Group("/api/v1")
	v1.GET("/track/:number", h.track)
	v1.POST("/public/pickups", h.submitPublic(entity.FamilyPickup))
	v1.POST("/public/purchases", h.submitPublic(entity.FamilyPurchase))

	authed := v1.Group("", h.authenticate())
	authed.POST("/account/reconcile", h.reconcile)
	authed.POST("/account/claim", h.claim)
	authed.GET("/stream", h.stream)

	for _, family := range entity.Families() {
		g := authed.Group("/" + family.Plural())
		g.POST("", h.create(family))
		g.GET("", h.list(family))
		g.GET("/:id", h.get(family))
		g.POST("/:id/transitions", h.transition(family))
		g.GET("/:id/events", h.events(family))
		g.GET("/:id/verify", h.verify(family))
		g.POST("/:id/notes", h.addNote(family))
		if event.Supports(family, event.KindCostUpdated) {
			g.PUT("/:id/cost", h.updateCost(family))
		}
		if event.Supports(family, event.KindScheduleChanged) {
			g.PUT("/:id/schedule", h.updateSchedule(family))
		}
		if event.Supports(family, event.KindAddressChanged) {
			g.PUT("/:id/address", h.updateAddress(family))
		}
		if event.Supports(family, event.KindDocumentUploaded) {
			g.POST("/:id/documents", h.uploadDocument(family))
		}
		if event.Supports(family, event.KindTrackingPointAdded) {
			g.POST("/:id/tracking-points", h.addTrackingPoint)
		}
	}
	return r
}
