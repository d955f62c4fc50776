package httpapi

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
	"github.com/louisbranch/freightdesk/internal/platform/id"
	"github.com/louisbranch/freightdesk/internal/platform/requestctx"
	"github.com/louisbranch/freightdesk/internal/services/ops/auth"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
)

// RequestIDHeader carries the correlation id in and out.
const RequestIDHeader = "X-Request-ID"

const actorKey = "freightdesk.actor"

const maxRequestIDLen = 128

func (h *Handler) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if requestID == "" || len(requestID) > maxRequestIDLen {
			generated, err := id.NewID()
			if err == nil {
				requestID = generated
			}
		}
		c.Header(RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(requestctx.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}

func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		h.logger.InfoContext(c.Request.Context(), "http request",
			slog.String("method", c.Request.Method),
			slog.String("route", route),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
}

func (h *Handler) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.tokens == nil {
			h.fail(c, apperrors.New(apperrors.CodeUnauthenticated, "authentication is not configured"))
			return
		}
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			h.fail(c, apperrors.New(apperrors.CodeUnauthenticated, "bearer token is required"))
			return
		}
		a, err := h.tokens.Verify(token)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.Set(actorKey, a)
		c.Request = c.Request.WithContext(requestctx.WithUserID(c.Request.Context(), a.UserID))
		c.Next()
	}
}

// actorFrom returns the authenticated actor, or the anonymous one.
func actorFrom(c *gin.Context) actor.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(actor.Actor); ok {
			return a
		}
	}
	return actor.Anonymous()
}
