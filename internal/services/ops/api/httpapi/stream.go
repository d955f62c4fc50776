package httpapi

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/louisbranch/freightdesk/internal/services/ops/domain/authz"
)

// stream pushes invalidation signals as Server-Sent Events. Each subscriber
// only hears about records inside its scope.
func (h *Handler) stream(c *gin.Context) {
	a := actorFrom(c)
	if err := authz.CanUse(a, authz.CapabilityReadEntities).Err(); err != nil {
		h.fail(c, err)
		return
	}
	signals, cancel := h.svc.Broker().Subscribe(authz.ScopeFor(a))
	defer cancel()
	h.metrics.Subscribers(1)
	defer h.metrics.Subscribers(-1)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("ready", gin.H{"scope": scopeLabel(authz.ScopeFor(a))})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case sig, ok := <-signals:
			if !ok {
				return false
			}
			c.SSEvent("invalidate", sig)
			return true
		case now := <-ticker.C:
			c.SSEvent("ping", gin.H{"at": now.UTC()})
			return true
		}
	})
}

func scopeLabel(s authz.Scope) string {
	switch s.Kind {
	case authz.ScopeAll:
		return "all"
	case authz.ScopeTenant:
		return "tenant"
	default:
		return "none"
	}
}
