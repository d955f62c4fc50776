package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/louisbranch/freightdesk/internal/services/ops/domain/actor"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/event"
	"github.com/louisbranch/freightdesk/internal/services/ops/service"
)

func (h *Handler) addNote(family entity.Family) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Notes string `json:"notes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, badRequest("invalid request body"))
			return
		}
		evt, err := h.svc.AddNote(c.Request.Context(), actorFrom(c), refFrom(c, family), req.Notes)
		h.writeEvent(c, evt, err)
	}
}

func (h *Handler) updateCost(family entity.Family) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req entity.Money
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, badRequest("invalid request body"))
			return
		}
		a := actorFrom(c)
		e, err := h.svc.UpdateCost(c.Request.Context(), a, refFrom(c, family), req)
		h.writeEntity(c, a, e, err)
	}
}

func (h *Handler) updateSchedule(family entity.Family) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Start time.Time `json:"start"`
			End   time.Time `json:"end"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, badRequest("start and end must be RFC 3339 timestamps"))
			return
		}
		a := actorFrom(c)
		e, err := h.svc.UpdateSchedule(c.Request.Context(), a, refFrom(c, family), service.ScheduleInput{Start: req.Start, End: req.End})
		h.writeEntity(c, a, e, err)
	}
}

func (h *Handler) updateAddress(family entity.Family) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Field string       `json:"field"`
			Place entity.Place `json:"place"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, badRequest("invalid request body"))
			return
		}
		a := actorFrom(c)
		e, err := h.svc.UpdateAddress(c.Request.Context(), a, refFrom(c, family), req.Field, req.Place)
		h.writeEntity(c, a, e, err)
	}
}

func (h *Handler) addTrackingPoint(c *gin.Context) {
	var req struct {
		Location    string   `json:"location"`
		Description string   `json:"description"`
		Latitude    *float64 `json:"latitude"`
		Longitude   *float64 `json:"longitude"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest("invalid request body"))
		return
	}
	evt, err := h.svc.AddTrackingPoint(c.Request.Context(), actorFrom(c), c.Param("id"), service.TrackingPointInput{
		Location:    req.Location,
		Description: req.Description,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
	})
	h.writeEvent(c, evt, err)
}

// uploadDocument reads the "file" part of a multipart form. Reading stops
// one byte past the service limit so oversized files fail without being
// buffered whole.
func (h *Handler) uploadDocument(family entity.Family) gin.HandlerFunc {
	return func(c *gin.Context) {
		header, err := c.FormFile("file")
		if err != nil {
			h.fail(c, badRequest("multipart field \"file\" is required"))
			return
		}
		f, err := header.Open()
		if err != nil {
			h.fail(c, badRequest("uploaded file is unreadable"))
			return
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, h.svc.MaxUpload()+1))
		if err != nil {
			h.fail(c, badRequest("uploaded file is unreadable"))
			return
		}
		evt, err := h.svc.UploadDocument(c.Request.Context(), actorFrom(c), refFrom(c, family), service.DocumentInput{
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Kind:        c.PostForm("kind"),
			Data:        data,
		})
		h.writeEvent(c, evt, err)
	}
}

func (h *Handler) writeEvent(c *gin.Context, evt event.Event, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toEventResponse(evt))
}

func (h *Handler) writeEntity(c *gin.Context, a actor.Actor, e entity.Entity, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toEntityResponse(a, e))
}
