package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/service"
)

type createRequest struct {
	ClientID     string          `json:"client_id"`
	ContactEmail string          `json:"contact_email"`
	ContactPhone string          `json:"contact_phone"`
	Details      json.RawMessage `json:"details"`
}

func (h *Handler) create(family entity.Family) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, badRequest("invalid request body"))
			return
		}
		details, err := decodeDetails(family, req.Details)
		if err != nil {
			h.fail(c, err)
			return
		}
		a := actorFrom(c)
		e, err := h.svc.Create(c.Request.Context(), a, service.CreateInput{
			Family:       family,
			ClientID:     req.ClientID,
			ContactEmail: req.ContactEmail,
			ContactPhone: req.ContactPhone,
			Details:      details,
		})
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, toEntityResponse(a, e))
	}
}

type listResponse struct {
	Items         []entityResponse `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

func (h *Handler) list(family entity.Family) gin.HandlerFunc {
	return func(c *gin.Context) {
		pageSize := 0
		if raw := c.Query("page_size"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				h.fail(c, badRequest("page_size must be a non-negative integer"))
				return
			}
			pageSize = n
		}
		a := actorFrom(c)
		page, err := h.svc.List(c.Request.Context(), a, service.ListInput{
			Family:    family,
			Status:    entity.Status(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
			PageSize:  pageSize,
			PageToken: c.Query("page_token"),
		})
		if err != nil {
			h.fail(c, err)
			return
		}
		resp := listResponse{Items: make([]entityResponse, 0, len(page.Entities)), NextPageToken: page.NextPageToken}
		for _, e := range page.Entities {
			resp.Items = append(resp.Items, toEntityResponse(a, e))
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (h *Handler) get(family entity.Family) gin.HandlerFunc {
	return func(c *gin.Context) {
		a := actorFrom(c)
		e, err := h.svc.Get(c.Request.Context(), a, refFrom(c, family))
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, toEntityResponse(a, e))
	}
}

type transitionRequest struct {
	Status        string            `json:"status"`
	From          string            `json:"from"`
	Notes         string            `json:"notes"`
	Metadata      map[string]string `json:"metadata"`
	ExpectVersion int64             `json:"expect_version"`
}

type transitionResponse struct {
	Entity entityResponse `json:"entity"`
	Event  eventResponse  `json:"event"`
}

func (h *Handler) transition(family entity.Family) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transitionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, badRequest("invalid request body"))
			return
		}
		if strings.TrimSpace(req.Status) == "" {
			h.fail(c, badRequest("status is required"))
			return
		}
		a := actorFrom(c)
		e, evt, err := h.svc.Transition(c.Request.Context(), a, service.TransitionInput{
			Ref:           refFrom(c, family),
			From:          entity.Status(req.From),
			To:            entity.Status(req.Status),
			Notes:         req.Notes,
			Metadata:      req.Metadata,
			ExpectVersion: req.ExpectVersion,
		})
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, transitionResponse{Entity: toEntityResponse(a, e), Event: toEventResponse(evt)})
	}
}

func (h *Handler) events(family entity.Family) gin.HandlerFunc {
	return func(c *gin.Context) {
		events, err := h.svc.ListEvents(c.Request.Context(), actorFrom(c), refFrom(c, family), c.Query("filter"))
		if err != nil {
			h.fail(c, err)
			return
		}
		items := make([]eventResponse, 0, len(events))
		for _, evt := range events {
			items = append(items, toEventResponse(evt))
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func (h *Handler) verify(family entity.Family) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := h.svc.VerifyHistory(c.Request.Context(), actorFrom(c), refFrom(c, family))
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func refFrom(c *gin.Context, family entity.Family) service.EntityRef {
	return service.EntityRef{Family: family, ID: c.Param("id")}
}
