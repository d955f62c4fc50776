package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/louisbranch/freightdesk/internal/services/ops/domain/entity"
	"github.com/louisbranch/freightdesk/internal/services/ops/domain/guestquote"
	"github.com/louisbranch/freightdesk/internal/services/ops/service"
)

func (h *Handler) track(c *gin.Context) {
	view, err := h.svc.Track(c.Request.Context(), c.Param("number"), c.GetHeader("Accept-Language"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, view)
}

type publicRequest struct {
	ContactEmail string          `json:"contact_email"`
	ContactPhone string          `json:"contact_phone"`
	Details      json.RawMessage `json:"details"`
}

// submitPublic answers with the number only; the record itself stays
// private until claimed.
func (h *Handler) submitPublic(family entity.Family) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req publicRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, badRequest("invalid request body"))
			return
		}
		details, err := decodeDetails(family, req.Details)
		if err != nil {
			h.fail(c, err)
			return
		}
		e, err := h.svc.SubmitPublic(c.Request.Context(), service.PublicRequest{
			Family:       family,
			ContactEmail: req.ContactEmail,
			ContactPhone: req.ContactPhone,
			Details:      details,
		})
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"number": e.Number, "status": e.Status})
	}
}

type reconcileRequest struct {
	AccountID string                  `json:"account_id"`
	Quotes    []guestquote.GuestQuote `json:"quotes"`
}

func (h *Handler) reconcile(c *gin.Context) {
	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest("invalid request body"))
		return
	}
	report, err := h.svc.Reconcile(c.Request.Context(), actorFrom(c), req.AccountID, req.Quotes)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) claim(c *gin.Context) {
	results, err := h.svc.Claim(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
