package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
)

var errRouteNotFound = apperrors.New(apperrors.CodeNotFound, "route not found")

type errorResponse struct {
	Code     apperrors.Code    `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// fail aborts the request with the JSON form of err. Uncoded errors become
// INTERNAL and their text stays in the log.
func (h *Handler) fail(c *gin.Context, err error) {
	e, ok := apperrors.As(err)
	if !ok {
		e = apperrors.New(apperrors.CodeInternal, "internal error")
	}
	status := e.Code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request.Context(), "request failed",
			slog.String("code", string(e.Code)),
			slog.Any("error", err),
		)
	}
	c.AbortWithStatusJSON(status, errorResponse{Code: e.Code, Message: e.Message, Metadata: e.Metadata})
}

func badRequest(message string) error {
	return apperrors.New(apperrors.CodeValidation, message)
}
