package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lexrag/internal/model"
	"github.com/fyrsmithlabs/lexrag/internal/sanitize"
)

// errInvalidRequest marks a request the handler rejected before calling
// the assistant.
var errInvalidRequest = errors.New("invalid request")

// statusFor maps an error kind to its HTTP status and public message.
// Unknown errors are internal and their message is not exposed.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, model.ErrClientNotFound),
		errors.Is(err, model.ErrSourceNotFound),
		errors.Is(err, model.ErrTurnNotFound),
		errors.Is(err, model.ErrThreadNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, model.ErrClientExists):
		return http.StatusConflict, err.Error()
	case errors.Is(err, model.ErrIndexCorrupt):
		return http.StatusConflict, err.Error() + "; reset the client index"
	case errors.Is(err, model.ErrExtractionFailed),
		errors.Is(err, model.ErrEmptyClientID),
		errors.Is(err, model.ErrEmptySourceID),
		errors.Is(err, model.ErrEmptyQuestion),
		errors.Is(err, model.ErrEmptyName),
		errors.Is(err, sanitize.ErrInvalidClientID),
		errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, model.ErrEmbeddingUnavailable):
		return http.StatusServiceUnavailable, "embedding service unavailable, try again"
	case errors.Is(err, model.ErrChatUnavailable):
		return http.StatusServiceUnavailable, "chat service unavailable, try again"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out, try again"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// fail converts err into an echo.HTTPError, logging server-side failures.
func (s *Server) fail(c echo.Context, err error) error {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("route", c.Path()),
			zap.String("client.id", c.Param("client_id")),
			zap.Int("status", status),
			zap.Error(err))
	}
	return echo.NewHTTPError(status, msg).SetInternal(err)
}
