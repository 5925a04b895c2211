package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"dashboard/domain"
)

// writeError maps controller errors to HTTP responses. Errors without a
// domain classification become 500.
func writeError(c echo.Context, err error) error {
	m := metricsFrom(c)

	var ve *domain.ValidationError
	var nf *domain.NotFoundError
	var te *domain.TransientStorageError
	switch {
	case errors.As(err, &ve):
		m.SetErrorStage("validation")
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "validation", Field: ve.Field, Message: ve.Reason})
	case errors.As(err, &nf):
		m.SetErrorStage("not_found")
		return c.JSON(http.StatusNotFound, errorResponse{Error: "not_found", Message: nf.Error()})
	case errors.As(err, &te):
		m.SetErrorStage("storage")
		c.Logger().Error(err)
		c.Response().Header().Set("Retry-After", "1")
		msg := "storage temporarily unavailable"
		if errors.Is(err, domain.ErrConflict) {
			msg = "items changed concurrently, retry"
		}
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "unavailable", Message: msg})
	}
	m.SetErrorStage("internal")
	c.Logger().Error(err)
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal"})
}

func badRequest(c echo.Context, msg string) error {
	metricsFrom(c).SetErrorStage("decode")
	return c.JSON(http.StatusBadRequest, errorResponse{Error: "bad_request", Message: msg})
}
