package handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/jvkabum/vue3-izing-sub001/internal/apperr"
)

// TenantHeader carries the tenant of every API request.
const TenantHeader = "X-Tenant-ID"

// ErrorResponse is the standard API error body (message only).
type ErrorResponse struct {
	Message string `json:"message"`
}

// ConflictResponse is returned with 409 when an active ticket already exists.
type ConflictResponse struct {
	Message  string `json:"message"`
	TicketID string `json:"ticketId"`
}

// httpError maps an error onto the status code of its kind.
func httpError(err error) error {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case apperr.KindConflict:
		if id := apperr.ExistingID(err); id != "" {
			return echo.NewHTTPError(http.StatusConflict, ConflictResponse{Message: err.Error(), TicketID: id})
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case apperr.KindInvalidState:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case apperr.KindInvalidPayload, apperr.KindConfiguration:
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case apperr.KindChannelUnavailable:
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// requireTenant reads the tenant header.
func requireTenant(c echo.Context) (string, error) {
	tenantID := strings.TrimSpace(c.Request().Header.Get(TenantHeader))
	if tenantID == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, TenantHeader+" header is required")
	}
	return tenantID, nil
}

func requireParam(c echo.Context, name string) (string, error) {
	value := strings.TrimSpace(c.Param(name))
	if value == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, name+" is required")
	}
	return value, nil
}
