package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/plannerd/internal/engine/faults"
)

// httpError maps an engine error onto a transport status. The faults
// taxonomy carries the intent: rejected input (including unknown IDs)
// is 400, a consumed or expired confirmation token is 410, divergent
// state needing user resolution is 409, and an exhausted external
// collaborator is 503. Anything outside the taxonomy stays opaque.
func httpError(err error) *echo.HTTPError {
	switch {
	case faults.IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case faults.IsStaleToken(err):
		return echo.NewHTTPError(http.StatusGone, err.Error())
	case faults.IsConflict(err):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case faults.IsUnavailable(err):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// notFound is the 404 for store lookups that came back empty.
func notFound(what, id string) *echo.HTTPError {
	return echo.NewHTTPError(http.StatusNotFound, what+" "+id+" not found")
}
