package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/aep/docbase/apierr"
)

// HTTPErrorHandler translates apierr.Error and echo.HTTPError into
// their HTTP status codes, collapsing what would otherwise be scattered
// echo.NewHTTPError calls into one place.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var ae *apierr.Error
	var he *echo.HTTPError

	var status int
	var message interface{}

	switch {
	case errors.As(err, &ae):
		status = ae.Kind.StatusCode()
		message = map[string]string{"error": ae.Message}
	case errors.As(err, &he):
		status = he.Code
		message = map[string]interface{}{"error": he.Message}
	default:
		status = http.StatusInternalServerError
		message = map[string]string{"error": "internal error"}
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, message)
}
