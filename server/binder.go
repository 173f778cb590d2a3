package server

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Binder decodes JSON bodies with UseNumber so large version numbers
// and arbitrary document payloads survive the round trip without
// float64 truncation.
type Binder struct {
	defaultBinder *echo.DefaultBinder
}

func (b *Binder) Bind(i interface{}, c echo.Context) error {
	if err := b.defaultBinder.BindPathParams(c, i); err != nil {
		return err
	}

	req := c.Request()
	if req.Method == http.MethodPost || req.Method == http.MethodPut || req.Method == http.MethodPatch || req.Method == http.MethodDelete {
		if req.Header.Get(echo.HeaderContentType) == echo.MIMEApplicationJSON && req.ContentLength != 0 {
			dec := json.NewDecoder(req.Body)
			dec.UseNumber()
			if err := dec.Decode(i); err != nil && err.Error() != "EOF" {
				return echo.NewHTTPError(http.StatusBadRequest, "malformed json body: "+err.Error())
			}
			return nil
		}
	}
	return b.defaultBinder.BindQueryParams(c, i)
}
