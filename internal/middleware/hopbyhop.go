package middleware

import (
	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/model"
)

// HopByHop returns an Echo middleware that strips hop-by-hop headers from the
// inbound request before any handler sees it.
func HopByHop() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			model.StripHopByHop(c.Request().Header)
			return next(c)
		}
	}
}
