package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/cors"
)

// CORS returns an Echo middleware that sets the policy headers on every
// response and answers OPTIONS locally with 200 and an empty body.
func CORS(policy cors.Policy) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			policy.Apply(c.Response().Header())

			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusOK)
			}
			return next(c)
		}
	}
}
