package handler

import (
	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/config"
)

// RegisterRoutes wires all route handlers onto the Echo instance. Every path
// not claimed by a local endpoint goes to the proxy, which answers 404 itself
// when no route matches.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler) {
	e.GET(config.HealthPath, health.Health)
	e.GET(config.StatusPath, health.Status)

	e.Any("/", proxy.Handle)
	e.Any("/*", proxy.Handle)
}
