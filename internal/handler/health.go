package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/route"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	table   *route.Table
	version Version
	now     func() time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(table *route.Table, v Version) *HealthHandler {
	return &HealthHandler{table: table, version: v, now: time.Now}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// Health reports liveness and the upstream origin of every route.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:    "OK",
		Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		Services:  h.table.Services(),
	})
}

type routeStatus struct {
	Name     string `json:"name"`
	Prefix   string `json:"prefix"`
	Upstream string `json:"upstream"`
	Rewrite  string `json:"rewrite"`
}

type statusResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Routes  []routeStatus `json:"routes"`
}

// Status returns the build version and the effective route table in match order.
func (h *HealthHandler) Status(c echo.Context) error {
	rules := h.table.Rules()
	routes := make([]routeStatus, 0, len(rules))
	for _, r := range rules {
		routes = append(routes, routeStatus{
			Name:     r.Name,
			Prefix:   r.Prefix,
			Upstream: r.Origin(),
			Rewrite:  string(r.Mode),
		})
	}

	return c.JSON(http.StatusOK, statusResponse{
		Status:  "ok",
		Version: string(h.version),
		Routes:  routes,
	})
}
