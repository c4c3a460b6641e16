package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"cors-proxy-go/internal/cors"
	"cors-proxy-go/internal/metrics"
	"cors-proxy-go/internal/model"
	"cors-proxy-go/internal/service"
)

// ProxyHandler forwards matched requests to their upstream and streams the
// response back.
type ProxyHandler struct {
	service *service.ProxyService
	policy  cors.Policy
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, policy cors.Policy, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		policy:  policy,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request to the upstream selected by the route table.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.EscapedPath(),
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.Set(metrics.RouteKey, resp.Route)

	out := c.Response().Header()
	for key, vals := range resp.Header {
		out.Del(key)
		for _, v := range vals {
			out.Add(key, v)
		}
	}
	h.policy.Apply(out)

	c.Response().WriteHeader(resp.StatusCode)

	// Status is already on the wire; a failed copy leaves the client with a
	// truncated body.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"route", resp.Route,
			"path", req.URL.Path,
		)
		return nil
	}

	h.logger.Info("request completed",
		"route", resp.Route,
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
	)
	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	req := c.Request()

	if errors.Is(err, service.ErrRouteNotFound) {
		h.logger.Debug("no route", "method", req.Method, "path", req.URL.Path)
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "no route for path",
		})
	}

	// BodyLimit fails the body read mid-stream; the transport surfaces that as
	// an upstream error, but the upstream did nothing wrong.
	var he *echo.HTTPError
	if errors.As(err, &he) {
		h.logger.Debug("request rejected", "err", he, "method", req.Method, "path", req.URL.Path)
		return he
	}

	var ue *service.UpstreamError
	if !errors.As(err, &ue) {
		h.logger.Error("proxy error", "err", err, "path", req.URL.Path)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream request failed",
		})
	}

	c.Set(metrics.RouteKey, ue.Route)
	attrs := []any{
		"err", ue.Err,
		"route", ue.Route,
		"method", req.Method,
		"path", req.URL.Path,
		"upstream", ue.URL,
	}

	switch {
	case ue.Canceled():
		h.logger.Warn("client disconnected", attrs...)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	case ue.Timeout():
		h.logger.Error("upstream timeout", attrs...)
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	default:
		h.logger.Error("upstream unreachable", attrs...)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream unreachable",
		})
	}
}
