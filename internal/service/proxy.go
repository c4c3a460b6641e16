// Package service implements the core proxy forwarding logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"cors-proxy-go/internal/client"
	"cors-proxy-go/internal/model"
	"cors-proxy-go/internal/route"
)

// ErrRouteNotFound is returned when no configured prefix matches the request path.
var ErrRouteNotFound = errors.New("no route for path")

// UpstreamError reports a failed upstream call. It carries the route and the
// resolved upstream URL so callers can log where the request was going.
type UpstreamError struct {
	Route string
	URL   string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("route %s: %s: %v", e.Route, e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Timeout reports whether the upstream call exceeded its deadline.
func (e *UpstreamError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// Canceled reports whether the inbound caller went away before the upstream answered.
func (e *UpstreamError) Canceled() bool {
	return errors.Is(e.Err, context.Canceled)
}

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client *client.UpstreamClient
	table  *route.Table
	logger *slog.Logger
}

// NewProxyService creates a ProxyService over an immutable route table.
func NewProxyService(c *client.UpstreamClient, table *route.Table, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client: c,
		table:  table,
		logger: logger.With("component", "proxy_service"),
	}
}

// Forward resolves the route for a ProxyRequest, sends it upstream and
// returns the response. The caller is responsible for closing the response body.
//
// Errors are either ErrRouteNotFound (wrapped) or *UpstreamError.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	rule, ok := s.table.Match(pr.Path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, pr.Path)
	}

	upstreamURL := rule.UpstreamURL(pr.Path, pr.RawQuery)
	header := filterRequestHeaders(pr.Header)

	s.logger.Info("forwarding request",
		"route", rule.Name,
		"method", pr.Method,
		"path", pr.Path,
		"upstream", upstreamURL,
	)

	resp, err := s.client.DoStream(pr.Ctx, rule.Name, pr.Method, upstreamURL, header, pr.Body, pr.ContentLength)
	if err != nil {
		return nil, &UpstreamError{Route: rule.Name, URL: upstreamURL, Err: err}
	}

	model.StripHopByHop(resp.Header)
	return resp, nil
}

// filterRequestHeaders copies inbound headers for the upstream call. Host is
// dropped so the transport sets it from the upstream URL.
func filterRequestHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	dst.Del("Host")
	model.StripHopByHop(dst)
	return dst
}
