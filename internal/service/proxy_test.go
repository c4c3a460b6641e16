package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"cors-proxy-go/internal/client"
	"cors-proxy-go/internal/config"
	"cors-proxy-go/internal/model"
	"cors-proxy-go/internal/route"
)

func newTestService(t *testing.T, routes []config.RouteConfig) *ProxyService {
	t.Helper()
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	table, err := route.NewTable(routes)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return NewProxyService(client.NewUpstreamClient(cfg, logger, nil), table, logger)
}

func TestFilterRequestHeaders(t *testing.T) {
	src := http.Header{
		"Accept":          {"application/json"},
		"Content-Type":    {"application/json"},
		"Authorization":   {"Bearer secret"},
		"Origin":          {"http://localhost:8080"},
		"Host":            {"localhost:3001"},
		"Connection":      {"keep-alive"},
		"Keep-Alive":      {"timeout=5"},
		"X-Custom-Header": {"forwarded"},
	}

	dst := filterRequestHeaders(src)

	tests := []struct {
		name    string
		key     string
		wantLen int
	}{
		{"Accept forwarded", "Accept", 1},
		{"Content-Type forwarded", "Content-Type", 1},
		{"Authorization forwarded", "Authorization", 1},
		{"Origin forwarded", "Origin", 1},
		{"custom header forwarded", "X-Custom-Header", 1},
		{"Host dropped", "Host", 0},
		{"Connection stripped", "Connection", 0},
		{"Keep-Alive stripped", "Keep-Alive", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(dst.Values(tt.key)); got != tt.wantLen {
				t.Errorf("header %q: got %d values, want %d", tt.key, got, tt.wantLen)
			}
		})
	}

	if src.Get("Connection") == "" {
		t.Error("filterRequestHeaders must not modify the inbound header map")
	}
}

func TestFilterRequestHeaders_Nil(t *testing.T) {
	if dst := filterRequestHeaders(nil); dst == nil {
		t.Error("filterRequestHeaders(nil) = nil, want empty header")
	}
}

func TestForward_RewritesPerRoute(t *testing.T) {
	type seen struct {
		method, path, query, body, host string
	}
	var mu sync.Mutex
	var got seen
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = seen{r.Method, r.URL.Path, r.URL.RawQuery, string(b), r.Host}
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	svc := newTestService(t, []config.RouteConfig{
		{Name: "api", Prefix: "/api", Target: upstream.URL, Rewrite: "strip"},
		{Name: "whatsapp", Prefix: "/whatsapp", Target: upstream.URL, Rewrite: "keep"},
		{Name: "email", Prefix: "/email", Target: upstream.URL, Rewrite: "strip"},
	})
	upstreamHost := strings.TrimPrefix(upstream.URL, "http://")

	tests := []struct {
		name     string
		method   string
		path     string
		rawQuery string
		body     string
		want     seen
	}{
		{
			name:     "api strips prefix and keeps query",
			method:   http.MethodGet,
			path:     "/api/parking/zones",
			rawQuery: "city=madrid&page=2",
			want:     seen{http.MethodGet, "/parking/zones", "city=madrid&page=2", "", upstreamHost},
		},
		{
			name:   "whatsapp keeps prefix",
			method: http.MethodPost,
			path:   "/whatsapp/send",
			body:   `{"to":"+34600000000"}`,
			want:   seen{http.MethodPost, "/whatsapp/send", "", `{"to":"+34600000000"}`, upstreamHost},
		},
		{
			name:   "email strips prefix",
			method: http.MethodPut,
			path:   "/email/send",
			body:   "subject=hi",
			want:   seen{http.MethodPut, "/send", "", "subject=hi", upstreamHost},
		},
		{
			name:   "bare prefix goes to root",
			method: http.MethodDelete,
			path:   "/api",
			want:   seen{http.MethodDelete, "/", "", "", upstreamHost},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pr := &model.ProxyRequest{
				Ctx:           context.Background(),
				Method:        tt.method,
				Path:          tt.path,
				RawQuery:      tt.rawQuery,
				Header:        http.Header{"Host": {"localhost:3001"}},
				Body:          io.NopCloser(strings.NewReader(tt.body)),
				ContentLength: int64(len(tt.body)),
			}

			resp, err := svc.Forward(pr)
			if err != nil {
				t.Fatalf("Forward() error = %v", err)
			}
			_ = resp.Body.Close()

			mu.Lock()
			defer mu.Unlock()
			if got != tt.want {
				t.Errorf("upstream saw %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestForward_PassesStatusBodyAndHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Set-Cookie", "session=abc")
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"err":"x"}`))
	}))
	defer upstream.Close()

	svc := newTestService(t, []config.RouteConfig{
		{Name: "api", Prefix: "/api", Target: upstream.URL, Rewrite: "strip"},
	})

	resp, err := svc.Forward(&model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Path:   "/api/status",
		Header: http.Header{},
	})
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
	if resp.Route != "api" {
		t.Errorf("Route = %q, want %q", resp.Route, "api")
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"err":"x"}` {
		t.Errorf("body = %q, want %q", body, `{"err":"x"}`)
	}
	if resp.Header.Get("Set-Cookie") != "session=abc" {
		t.Errorf("Set-Cookie = %q, want it passed through", resp.Header.Get("Set-Cookie"))
	}
	if resp.Header.Get("Connection") != "" {
		t.Errorf("Connection = %q, want hop-by-hop header stripped", resp.Header.Get("Connection"))
	}
}

func TestForward_RouteNotFound(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer upstream.Close()

	svc := newTestService(t, []config.RouteConfig{
		{Name: "api", Prefix: "/api", Target: upstream.URL},
	})

	_, err := svc.Forward(&model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Path:   "/nonexistent",
		Header: http.Header{},
	})
	if !errors.Is(err, ErrRouteNotFound) {
		t.Fatalf("Forward() error = %v, want ErrRouteNotFound", err)
	}
	if calls != 0 {
		t.Errorf("upstream calls = %d, want 0", calls)
	}
}

func TestForward_UpstreamUnreachable(t *testing.T) {
	svc := newTestService(t, []config.RouteConfig{
		{Name: "api", Prefix: "/api", Target: "http://127.0.0.1:1", Rewrite: "strip"},
	})

	_, err := svc.Forward(&model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Path:   "/api/x",
		Header: http.Header{},
	})

	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("Forward() error = %v, want *UpstreamError", err)
	}
	if ue.Route != "api" {
		t.Errorf("Route = %q, want %q", ue.Route, "api")
	}
	if ue.URL != "http://127.0.0.1:1/x" {
		t.Errorf("URL = %q, want %q", ue.URL, "http://127.0.0.1:1/x")
	}
	if ue.Timeout() {
		t.Error("Timeout() = true for connection refused")
	}
}

func TestUpstreamError_Classification(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantTimeout  bool
		wantCanceled bool
	}{
		{"deadline", fmt.Errorf("upstream request: %w", context.DeadlineExceeded), true, false},
		{"client timeout", &url.Error{Op: "Get", URL: "http://x", Err: timeoutErr{}}, true, false},
		{"canceled", &url.Error{Op: "Get", URL: "http://x", Err: context.Canceled}, false, true},
		{"dns", &net.DNSError{Err: "no such host", Name: "x"}, false, false},
		{"refused", errors.New("connection refused"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ue := &UpstreamError{Route: "api", URL: "http://x", Err: tt.err}
			if got := ue.Timeout(); got != tt.wantTimeout {
				t.Errorf("Timeout() = %v, want %v", got, tt.wantTimeout)
			}
			if got := ue.Canceled(); got != tt.wantCanceled {
				t.Errorf("Canceled() = %v, want %v", got, tt.wantCanceled)
			}
		})
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "Client.Timeout exceeded while awaiting headers" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
