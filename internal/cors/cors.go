// Package cors defines the permissive cross-origin policy the proxy injects
// into every response.
package cors

import (
	"net/http"
	"strings"

	"cors-proxy-go/internal/config"
)

// Header names set by Policy.Apply.
const (
	HeaderAllowOrigin  = "Access-Control-Allow-Origin"
	HeaderAllowMethods = "Access-Control-Allow-Methods"
	HeaderAllowHeaders = "Access-Control-Allow-Headers"
)

// Policy is the fixed set of CORS header values.
type Policy struct {
	AllowOrigin  string
	AllowMethods string
	AllowHeaders string
}

// NewPolicy builds a Policy from the CORS config section.
func NewPolicy(cfg *config.Config) Policy {
	return Policy{
		AllowOrigin:  cfg.CORS.AllowOrigin,
		AllowMethods: strings.Join(cfg.CORS.AllowMethods, ", "),
		AllowHeaders: strings.Join(cfg.CORS.AllowHeaders, ", "),
	}
}

// Apply overwrites the CORS headers in h, replacing whatever an upstream sent.
func (p Policy) Apply(h http.Header) {
	h.Set(HeaderAllowOrigin, p.AllowOrigin)
	h.Set(HeaderAllowMethods, p.AllowMethods)
	h.Set(HeaderAllowHeaders, p.AllowHeaders)
}
