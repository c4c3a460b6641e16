// Package route holds the immutable, ordered table of forwarding rules.
//
// A Table is built once from configuration and is safe for concurrent use
// without locking: nothing mutates it after NewTable returns.
package route

import (
	"fmt"
	"net/url"
	"strings"

	"cors-proxy-go/internal/config"
)

// Mode selects how a rule rewrites the inbound path.
type Mode string

const (
	// Strip removes the matched prefix: /api/users -> /users.
	Strip Mode = config.RewriteStrip
	// Keep forwards the path unchanged: /whatsapp/send -> /whatsapp/send.
	Keep Mode = config.RewriteKeep
	// Replace substitutes the prefix: /legacy/x -> /v1/x.
	Replace Mode = config.RewriteReplace
)

// Rule maps a path prefix to an upstream origin.
type Rule struct {
	Name        string
	Prefix      string
	Target      *url.URL
	Mode        Mode
	Replacement string
}

// Matches reports whether path falls under the rule's prefix on a segment
// boundary: /api matches /api and /api/x but not /apix.
func (r *Rule) Matches(path string) bool {
	return path == r.Prefix || strings.HasPrefix(path, r.Prefix+"/")
}

// Rewrite returns the upstream path for an inbound path the rule matches.
// It works on escaped paths and leaves percent-encoding untouched.
func (r *Rule) Rewrite(path string) string {
	rest := strings.TrimPrefix(path, r.Prefix)

	var out string
	switch r.Mode {
	case Strip:
		out = rest
	case Replace:
		out = strings.TrimSuffix(r.Replacement, "/") + rest
	default:
		out = path
	}

	if out == "" {
		return "/"
	}
	return out
}

// UpstreamURL resolves the full upstream URL for an escaped inbound path and
// raw query string. Both are carried over byte-for-byte, so an encoded slash
// stays encoded.
func (r *Rule) UpstreamURL(escapedPath, rawQuery string) string {
	u := *r.Target
	p := joinPath(r.Target.EscapedPath(), r.Rewrite(escapedPath))
	if unescaped, err := url.PathUnescape(p); err == nil {
		u.Path = unescaped
		u.RawPath = p
	} else {
		u.Path = p
		u.RawPath = ""
	}
	u.RawQuery = rawQuery
	return u.String()
}

// Origin returns scheme://host[/base] of the upstream.
func (r *Rule) Origin() string {
	return r.Target.String()
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	base = strings.TrimSuffix(base, "/")
	if p == "/" {
		return base + "/"
	}
	return base + p
}

// Table is an ordered list of rules; the first matching rule wins.
type Table struct {
	rules []*Rule
}

// NewTable builds a Table from route configs, preserving their order.
// A rule that can never match because an earlier rule's prefix covers it is
// rejected.
func NewTable(routes []config.RouteConfig) (*Table, error) {
	if len(routes) == 0 {
		return nil, fmt.Errorf("route table: no routes configured")
	}

	t := &Table{rules: make([]*Rule, 0, len(routes))}
	for _, rc := range routes {
		target, err := url.Parse(rc.Target)
		if err != nil {
			return nil, fmt.Errorf("route %q: parse target: %w", rc.Name, err)
		}
		if !target.IsAbs() || target.Host == "" {
			return nil, fmt.Errorf("route %q: target %q must be an absolute URL", rc.Name, rc.Target)
		}

		mode := Mode(strings.ToLower(rc.Rewrite))
		switch mode {
		case Strip, Keep, Replace:
		case "":
			mode = Keep
		default:
			return nil, fmt.Errorf("route %q: unknown rewrite mode %q", rc.Name, rc.Rewrite)
		}

		rule := &Rule{
			Name:        rc.Name,
			Prefix:      rc.Prefix,
			Target:      target,
			Mode:        mode,
			Replacement: rc.Replacement,
		}

		for _, prev := range t.rules {
			if prev.Matches(rule.Prefix) {
				return nil, fmt.Errorf("route %q (prefix %q) is shadowed by earlier route %q (prefix %q)",
					rule.Name, rule.Prefix, prev.Name, prev.Prefix)
			}
		}

		t.rules = append(t.rules, rule)
	}
	return t, nil
}

// Match returns the first rule whose prefix matches path. The boolean is
// false when no rule applies; callers must treat that as a terminal miss.
func (t *Table) Match(path string) (*Rule, bool) {
	for _, r := range t.rules {
		if r.Matches(path) {
			return r, true
		}
	}
	return nil, false
}

// Rules returns the rules in match order. The slice is a copy.
func (t *Table) Rules() []*Rule {
	out := make([]*Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Services maps each rule name to its upstream origin.
func (t *Table) Services() map[string]string {
	out := make(map[string]string, len(t.rules))
	for _, r := range t.rules {
		out[r.Name] = r.Origin()
	}
	return out
}
