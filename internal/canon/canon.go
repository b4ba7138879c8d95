// Package canon builds the comparison key that decides whether two URLs point
// at the same navigable target.
package canon

import (
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/dgnsrekt/tabreuse/internal/urlflags"
)

// Parsed is a URL broken into the parts the matcher compares.
type Parsed struct {
	Scheme   string
	Host     string // lower-cased, leading "www." removed, default port dropped
	Path     string // escaped, trailing slashes collapsed; root is ""
	RawQuery string
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
}

// Parse splits raw into comparable parts. ok is false for relative, opaque
// (about:blank, mailto:) or malformed input.
func Parse(raw string) (Parsed, bool) {
	u, ok := urlflags.Parse(raw)
	if !ok || u.Opaque != "" {
		return Parsed{}, false
	}
	return Parsed{
		Scheme:   u.Scheme,
		Host:     hostKey(u),
		Path:     collapsePath(u.Path),
		RawQuery: u.RawQuery,
	}, true
}

// NormalizeHost lower-cases host and strips a single leading "www." label.
func NormalizeHost(host string) string {
	h := strings.ToLower(host)
	if strings.HasPrefix(h, "www.") && len(h) > len("www.") {
		h = h[len("www."):]
	}
	return h
}

func hostKey(u *url.URL) string {
	host := NormalizeHost(u.Hostname())
	port := u.Port()
	if port == "" || defaultPorts[u.Scheme] == port {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, port)
}

func collapsePath(p string) string {
	p = strings.TrimRight(p, "/")
	return (&url.URL{Path: p}).EscapedPath()
}

// Domain returns the normalized host of raw.
func Domain(raw string) (string, bool) {
	p, ok := Parse(raw)
	if !ok {
		return "", false
	}
	return p.Host, true
}

// Canonicalize returns the equivalence key for raw. Host case, a leading
// "www.", trailing slashes, control flags, percent-encoding variants and the
// order of query keys do not affect the result. Path case is kept. Input that
// cannot be parsed comes back unchanged.
func Canonicalize(raw string) string {
	p, ok := Parse(raw)
	if !ok {
		return raw
	}

	var b strings.Builder
	b.WriteString(p.Scheme)
	b.WriteString("://")
	b.WriteString(p.Host)
	b.WriteString(p.Path)
	if q := canonicalQuery(p.RawQuery); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String()
}

func canonicalQuery(rawQuery string) string {
	params := urlflags.ParseQuery(rawQuery)
	kept := params[:0]
	for _, p := range params {
		if urlflags.IsControlKey(p.Key) {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return ""
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Key < kept[j].Key })

	parts := make([]string, len(kept))
	for i, p := range kept {
		parts[i] = url.QueryEscape(p.Key) + "=" + url.QueryEscape(p.Value)
	}
	return strings.Join(parts, "&")
}

// IsRootURL reports whether raw has an empty or "/" path and no query.
func IsRootURL(raw string) bool {
	p, ok := Parse(raw)
	if !ok {
		return false
	}
	return p.Path == "" && p.RawQuery == ""
}

// IsPathPrefix reports whether tab sits strictly below shortcut on the same
// host: "/app" covers "/app/page" but neither "/app" nor "/application".
// A shortcut carrying a query, or pointing at the root, never acts as a prefix.
func IsPathPrefix(shortcut, tab string) bool {
	s, ok := Parse(shortcut)
	if !ok {
		return false
	}
	t, ok := Parse(tab)
	if !ok {
		return false
	}
	if s.Host != t.Host || s.RawQuery != "" || s.Path == "" {
		return false
	}
	if !strings.HasPrefix(t.Path, s.Path) || len(t.Path) == len(s.Path) {
		return false
	}
	return t.Path[len(s.Path)] == '/'
}
