// Package urlflags extracts and strips the control parameters that ride along
// on an incoming URL as reserved query keys.
package urlflags

import (
	"net/url"
	"strings"
)

// Reserved query keys. They must not collide with application parameters.
const (
	ReuseKey      = "__reuse_tab"
	RunCommandKey = "__run_js"
	CloseKey      = "__close_tabs"
)

// Param is one decoded key/value pair of a query string, in original order.
type Param struct {
	Key   string
	Value string
	Raw   string // the undecoded "k=v" segment
}

// IsControlKey reports whether key is one of the reserved flag keys.
func IsControlKey(key string) bool {
	switch key {
	case ReuseKey, RunCommandKey, CloseKey:
		return true
	}
	return false
}

// Parse parses an absolute URL. ok is false when raw is not parseable or has
// no scheme; callers treat that as "not matchable". raw is taken as is:
// whitespace is part of the URL, so trimming belongs to the caller.
func Parse(raw string) (*url.URL, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return nil, false
	}
	return u, true
}

// ParseQuery splits a raw query string into decoded pairs using form
// semantics ('+' is a space). Segments that fail to decode keep their raw
// text, matching how browsers treat stray '%' characters.
func ParseQuery(rawQuery string) []Param {
	if rawQuery == "" {
		return nil
	}
	segments := strings.Split(rawQuery, "&")
	params := make([]Param, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		k, v, _ := strings.Cut(seg, "=")
		params = append(params, Param{Key: decode(k), Value: decode(v), Raw: seg})
	}
	return params
}

func decode(s string) string {
	if d, err := url.QueryUnescape(s); err == nil {
		return d
	}
	return strings.ReplaceAll(s, "+", " ")
}

func params(raw string) ([]Param, bool) {
	u, ok := Parse(raw)
	if !ok {
		return nil, false
	}
	return ParseQuery(u.RawQuery), true
}

func has(raw, key string) bool {
	ps, ok := params(raw)
	if !ok {
		return false
	}
	for _, p := range ps {
		if p.Key == key {
			return true
		}
	}
	return false
}

// HasReuseFlag reports whether raw carries the reuse key.
func HasReuseFlag(raw string) bool { return has(raw, ReuseKey) }

// HasCloseFlag reports whether raw carries the close-patterns key.
func HasCloseFlag(raw string) bool { return has(raw, CloseKey) }

// IsActivating reports whether raw should enter the reuse engine at all:
// it carries the reuse flag or at least one close pattern.
func IsActivating(raw string) bool {
	return HasReuseFlag(raw) || len(ExtractClosePatterns(raw)) > 0
}

// ExtractClosePatterns returns the close-patterns values split into
// individual patterns, in order of appearance. Repeated keys are concatenated.
func ExtractClosePatterns(raw string) []string {
	ps, ok := params(raw)
	if !ok {
		return nil
	}
	var out []string
	for _, p := range ps {
		if p.Key != CloseKey {
			continue
		}
		for _, line := range strings.Split(p.Value, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				out = append(out, line)
			}
		}
	}
	return out
}

// ExtractRunCommand returns the raw (unsplit) value of the first run-command
// key.
func ExtractRunCommand(raw string) (string, bool) {
	ps, ok := params(raw)
	if !ok {
		return "", false
	}
	for _, p := range ps {
		if p.Key == RunCommandKey {
			return p.Value, true
		}
	}
	return "", false
}

// StripControlFlags removes the reserved keys from raw. Every other segment of
// the URL, including the encoding and order of the remaining parameters and
// the fragment, is left exactly as it was. Unparseable input is returned
// unchanged.
func StripControlFlags(raw string) string {
	if _, ok := Parse(raw); !ok {
		return raw
	}

	base, frag, hasFrag := strings.Cut(raw, "#")
	prefix, query, hasQuery := strings.Cut(base, "?")
	if !hasQuery {
		return raw
	}

	kept := make([]string, 0, 4)
	for _, p := range ParseQuery(query) {
		if IsControlKey(p.Key) {
			continue
		}
		kept = append(kept, p.Raw)
	}

	out := prefix
	if len(kept) > 0 {
		out += "?" + strings.Join(kept, "&")
	}
	if hasFrag {
		out += "#" + frag
	}
	return out
}
