// Package wildcard matches URLs against glob patterns where '*' stands for
// any run of characters and everything else is literal.
package wildcard

import (
	"regexp"
	"strings"
	"sync"
)

var schemePrefix = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

// Matcher is a compiled pattern.
type Matcher struct {
	pattern string
	re      *regexp.Regexp
	// schemeless patterns are also tried against the URL without its scheme.
	schemeless bool
}

// Compile turns pattern into an anchored matcher.
func Compile(pattern string) (*Matcher, error) {
	expr := strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*")
	re, err := regexp.Compile("^" + expr + "$")
	if err != nil {
		return nil, err
	}
	return &Matcher{
		pattern:    pattern,
		re:         re,
		schemeless: !strings.Contains(pattern, "://"),
	}, nil
}

// Pattern returns the source pattern.
func (m *Matcher) Pattern() string { return m.pattern }

// Match reports whether url matches the whole pattern.
func (m *Matcher) Match(url string) bool {
	if m.re.MatchString(url) {
		return true
	}
	if m.schemeless {
		if stripped := StripScheme(url); stripped != url {
			return m.re.MatchString(stripped)
		}
	}
	return false
}

// StripScheme removes a leading "scheme://" from url.
func StripScheme(url string) string {
	return schemePrefix.ReplaceAllString(url, "")
}

// maxCachedPatterns bounds the matcher cache. Patterns arrive in request
// URLs, so once the cache is full new ones are compiled per call.
const maxCachedPatterns = 256

var cache = struct {
	sync.Mutex
	m map[string]*Matcher
}{m: make(map[string]*Matcher)}

func cached(pattern string) (*Matcher, bool) {
	cache.Lock()
	defer cache.Unlock()
	if m, ok := cache.m[pattern]; ok {
		return m, true
	}
	m, err := Compile(pattern)
	if err != nil {
		return nil, false
	}
	if len(cache.m) < maxCachedPatterns {
		cache.m[pattern] = m
	}
	return m, true
}

// IsComment reports whether a pattern line is ignored: blank or starting
// with '#'.
func IsComment(pattern string) bool {
	p := strings.TrimSpace(pattern)
	return p == "" || strings.HasPrefix(p, "#")
}

// Matches reports whether url matches pattern. Empty and comment patterns
// never match.
func Matches(pattern, url string) bool {
	if IsComment(pattern) {
		return false
	}
	m, ok := cached(strings.TrimSpace(pattern))
	if !ok {
		return false
	}
	return m.Match(url)
}

// MatchesAny reports whether url matches at least one of patterns.
func MatchesAny(patterns []string, url string) bool {
	for _, p := range patterns {
		if Matches(p, url) {
			return true
		}
	}
	return false
}

// FirstMatch returns the first pattern that matches url.
func FirstMatch(patterns []string, url string) (string, bool) {
	for _, p := range patterns {
		if Matches(p, url) {
			return strings.TrimSpace(p), true
		}
	}
	return "", false
}

// LinesToPatterns splits newline-separated text into trimmed, non-empty
// pattern lines. Comment lines are kept so they round-trip through an
// options file.
func LinesToPatterns(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
