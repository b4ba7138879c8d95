package wildcard

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		pattern string
		url     string
		want    bool
	}{
		{"https://old.example.com/*", "https://old.example.com/a/b", true},
		{"https://old.example.com/*", "https://old.example.com/", true},
		{"https://old.example.com/*", "https://new.example.com/a", false},
		{"https://old.example.com/*", "http://old.example.com/a", false},
		{"old.example.com/*", "https://old.example.com/a", true},
		{"old.example.com/*", "chrome-extension://old.example.com/a", true},
		{"*.internal/*", "http://wiki.internal/page", true},
		{"example.com", "https://example.com/", false},
		{"*mail*", "https://mail.google.com/u/0", true},
		{"https://a.com/?q=(x)", "https://a.com/?q=(x)", true},
		{"https://a.com/?q=(x)", "https://a.com/?q=x", false},
		{"https://a.com/a.b", "https://a.com/aXb", false},
		{"", "https://a.com", false},
		{"   ", "https://a.com", false},
		{"#https://a.com/*", "https://a.com/x", false},
		{"  https://a.com/*  ", "https://a.com/x", true},
	}
	for _, tt := range tests {
		if got := Matches(tt.pattern, tt.url); got != tt.want {
			t.Fatalf("Matches(%q, %q) = %v; want %v", tt.pattern, tt.url, got, tt.want)
		}
	}
}

func TestCompileAnchorsWholeString(t *testing.T) {
	m, err := Compile("example.com/app")
	require.NoError(t, err)
	assert.True(t, m.Match("example.com/app"))
	assert.True(t, m.Match("https://example.com/app"))
	assert.False(t, m.Match("https://example.com/app/more"))
	assert.False(t, m.Match("xexample.com/app"))
	assert.Equal(t, "example.com/app", m.Pattern())
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "example.com/x", StripScheme("https://example.com/x"))
	assert.Equal(t, "x", StripScheme("svn+ssh://x"))
	assert.Equal(t, "example.com", StripScheme("example.com"))
	assert.Equal(t, "1http://x", StripScheme("1http://x"))
}

func TestMatchesAny(t *testing.T) {
	patterns := []string{"# legacy hosts", "", "https://old.example.com/*", "*.corp/*"}
	assert.True(t, MatchesAny(patterns, "https://old.example.com/x"))
	assert.True(t, MatchesAny(patterns, "http://git.corp/repo"))
	assert.False(t, MatchesAny(patterns, "https://example.com"))
	assert.False(t, MatchesAny(nil, "https://example.com"))

	p, ok := FirstMatch(patterns, "http://git.corp/repo")
	require.True(t, ok)
	assert.Equal(t, "*.corp/*", p)
}

func TestLinesToPatterns(t *testing.T) {
	got := LinesToPatterns("  a.com/*\n\n# note\r\n b.com/* \n")
	assert.Equal(t, []string{"a.com/*", "# note", "b.com/*"}, got)
	assert.Empty(t, LinesToPatterns("\n \n"))
}

func TestMatcherCacheIsBounded(t *testing.T) {
	for i := 0; i < 2*maxCachedPatterns; i++ {
		p := fmt.Sprintf("https://host%d.example/*", i)
		if !Matches(p, fmt.Sprintf("https://host%d.example/page", i)) {
			t.Fatalf("Matches(%q) = false; want true", p)
		}
	}
	cache.Lock()
	n := len(cache.m)
	cache.Unlock()
	if n > maxCachedPatterns {
		t.Fatalf("len(cache) = %d; want <= %d", n, maxCachedPatterns)
	}
	// Patterns past the cap still match.
	assert.True(t, Matches("https://overflow.example/*", "https://overflow.example/x"))
}
