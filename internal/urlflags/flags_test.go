package urlflags

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasReuseFlag(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://example.com?__reuse_tab=1", true},
		{"https://example.com?foo=bar&__reuse_tab=1", true},
		{"https://example.com?__reuse_tab", true},
		{"https://example.com", false},
		{"https://example.com?foo=bar", false},
		{"https://brunata.youtrack.cloud/agiles/141-18/current?query=has:%20-%7BSubtask%20of%7D&__reuse_tab=1", true},
		{"not a url", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HasReuseFlag(tt.url), tt.url)
	}
}

func TestHasReuseFlagAnyPosition(t *testing.T) {
	params := []string{"a=1", "b=2", "c=3", "d=4"}
	for pos := 0; pos <= len(params); pos++ {
		all := append([]string{}, params[:pos]...)
		all = append(all, "__reuse_tab=1")
		all = append(all, params[pos:]...)
		url := "https://example.com?" + strings.Join(all, "&")
		if !HasReuseFlag(url) {
			t.Fatalf("HasReuseFlag(%q) = false; want true", url)
		}
	}
}

func TestExtractRunCommand(t *testing.T) {
	got, ok := ExtractRunCommand("https://example.com?__run_js=delete_cookies=weblang&__reuse_tab=1")
	require.True(t, ok)
	assert.Equal(t, "delete_cookies=weblang", got)

	_, ok = ExtractRunCommand("https://example.com?foo=bar")
	assert.False(t, ok)

	_, ok = ExtractRunCommand("::bad")
	assert.False(t, ok)
}

func TestExtractClosePatterns(t *testing.T) {
	url := "https://example.com/app?__reuse_tab=1&__close_tabs=" +
		"https%3A%2F%2Fold.example.com%2F*%0A%23comment%0A%0A++legacy.example.com%2F*++" +
		"&__close_tabs=*.internal/*"
	got := ExtractClosePatterns(url)
	assert.Equal(t, []string{"https://old.example.com/*", "#comment", "legacy.example.com/*", "*.internal/*"}, got)
	assert.True(t, HasCloseFlag(url))
	assert.True(t, IsActivating(url))

	assert.Empty(t, ExtractClosePatterns("https://example.com?x=1"))
	assert.Empty(t, ExtractClosePatterns("%%%"))
}

func TestIsActivating(t *testing.T) {
	assert.True(t, IsActivating("https://example.com?__reuse_tab=1"))
	assert.True(t, IsActivating("https://example.com?__close_tabs=foo*"))
	assert.False(t, IsActivating("https://example.com?__close_tabs="))
	assert.False(t, IsActivating("https://example.com?__run_js=copy_cookies"))
	assert.False(t, IsActivating("about:blank"))
}

func TestStripControlFlags(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"reuse only", "https://example.com/app?__reuse_tab=1", "https://example.com/app"},
		{"keeps others in order", "https://example.com?foo=bar&__reuse_tab=1&b=%20x", "https://example.com?foo=bar&b=%20x"},
		{"run js", "https://example.com?foo=bar&__run_js=test", "https://example.com?foo=bar"},
		{"close", "https://example.com/p?__close_tabs=a*&z=1#frag", "https://example.com/p?z=1#frag"},
		{"all flags", "https://example.com/?__reuse_tab=1&__run_js=copy_cookies&__close_tabs=x", "https://example.com/"},
		{"no query", "https://example.com/path", "https://example.com/path"},
		{"unparseable", "not a url", "not a url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripControlFlags(tt.in); got != tt.want {
				t.Fatalf("StripControlFlags(%q) = %q; want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseQueryDecodesFormEncoding(t *testing.T) {
	got := ParseQuery("q=hello+world&x=%7Bt%7D&bad=%zz&&flag")
	require.Len(t, got, 4)
	assert.Equal(t, "hello world", got[0].Value)
	assert.Equal(t, "{t}", got[1].Value)
	assert.Equal(t, "%zz", got[2].Value)
	assert.Equal(t, "flag", got[3].Key)
	assert.Equal(t, "", got[3].Value)
}

func TestParseKeepsWhitespace(t *testing.T) {
	u, ok := Parse("https://example.com/a ")
	if !ok {
		t.Fatalf("Parse() ok = false; want true")
	}
	assert.Equal(t, "/a ", u.Path)

	u, ok = Parse("https://example.com/p?q=a ")
	require.True(t, ok)
	assert.Equal(t, "q=a ", u.RawQuery)

	if _, ok := Parse(" https://example.com"); ok {
		t.Fatalf("Parse() with leading space ok = true; want false")
	}
}
