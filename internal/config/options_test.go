package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOptions(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "options.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadOptionsMissingFile(t *testing.T) {
	opts, err := LoadOptions(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions(), opts)

	opts, err = LoadOptions("")
	require.NoError(t, err)
	assert.Equal(t, DefaultOptions(), opts)
}

func TestLoadOptionsList(t *testing.T) {
	path := writeOptions(t, `
block_patterns:
  - "https://mail.example.com/*"
  - "  "
  - "*.slack.com/*"
block_when_meta: false
`)
	opts, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, PatternList{"https://mail.example.com/*", "*.slack.com/*"}, opts.BlockPatterns)
	assert.False(t, opts.BlockWhenMeta)
	assert.True(t, opts.AllowInEditable, "unset keys keep their defaults")
}

func TestLoadOptionsText(t *testing.T) {
	path := writeOptions(t, "block_patterns: |\n  # work\n  https://jira.example.com/*\n\n  github.com/*\n")
	opts, err := LoadOptions(path)
	require.NoError(t, err)
	assert.Equal(t, PatternList{"# work", "https://jira.example.com/*", "github.com/*"}, opts.BlockPatterns)
}

func TestLoadOptionsErrors(t *testing.T) {
	_, err := LoadOptions(writeOptions(t, "block_patterns: {a: b}\n"))
	assert.Error(t, err)

	_, err = LoadOptions(writeOptions(t, "block_patterns: [\n"))
	assert.Error(t, err)
}

func TestShouldBlock(t *testing.T) {
	opts := &Options{
		BlockPatterns:   PatternList{"# comment", "mail.example.com/*"},
		AllowInEditable: true,
		BlockWhenMeta:   true,
	}
	tests := []struct {
		name        string
		url         string
		ev          KeyEvent
		want        bool
		wantPattern string
	}{
		{"no pattern", "https://other.org/", KeyEvent{Meta: true}, false, ""},
		{"meta required", "https://mail.example.com/inbox", KeyEvent{}, false, "mail.example.com/*"},
		{"meta blocks", "https://mail.example.com/inbox", KeyEvent{Meta: true}, true, "mail.example.com/*"},
		{"editable allowed", "https://mail.example.com/inbox", KeyEvent{Meta: true, Editable: true}, false, "mail.example.com/*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, pattern := opts.ShouldBlock(tt.url, tt.ev)
			if got != tt.want || pattern != tt.wantPattern {
				t.Fatalf("ShouldBlock(%q, %+v) = %v, %q; want %v, %q", tt.url, tt.ev, got, pattern, tt.want, tt.wantPattern)
			}
		})
	}

	opts.BlockWhenMeta = false
	opts.AllowInEditable = false
	if got, _ := opts.ShouldBlock("https://mail.example.com/", KeyEvent{Editable: true}); !got {
		t.Fatal("ShouldBlock() = false; want true with both switches off")
	}
}
