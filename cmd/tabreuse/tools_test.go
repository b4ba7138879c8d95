package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/tabreuse/internal/controller"
	"github.com/dgnsrekt/tabreuse/internal/resolver"
	"github.com/dgnsrekt/tabreuse/internal/reuse"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// Flag values persist on the package-level commands between runs.
	t.Cleanup(func() {
		for _, c := range rootCmd.Commands() {
			resetFlags(c)
		}
	})
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
}

func TestCanonCommand(t *testing.T) {
	out, err := execute(t, "canon", "https://WWW.Example.com:443/a/b/?z=1&a=2#top", "https://example.com/?__reuse_tab=1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "https://example.com/a/b?a=2&z=1", lines[0])
	assert.Equal(t, "https://example.com", lines[1])
}

func TestFlagsCommand(t *testing.T) {
	out, err := execute(t, "flags", "https://example.com/x?__reuse_tab=1&__close_tabs=a.example/*")
	require.NoError(t, err)
	var res controller.CanonResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Reuse)
	assert.True(t, res.Activating)
	assert.Equal(t, "https://example.com/x", res.CleanURL)
	assert.Equal(t, []string{"a.example/*"}, res.ClosePatterns)
}

func TestResolveCommand(t *testing.T) {
	out, err := execute(t, "resolve", "https://example.com/issues?__reuse_tab=1",
		"--tab", "https://other.org/",
		"--tab", "https://example.com/issues/42")
	require.NoError(t, err)
	var p reuse.Preview
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	require.NotNil(t, p.Match)
	assert.Equal(t, "2", p.Match.Tab.ID)
	assert.Equal(t, resolver.TierPathPrefix, p.Match.Tier)
	assert.Equal(t, reuse.ActionFocused, p.Action)
}

func TestMatchCommand(t *testing.T) {
	out, err := execute(t, "match", "https://mail.example.com/inbox", "-p", "mail.example.com/*", "--meta")
	require.NoError(t, err)
	var res controller.MatchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Matched)
	assert.True(t, res.Blocked)
	assert.Equal(t, "request", res.Source)
}

func TestMatchCommandOptionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.yaml")
	require.NoError(t, os.WriteFile(path, []byte("block_patterns: |\n  # work\n  docs.example.com/*\n"), 0o644))

	out, err := execute(t, "match", "https://docs.example.com/page", "--options", path)
	require.NoError(t, err)
	var res controller.MatchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "options", res.Source)
	assert.Equal(t, "docs.example.com/*", res.Pattern)
	assert.False(t, res.Blocked, "meta not held")
}

func TestParseLevel(t *testing.T) {
	if got := parseLevel("debug"); got.String() != "DEBUG" {
		t.Fatalf("parseLevel(debug) = %v; want DEBUG", got)
	}
	if got := parseLevel("nonsense"); got.String() != "INFO" {
		t.Fatalf("parseLevel(nonsense) = %v; want INFO", got)
	}
}
