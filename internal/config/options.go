package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/tabreuse/internal/wildcard"
)

// PatternList holds block patterns. In YAML it is either a list or a single
// block of newline-separated text.
type PatternList []string

func (p *PatternList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var text string
		if err := node.Decode(&text); err != nil {
			return err
		}
		*p = wildcard.LinesToPatterns(text)
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*p = out
	default:
		return fmt.Errorf("block_patterns: line %d: want a list or text", node.Line)
	}
	return nil
}

// Options are the user's key-blocking preferences.
type Options struct {
	BlockPatterns   PatternList `yaml:"block_patterns" json:"block_patterns"`
	AllowInEditable bool        `yaml:"allow_in_editable" json:"allow_in_editable"`
	BlockWhenMeta   bool        `yaml:"block_when_meta" json:"block_when_meta"`
}

func DefaultOptions() *Options {
	return &Options{
		BlockPatterns:   PatternList{},
		AllowInEditable: true,
		BlockWhenMeta:   true,
	}
}

// KeyEvent is the part of a keydown that the blocking decision looks at.
type KeyEvent struct {
	Meta     bool `json:"meta"`
	Editable bool `json:"editable"`
}

// ShouldBlock reports whether a keydown on a page at url would be swallowed,
// and the pattern that matched the page.
func (o *Options) ShouldBlock(url string, ev KeyEvent) (bool, string) {
	pattern, ok := wildcard.FirstMatch(o.BlockPatterns, url)
	if !ok {
		return false, ""
	}
	if o.BlockWhenMeta && !ev.Meta {
		return false, pattern
	}
	if o.AllowInEditable && ev.Editable {
		return false, pattern
	}
	return true, pattern
}

// LoadOptions reads an options YAML file. Keys left out keep their defaults,
// and a missing file yields the defaults.
func LoadOptions(path string) (*Options, error) {
	opts := DefaultOptions()
	if path == "" {
		return opts, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return opts, nil
	}
	if err != nil {
		return nil, fmt.Errorf("options config: %w", err)
	}
	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("options config: %w", err)
	}
	if opts.BlockPatterns == nil {
		opts.BlockPatterns = PatternList{}
	}
	return opts, nil
}
