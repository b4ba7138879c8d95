// Package resolver picks at most one existing tab that should be reused for
// an incoming URL.
package resolver

import (
	"github.com/dgnsrekt/tabreuse/internal/canon"
	"github.com/dgnsrekt/tabreuse/internal/types"
)

// Tier names the rule that produced a match.
type Tier string

const (
	TierExact      Tier = "exact"
	TierPathPrefix Tier = "path_prefix"
	TierRootDomain Tier = "root_domain"
)

// Match is the winning tab and the tier that selected it.
type Match struct {
	Tab  types.Tab `json:"tab"`
	Tier Tier      `json:"tier"`
}

// Resolve runs the tiers in order (exact, path prefix, root domain) and
// returns the first candidate hit by the first tier that has one. Within a
// tier the caller's order decides. A cleanURL that does not parse never
// matches.
func Resolve(cleanURL string, candidates []types.Tab) (Match, bool) {
	target, ok := canon.Parse(cleanURL)
	if !ok {
		return Match{}, false
	}
	key := canon.Canonicalize(cleanURL)

	for _, tab := range candidates {
		if tab.URL == "" {
			continue
		}
		if _, ok := canon.Parse(tab.URL); ok && canon.Canonicalize(tab.URL) == key {
			return Match{Tab: tab, Tier: TierExact}, true
		}
	}

	for _, tab := range candidates {
		if tab.URL != "" && canon.IsPathPrefix(cleanURL, tab.URL) {
			return Match{Tab: tab, Tier: TierPathPrefix}, true
		}
	}

	if target.Path != "" || target.RawQuery != "" {
		return Match{}, false
	}
	for _, tab := range candidates {
		if tab.URL == "" {
			continue
		}
		if host, ok := canon.Domain(tab.URL); ok && host == target.Host {
			return Match{Tab: tab, Tier: TierRootDomain}, true
		}
	}
	return Match{}, false
}

// Without returns tabs minus the one with id.
func Without(tabs []types.Tab, id string) []types.Tab {
	out := make([]types.Tab, 0, len(tabs))
	for _, t := range tabs {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

// LowestIndex returns the smallest tab index in tabs.
func LowestIndex(tabs []types.Tab) (int, bool) {
	if len(tabs) == 0 {
		return 0, false
	}
	lowest := tabs[0].Index
	for _, t := range tabs[1:] {
		if t.Index < lowest {
			lowest = t.Index
		}
	}
	return lowest, true
}
