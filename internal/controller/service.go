package controller

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/tabreuse/internal/canon"
	"github.com/dgnsrekt/tabreuse/internal/cdp"
	"github.com/dgnsrekt/tabreuse/internal/cdpcontrol"
	"github.com/dgnsrekt/tabreuse/internal/config"
	"github.com/dgnsrekt/tabreuse/internal/reuse"
	"github.com/dgnsrekt/tabreuse/internal/storage"
	"github.com/dgnsrekt/tabreuse/internal/types"
	"github.com/dgnsrekt/tabreuse/internal/urlflags"
	"github.com/dgnsrekt/tabreuse/internal/wildcard"
)

// Browser is the part of the CDP client the service needs beyond reuse.Host.
type Browser interface {
	ListTabs(ctx context.Context) ([]types.Tab, error)
	CreateTab(ctx context.Context, url string) (types.Tab, error)
}

// HealthProbe runs an out-of-band browser check.
type HealthProbe interface {
	Check(ctx context.Context) (cdp.ProbeResult, error)
}

// Settings are the file locations the service reads on demand.
type Settings struct {
	OptionsPath string
	HistoryDir  string
}

// Service exposes reuse operations to the API and CLI.
type Service struct {
	browser  Browser
	coord    *reuse.Coordinator
	probe    HealthProbe
	settings Settings
	options  atomic.Pointer[config.Options]
	now      func() time.Time
}

func NewService(browser Browser, coord *reuse.Coordinator, probe HealthProbe, opts *config.Options, settings Settings) *Service {
	s := &Service{browser: browser, coord: coord, probe: probe, settings: settings, now: time.Now}
	if opts == nil {
		opts = config.DefaultOptions()
	}
	s.options.Store(opts)
	return s
}

func validation(msg string) error {
	return &cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: msg}
}

func (s *Service) requireURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", validation("url is required")
	}
	if _, ok := urlflags.Parse(raw); !ok {
		return "", validation("url must be absolute: " + raw)
	}
	return raw, nil
}

func (s *Service) ListTabs(ctx context.Context) ([]types.Tab, error) {
	return s.browser.ListTabs(ctx)
}

// OpenResult reports a tab opened through the API.
type OpenResult struct {
	Tab     types.Tab      `json:"tab"`
	Handled bool           `json:"handled"`
	Outcome *reuse.Outcome `json:"outcome,omitempty"`
}

// Open creates a tab at raw and runs it through the coordinator, as if the
// browser had opened the link itself. Handled is false for a plain URL or
// when the tab watcher got to the new tab first.
func (s *Service) Open(ctx context.Context, raw string) (OpenResult, error) {
	raw, err := s.requireURL(raw)
	if err != nil {
		return OpenResult{}, err
	}
	tab, err := s.browser.CreateTab(ctx, raw)
	if err != nil {
		return OpenResult{}, err
	}
	res := OpenResult{Tab: tab}
	if out, ok := s.coord.Handle(ctx, tab.ID, raw); ok {
		res.Handled = true
		res.Outcome = &out
	}
	slog.Info("controller open", "tab_id", tab.ID, "handled", res.Handled)
	return res, nil
}

// Resolve is a dry run of the coordinator against the live tabs.
func (s *Service) Resolve(ctx context.Context, raw string) (reuse.Preview, error) {
	raw, err := s.requireURL(raw)
	if err != nil {
		return reuse.Preview{}, err
	}
	return s.coord.Preview(ctx, raw)
}

// CanonResult breaks a URL down the way the matcher sees it.
type CanonResult struct {
	URL           string            `json:"url"`
	CleanURL      string            `json:"clean_url"`
	Canonical     string            `json:"canonical"`
	Domain        string            `json:"domain,omitempty"`
	Root          bool              `json:"root"`
	Activating    bool              `json:"activating"`
	Reuse         bool              `json:"reuse"`
	Command       *urlflags.Command `json:"command,omitempty"`
	CommandError  string            `json:"command_error,omitempty"`
	ClosePatterns []string          `json:"close_patterns,omitempty"`
}

// Canonicalize never fails on odd input; unparsable URLs come back as-is.
func (s *Service) Canonicalize(raw string) (CanonResult, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return CanonResult{}, validation("url is required")
	}
	clean := urlflags.StripControlFlags(raw)
	res := CanonResult{
		URL:           raw,
		CleanURL:      clean,
		Canonical:     canon.Canonicalize(clean),
		Root:          canon.IsRootURL(clean),
		Activating:    urlflags.IsActivating(raw),
		Reuse:         urlflags.HasReuseFlag(raw),
		ClosePatterns: urlflags.ExtractClosePatterns(raw),
	}
	res.Domain, _ = canon.Domain(clean)
	if v, ok := urlflags.ExtractRunCommand(raw); ok {
		cmd := urlflags.ParseCommand(v)
		if !cmd.IsZero() {
			res.Command = &cmd
			if err := cmd.Validate(); err != nil {
				res.CommandError = err.Error()
			}
		}
	}
	return res, nil
}

// MatchResult is the wildcard verdict for one URL.
type MatchResult struct {
	URL      string   `json:"url"`
	Patterns []string `json:"patterns"`
	Source   string   `json:"source"`
	Matched  bool     `json:"matched"`
	Pattern  string   `json:"pattern,omitempty"`
	Blocked  bool     `json:"blocked"`
}

// Match checks raw against patterns, or against the configured block
// patterns when none are given. Blocked applies the key-blocking switches
// to ev.
func (s *Service) Match(raw string, patterns []string, ev config.KeyEvent) (MatchResult, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return MatchResult{}, validation("url is required")
	}
	opts := *s.Options()
	res := MatchResult{URL: raw, Source: "request"}
	if len(patterns) == 0 {
		patterns = opts.BlockPatterns
		res.Source = "options"
	} else {
		patterns = wildcard.LinesToPatterns(strings.Join(patterns, "\n"))
	}
	res.Patterns = append([]string{}, patterns...)
	res.Pattern, res.Matched = wildcard.FirstMatch(patterns, raw)

	opts.BlockPatterns = patterns
	res.Blocked, _ = opts.ShouldBlock(raw, ev)
	return res, nil
}

func (s *Service) Options() *config.Options {
	return s.options.Load()
}

// ReloadOptions re-reads the options file. On error the previous options
// stay in effect.
func (s *Service) ReloadOptions() (*config.Options, error) {
	opts, err := config.LoadOptions(s.settings.OptionsPath)
	if err != nil {
		return nil, validation(err.Error())
	}
	s.options.Store(opts)
	slog.Info("controller options reloaded", "path", s.settings.OptionsPath, "block_patterns", len(opts.BlockPatterns))
	return opts, nil
}

// History returns recorded outcomes for date (YYYY-MM-DD, default today in
// UTC), newest first.
func (s *Service) History(date string, limit int) ([]reuse.Outcome, error) {
	if s.settings.HistoryDir == "" {
		return nil, &cdpcontrol.CodedError{Code: cdpcontrol.CodeUnsupported, Message: "history is disabled"}
	}
	date = strings.TrimSpace(date)
	if date == "" {
		date = s.now().UTC().Format("2006-01-02")
	}
	out, err := storage.ReadHistory(s.settings.HistoryDir, date, limit)
	if err != nil {
		return nil, validation(err.Error())
	}
	return out, nil
}

// DeepHealth reports the live connection and an independent probe.
type DeepHealth struct {
	OK       bool            `json:"ok"`
	Tabs     int             `json:"tabs"`
	TabError string          `json:"tab_error,omitempty"`
	InFlight int             `json:"in_flight"`
	Probe    cdp.ProbeResult `json:"probe"`
}

func (s *Service) DeepHealth(ctx context.Context) (DeepHealth, error) {
	var res DeepHealth
	if tabs, err := s.browser.ListTabs(ctx); err != nil {
		res.TabError = err.Error()
	} else {
		res.Tabs = len(tabs)
	}
	res.InFlight = s.coord.Guard().Active()
	if s.probe != nil {
		res.Probe, _ = s.probe.Check(ctx)
	}
	res.OK = res.TabError == "" && (s.probe == nil || res.Probe.OK)
	return res, nil
}
