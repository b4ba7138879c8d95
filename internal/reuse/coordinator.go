// Package reuse decides, per intercepted navigation, whether an existing tab
// is focused instead of the new one, and drives the browser accordingly.
package reuse

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgnsrekt/tabreuse/internal/canon"
	"github.com/dgnsrekt/tabreuse/internal/resolver"
	"github.com/dgnsrekt/tabreuse/internal/types"
	"github.com/dgnsrekt/tabreuse/internal/urlflags"
	"github.com/dgnsrekt/tabreuse/internal/wildcard"
)

// DefaultCookieDelay is the pause before copy_cookies runs in a tab that was
// just brought to front.
const DefaultCookieDelay = 500 * time.Millisecond

// Action is what the coordinator did with a request.
type Action string

const (
	ActionFocused   Action = "focused"
	ActionNavigated Action = "navigated"
)

// Outcome describes one handled request.
type Outcome struct {
	ID              string        `json:"id"`
	TabID           string        `json:"tab_id"`
	RawURL          string        `json:"raw_url"`
	CleanURL        string        `json:"clean_url"`
	Action          Action        `json:"action"`
	Tier            resolver.Tier `json:"tier,omitempty"`
	TargetTabID     string        `json:"target_tab_id,omitempty"`
	ClosedTabs      []string      `json:"closed_tabs,omitempty"`
	Command         string        `json:"command,omitempty"`
	CommandDeferred bool          `json:"command_deferred,omitempty"`
	CommandError    string        `json:"command_error,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration_ns"`
}

// Options tunes a Coordinator. A nil Clock or zero SettleWindow picks the
// default; a zero CookieDelay runs copy_cookies without waiting.
type Options struct {
	Clock        Clock
	SettleWindow time.Duration
	CookieDelay  time.Duration
}

// Coordinator is the single entry point every navigation trigger funnels
// into.
type Coordinator struct {
	host        Host
	clock       Clock
	guard       *Guard
	cookieDelay time.Duration

	mu        sync.RWMutex
	recorders []Recorder
}

// NewCoordinator wires a coordinator to host.
func NewCoordinator(host Host, opts Options) *Coordinator {
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	delay := opts.CookieDelay
	if delay < 0 {
		delay = 0
	}
	return &Coordinator{
		host:        host,
		clock:       clock,
		guard:       NewGuard(clock, opts.SettleWindow),
		cookieDelay: delay,
	}
}

// Guard exposes the dedup state.
func (c *Coordinator) Guard() *Guard { return c.guard }

// AddRecorder registers r to receive every outcome.
func (c *Coordinator) AddRecorder(r Recorder) {
	c.mu.Lock()
	c.recorders = append(c.recorders, r)
	c.mu.Unlock()
}

func (c *Coordinator) record(o Outcome) {
	c.mu.RLock()
	recs := append([]Recorder(nil), c.recorders...)
	c.mu.RUnlock()
	for _, r := range recs {
		r.Record(o)
	}
}

// OnNavigationIntercepted handles a navigation about to commit. Subframe
// navigations are ignored.
func (c *Coordinator) OnNavigationIntercepted(ctx context.Context, tabID, url string, topLevel bool) {
	if !topLevel {
		return
	}
	c.Handle(ctx, tabID, url)
}

// OnTabCreated handles a tab that was opened with its URL already set.
func (c *Coordinator) OnTabCreated(ctx context.Context, tab types.Tab) {
	c.Handle(ctx, tab.ID, tab.URL)
}

// OnTabURLChanged handles a tab whose URL was updated.
func (c *Coordinator) OnTabURLChanged(ctx context.Context, tabID, url string) {
	c.Handle(ctx, tabID, url)
}

// OnTabClosed forgets tabID. A reopened tab with a recycled id is handled
// without waiting out the settle window.
func (c *Coordinator) OnTabClosed(_ context.Context, tabID string) {
	c.guard.Release(tabID)
}

// Handle processes rawURL arriving in tabID. ok is false when the URL does
// not ask for reuse or the tab is already handled or settling.
func (c *Coordinator) Handle(ctx context.Context, tabID, rawURL string) (Outcome, bool) {
	if !urlflags.IsActivating(rawURL) {
		return Outcome{}, false
	}
	if !c.guard.TryAcquire(tabID) {
		slog.Debug("reuse: duplicate event ignored", "tab_id", tabID)
		return Outcome{}, false
	}
	defer c.guard.Settle(tabID)

	out := Outcome{
		ID:        uuid.NewString(),
		TabID:     tabID,
		RawURL:    rawURL,
		CleanURL:  urlflags.StripControlFlags(rawURL),
		StartedAt: c.clock.Now(),
	}
	raw, _ := urlflags.ExtractRunCommand(rawURL)
	cmd := urlflags.ParseCommand(raw)
	if !cmd.IsZero() {
		out.Command = cmd.String()
	}

	var closed []types.Tab
	if patterns := urlflags.ExtractClosePatterns(rawURL); len(patterns) > 0 {
		closed = c.closeMatching(ctx, tabID, patterns)
		for _, t := range closed {
			out.ClosedTabs = append(out.ClosedTabs, t.ID)
		}
	}

	tabs, err := c.host.ListTabs(ctx)
	if err != nil {
		slog.Warn("reuse: list tabs failed", "tab_id", tabID, "error", err)
	}
	candidates := c.candidates(tabs, tabID, closed)

	if m, ok := resolver.Resolve(out.CleanURL, candidates); ok {
		out.Action = ActionFocused
		out.Tier = m.Tier
		out.TargetTabID = m.Tab.ID
		c.focus(ctx, &out, m.Tab, cmd)
	} else {
		out.Action = ActionNavigated
		c.navigate(ctx, &out, closed, cmd)
	}

	out.Duration = c.clock.Now().Sub(out.StartedAt)
	slog.Info("reuse: handled",
		"tab_id", tabID,
		"clean_url", out.CleanURL,
		"action", out.Action,
		"tier", out.Tier,
		"target_tab_id", out.TargetTabID,
		"closed", len(out.ClosedTabs),
	)
	c.record(out)
	return out, true
}

// candidates drops the requesting tab, tabs just closed, and other tabs that
// are themselves still being handled.
func (c *Coordinator) candidates(tabs []types.Tab, tabID string, closed []types.Tab) []types.Tab {
	gone := make(map[string]bool, len(closed)+1)
	gone[tabID] = true
	for _, t := range closed {
		gone[t.ID] = true
	}
	out := make([]types.Tab, 0, len(tabs))
	for _, t := range tabs {
		if gone[t.ID] || c.guard.InFlight(t.ID) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (c *Coordinator) closeMatching(ctx context.Context, tabID string, patterns []string) []types.Tab {
	tabs, err := c.host.ListTabs(ctx)
	if err != nil {
		slog.Warn("reuse: list tabs for close failed", "tab_id", tabID, "error", err)
		return nil
	}
	var closed []types.Tab
	for _, t := range resolver.Without(tabs, tabID) {
		if !wildcard.MatchesAny(patterns, t.URL) {
			continue
		}
		if err := c.host.CloseTab(ctx, t.ID); err != nil {
			warnHost("close tab", t.ID, err)
		}
		closed = append(closed, t)
	}
	return closed
}

func (c *Coordinator) focus(ctx context.Context, out *Outcome, target types.Tab, cmd urlflags.Command) {
	if err := c.host.ActivateTab(ctx, target.ID); err != nil {
		warnHost("activate tab", target.ID, err)
	}
	if err := c.host.FocusWindow(ctx, target.WindowID); err != nil {
		warnHost("focus window", target.ID, err)
	}
	if !cmd.IsZero() {
		if cmd.NeedsSettle() {
			c.sleep(ctx, c.cookieDelay)
		}
		if err := c.runCommand(ctx, target.ID, cmd); err != nil {
			out.CommandError = err.Error()
		}
	}
	if err := c.host.CloseTab(ctx, out.TabID); err != nil {
		warnHost("close requesting tab", out.TabID, err)
	}
}

func (c *Coordinator) navigate(ctx context.Context, out *Outcome, closed []types.Tab, cmd urlflags.Command) {
	if idx, ok := resolver.LowestIndex(closed); ok {
		if err := c.host.MoveTab(ctx, out.TabID, idx); err != nil {
			warnHost("move tab", out.TabID, err)
		}
	}

	cancel := func() {}
	if !cmd.IsZero() {
		bg := context.WithoutCancel(ctx)
		tabID := out.TabID
		stop, err := c.host.OnceNavigationComplete(ctx, tabID, func() {
			go func() {
				if err := c.runCommand(bg, tabID, cmd); err != nil {
					slog.Warn("reuse: deferred command failed", "tab_id", tabID, "command", cmd.String(), "error", err)
				}
			}()
		})
		if err != nil {
			warnHost("subscribe load complete", tabID, err)
		} else {
			cancel = stop
			out.CommandDeferred = true
		}
	}

	if err := c.host.NavigateTab(ctx, out.TabID, out.CleanURL); err != nil {
		warnHost("navigate tab", out.TabID, err)
		cancel()
		out.CommandDeferred = false
	}
}

func (c *Coordinator) runCommand(ctx context.Context, tabID string, cmd urlflags.Command) error {
	if err := cmd.Validate(); err != nil {
		slog.Warn("reuse: invalid command", "tab_id", tabID, "command", cmd.String(), "error", err)
		return err
	}
	data, err := c.host.RunCommand(ctx, tabID, cmd)
	if err != nil {
		warnHost("run command", tabID, err)
		return err
	}
	slog.Info("reuse: command ran", "tab_id", tabID, "command", cmd.Name, "keys", len(data))
	return nil
}

func (c *Coordinator) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	done := make(chan struct{})
	t := c.clock.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
	case <-ctx.Done():
		t.Stop()
	}
}

func warnHost(op, tabID string, err error) {
	if errors.Is(err, ErrUnsupported) {
		slog.Debug("reuse: host capability unavailable", "op", op, "tab_id", tabID, "error", err)
		return
	}
	slog.Warn("reuse: host call failed", "op", op, "tab_id", tabID, "error", err)
}

// Preview is a dry run of Handle: what would be closed and which tab would
// win, with no browser side effects.
type Preview struct {
	RawURL        string            `json:"raw_url"`
	CleanURL      string            `json:"clean_url"`
	CanonicalURL  string            `json:"canonical_url"`
	Activating    bool              `json:"activating"`
	Reuse         bool              `json:"reuse"`
	Command       *urlflags.Command `json:"command,omitempty"`
	ClosePatterns []string          `json:"close_patterns,omitempty"`
	WouldClose    []types.Tab       `json:"would_close,omitempty"`
	Match         *resolver.Match   `json:"match,omitempty"`
	Action        Action            `json:"action,omitempty"`
}

// Preview resolves rawURL against the live tab set without acting on it.
func (c *Coordinator) Preview(ctx context.Context, rawURL string) (Preview, error) {
	tabs, err := c.host.ListTabs(ctx)
	if err != nil {
		return Preview{}, err
	}
	return Plan(rawURL, tabs), nil
}

// Plan is Preview against a given tab snapshot.
func Plan(rawURL string, tabs []types.Tab) Preview {
	p := Preview{
		RawURL:        rawURL,
		CleanURL:      urlflags.StripControlFlags(rawURL),
		Activating:    urlflags.IsActivating(rawURL),
		Reuse:         urlflags.HasReuseFlag(rawURL),
		ClosePatterns: urlflags.ExtractClosePatterns(rawURL),
	}
	p.CanonicalURL = canon.Canonicalize(p.CleanURL)
	if raw, ok := urlflags.ExtractRunCommand(rawURL); ok {
		if cmd := urlflags.ParseCommand(raw); !cmd.IsZero() {
			p.Command = &cmd
		}
	}

	remaining := tabs
	if len(p.ClosePatterns) > 0 {
		remaining = make([]types.Tab, 0, len(tabs))
		for _, t := range tabs {
			if wildcard.MatchesAny(p.ClosePatterns, t.URL) {
				p.WouldClose = append(p.WouldClose, t)
				continue
			}
			remaining = append(remaining, t)
		}
	}
	if m, ok := resolver.Resolve(p.CleanURL, remaining); ok {
		p.Match = &m
	}
	// A plain URL is left alone; Action stays empty.
	switch {
	case !p.Activating:
	case p.Match != nil:
		p.Action = ActionFocused
	default:
		p.Action = ActionNavigated
	}
	return p
}
