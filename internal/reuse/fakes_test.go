package reuse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgnsrekt/tabreuse/internal/types"
	"github.com/dgnsrekt/tabreuse/internal/urlflags"
)

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return &fakeTimerHandle{c: c, t: t}
}

type fakeTimerHandle struct {
	c *fakeClock
	t *fakeTimer
}

func (h *fakeTimerHandle) Stop() bool {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if h.t.fired || h.t.stopped {
		return false
	}
	h.t.stopped = true
	return true
}

// Pending counts timers that have neither fired nor been stopped.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

// Advance moves time forward and fires due timers outside the lock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []func()
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t.f)
		}
	}
	c.mu.Unlock()
	for _, f := range due {
		f()
	}
}

type fakeHost struct {
	mu       sync.Mutex
	tabs     []types.Tab
	calls    []string
	loadFns  map[string]func()
	closeErr error
	moveErr  error
	listErr  error
}

func newFakeHost(tabs ...types.Tab) *fakeHost {
	return &fakeHost{tabs: tabs, loadFns: make(map[string]func())}
}

func (h *fakeHost) log(format string, args ...any) {
	h.calls = append(h.calls, fmt.Sprintf(format, args...))
}

func (h *fakeHost) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *fakeHost) ListTabs(context.Context) ([]types.Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listErr != nil {
		return nil, h.listErr
	}
	return append([]types.Tab(nil), h.tabs...), nil
}

func (h *fakeHost) ActivateTab(_ context.Context, tabID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log("activate:%s", tabID)
	return nil
}

func (h *fakeHost) FocusWindow(_ context.Context, windowID int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log("focus:%d", windowID)
	return nil
}

func (h *fakeHost) CloseTab(_ context.Context, tabID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log("close:%s", tabID)
	if h.closeErr != nil {
		return h.closeErr
	}
	kept := h.tabs[:0]
	for _, t := range h.tabs {
		if t.ID != tabID {
			kept = append(kept, t)
		}
	}
	h.tabs = kept
	return nil
}

func (h *fakeHost) MoveTab(_ context.Context, tabID string, index int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log("move:%s:%d", tabID, index)
	return h.moveErr
}

func (h *fakeHost) NavigateTab(_ context.Context, tabID, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log("navigate:%s:%s", tabID, url)
	for i := range h.tabs {
		if h.tabs[i].ID == tabID {
			h.tabs[i].URL = url
		}
	}
	return nil
}

func (h *fakeHost) RunCommand(_ context.Context, tabID string, cmd urlflags.Command) (map[string]any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log("run:%s:%s", tabID, cmd.String())
	return map[string]any{"ok": true}, nil
}

func (h *fakeHost) OnceNavigationComplete(_ context.Context, tabID string, fn func()) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log("subscribe:%s", tabID)
	h.loadFns[tabID] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.loadFns, tabID)
	}, nil
}

// fireLoad delivers a load-complete event for tabID once.
func (h *fakeHost) fireLoad(tabID string) bool {
	h.mu.Lock()
	fn, ok := h.loadFns[tabID]
	delete(h.loadFns, tabID)
	h.mu.Unlock()
	if ok {
		fn()
	}
	return ok
}
