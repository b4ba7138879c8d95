package cdpcontrol

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/tabreuse/internal/types"
)

// TabEventSink receives the tab events that may carry an incoming request.
type TabEventSink interface {
	OnTabCreated(ctx context.Context, tab types.Tab)
	OnTabURLChanged(ctx context.Context, tabID, url string)
	OnNavigationIntercepted(ctx context.Context, tabID, url string, topLevel bool)
	OnTabClosed(ctx context.Context, tabID string)
}

const (
	watchBackoffMin = time.Second
	watchBackoffMax = 30 * time.Second
)

// WatchTabs feeds tab events to sink until ctx is done, reconnecting with
// backoff whenever the browser connection drops.
func (c *Client) WatchTabs(ctx context.Context, sink TabEventSink) error {
	backoff := watchBackoffMin
	for {
		started := time.Now()
		err := c.watchOnce(ctx, sink)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(started) > watchBackoffMax {
			backoff = watchBackoffMin
		}
		slog.Warn("cdpcontrol watch interrupted", "error", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > watchBackoffMax {
			backoff = watchBackoffMax
		}
	}
}

func (c *Client) watchOnce(ctx context.Context, sink TabEventSink) error {
	cdp, err := c.conn(ctx)
	if err != nil {
		return err
	}
	w := newWatcher(ctx, cdp, sink)
	w.start()
	defer w.stop()

	if err := cdp.setDiscoverTargets(ctx, true); err != nil {
		return newError(CodeCDPUnavailable, "enable target discovery failed", err)
	}
	targets, err := cdp.listTargets(ctx)
	if err != nil {
		return newError(CodeCDPUnavailable, "failed to list targets", err)
	}
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		w.remember(string(t.TargetID), t.URL)
		go w.attach(string(t.TargetID))
	}
	slog.Info("cdpcontrol watching tabs", "tabs", len(targets))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-cdp.closed():
		return newError(CodeCDPUnavailable, "browser connection closed", nil)
	}
}

// watcher translates CDP target and page events for one connection. Every
// sink call runs on its own goroutine so the read loop never blocks on it.
type watcher struct {
	ctx  context.Context
	cdp  *rawCDP
	sink TabEventSink

	mu       sync.Mutex
	urls     map[string]string // target id -> last seen url
	sessions map[string]string // session id -> target id
	unregs   []func()
}

func newWatcher(ctx context.Context, cdp *rawCDP, sink TabEventSink) *watcher {
	return &watcher{
		ctx:      ctx,
		cdp:      cdp,
		sink:     sink,
		urls:     make(map[string]string),
		sessions: make(map[string]string),
	}
}

func (w *watcher) start() {
	handlers := []struct {
		method string
		fn     func(string, json.RawMessage)
	}{
		{"Target.targetCreated", w.onTargetCreated},
		{"Target.targetInfoChanged", w.onTargetInfoChanged},
		{"Target.targetDestroyed", w.onTargetDestroyed},
		{"Target.detachedFromTarget", w.onDetached},
		{"Page.frameStartedNavigating", w.onFrameStartedNavigating},
	}
	for _, h := range handlers {
		w.unregs = append(w.unregs, w.cdp.registerEventHandler(h.method, h.fn))
	}
}

func (w *watcher) stop() {
	for _, fn := range w.unregs {
		fn()
	}
	w.unregs = nil
}

func (w *watcher) remember(targetID, url string) {
	w.mu.Lock()
	w.urls[targetID] = url
	w.mu.Unlock()
}

// attach opens a watcher-owned session on the page so its navigation events
// reach us.
func (w *watcher) attach(targetID string) {
	ctx, cancel := context.WithTimeout(w.ctx, 5*time.Second)
	defer cancel()
	sid, err := w.cdp.attachToTarget(ctx, targetID)
	if err != nil {
		slog.Debug("cdpcontrol watch attach failed", "tab_id", targetID, "error", err)
		return
	}
	w.mu.Lock()
	w.sessions[sid] = targetID
	w.mu.Unlock()
	if err := w.cdp.enablePageDomain(ctx, sid); err != nil {
		slog.Debug("cdpcontrol watch page enable failed", "tab_id", targetID, "error", err)
	}
}

func (w *watcher) onTargetCreated(_ string, params json.RawMessage) {
	var evt target.EventTargetCreated
	if err := json.Unmarshal(params, &evt); err != nil || evt.TargetInfo == nil {
		return
	}
	info := evt.TargetInfo
	if info.Type != "page" {
		return
	}
	id := string(info.TargetID)
	w.remember(id, info.URL)
	tab := types.Tab{ID: id, URL: info.URL, Title: info.Title}
	slog.Debug("cdpcontrol tab created", "tab_id", id, "url", info.URL)
	go w.attach(id)
	go w.sink.OnTabCreated(w.ctx, tab)
}

func (w *watcher) onTargetInfoChanged(_ string, params json.RawMessage) {
	var evt target.EventTargetInfoChanged
	if err := json.Unmarshal(params, &evt); err != nil || evt.TargetInfo == nil {
		return
	}
	info := evt.TargetInfo
	if info.Type != "page" {
		return
	}
	id := string(info.TargetID)
	w.mu.Lock()
	prev, seen := w.urls[id]
	w.urls[id] = info.URL
	w.mu.Unlock()
	if seen && prev == info.URL {
		return
	}
	go w.sink.OnTabURLChanged(w.ctx, id, info.URL)
}

func (w *watcher) onTargetDestroyed(_ string, params json.RawMessage) {
	var evt target.EventTargetDestroyed
	if err := json.Unmarshal(params, &evt); err != nil {
		return
	}
	id := string(evt.TargetID)
	w.mu.Lock()
	_, known := w.urls[id]
	delete(w.urls, id)
	for sid, tid := range w.sessions {
		if tid == id {
			delete(w.sessions, sid)
		}
	}
	w.mu.Unlock()
	if !known {
		return
	}
	slog.Debug("cdpcontrol tab closed", "tab_id", id)
	go w.sink.OnTabClosed(w.ctx, id)
}

func (w *watcher) onDetached(_ string, params json.RawMessage) {
	var evt struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(params, &evt); err != nil {
		return
	}
	w.mu.Lock()
	delete(w.sessions, evt.SessionID)
	w.mu.Unlock()
}

// onFrameStartedNavigating fires before a navigation commits. The main frame
// of a page target shares the target's id.
func (w *watcher) onFrameStartedNavigating(sessionID string, params json.RawMessage) {
	w.mu.Lock()
	targetID, ok := w.sessions[sessionID]
	w.mu.Unlock()
	if !ok {
		return
	}
	var evt struct {
		FrameID string `json:"frameId"`
		URL     string `json:"url"`
	}
	if err := json.Unmarshal(params, &evt); err != nil || evt.URL == "" {
		return
	}
	go w.sink.OnNavigationIntercepted(w.ctx, targetID, evt.URL, evt.FrameID == targetID)
}
