package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/tabreuse/internal/reuse"
	"github.com/dgnsrekt/tabreuse/internal/types"
	"github.com/dgnsrekt/tabreuse/internal/urlflags"
)

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
	"not connected",
}

var _ reuse.Host = (*Client)(nil)

type tabSession struct {
	mu          sync.Mutex
	sessionID   string // CDP session ID from Target.attachToTarget
	pageEnabled bool
}

// Client drives browser tabs over one browser-level CDP connection.
type Client struct {
	cdpURL      string
	evalTimeout time.Duration

	mu       sync.Mutex
	cdp      *rawCDP
	sessions map[target.ID]*tabSession

	tabLocksMu sync.Mutex
	tabLocks   map[string]*sync.Mutex
}

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

func NewClient(cdpURL string, evalTimeout time.Duration) *Client {
	return &Client{
		cdpURL:      cdpURL,
		evalTimeout: evalTimeout,
		sessions:    make(map[target.ID]*tabSession),
		tabLocks:    make(map[string]*sync.Mutex),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		slog.Error("cdpcontrol initial tab sync failed", "error", err)
		c.cleanupLocked()
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}
	c.syncSessionsLocked(targets)

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "tabs", len(c.sessions))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	// Detach from any active sessions without closing targets.
	if c.cdp != nil {
		for targetID, session := range c.sessions {
			if session == nil {
				continue
			}
			session.mu.Lock()
			if session.sessionID != "" {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				if err := c.cdp.detachFromTarget(ctx, session.sessionID); err != nil {
					slog.Debug("cdpcontrol detach cleanup failed", "target_id", targetID, "error", err)
				}
				cancel()
				session.sessionID = ""
				session.pageEnabled = false
			}
			session.mu.Unlock()
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.sessions = make(map[target.ID]*tabSession)
}

// Done returns a channel closed when the current connection drops.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	cdp := c.cdp
	c.mu.Unlock()
	if cdp == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return cdp.closed()
}

// ListTabs returns every page target in browser enumeration order. Index is
// the position in that order.
func (c *Client) ListTabs(ctx context.Context) ([]types.Tab, error) {
	cdp, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	targets, err := cdp.listTargets(ctx)
	if err != nil {
		slog.Warn("cdpcontrol list tabs failed", "error", err)
		return nil, newError(CodeCDPUnavailable, "failed to list targets", err)
	}

	c.mu.Lock()
	c.syncSessionsLocked(targets)
	c.mu.Unlock()

	tabs := make([]types.Tab, 0, len(targets))
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		tab := types.Tab{
			ID:    string(t.TargetID),
			URL:   t.URL,
			Title: t.Title,
			Index: len(tabs),
		}
		if wid, err := cdp.windowForTarget(ctx, tab.ID); err == nil {
			tab.WindowID = wid
		} else {
			slog.Debug("cdpcontrol window lookup failed", "tab_id", tab.ID, "error", err)
		}
		tabs = append(tabs, tab)
	}
	slog.Debug("cdpcontrol list tabs", "targets", len(targets), "tabs", len(tabs))
	return tabs, nil
}

// ActivateTab brings the tab to front within its window.
func (c *Client) ActivateTab(ctx context.Context, tabID string) error {
	cdp, err := c.conn(ctx)
	if err != nil {
		return err
	}
	if err := cdp.activateTarget(ctx, tabID); err != nil {
		return tabError("activate tab failed", tabID, err)
	}
	return nil
}

// FocusWindow restores the window if it is minimized. Window id 0 means the
// window is unknown and is a no-op. Raising a window above other
// applications is left to Target.activateTarget.
func (c *Client) FocusWindow(ctx context.Context, windowID int) error {
	if windowID == 0 {
		return nil
	}
	cdp, err := c.conn(ctx)
	if err != nil {
		return err
	}
	bounds, err := cdp.windowBounds(ctx, windowID)
	if err != nil {
		return newError(CodeEvalFailure, "focus window failed", err)
	}
	if bounds.WindowState != "minimized" {
		return nil
	}
	if err := cdp.setWindowBounds(ctx, windowID, WindowBounds{WindowState: "normal"}); err != nil {
		return newError(CodeEvalFailure, "focus window failed", err)
	}
	return nil
}

// CloseTab closes the tab. A tab that is already gone is not an error.
func (c *Client) CloseTab(ctx context.Context, tabID string) error {
	cdp, err := c.conn(ctx)
	if err != nil {
		return err
	}
	if err := cdp.closeTarget(ctx, tabID); err != nil {
		if isNotFound(err) {
			slog.Debug("cdpcontrol close: tab already gone", "tab_id", tabID)
			return nil
		}
		return tabError("close tab failed", tabID, err)
	}
	c.dropSession(target.ID(tabID))
	return nil
}

// MoveTab is not available over CDP; there is no tab-strip API.
func (c *Client) MoveTab(context.Context, string, int) error {
	return newError(CodeUnsupported, "tab reordering is not exposed over CDP", reuse.ErrUnsupported)
}

// NavigateTab loads url in the tab.
func (c *Client) NavigateTab(ctx context.Context, tabID, url string) error {
	cdp, sessionID, err := c.session(ctx, tabID)
	if err != nil {
		return err
	}
	if err := cdp.navigate(ctx, sessionID, url); err != nil {
		return newError(CodeNavigateFailed, "navigate failed", err)
	}
	return nil
}

// CreateTab opens url in a new tab.
func (c *Client) CreateTab(ctx context.Context, url string) (types.Tab, error) {
	if strings.TrimSpace(url) == "" {
		return types.Tab{}, newError(CodeValidation, "url is required", nil)
	}
	cdp, err := c.conn(ctx)
	if err != nil {
		return types.Tab{}, err
	}
	id, err := cdp.createTarget(ctx, url)
	if err != nil {
		return types.Tab{}, newError(CodeEvalFailure, "create tab failed", err)
	}
	tab := types.Tab{ID: id, URL: url}
	if wid, err := cdp.windowForTarget(ctx, id); err == nil {
		tab.WindowID = wid
	}
	return tab, nil
}

// RunCommand runs one of the storage commands in the tab's page context.
func (c *Client) RunCommand(ctx context.Context, tabID string, cmd urlflags.Command) (map[string]any, error) {
	if err := cmd.Validate(); err != nil {
		return nil, newError(CodeValidation, err.Error(), nil)
	}
	js, err := commandScript(cmd)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := c.evalOnTab(ctx, tabID, js, &out); err != nil {
		return nil, err
	}
	slog.Debug("cdpcontrol command done", "tab_id", tabID, "command", cmd.Name)
	return out, nil
}

// OnceNavigationComplete calls fn the next time the tab fires
// Page.loadEventFired, then unregisters itself.
func (c *Client) OnceNavigationComplete(ctx context.Context, tabID string, fn func()) (func(), error) {
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		return nil, newError(CodeValidation, "tab id is required", nil)
	}
	cdp, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	sessionID, err := c.ensurePageEnabled(ctx, cdp, tabID)
	if err != nil {
		return nil, err
	}
	return onceEvent(cdp, "Page.loadEventFired", sessionID, fn), nil
}

// onceEvent registers fn for the first method event on sessionID and drops
// the registration after it fires. The returned stop is idempotent.
func onceEvent(cdp *rawCDP, method, sessionID string, fn func()) (stop func()) {
	var (
		mu         sync.Mutex
		done       bool
		unregister func()
	)
	stop = func() {
		mu.Lock()
		defer mu.Unlock()
		done = true
		if unregister != nil {
			unregister()
			unregister = nil
		}
	}
	mu.Lock()
	unregister = cdp.registerEventHandler(method, func(sid string, _ json.RawMessage) {
		if sid != sessionID {
			return
		}
		mu.Lock()
		if done {
			mu.Unlock()
			return
		}
		done = true
		if unregister != nil {
			unregister()
			unregister = nil
		}
		mu.Unlock()
		fn()
	})
	mu.Unlock()
	return stop
}

// conn returns the live connection, reconnecting when it dropped.
func (c *Client) conn(ctx context.Context) (*rawCDP, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cdp == nil {
		return nil, newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	return c.cdp, nil
}

// session returns the connection and an attached flat session for tabID.
func (c *Client) session(ctx context.Context, tabID string) (*rawCDP, string, error) {
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		return nil, "", newError(CodeValidation, "tab id is required", nil)
	}
	cdp, err := c.conn(ctx)
	if err != nil {
		return nil, "", err
	}
	s := c.tabSession(target.ID(tabID))
	sid, err := c.ensureSession(ctx, cdp, s, tabID)
	if err != nil {
		return nil, "", err
	}
	return cdp, sid, nil
}

func (c *Client) tabSession(id target.ID) *tabSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sessions[id]
	if s == nil {
		s = &tabSession{}
		c.sessions[id] = s
	}
	return s
}

func (c *Client) dropSession(id target.ID) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

// ensurePageEnabled attaches to tabID if needed and turns on Page events for
// that session.
func (c *Client) ensurePageEnabled(ctx context.Context, cdp *rawCDP, tabID string) (string, error) {
	s := c.tabSession(target.ID(tabID))
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionID == "" {
		sid, err := cdp.attachToTarget(ctx, tabID)
		if err != nil {
			return "", tabError("attach to target failed", tabID, err)
		}
		s.sessionID = sid
		s.pageEnabled = false
	}
	if !s.pageEnabled {
		if err := cdp.enablePageDomain(ctx, s.sessionID); err != nil {
			return "", newError(CodeCDPUnavailable, "enable page domain failed", err)
		}
		s.pageEnabled = true
	}
	return s.sessionID, nil
}

func (c *Client) evalOnTab(ctx context.Context, tabID, js string, out any) error {
	tabID = strings.TrimSpace(tabID)
	if tabID == "" {
		return newError(CodeValidation, "tab id is required", nil)
	}

	lock := c.tabLock(tabID)
	lock.Lock()
	defer lock.Unlock()

	slog.Debug("cdpcontrol eval on tab", "tab_id", tabID)
	err := c.evalOnSession(ctx, tabID, js, out)
	if err == nil {
		return nil
	}
	if !c.shouldRetry(err) {
		return err
	}

	slog.Warn("cdpcontrol eval retry after transient failure", "tab_id", tabID, "error", err)
	if c.asCode(err, CodeCDPUnavailable) {
		if recErr := c.reconnect(ctx); recErr != nil {
			slog.Error("cdpcontrol reconnect failed during retry", "tab_id", tabID, "error", recErr)
			return recErr
		}
	}
	return c.evalOnSession(ctx, tabID, js, out)
}

func (c *Client) evalOnSession(ctx context.Context, tabID, js string, out any) error {
	cdp, err := c.conn(ctx)
	if err != nil {
		return err
	}
	session := c.tabSession(target.ID(tabID))
	sessionID, err := c.ensureSession(ctx, cdp, session, tabID)
	if err != nil {
		return err
	}

	evalCtx, evalCancel := context.WithTimeout(ctx, c.evalTimeout)
	defer evalCancel()

	raw, err := cdp.evaluate(evalCtx, sessionID, js)
	if err != nil {
		slog.Warn("cdpcontrol eval failed", "tab_id", tabID, "error", err)
		// Reset session so a fresh attach happens on retry.
		session.mu.Lock()
		session.sessionID = ""
		session.pageEnabled = false
		session.mu.Unlock()

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(evalCtx.Err(), context.DeadlineExceeded) {
			return newError(CodeEvalTimeout, "evaluation timed out", err)
		}
		return newError(CodeEvalFailure, "evaluation failed", err)
	}
	return decodeEnvelope(raw, out)
}

func decodeEnvelope(raw string, out any) error {
	var env evalEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation envelope", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = CodeEvalFailure
		}
		return newError(code, env.ErrorMessage, nil)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return newError(CodeEvalFailure, "invalid evaluation data", err)
	}
	return nil
}

// ensureSession returns a CDP session ID for the target, attaching if needed.
func (c *Client) ensureSession(ctx context.Context, cdp *rawCDP, session *tabSession, targetID string) (string, error) {
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.sessionID != "" {
		return session.sessionID, nil
	}

	sid, err := cdp.attachToTarget(ctx, targetID)
	if err != nil {
		return "", tabError("attach to target failed", targetID, err)
	}
	session.sessionID = sid
	slog.Debug("cdpcontrol session attached", "target_id", targetID, "session_id", sid)
	return sid, nil
}

// syncSessionsLocked forgets sessions of targets that no longer exist.
func (c *Client) syncSessionsLocked(targets []*target.Info) {
	live := make(map[target.ID]bool, len(targets))
	for _, t := range targets {
		if t.Type == "page" {
			live[t.TargetID] = true
		}
	}
	for id := range c.sessions {
		if !live[id] {
			delete(c.sessions, id)
		}
	}

	c.tabLocksMu.Lock()
	for id := range c.tabLocks {
		if !live[target.ID(id)] {
			delete(c.tabLocks, id)
		}
	}
	c.tabLocksMu.Unlock()
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	connected := c.cdp != nil && c.cdp.alive()
	c.mu.Unlock()
	if connected {
		return nil
	}
	return c.reconnect(ctx)
}

func (c *Client) tabLock(tabID string) *sync.Mutex {
	c.tabLocksMu.Lock()
	defer c.tabLocksMu.Unlock()
	m, ok := c.tabLocks[tabID]
	if !ok {
		m = &sync.Mutex{}
		c.tabLocks[tabID] = m
	}
	return m
}

func (c *Client) shouldRetry(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}

	switch coded.Code {
	case CodeCDPUnavailable:
		return true
	case CodeTabNotFound, CodeValidation:
		return false
	case CodeEvalFailure:
		if coded.Cause == nil {
			return false
		}
		cause := strings.ToLower(coded.Cause.Error())
		for _, hint := range transientHints {
			if strings.Contains(cause, hint) {
				return true
			}
		}
	}
	return false
}

func (c *Client) asCode(err error, code string) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code
}

func isNotFound(err error) bool {
	var ce *cdpError
	msg := err.Error()
	if errors.As(err, &ce) {
		msg = ce.Message
	}
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "no target with given id") || strings.Contains(msg, "not found")
}

func tabError(msg, tabID string, err error) error {
	if isNotFound(err) {
		return newError(CodeTabNotFound, "tab not found: "+tabID, err)
	}
	return newError(CodeCDPUnavailable, msg, err)
}

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func buildIIFE(async bool, body string) string {
	prefix := "(function(){\n"
	if async {
		prefix = "(async function(){\n"
	}
	return prefix + `try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + CodeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

func wrapJSEval(body string) string      { return buildIIFE(false, body) }
func wrapJSEvalAsync(body string) string { return buildIIFE(true, body) }
