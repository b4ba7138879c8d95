package reuse

import (
	"context"
	"errors"

	"github.com/dgnsrekt/tabreuse/internal/types"
	"github.com/dgnsrekt/tabreuse/internal/urlflags"
)

// ErrUnsupported is wrapped by host errors for capabilities the browser
// cannot provide. The coordinator treats it like any other best-effort
// failure but logs it at debug.
var ErrUnsupported = errors.New("unsupported by host")

// Host is the browser surface the coordinator drives.
type Host interface {
	// ListTabs returns a snapshot of every open tab across all windows.
	ListTabs(ctx context.Context) ([]types.Tab, error)
	ActivateTab(ctx context.Context, tabID string) error
	FocusWindow(ctx context.Context, windowID int) error
	// CloseTab must treat an already closed tab as success.
	CloseTab(ctx context.Context, tabID string) error
	MoveTab(ctx context.Context, tabID string, index int) error
	NavigateTab(ctx context.Context, tabID, url string) error
	// RunCommand runs cmd in the page context of the tab and returns the
	// script's data payload.
	RunCommand(ctx context.Context, tabID string, cmd urlflags.Command) (map[string]any, error)
	// OnceNavigationComplete calls fn at most once, when the tab next
	// finishes loading. fn may be called from the host's event loop and must
	// not block. cancel drops the subscription if it has not fired.
	OnceNavigationComplete(ctx context.Context, tabID string, fn func()) (cancel func(), err error)
}

// Recorder receives every completed outcome.
type Recorder interface {
	Record(Outcome)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Outcome)

func (f RecorderFunc) Record(o Outcome) { f(o) }
