package reuse

import (
	"sync"
	"time"
)

// DefaultSettleWindow is how long a tab stays guarded after handling ends.
const DefaultSettleWindow = 5 * time.Second

// Timer is the part of *time.Timer the guard needs.
type Timer interface {
	Stop() bool
}

// Clock abstracts wall time so tests can drive expiry by hand.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock returns a Clock backed by package time.
func RealClock() Clock { return realClock{} }

type guardEntry struct {
	gen     uint64
	expires time.Time // zero while the tab is still being handled
}

// Guard records tabs that are being handled or were handled recently, so
// that the same navigation reported by several event sources runs once.
type Guard struct {
	clock  Clock
	window time.Duration

	mu      sync.Mutex
	gen     uint64
	entries map[string]guardEntry
}

// NewGuard creates a guard whose entries expire window after Settle.
func NewGuard(clock Clock, window time.Duration) *Guard {
	if clock == nil {
		clock = realClock{}
	}
	if window <= 0 {
		window = DefaultSettleWindow
	}
	return &Guard{clock: clock, window: window, entries: make(map[string]guardEntry)}
}

// TryAcquire marks tabID as being handled. It returns false when the tab is
// already handled or still inside its settle window. Check and insert happen
// under one lock.
func (g *Guard) TryAcquire(tabID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[tabID]; ok && g.live(e) {
		return false
	}
	g.gen++
	g.entries[tabID] = guardEntry{gen: g.gen}
	return true
}

// Settle starts the expiry timer for tabID. The entry is dropped when the
// timer fires unless it was re-acquired in the meantime.
func (g *Guard) Settle(tabID string) {
	g.mu.Lock()
	e, ok := g.entries[tabID]
	if !ok {
		g.mu.Unlock()
		return
	}
	e.expires = g.clock.Now().Add(g.window)
	g.entries[tabID] = e
	gen := e.gen
	g.mu.Unlock()

	g.clock.AfterFunc(g.window, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if cur, ok := g.entries[tabID]; ok && cur.gen == gen {
			delete(g.entries, tabID)
		}
	})
}

// Release drops tabID immediately. Closed tabs are released so their ids do
// not sit out the settle window.
func (g *Guard) Release(tabID string) {
	g.mu.Lock()
	delete(g.entries, tabID)
	g.mu.Unlock()
}

// Contains reports whether tabID is handled or settling.
func (g *Guard) Contains(tabID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[tabID]
	return ok && g.live(e)
}

// InFlight reports whether tabID is being handled right now.
func (g *Guard) InFlight(tabID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[tabID]
	return ok && e.expires.IsZero()
}

// Len returns the number of guarded tabs, including expired entries whose
// timer has not fired yet.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Active returns the number of tabs being handled right now. Settling tabs
// are not counted.
func (g *Guard) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, e := range g.entries {
		if e.expires.IsZero() {
			n++
		}
	}
	return n
}

func (g *Guard) live(e guardEntry) bool {
	return e.expires.IsZero() || g.clock.Now().Before(e.expires)
}
