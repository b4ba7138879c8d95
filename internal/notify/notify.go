// Package notify posts reuse outcomes to an ntfy-style HTTP endpoint.
package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/tabreuse/internal/reuse"
)

const (
	queueSize   = 64
	sendTimeout = 5 * time.Second
)

var _ reuse.Recorder = (*Notifier)(nil)

// Notifier forwards outcomes from a queue so Record never blocks the
// coordinator. Outcomes arriving while the queue is full are dropped.
type Notifier struct {
	endpoint string
	client   *http.Client
	actions  map[reuse.Action]bool

	mu     sync.RWMutex
	closed bool
	queue  chan reuse.Outcome
	done   chan struct{}
}

// New starts a notifier. An empty actions list forwards every outcome.
func New(endpoint string, client *http.Client, actions []string) *Notifier {
	n := &Notifier{
		endpoint: endpoint,
		client:   client,
		queue:    make(chan reuse.Outcome, queueSize),
		done:     make(chan struct{}),
	}
	if len(actions) > 0 {
		n.actions = make(map[reuse.Action]bool, len(actions))
		for _, a := range actions {
			n.actions[reuse.Action(strings.TrimSpace(a))] = true
		}
	}
	go n.loop()
	return n
}

func (n *Notifier) Record(o reuse.Outcome) {
	if n.actions != nil && !n.actions[o.Action] {
		return
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- o:
	default:
		slog.Warn("notify queue full, dropping outcome", "outcome_id", o.ID)
	}
}

// Close flushes queued outcomes and stops the sender. Later Records are
// ignored.
func (n *Notifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	<-n.done
}

func (n *Notifier) loop() {
	defer close(n.done)
	for o := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := Send(ctx, n.client, n.endpoint, Message(o)); err != nil {
			slog.Warn("notify send failed", "endpoint", n.endpoint, "outcome_id", o.ID, "error", err)
		}
		cancel()
	}
}

// Message renders one outcome as a single line.
func Message(o reuse.Outcome) string {
	var b strings.Builder
	b.WriteString(string(o.Action))
	b.WriteByte(' ')
	b.WriteString(o.CleanURL)
	if o.Tier != "" {
		fmt.Fprintf(&b, " (%s)", o.Tier)
	}
	if n := len(o.ClosedTabs); n > 0 {
		fmt.Fprintf(&b, ", closed %d", n)
	}
	if o.Command != "" {
		fmt.Fprintf(&b, ", ran %s", o.Command)
		if o.CommandError != "" {
			fmt.Fprintf(&b, " failed: %s", o.CommandError)
		}
	}
	return b.String()
}

// Send posts message as text/plain to endpoint.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", "tabreuse")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
