// Package cdp checks browser health through chromedp, independently of the
// long-lived control connection.
package cdp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"
)

// ProbeResult is what a deep health check saw.
type ProbeResult struct {
	OK        bool   `json:"ok"`
	Pages     int    `json:"pages"`
	Targets   int    `json:"targets"`
	UserAgent string `json:"user_agent,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Probe opens a throwaway chromedp session against a running browser.
// Each check creates one blank tab and closes it again; the tab never
// carries reuse flags, so the coordinator ignores it.
type Probe struct {
	cdpURL  string
	timeout time.Duration
}

func NewProbe(cdpURL string, timeout time.Duration) *Probe {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Probe{cdpURL: cdpURL, timeout: timeout}
}

// Check connects, counts targets and runs a trivial evaluation. The error
// is also recorded in the result so callers can report it as data.
func (p *Probe) Check(ctx context.Context) (ProbeResult, error) {
	started := time.Now()
	res, err := p.check(ctx)
	res.LatencyMS = time.Since(started).Milliseconds()
	if err != nil {
		res.Error = err.Error()
		slog.Warn("cdp probe failed", "cdp_url", p.cdpURL, "error", err)
		return res, err
	}
	res.OK = true
	slog.Debug("cdp probe ok", "pages", res.Pages, "latency_ms", res.LatencyMS)
	return res, nil
}

func (p *Probe) check(ctx context.Context) (ProbeResult, error) {
	var res ProbeResult
	if p.cdpURL == "" {
		return res, errors.New("missing CDP URL")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, p.cdpURL)
	defer allocCancel()

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	defer tabCancel()

	if err := chromedp.Run(tabCtx); err != nil {
		return res, fmt.Errorf("failed to connect to browser: %w", err)
	}

	targets, err := chromedp.Targets(tabCtx)
	if err != nil {
		return res, fmt.Errorf("failed to enumerate targets: %w", err)
	}
	res.Targets = len(targets)
	for _, t := range targets {
		if t.Type == "page" {
			res.Pages++
		}
	}

	if err := chromedp.Run(tabCtx, chromedp.Evaluate(`navigator.userAgent`, &res.UserAgent)); err != nil {
		return res, fmt.Errorf("failed to evaluate in probe tab: %w", err)
	}
	return res, nil
}
