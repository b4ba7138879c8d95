// Package browser starts a Chromium with remote debugging for the daemon to
// attach to.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"
	"time"
)

const (
	readyTimeout = 15 * time.Second
	stopTimeout  = 5 * time.Second
)

// Config holds browser launch settings.
type Config struct {
	CDPAddress string
	CDPPort    int
	// BinaryPath skips detection when set.
	BinaryPath string
	ProfileDir string
	StartURLs  []string
}

// Launcher owns at most one browser process.
type Launcher struct {
	cfg     Config
	cmd     *exec.Cmd
	running bool
	lookup  func(string) (string, error)
}

func NewLauncher(cfg Config) *Launcher {
	return &Launcher{cfg: cfg, lookup: exec.LookPath}
}

func (l *Launcher) cdpHost() string {
	return net.JoinHostPort(l.cfg.CDPAddress, strconv.Itoa(l.cfg.CDPPort))
}

// detect resolves the browser binary.
func (l *Launcher) detect() (string, error) {
	if l.cfg.BinaryPath != "" {
		if _, err := os.Stat(l.cfg.BinaryPath); err != nil {
			return "", fmt.Errorf("browser binary: %w", err)
		}
		return l.cfg.BinaryPath, nil
	}
	for _, name := range []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"} {
		if path, err := l.lookup(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", fmt.Errorf("no supported browser found (set TABREUSE_BROWSER_PATH)")
}

func (l *Launcher) args() []string {
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(l.cfg.CDPPort),
		"--remote-debugging-address=" + l.cfg.CDPAddress,
		"--no-first-run",
		"--no-default-browser-check",
	}
	if l.cfg.ProfileDir != "" {
		args = append(args, "--user-data-dir="+l.cfg.ProfileDir)
	}
	return append(args, l.cfg.StartURLs...)
}

func listening(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Launch starts the browser unless something already listens on the CDP
// port, then waits for /json/version to answer.
func (l *Launcher) Launch(ctx context.Context) error {
	if listening(l.cdpHost()) {
		slog.Info("browser already listening, skipping launch", "addr", l.cdpHost())
		return nil
	}

	path, err := l.detect()
	if err != nil {
		return err
	}
	if l.cfg.ProfileDir != "" {
		if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
			return fmt.Errorf("create profile dir: %w", err)
		}
	}

	l.cmd = exec.Command(path, l.args()...)
	if err := l.cmd.Start(); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	l.running = true
	slog.Info("browser process started", "path", path, "pid", l.cmd.Process.Pid)

	if err := l.waitReady(ctx); err != nil {
		l.Stop()
		return fmt.Errorf("waiting for CDP: %w", err)
	}
	slog.Info("CDP endpoint ready", "addr", l.cdpHost())
	return nil
}

func (l *Launcher) waitReady(ctx context.Context) error {
	url := "http://" + l.cdpHost() + "/json/version"
	deadline := time.After(readyTimeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	client := &http.Client{Timeout: time.Second}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("no answer within %s at %s", readyTimeout, url)
		case <-ticker.C:
			resp, err := client.Get(url)
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

// Running reports whether this launcher spawned the browser.
func (l *Launcher) Running() bool {
	return l.running
}

// Stop sends SIGTERM, then SIGKILL after a grace period. It is a no-op when
// the browser was already running before Launch.
func (l *Launcher) Stop() {
	if l.cmd == nil || l.cmd.Process == nil || !l.running {
		return
	}
	slog.Info("stopping browser", "pid", l.cmd.Process.Pid)
	_ = l.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = l.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		slog.Warn("browser did not exit, sending SIGKILL")
		_ = l.cmd.Process.Kill()
		<-done
	}
	l.running = false
}
