package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/tabreuse/internal/api"
	"github.com/dgnsrekt/tabreuse/internal/browser"
	"github.com/dgnsrekt/tabreuse/internal/cdp"
	"github.com/dgnsrekt/tabreuse/internal/cdpcontrol"
	"github.com/dgnsrekt/tabreuse/internal/config"
	"github.com/dgnsrekt/tabreuse/internal/controller"
	"github.com/dgnsrekt/tabreuse/internal/events"
	"github.com/dgnsrekt/tabreuse/internal/netutil"
	"github.com/dgnsrekt/tabreuse/internal/notify"
	"github.com/dgnsrekt/tabreuse/internal/reuse"
	"github.com/dgnsrekt/tabreuse/internal/storage"
)

const (
	historyBufferSize = 256
	fallbackPortCount = 10
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch browser tabs and serve the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("bind", "", "Listen address (overrides TABREUSE_BIND_ADDR)")
	serveCmd.Flags().Bool("no-watch", false, "Serve the API without watching tabs")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if bind, _ := cmd.Flags().GetString("bind"); bind != "" {
		cfg.BindAddr = bind
	}
	if noWatch, _ := cmd.Flags().GetBool("no-watch"); noWatch {
		cfg.Watch = false
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		return err
	}

	slog.Info("config loaded",
		"cdp_url", cfg.CDPURL(),
		"bind_addr", cfg.BindAddr,
		"bind_auto_fallback", cfg.BindAutoFallback,
		"bind_candidates", cfg.BindCandidates,
		"eval_timeout_ms", cfg.EvalTimeoutMS,
		"settle_window_ms", cfg.SettleWindowMS,
		"cookie_delay_ms", cfg.CookieDelayMS,
		"history_dir", cfg.HistoryDir,
		"options_file", cfg.OptionsFile,
		"watch", cfg.Watch,
		"launch_browser", cfg.LaunchBrowser,
		"notify", cfg.NotifyURL != "",
		"log_level", cfg.LogLevel,
	)

	opts, err := config.LoadOptions(cfg.OptionsFile)
	if err != nil {
		slog.Error("failed to load options", "path", cfg.OptionsFile, "error", err)
		return err
	}

	candidates := cfg.BindCandidates
	if cfg.BindAutoFallback && len(candidates) == 0 {
		if candidates, err = netutil.NextPorts(cfg.BindAddr, fallbackPortCount); err != nil {
			slog.Error("invalid bind address", "addr", cfg.BindAddr, "error", err)
			return err
		}
	}
	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, candidates, cfg.BindAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		return err
	}

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			BinaryPath: cfg.BrowserPath,
			ProfileDir: cfg.BrowserProfileDir,
		})
		if err := launcher.Launch(cmd.Context()); err != nil {
			slog.Error("failed to launch browser", "error", err)
			return err
		}
		defer launcher.Stop()
	}

	client := cdpcontrol.NewClient(cfg.CDPURL(), cfg.EvalTimeout())
	if err := client.Connect(cmd.Context()); err != nil {
		slog.Error("failed to connect to browser", "cdp_url", cfg.CDPURL(), "error", err)
		return err
	}
	defer func() { _ = client.Close() }()

	coord := reuse.NewCoordinator(client, reuse.Options{
		SettleWindow: cfg.SettleWindow(),
		CookieDelay:  cfg.CookieDelay(),
	})

	history := storage.NewHistoryWriter(cfg.HistoryDir, historyBufferSize, cfg.HistoryMaxMB)
	defer func() {
		if err := history.Close(); err != nil {
			slog.Warn("history close failed", "error", err)
		}
	}()
	broker := events.NewBroker()
	coord.AddRecorder(history)
	coord.AddRecorder(broker)
	if cfg.NotifyURL != "" {
		notifier := notify.New(cfg.NotifyURL, nil, cfg.NotifyActions)
		defer notifier.Close()
		coord.AddRecorder(notifier)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Watch {
		go func() {
			if err := client.WatchTabs(ctx, coord); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("tab watcher stopped", "error", err)
			}
		}()
	}

	probe := cdp.NewProbe(cfg.CDPURL(), 2*cfg.EvalTimeout())
	svc := controller.NewService(client, coord, probe, opts, controller.Settings{
		OptionsPath: cfg.OptionsFile,
		HistoryDir:  cfg.HistoryDir,
	})

	srv := &http.Server{Addr: bindAddr, Handler: api.NewServer(svc, broker)}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("tabreuse listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("http server failed", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
	slog.Info("tabreuse stopped", "dropped_events", broker.Dropped())
	return nil
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: parseLevel(level)})
	slog.SetDefault(slog.New(h))
	return nil
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
