package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the daemon settings read from the environment.
type Config struct {
	// CDP connection settings
	CDPAddress    string
	CDPPort       int
	EvalTimeoutMS int

	// HTTP API
	BindAddr         string
	BindAutoFallback bool
	BindCandidates   []string

	// Reuse timing
	SettleWindowMS int
	CookieDelayMS  int

	// Logging
	LogLevel string
	LogFile  string

	// Outcome history
	HistoryDir   string
	HistoryMaxMB int

	OptionsFile string

	// Watch turns on the tab watcher; off serves the API only.
	Watch bool

	// Browser launch, used when nothing listens on the CDP port
	LaunchBrowser     bool
	BrowserPath       string
	BrowserProfileDir string

	// Outcome notifications; empty URL disables them.
	NotifyURL     string
	NotifyActions []string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		EvalTimeoutMS:    getEnvIntOrDefault("TABREUSE_EVAL_TIMEOUT_MS", 5000),
		BindAddr:         getEnvOrDefault("TABREUSE_BIND_ADDR", "127.0.0.1:8190"),
		BindAutoFallback: getEnvBoolOrDefault("TABREUSE_BIND_AUTO_FALLBACK", false),
		BindCandidates:   getEnvListOrDefault("TABREUSE_BIND_CANDIDATES", nil),
		SettleWindowMS:   getEnvIntOrDefault("TABREUSE_SETTLE_WINDOW_MS", 5000),
		CookieDelayMS:    getEnvIntOrDefault("TABREUSE_COOKIE_DELAY_MS", 500),
		LogLevel:         strings.ToLower(getEnvOrDefault("TABREUSE_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("TABREUSE_LOG_FILE", "logs/tabreuse.log"),
		HistoryDir:       getEnvOrDefault("TABREUSE_HISTORY_DIR", "./history"),
		HistoryMaxMB:     getEnvIntOrDefault("TABREUSE_HISTORY_MAX_MB", 50),
		OptionsFile:      getEnvOrDefault("TABREUSE_OPTIONS_FILE", "./config/options.yaml"),
		Watch:            getEnvBoolOrDefault("TABREUSE_WATCH", true),

		LaunchBrowser:     getEnvBoolOrDefault("TABREUSE_LAUNCH_BROWSER", false),
		BrowserPath:       getEnvOrDefault("TABREUSE_BROWSER_PATH", ""),
		BrowserProfileDir: getEnvOrDefault("TABREUSE_BROWSER_PROFILE_DIR", "./profile"),
		NotifyURL:         getEnvOrDefault("TABREUSE_NOTIFY_URL", ""),
		NotifyActions:     getEnvListOrDefault("TABREUSE_NOTIFY_ACTIONS", nil),
	}
	if cfg.EvalTimeoutMS < 1000 {
		cfg.EvalTimeoutMS = 1000
	}
	if cfg.SettleWindowMS < 0 {
		cfg.SettleWindowMS = 0
	}
	if cfg.CookieDelayMS < 0 {
		cfg.CookieDelayMS = 0
	}
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint, e.g. http://127.0.0.1:9222.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func (c *Config) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutMS) * time.Millisecond
}

func (c *Config) SettleWindow() time.Duration {
	return time.Duration(c.SettleWindowMS) * time.Millisecond
}

func (c *Config) CookieDelay() time.Duration {
	return time.Duration(c.CookieDelayMS) * time.Millisecond
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}
