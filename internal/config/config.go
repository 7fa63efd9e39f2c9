// Package config loads and validates the bridge's configuration.
// spec.md §1 treats configuration parsing as an external collaborator
// ("supplies a validated config object"); this package is that
// collaborator, built in the teacher's getenvOrDefault style
// (cmd/main.go) rather than a flags/viper-based loader, since no
// config-parsing library appears anywhere in the retrieved pack.
package config

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/brian-nunez/hb-bridge/internal/view"
)

// Config is the validated, range-clamped option set spec.md §6
// defines.
type Config struct {
	ListenHost string
	ListenPort int
	AuthToken  string

	CanvasWidth  int
	CanvasHeight int

	CaptureMinIntervalMs int
	CaptureMaxIntervalMs int
	AutoReloadMs         int
	CacheBustOnReload    bool

	DefaultView string

	MaxActiveViews              int
	InactiveGraceMs             int64
	ClosePageAfterInactiveMs    int64
	CloseBrowserAfterInactiveMs int64

	Views []view.Config

	DBDSN string
}

// Defaults matches spec.md §6's stated default values.
func Defaults() Config {
	return Config{
		ListenHost:                  "0.0.0.0",
		ListenPort:                  8787,
		CanvasWidth:                 384,
		CanvasHeight:                64,
		CaptureMinIntervalMs:        200,
		CaptureMaxIntervalMs:        2000,
		AutoReloadMs:                0,
		CacheBustOnReload:           false,
		MaxActiveViews:              2,
		InactiveGraceMs:             5000,
		ClosePageAfterInactiveMs:    15000,
		CloseBrowserAfterInactiveMs: 30000,
	}
}

// rawView is the wire shape for HB_BRIDGE_VIEWS_JSON, mirroring
// spec.md §6's views option ("entries missing id or url are dropped").
type rawView struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Enabled *bool  `json:"enabled"`
	Name    string `json:"name"`
	BusyFPS int    `json:"busyFps"`
}

// Load builds a Config from environment variables, following the
// teacher's getenvOrDefault idiom for every scalar, then clamps every
// numeric field into its documented range.
func Load() Config {
	cfg := Defaults()

	cfg.ListenHost = getenvOrDefault("HB_BRIDGE_LISTEN_HOST", cfg.ListenHost)
	cfg.ListenPort = getenvIntOrDefault("HB_BRIDGE_LISTEN_PORT", cfg.ListenPort)
	cfg.AuthToken = getenvOrDefault("HB_BRIDGE_AUTH_TOKEN", cfg.AuthToken)

	cfg.CanvasWidth = getenvIntOrDefault("HB_BRIDGE_CANVAS_WIDTH", cfg.CanvasWidth)
	cfg.CanvasHeight = getenvIntOrDefault("HB_BRIDGE_CANVAS_HEIGHT", cfg.CanvasHeight)

	cfg.CaptureMinIntervalMs = getenvIntOrDefault("HB_BRIDGE_CAPTURE_MIN_INTERVAL_MS", cfg.CaptureMinIntervalMs)
	cfg.CaptureMaxIntervalMs = getenvIntOrDefault("HB_BRIDGE_CAPTURE_MAX_INTERVAL_MS", cfg.CaptureMaxIntervalMs)
	cfg.AutoReloadMs = getenvIntOrDefault("HB_BRIDGE_AUTO_RELOAD_MS", cfg.AutoReloadMs)
	cfg.CacheBustOnReload = getenvBoolOrDefault("HB_BRIDGE_CACHE_BUST_ON_RELOAD", cfg.CacheBustOnReload)

	cfg.DefaultView = getenvOrDefault("HB_BRIDGE_DEFAULT_VIEW", cfg.DefaultView)

	cfg.MaxActiveViews = getenvIntOrDefault("HB_BRIDGE_MAX_ACTIVE_VIEWS", cfg.MaxActiveViews)
	cfg.InactiveGraceMs = getenvInt64OrDefault("HB_BRIDGE_INACTIVE_GRACE_MS", cfg.InactiveGraceMs)
	cfg.ClosePageAfterInactiveMs = getenvInt64OrDefault("HB_BRIDGE_CLOSE_PAGE_AFTER_INACTIVE_MS", cfg.ClosePageAfterInactiveMs)
	cfg.CloseBrowserAfterInactiveMs = getenvInt64OrDefault("HB_BRIDGE_CLOSE_BROWSER_AFTER_INACTIVE_MS", cfg.CloseBrowserAfterInactiveMs)

	cfg.DBDSN = getenvOrDefault("HB_BRIDGE_DB_DSN", "")

	cfg.Views = parseViews(os.Getenv("HB_BRIDGE_VIEWS_JSON"))

	return Clamp(cfg)
}

func parseViews(raw string) []view.Config {
	if raw == "" {
		return nil
	}
	var entries []rawView
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil
	}

	views := make([]view.Config, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" || e.URL == "" {
			continue
		}
		enabled := true
		if e.Enabled != nil {
			enabled = *e.Enabled
		}
		views = append(views, view.Config{
			ID:      e.ID,
			URL:     e.URL,
			Name:    e.Name,
			Enabled: enabled,
			BusyFPS: e.BusyFPS,
		})
	}
	return views
}

// Clamp enforces spec.md §6's ranges: "values outside ranges clamp
// into range; non-finite numbers fall back to defaults."
func Clamp(cfg Config) Config {
	defaults := Defaults()

	cfg.ListenPort = clampInt(cfg.ListenPort, 1, 65535, defaults.ListenPort)
	cfg.CanvasWidth = clampInt(cfg.CanvasWidth, 1, 8192, defaults.CanvasWidth)
	cfg.CanvasHeight = clampInt(cfg.CanvasHeight, 1, 8192, defaults.CanvasHeight)

	cfg.CaptureMinIntervalMs = clampInt(cfg.CaptureMinIntervalMs, 50, 60000, defaults.CaptureMinIntervalMs)
	cfg.CaptureMaxIntervalMs = clampInt(cfg.CaptureMaxIntervalMs, cfg.CaptureMinIntervalMs, 600000, defaults.CaptureMaxIntervalMs)
	if cfg.CaptureMaxIntervalMs < cfg.CaptureMinIntervalMs {
		cfg.CaptureMaxIntervalMs = cfg.CaptureMinIntervalMs
	}
	cfg.AutoReloadMs = clampInt(cfg.AutoReloadMs, 0, 3600000, defaults.AutoReloadMs)

	cfg.MaxActiveViews = clampInt(cfg.MaxActiveViews, 1, 10, defaults.MaxActiveViews)
	cfg.InactiveGraceMs = clampInt64(cfg.InactiveGraceMs, 0, 600000, defaults.InactiveGraceMs)
	cfg.ClosePageAfterInactiveMs = clampInt64(cfg.ClosePageAfterInactiveMs, 0, 3600000, defaults.ClosePageAfterInactiveMs)
	cfg.CloseBrowserAfterInactiveMs = clampInt64(cfg.CloseBrowserAfterInactiveMs, 0, 3600000, defaults.CloseBrowserAfterInactiveMs)

	// busyFps is 1..20, default 10. A zero is what an absent JSON field
	// decodes to, so it takes the default; other values clamp.
	for i := range cfg.Views {
		switch {
		case cfg.Views[i].BusyFPS == 0:
			cfg.Views[i].BusyFPS = 10
		case cfg.Views[i].BusyFPS < 1:
			cfg.Views[i].BusyFPS = 1
		case cfg.Views[i].BusyFPS > 20:
			cfg.Views[i].BusyFPS = 20
		}
	}

	return cfg
}

func clampInt(value, min, max, fallback int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func clampInt64(value, min, max, fallback int64) int64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func getenvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getenvIntOrDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvInt64OrDefault(key string, fallback int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBoolOrDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
