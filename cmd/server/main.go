// Command server bootstraps the hb-bridge process: it reads
// configuration from the environment, opens the host adapter's SQLite
// store, constructs the renderer pool and HTTP/WS surface, and runs
// until SIGINT/SIGTERM, following the teacher's cmd/main.go shape
// (env-driven bootstrap, goroutine-started server, signal.Notify,
// bounded-context Shutdown).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/brian-nunez/hb-bridge/internal/browserdriver"
	"github.com/brian-nunez/hb-bridge/internal/config"
	"github.com/brian-nunez/hb-bridge/internal/frame"
	"github.com/brian-nunez/hb-bridge/internal/handlers"
	"github.com/brian-nunez/hb-bridge/internal/hostadapter"
	"github.com/brian-nunez/hb-bridge/internal/httpserver"
	"github.com/brian-nunez/hb-bridge/internal/pool"
	"github.com/brian-nunez/hb-bridge/internal/session"
	"github.com/brian-nunez/hb-bridge/internal/view"
	"github.com/brian-nunez/hb-bridge/internal/wsapi"
)

// controlPollInterval drives the legacy control.activeView/captureNow/
// reloadNow adapter keys (SPEC_FULL.md §6 expansion); it stands in for
// the pool's own 1Hz maintenance tick since the pool has no direct
// SQLite dependency.
const controlPollInterval = time.Second

func main() {
	cfg := config.Load()

	views := validatedViews(cfg.Views)
	if len(views) == 0 {
		log.Fatalf("no valid views configured (HB_BRIDGE_VIEWS_JSON); each entry needs an id and an absolute url")
	}

	db, err := hostadapter.Open(hostadapter.Config{DSN: cfg.DBDSN})
	if err != nil {
		log.Fatalf("open host adapter store: %v", err)
	}
	if err := hostadapter.RunMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		log.Fatalf("run host adapter migrations: %v", err)
	}
	store := hostadapter.NewStore(db)

	driver, err := browserdriver.NewPlaywrightDriver()
	if err != nil {
		_ = db.Close()
		log.Fatalf("start playwright driver: %v", err)
	}

	rendererPool := pool.New(driver, views, pool.Config{
		Width:                       cfg.CanvasWidth,
		Height:                      cfg.CanvasHeight,
		InterceptPatterns:           interceptPatterns(),
		MaxActiveViews:              cfg.MaxActiveViews,
		InactiveGraceMs:             cfg.InactiveGraceMs,
		ClosePageAfterInactiveMs:    cfg.ClosePageAfterInactiveMs,
		CloseBrowserAfterInactiveMs: cfg.CloseBrowserAfterInactiveMs,
		Session: session.Config{
			CaptureMinIntervalMs: cfg.CaptureMinIntervalMs,
			CaptureMaxIntervalMs: cfg.CaptureMaxIntervalMs,
			AutoReloadMs:         cfg.AutoReloadMs,
			CacheBustOnReload:    cfg.CacheBustOnReload,
		},
	})

	if defaultView := resolveDefaultView(cfg.DefaultView, views); defaultView != "" {
		_ = rendererPool.SetActiveView(defaultView)
	}
	if persisted, ok, _ := store.ActiveView(context.Background()); ok && persisted != "" {
		_ = rendererPool.SetActiveView(persisted)
	}

	rendererPool.SetFrameObserver(func(viewID string, f frame.Frame) {
		now := time.Now()
		ctx := context.Background()
		if err := store.SetFrameInfo(ctx, f.TS, f.ETag, now); err != nil {
			log.Printf("persist frame info for %s: %v", viewID, err)
		}
		if err := store.SetConnectionInfo(ctx, true, now); err != nil {
			log.Printf("persist connection info: %v", err)
		}
	})

	rendererPool.SetErrorObserver(func(viewID string, viewErr error) {
		if err := store.SetErrorInfo(context.Background(), viewErr.Error(), time.Now()); err != nil {
			log.Printf("persist error info for %s: %v", viewID, err)
		}
	})

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	rendererPool.Start(rootCtx)
	stopControlPoller := startControlPoller(rootCtx, rendererPool, store)

	authDeps := handlers.Dependencies{Pool: rendererPool, AuthToken: cfg.AuthToken}
	wsDeps := wsapi.Dependencies{Pool: rendererPool, AuthToken: cfg.AuthToken}

	srv := httpserver.New().
		WithDefaultMiddleware().
		WithErrorHandler().
		WithRoutes(func(e *echo.Echo) {
			handlers.RegisterRoutes(e, authDeps)
			wsapi.RegisterRoutes(e, wsDeps)
		}).
		WithNotFound().
		Build()

	addr := fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort)
	go func() {
		if err := srv.Start(addr); err != nil && err.Error() != "http: Server closed" {
			log.Fatalf("could not start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down hb-bridge...")
	stopControlPoller()
	cancelRoot()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	rendererPool.Shutdown()
	if err := driver.Close(); err != nil {
		log.Printf("stop playwright driver: %v", err)
	}
	if err := db.Close(); err != nil {
		log.Printf("close host adapter store: %v", err)
	}
	log.Println("hb-bridge exited cleanly")
}

// interceptPatterns are the vis-views.json/vis-user.css request
// interceptors spec.md §4.2 names, installed on the pool's one shared
// browsing context.
func interceptPatterns() []string {
	return []string{
		"**/vis.0/**/vis-views.json*",
		"**/vis.0/**/vis-user.css*",
	}
}

// validatedViews drops entries with an empty id/url or a malformed url,
// mirroring spec.md §6 ("entries missing id or url are dropped") plus
// the session package's own absolute-URL guard.
func validatedViews(raw []view.Config) []view.Config {
	out := make([]view.Config, 0, len(raw))
	for _, v := range raw {
		if v.ID == "" || v.URL == "" {
			continue
		}
		if err := session.ValidateURL(v.URL); err != nil {
			log.Printf("dropping view %s: %v", v.ID, err)
			continue
		}
		out = append(out, v)
	}
	return out
}

// resolveDefaultView honors an explicit config.DefaultView if it names
// a known, enabled view; otherwise it falls back to the first enabled
// view in catalog order, per spec.md §6 ("first enabled view used if
// empty").
func resolveDefaultView(configured string, views []view.Config) string {
	if configured != "" {
		for _, v := range views {
			if v.ID == configured && v.Enabled {
				return configured
			}
		}
	}
	for _, v := range views {
		if v.Enabled {
			return v.ID
		}
	}
	return ""
}

// startControlPoller applies the persisted control.activeView/
// captureNow/reloadNow adapter keys at 1Hz (SPEC_FULL.md §6 expansion),
// resolving the Open Question in DESIGN.md: these legacy commands apply
// to the pool's single configured default/active view, not every view.
// It returns a function that stops the poller.
func startControlPoller(ctx context.Context, p *pool.Pool, store *hostadapter.Store) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(controlPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				pollControlKeys(ctx, p, store)
			}
		}
	}()
	return func() { close(done) }
}

func pollControlKeys(ctx context.Context, p *pool.Pool, store *hostadapter.Store) {
	now := time.Now()

	if viewID, ok, err := store.ActiveView(ctx); err == nil && ok && viewID != "" {
		_ = p.SetActiveView(viewID)
	}

	if fired, err := store.ConsumeCaptureNow(ctx, now); err == nil && fired {
		p.ApplyCaptureNow(ctx)
	}
	if fired, err := store.ConsumeReloadNow(ctx, now); err == nil && fired {
		p.ApplyReloadNow(ctx)
	}
}
