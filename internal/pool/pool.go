// Package pool implements the renderer pool: spec.md §3's single owner
// of the shared browser handle, the per-view Session map, admission
// control, and the fan-out that turns a published frame into a frame
// store update, a resolved HTTP waiter, and a WebSocket broadcast.
//
// Grounded on the teacher's internal/browsers/service.go (a Service
// struct owning a client, an ownership store, and request-scoped
// checks before doing expensive work) and on other_examples/
// raiden-staging-kernel-images__domsync.go's Manager (Start/Stop plus
// a ticking background loop that owns a single CDP/browser handle).
package pool

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brian-nunez/hb-bridge/internal/browserdriver"
	"github.com/brian-nunez/hb-bridge/internal/frame"
	"github.com/brian-nunez/hb-bridge/internal/session"
	"github.com/brian-nunez/hb-bridge/internal/subscriptions"
	"github.com/brian-nunez/hb-bridge/internal/view"
)

const reservationTTLMs = 5000

// FrameObserver is notified after every frame publish, after the
// pool's own fan-out runs. The host adapter uses this to mirror
// info.lastCaptureTs/info.lastEtag (SPEC_FULL.md §6).
type FrameObserver func(viewID string, f frame.Frame)

// ErrorObserver is notified whenever a session records a new
// lastError (spec.md §4.1 step 9, SPEC_FULL.md §6: "the pool writes
// info.* after every published frame and lastError update"). The host
// adapter uses this to mirror info.lastError.
type ErrorObserver func(viewID string, err error)

// Config carries the pool-wide settings spec.md §6 exposes: viewport
// size, the request-interception patterns, the admission cap, and the
// inactivity thresholds that drive page/browser teardown.
type Config struct {
	Width                       int
	Height                      int
	InterceptPatterns           []string
	MaxActiveViews              int
	InactiveGraceMs             int64
	ClosePageAfterInactiveMs    int64
	CloseBrowserAfterInactiveMs int64
	Session                     session.Config
}

// Pool owns the single browser handle and every view's Session.
type Pool struct {
	driver browserdriver.Driver
	cfg    Config

	launchMu sync.Mutex

	mu              sync.Mutex
	browser         browserdriver.Browser
	sessions        map[string]*session.Session
	viewConfigs     map[string]view.Config
	reservations    map[string]int64
	lastAnyActiveTs int64
	activeViewID    string

	frameStore *frame.Store
	waiters    *frame.Waiters
	subs       *subscriptions.Registry

	nowMs         func() int64
	logf          func(format string, args ...any)
	frameObserver FrameObserver
	errorObserver ErrorObserver

	tickerStop chan struct{}
	tickerDone chan struct{}
}

// New builds a pool for the given view catalog. Views start out
// disabled unless their Enabled field says otherwise; no session or
// browser is created until the first Subscribe/OnFrameRequest.
func New(driver browserdriver.Driver, views []view.Config, cfg Config) *Pool {
	maxActive := cfg.MaxActiveViews
	if maxActive < 1 {
		maxActive = 1
	}
	if maxActive > 10 {
		maxActive = 10
	}
	cfg.MaxActiveViews = maxActive

	catalog := make(map[string]view.Config, len(views))
	var defaultView string
	for _, v := range views {
		catalog[v.ID] = v
		if defaultView == "" && v.Enabled {
			defaultView = v.ID
		}
	}

	return &Pool{
		driver:       driver,
		cfg:          cfg,
		sessions:     make(map[string]*session.Session),
		viewConfigs:  catalog,
		reservations: make(map[string]int64),
		frameStore:   frame.NewStore(),
		waiters:      frame.NewWaiters(),
		subs:         subscriptions.NewRegistry(),
		nowMs:        func() int64 { return time.Now().UnixMilli() },
		logf:         log.Printf,
		activeViewID: defaultView,
	}
}

// MaxActiveViews returns the clamped admission cap.
func (p *Pool) MaxActiveViews() int { return p.cfg.MaxActiveViews }

// SetClock overrides the time source; tests use this for deterministic
// reservation expiry and inactivity-window behavior.
func (p *Pool) SetClock(fn func() int64) { p.nowMs = fn }

// SetFrameObserver installs a hook invoked after every publish fan-out
// completes (wired to the host adapter's info.* mirroring).
func (p *Pool) SetFrameObserver(fn FrameObserver) { p.frameObserver = fn }

// SetErrorObserver installs a hook invoked whenever a session records
// a new lastError (wired to the host adapter's info.lastError
// mirroring).
func (p *Pool) SetErrorObserver(fn ErrorObserver) { p.errorObserver = fn }

// SetLogf overrides the logging sink (tests use a recording one).
func (p *Pool) SetLogf(fn func(format string, args ...any)) { p.logf = fn }

// DefaultViewID returns the view the pool treats as "active" for the
// legacy single-view control.captureNow/control.reloadNow commands and
// the bare /frame.png fallback, per SPEC_FULL.md §6's resolution of
// that Open Question.
func (p *Pool) DefaultViewID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeViewID
}

// SetActiveView changes the view those legacy commands target. It
// validates the view is known and enabled.
func (p *Pool) SetActiveView(viewID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.viewConfigs[viewID]
	if !ok || !v.Enabled {
		return ErrUnknownView
	}
	p.activeViewID = viewID
	return nil
}

// ViewIDs returns every configured view-id, sorted by id.
func (p *Pool) ViewIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.viewConfigs))
	for id := range p.viewConfigs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// onFrame is the callback every session's loop invokes on publish. It
// implements spec.md §4.3's fan-out: store, then resolve waiters, then
// broadcast, in that order so a WS push never races a 200 response
// that reads a not-yet-stored frame.
func (p *Pool) onFrame(f frame.Frame, viewID string) {
	if !p.frameStore.Publish(viewID, f) {
		return
	}
	p.waiters.Resolve(viewID)
	p.subs.Broadcast(viewID, framePushPayload(viewID, f))
	if p.frameObserver != nil {
		p.frameObserver(viewID, f)
	}
}

func (p *Pool) onLog(viewID string, err error) {
	p.logf("view %s: %v", viewID, err)
	if p.errorObserver != nil {
		p.errorObserver(viewID, err)
	}
}

// GetFrame returns the last published frame for viewID, if any.
func (p *Pool) GetFrame(viewID string) (frame.Frame, bool) {
	return p.frameStore.Get(viewID)
}

// WaitForFrame blocks (bounded by waitMs) for a first frame on a
// cold-started view, per spec.md §4.3.
func (p *Pool) WaitForFrame(viewID string, waitMs int) bool {
	return p.waiters.WaitForFrame(p.frameStore, viewID, waitMs)
}

// OnFrameRequest implements the HTTP frame path's admission-and-touch
// step (spec.md §4.2 touchHttp / §4.4 step 4): admission gate, ensure
// the session exists and is started, then record the HTTP touch.
func (p *Pool) OnFrameRequest(ctx context.Context, viewID string) error {
	if err := p.lookupView(viewID); err != nil {
		return err
	}
	if err := p.Admit(viewID); err != nil {
		return err
	}
	s, err := p.ensureSession(ctx, viewID)
	if err != nil {
		return err
	}
	s.TouchHTTP()
	s.Tick(ctx, p.nowMs(), p.cfg.InactiveGraceMs, p.cfg.ClosePageAfterInactiveMs)
	return nil
}

// Subscribe registers a new WS subscriber for viewID. Callers that are
// switching an existing handle from one view to another must call
// Unsubscribe first (spec.md §4.5: unsubscribe from the prior view
// before the new view's admission check runs, so a switch between two
// views under the cap never spuriously rejects).
func (p *Pool) Subscribe(ctx context.Context, viewID string, sub subscriptions.Subscriber) (uuid.UUID, error) {
	if err := p.lookupView(viewID); err != nil {
		return uuid.Nil, err
	}
	if err := p.Admit(viewID); err != nil {
		return uuid.Nil, err
	}
	s, err := p.ensureSession(ctx, viewID)
	if err != nil {
		return uuid.Nil, err
	}
	handle := subscriptions.NewHandle()
	p.subs.Subscribe(handle, viewID, sub)
	s.Subscribe()
	s.Tick(ctx, p.nowMs(), p.cfg.InactiveGraceMs, p.cfg.ClosePageAfterInactiveMs)
	return handle, nil
}

// Unsubscribe removes handle's subscription, if any, decrementing the
// underlying session's subscriber count.
func (p *Pool) Unsubscribe(handle uuid.UUID) {
	viewID, had := p.subs.Unsubscribe(handle)
	if !had {
		return
	}
	if s, ok := p.sessionFor(viewID); ok {
		s.Unsubscribe()
	}
}

// ApplyCaptureNow raises the capture-now edge on the active view's
// session, creating it if necessary. Best-effort: failures are logged,
// never returned, matching the fire-and-forget nature of the legacy
// adapter control keys (SPEC_FULL.md §6).
func (p *Pool) ApplyCaptureNow(ctx context.Context) {
	viewID := p.DefaultViewID()
	if viewID == "" {
		return
	}
	s, err := p.ensureSession(ctx, viewID)
	if err != nil {
		p.logf("control.captureNow: %v", err)
		return
	}
	s.RaiseCaptureNow()
}

// ApplyReloadNow is ApplyCaptureNow's reload-now counterpart.
func (p *Pool) ApplyReloadNow(ctx context.Context) {
	viewID := p.DefaultViewID()
	if viewID == "" {
		return
	}
	s, err := p.ensureSession(ctx, viewID)
	if err != nil {
		p.logf("control.reloadNow: %v", err)
		return
	}
	s.RaiseReloadNow()
}

func (p *Pool) sessionFor(viewID string) (*session.Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[viewID]
	return s, ok
}

// LookupView reports whether viewID names a known, enabled view,
// returning ErrUnknownView otherwise. Callers that must validate a
// target view before taking an action that cannot be undone (e.g. the
// WS handler's "unsubscribe from prior view" step, spec.md §4.5) call
// this first so an invalid request never disturbs existing state.
func (p *Pool) LookupView(viewID string) error {
	return p.lookupView(viewID)
}

// lookupView rejects an unknown or disabled view-id before it ever
// reaches Admit, so a bad request never consumes a reservation slot
// that a real view would otherwise get.
func (p *Pool) lookupView(viewID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	vc, ok := p.viewConfigs[viewID]
	if !ok || !vc.Enabled {
		return ErrUnknownView
	}
	return nil
}

// ensureSession returns the session for viewID, lazily creating and
// starting it the first time any caller activates that view (spec.md
// §3: "sessions are created lazily on first activation"). Callers must
// have already validated viewID with lookupView.
func (p *Pool) ensureSession(ctx context.Context, viewID string) (*session.Session, error) {
	p.mu.Lock()
	if s, ok := p.sessions[viewID]; ok {
		p.mu.Unlock()
		return s, nil
	}
	vc, ok := p.viewConfigs[viewID]
	if !ok || !vc.Enabled {
		p.mu.Unlock()
		return nil, ErrUnknownView
	}
	s := session.New(viewID, vc, p.cfg.Session, p.onFrame, p.onLog)
	p.sessions[viewID] = s
	p.mu.Unlock()

	s.SetPageFactory(p.pageFactory())
	s.Enable()
	// The loop outlives the request that created the session; Shutdown
	// ends it through Stop.
	s.Start(context.WithoutCancel(ctx))
	return s, nil
}

// pageFactory returns a PageFactory that re-resolves the live browser
// on every call rather than closing over one, so a session survives a
// browser relaunch transparently (spec.md's Design Notes: sessions
// hold no direct browser handle across activations).
func (p *Pool) pageFactory() session.PageFactory {
	return func(ctx context.Context) (browserdriver.Page, error) {
		b, err := p.ensureBrowser(ctx)
		if err != nil {
			return nil, err
		}
		return b.NewPage(ctx, session.InitScripts())
	}
}

// ensureBrowser returns the single shared browser, launching it if
// none is live. launchMu serializes concurrent launches so a burst of
// first-activations across several views only pays the launch cost
// once.
func (p *Pool) ensureBrowser(ctx context.Context) (browserdriver.Browser, error) {
	p.launchMu.Lock()
	defer p.launchMu.Unlock()

	p.mu.Lock()
	if p.browser != nil {
		b := p.browser
		p.mu.Unlock()
		return b, nil
	}
	p.mu.Unlock()

	b, err := p.driver.Launch(ctx, browserdriver.LaunchOptions{
		Width:             p.cfg.Width,
		Height:            p.cfg.Height,
		InterceptPatterns: p.cfg.InterceptPatterns,
	})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.browser = b
	p.mu.Unlock()
	return b, nil
}

// Start launches the 1Hz maintenance tick (spec.md §4.2 Maintenance
// tick).
func (p *Pool) Start(ctx context.Context) {
	p.tickerStop = make(chan struct{})
	p.tickerDone = make(chan struct{})
	go p.maintenanceLoop(ctx)
}

// Shutdown stops the maintenance tick, stops every session's loop for
// real, and closes the browser if one is open. Unlike the tick-driven
// browser retirement (which only clears pages so loops keep idling),
// process shutdown actually releases every goroutine.
func (p *Pool) Shutdown() {
	if p.tickerStop != nil {
		close(p.tickerStop)
		<-p.tickerDone
	}

	p.mu.Lock()
	sessions := make([]*session.Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	browser := p.browser
	p.browser = nil
	p.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	if browser != nil {
		_ = browser.Close()
	}
}
