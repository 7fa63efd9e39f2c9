// Package session drives a single view's rendering pipeline: it owns
// one browser page, runs the cooperative capture loop described in
// spec.md §4.1, and publishes frames through a callback the renderer
// pool wires to its own fan-out.
//
// Concurrency shape: rather than the channel-actor sketched in
// spec.md's Design Notes, each Session holds its mutable state behind
// a single mutex (the same idiom the teacher uses for its shared maps,
// internal/browsers/ownership_store.go's sync.RWMutex-guarded map) and
// runs exactly one loop goroutine that is the sole writer of
// loop-owned fields between iterations. Admission/activation paths
// (Subscribe, Unsubscribe, TouchHTTP, SetView, Tick) take the same
// mutex, so every field spec.md lists under "View session state" is
// read and written without tearing.
package session

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/brian-nunez/hb-bridge/internal/browserdriver"
	"github.com/brian-nunez/hb-bridge/internal/frame"
	"github.com/brian-nunez/hb-bridge/internal/view"
)

const (
	quietSleepMs     = 200
	burstWindowMs    = 2000
	navigateTimeout  = 45 * time.Second
	errorBackoffMs   = 1000
	probeBackoffMult = 1.5
)

// PageFactory opens a new page in whatever browsing context is
// currently live. The pool supplies one factory per session that
// re-resolves the live browser on every call, so the session never
// holds a direct browser handle across activations (spec.md's
// "Replacing weak/implicit browser-restart recovery" design note).
type PageFactory func(ctx context.Context) (browserdriver.Page, error)

// OnFrame is invoked from inside the loop whenever a new frame
// publishes. The pool binds this to its own fan-out (frame store +
// subscriber push + HTTP waiter resolution).
type OnFrame func(f frame.Frame, viewID string)

// OnLog receives warnings for absorbed errors (spec.md §7: browser-side
// failures are recorded and logged, never propagated to subscribers).
type OnLog func(viewID string, err error)

// Config carries the global capture-interval bounds and reload policy;
// per-view BusyFPS overrides MinIntervalMs (spec.md §6).
type Config struct {
	CaptureMinIntervalMs int
	CaptureMaxIntervalMs int
	AutoReloadMs         int
	CacheBustOnReload    bool
}

// Session is the rendering state for exactly one view.
type Session struct {
	id string

	mu                sync.Mutex
	view              view.Config
	page              browserdriver.Page
	pageFactory       PageFactory
	subscribers       int
	lastHTTPSeenTs    int64
	lastInactiveTs    int64
	wantCaptureNow    bool
	wantReloadNow     bool
	probeMs           int
	captureMinMs      int
	captureMaxMs      int
	globalMinMs       int
	autoReloadMs      int
	cacheBustOnReload bool
	lastReloadTs      int64
	lastCaptureTs     int64
	lastChangeTs      int64
	lastError         string
	lastFrame         *frame.Frame
	enabled           bool

	onFrame OnFrame
	onLog   OnLog
	nowMs   func() int64

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs a session shell. It does not open a page or start the
// loop; callers use Start to run the loop. Pages are opened later, by
// Tick, through the session's PageFactory.
func New(id string, v view.Config, cfg Config, onFrame OnFrame, onLog OnLog) *Session {
	minMs := v.MinIntervalMs()
	maxMs := cfg.CaptureMaxIntervalMs
	if maxMs < minMs {
		maxMs = minMs
	}

	return &Session{
		id:                id,
		view:              v,
		probeMs:           minMs,
		captureMinMs:      minMs,
		captureMaxMs:      maxMs,
		globalMinMs:       cfg.CaptureMinIntervalMs,
		autoReloadMs:      cfg.AutoReloadMs,
		cacheBustOnReload: cfg.CacheBustOnReload,
		onFrame:           onFrame,
		onLog:             onLog,
		nowMs:             func() int64 { return time.Now().UnixMilli() },
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ID returns the view-id this session renders.
func (s *Session) ID() string { return s.id }

// SetClock overrides the time source; tests use this to control the
// burst-throttle window and auto-reload timing deterministically.
func (s *Session) SetClock(fn func() int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowMs = fn
}

// SetPageFactory installs the factory Tick uses to open a page. The
// pool calls it once, when it creates the session; the factory itself
// resolves the live browser on each call, so it keeps working after the
// browser is closed and relaunched.
func (s *Session) SetPageFactory(f PageFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageFactory = f
}

// Enable marks the session as runnable; the loop no-ops while disabled.
func (s *Session) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = true
}

// Subscribe registers one more WS subscriber (spec.md §4.2 Subscribe
// step 3).
func (s *Session) Subscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers++
	s.lastInactiveTs = 0
	s.wantCaptureNow = true
	s.enabled = true
}

// Unsubscribe removes one WS subscriber and records lastInactiveTs once
// the count reaches zero (spec.md §4.2 Unsubscribe).
func (s *Session) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribers > 0 {
		s.subscribers--
	}
	if s.subscribers == 0 {
		s.lastInactiveTs = s.nowMs()
	}
}

// TouchHTTP records an HTTP frame request (spec.md §4.2 touchHttp).
func (s *Session) TouchHTTP() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHTTPSeenTs = s.nowMs()
	s.lastInactiveTs = 0
	s.wantCaptureNow = true
	s.enabled = true
}

// RaiseReloadNow sets the edge-triggered reload flag (used by the
// control.reloadNow adapter command, §6 expansion).
func (s *Session) RaiseReloadNow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wantReloadNow = true
}

// RaiseCaptureNow sets the edge-triggered capture flag (used by the
// control.captureNow adapter command, §6 expansion).
func (s *Session) RaiseCaptureNow() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wantCaptureNow = true
}

// SetView replaces the view configuration, per spec.md §4.1 setView.
func (s *Session) SetView(v view.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	minMs := v.MinIntervalMs()
	s.view = v
	s.captureMinMs = minMs
	if s.captureMaxMs < minMs {
		s.captureMaxMs = minMs
	}
	s.wantCaptureNow = true
	s.probeMs = minMs
}

// View returns the current view configuration.
func (s *Session) View() view.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Wanted reports whether the session should be actively rendering, per
// spec.md §3 invariant 2.
func (s *Session) Wanted(now int64, inactiveGraceMs int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wantedLocked(now, inactiveGraceMs)
}

func (s *Session) wantedLocked(now int64, inactiveGraceMs int64) bool {
	if s.subscribers > 0 {
		return true
	}
	last := maxInt64(s.lastHTTPSeenTs, s.lastInactiveTs)
	if last == 0 {
		return false
	}
	return now-last <= inactiveGraceMs
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// HasPage reports whether a page is currently open.
func (s *Session) HasPage() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page != nil
}

// SubscriberCount returns the current WS subscriber count.
func (s *Session) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribers
}

// Status is a point-in-time snapshot used for /status.json and
// debugging; it never hands out the live mutex-guarded struct itself.
type Status struct {
	ViewID      string `json:"viewId"`
	URL         string `json:"url"`
	HasPage     bool   `json:"hasPage"`
	Subscribers int    `json:"subscribers"`
	ProbeMs     int    `json:"probeMs"`
	LastError   string `json:"lastError,omitempty"`
	LastCapture int64  `json:"lastCaptureTs"`
	LastReload  int64  `json:"lastReloadTs"`
}

// Snapshot returns a consistent point-in-time copy of this session's
// public state.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ViewID:      s.id,
		URL:         s.view.URL,
		HasPage:     s.page != nil,
		Subscribers: s.subscribers,
		ProbeMs:     s.probeMs,
		LastError:   s.lastError,
		LastCapture: s.lastCaptureTs,
		LastReload:  s.lastReloadTs,
	}
}

// LastError returns the most recently recorded error string, if any.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// ProbeMs returns the current adaptive probe interval.
func (s *Session) ProbeMs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probeMs
}

// LastReloadTs returns the timestamp of the most recent reload.
func (s *Session) LastReloadTs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReloadTs
}

// Tick implements spec.md §4.1's activation gating, run once per
// second by the pool's maintenance task (and once synchronously after
// every Subscribe/TouchHTTP to accelerate cold start).
func (s *Session) Tick(ctx context.Context, now int64, inactiveGraceMs int64, closePageAfterInactiveMs int64) {
	s.mu.Lock()
	enabled := s.enabled
	hasPage := s.page != nil
	factory := s.pageFactory
	v := s.view
	want := s.wantedLocked(now, inactiveGraceMs)
	var inactiveSince int64
	if s.subscribers == 0 {
		inactiveSince = maxInt64(s.lastHTTPSeenTs, s.lastInactiveTs)
	}
	s.mu.Unlock()

	if !enabled {
		return
	}

	if !want {
		if hasPage && inactiveSince > 0 && now-inactiveSince > closePageAfterInactiveMs {
			s.closePage()
		}
		return
	}

	if !hasPage {
		if factory == nil {
			return
		}
		if err := s.openPage(ctx, factory); err != nil {
			s.recordError(err)
		}
		return
	}

	s.mu.Lock()
	page := s.page
	s.mu.Unlock()
	if page != nil && page.URL() != v.URL {
		if err := page.Goto(ctx, v.URL, browserdriver.NavigateOptions{TimeoutMs: int(navigateTimeout / time.Millisecond)}); err != nil {
			s.recordError(err)
		}
	}
}

func (s *Session) openPage(ctx context.Context, factory PageFactory) error {
	page, err := factory(ctx)
	if err != nil {
		return fmt.Errorf("open page for view %s: %w", s.id, err)
	}

	s.mu.Lock()
	s.page = page
	v := s.view
	s.mu.Unlock()

	if err := page.Goto(ctx, v.URL, browserdriver.NavigateOptions{TimeoutMs: int(navigateTimeout / time.Millisecond)}); err != nil {
		return fmt.Errorf("navigate view %s: %w", s.id, err)
	}
	return nil
}

// ClearPage closes the session's page (if any) and drops the
// reference, without touching stopCh/doneCh. The pool calls this when
// it retires the shared browser on inactivity (spec.md §4.2 step 2):
// the loop goroutine keeps running and simply idles at quietSleepMs
// until the next activation reopens a page through a fresh factory.
func (s *Session) ClearPage() {
	s.closePage()
}

func (s *Session) closePage() {
	s.mu.Lock()
	page := s.page
	s.page = nil
	s.mu.Unlock()
	if page != nil {
		_ = page.Close()
	}
}

func (s *Session) recordError(err error) {
	s.mu.Lock()
	s.lastError = err.Error()
	s.mu.Unlock()
	if s.onLog != nil {
		s.onLog(s.id, err)
	}
}

// Start launches the capture loop in its own goroutine.
func (s *Session) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Stop clears the running flag, waits for the loop to exit, and closes
// the page (spec.md §4.1 Shutdown).
func (s *Session) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	<-s.doneCh
	s.closePage()
}

func (s *Session) loop(ctx context.Context) {
	defer close(s.doneCh)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if s.runOneIteration(ctx) {
			return
		}
	}
}

// runOneIteration executes one pass of spec.md §4.1's capture loop. It
// returns true if the loop should exit (stop requested).
func (s *Session) runOneIteration(ctx context.Context) bool {
	s.mu.Lock()
	enabled := s.enabled
	page := s.page
	v := s.view
	s.mu.Unlock()

	if !enabled || page == nil || v.ID == "" {
		return s.sleep(quietSleepMs)
	}

	now := s.nowMs()

	s.mu.Lock()
	wantReload := s.wantReloadNow
	autoReloadMs := s.autoReloadMs
	lastReloadTs := s.lastReloadTs
	s.mu.Unlock()

	if wantReload || (autoReloadMs > 0 && now-lastReloadTs >= int64(autoReloadMs)) {
		s.mu.Lock()
		s.wantReloadNow = false
		s.mu.Unlock()
		s.performReload(ctx, page, now)
		return s.sleep(quietSleepMs)
	}

	capture, silentProbe := s.decideCapture(ctx, page, now)
	if !capture {
		return s.sleep(quietSleepMs)
	}

	s.mu.Lock()
	lastChangeTs := s.lastChangeTs
	lastCaptureTs := s.lastCaptureTs
	minMs := s.captureMinMs
	s.mu.Unlock()

	if now-lastChangeTs <= burstWindowMs && now-lastCaptureTs < int64(minMs) {
		return s.sleep(minMs)
	}

	_ = silentProbe
	s.captureAndPublish(ctx, page, now)
	return s.sleep(quietSleepMs)
}

// decideCapture implements step 3 of spec.md §4.1 and clears
// wantCaptureNow when it fires that path.
func (s *Session) decideCapture(ctx context.Context, page browserdriver.Page, now int64) (capture bool, silentProbe bool) {
	s.mu.Lock()
	wantNow := s.wantCaptureNow
	probeMs := s.probeMs
	lastCaptureTs := s.lastCaptureTs
	s.mu.Unlock()

	if wantNow {
		s.mu.Lock()
		s.wantCaptureNow = false
		s.mu.Unlock()
		return true, false
	}

	dirty, err := s.consumeDirty(ctx, page)
	if err != nil {
		s.recordError(err)
		return false, false
	}
	if dirty {
		s.mu.Lock()
		s.lastChangeTs = now
		s.probeMs = s.captureMinMs
		s.mu.Unlock()
		return true, false
	}

	if now-lastCaptureTs >= int64(probeMs) {
		return true, true
	}
	return false, false
}

func (s *Session) consumeDirty(ctx context.Context, page browserdriver.Page) (bool, error) {
	result, err := page.Evaluate(ctx, consumeDirtyScript)
	if err != nil {
		return false, fmt.Errorf("consume-dirty view %s: %w", s.id, err)
	}
	dirty, _ := result.(bool)
	return dirty, nil
}

func (s *Session) captureAndPublish(ctx context.Context, page browserdriver.Page, now int64) {
	if _, err := page.Evaluate(ctx, paintDebounceScript); err != nil {
		s.recordError(fmt.Errorf("paint debounce view %s: %w", s.id, err))
		_ = s.sleep(errorBackoffMs)
		return
	}

	png, err := page.Screenshot(ctx, browserdriver.ScreenshotOptions{DisableAnimations: true, HideCaret: true})
	if err != nil {
		s.recordError(fmt.Errorf("screenshot view %s: %w", s.id, err))
		_ = s.sleep(errorBackoffMs)
		return
	}

	etag := frame.ETagFor(png)

	s.mu.Lock()
	s.lastCaptureTs = now
	var priorETag string
	if s.lastFrame != nil {
		priorETag = s.lastFrame.ETag
	}
	changed := s.lastFrame == nil || priorETag != etag
	if changed {
		f := frame.Frame{PNG: png, ETag: etag, TS: now}
		s.lastFrame = &f
		s.probeMs = s.captureMinMs
		s.lastChangeTs = now
	} else {
		s.probeMs = minInt(s.captureMaxMs, int(float64(s.probeMs)*probeBackoffMult))
	}
	id := s.id
	var published frame.Frame
	if changed {
		published = *s.lastFrame
	}
	s.mu.Unlock()

	if changed && s.onFrame != nil {
		s.onFrame(published, id)
	}
}

func (s *Session) performReload(ctx context.Context, page browserdriver.Page, now int64) {
	s.mu.Lock()
	v := s.view
	cacheBust := s.cacheBustOnReload
	s.mu.Unlock()

	target := cacheBustedURL(v.URL, cacheBust, now)
	current := page.URL()

	var err error
	if target != current {
		err = page.Goto(ctx, target, browserdriver.NavigateOptions{TimeoutMs: int(navigateTimeout / time.Millisecond)})
	} else {
		err = page.Reload(ctx, browserdriver.NavigateOptions{TimeoutMs: int(navigateTimeout / time.Millisecond)})
	}
	if err != nil {
		s.recordError(fmt.Errorf("reload view %s: %w", s.id, err))
		return
	}

	if _, evalErr := page.Evaluate(ctx, "window.__hb && (window.__hb.dirty = true);"); evalErr != nil {
		s.recordError(fmt.Errorf("mark dirty after reload view %s: %w", s.id, evalErr))
	}

	s.mu.Lock()
	s.lastReloadTs = now
	s.wantCaptureNow = true
	s.probeMs = s.captureMinMs
	s.mu.Unlock()
}

// sleep waits up to ms milliseconds, waking early on stop. It returns
// true if the loop should exit.
func (s *Session) sleep(ms int) bool {
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-s.stopCh:
		return true
	case <-timer.C:
		return false
	}
}

// InitScripts returns the init-script blobs the pool installs on every
// page it opens for this session (spec.md's "driver capability
// abstracts the script text as an opaque blob" design note).
func InitScripts() []string {
	return []string{initScript}
}

// ValidateURL is a small guard used before a session is created so a
// malformed view URL fails fast with a clear error instead of a
// confusing navigation timeout later.
func ValidateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid view url %q: %w", raw, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("view url %q must be absolute", raw)
	}
	return nil
}
