package browserdriver

import (
	"context"
	"crypto/sha1"
	"fmt"
	"strings"
	"sync"
)

// FakeDriver is a hand-rolled test double, following the teacher's own
// testing style (internal/browsers/service_test.go's fakeManagerClient)
// rather than a mocking framework. It renders a deterministic PNG-ish
// payload derived from the page's current URL and a version counter, so
// tests can assert on dirtiness/backoff/burst-throttle behavior without
// a real browser.
type FakeDriver struct {
	mu         sync.Mutex
	launches   int
	LaunchErr  error
	NewPageErr error
}

func NewFakeDriver() *FakeDriver {
	return &FakeDriver{}
}

func (d *FakeDriver) Launches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launches
}

func (d *FakeDriver) Launch(_ context.Context, opts LaunchOptions) (Browser, error) {
	d.mu.Lock()
	d.launches++
	d.mu.Unlock()
	if d.LaunchErr != nil {
		return nil, d.LaunchErr
	}
	return &fakeBrowser{driver: d, opts: opts}, nil
}

type fakeBrowser struct {
	driver *FakeDriver
	opts   LaunchOptions
	mu     sync.Mutex
	closed bool
}

func (b *fakeBrowser) NewPage(_ context.Context, initScripts []string) (Page, error) {
	if b.driver.NewPageErr != nil {
		return nil, b.driver.NewPageErr
	}
	return &FakePage{initScripts: initScripts}, nil
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// FakePage is exported so session/pool tests can reach in and drive
// dirtiness, navigation failures, and screenshot content directly.
type FakePage struct {
	mu sync.Mutex

	initScripts []string
	url         string
	closed      bool

	// Dirty is read-and-cleared by Evaluate when the script text
	// matches the session package's consume-dirty probe; tests flip it
	// to simulate a DOM mutation.
	Dirty bool

	// Version changes what Screenshot renders; bump it between calls
	// to simulate a visual change distinct from the Dirty flag (e.g. a
	// probe capture that happens to differ).
	Version int

	GotoErr       error
	ReloadErr     error
	ScreenshotErr error

	gotoCount   int
	reloadCount int
}

func (p *FakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *FakePage) Goto(_ context.Context, url string, _ NavigateOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.GotoErr != nil {
		return p.GotoErr
	}
	p.url = url
	p.gotoCount++
	return nil
}

func (p *FakePage) Reload(_ context.Context, _ NavigateOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ReloadErr != nil {
		return p.ReloadErr
	}
	p.reloadCount++
	return nil
}

// Evaluate recognizes the consume-dirty probe (returns and clears
// Dirty); every other script the session package runs (paint debounce,
// the mark-dirty call after a reload) is a no-op success.
func (p *FakePage) Evaluate(_ context.Context, script string) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if isConsumeDirtyScript(script) {
		was := p.Dirty
		p.Dirty = false
		return was, nil
	}
	return nil, nil
}

func (p *FakePage) Screenshot(_ context.Context, _ ScreenshotOptions) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	payload := fmt.Sprintf("png:%s:%d", p.url, p.Version)
	sum := sha1.Sum([]byte(payload))
	return sum[:], nil
}

func (p *FakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *FakePage) GotoCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gotoCount
}

func isConsumeDirtyScript(script string) bool {
	return strings.Contains(script, "__hb.dirty = false")
}
