// Package browserdriver abstracts the headless browser capability the
// renderer pool depends on: launch a browser, open a shared browsing
// context with a viewport and request interceptors, create/close pages,
// install init scripts, navigate, reload, evaluate, and screenshot.
//
// spec.md's Design Notes call for the driver capability to be an opaque
// blob the core submits init-script text to rather than a thing the
// core executes itself; this interface is that seam. The production
// implementation wraps playwright-go; tests use a fake.
package browserdriver

import "context"

// LaunchOptions configures the single shared browsing context the pool
// creates on first use (spec.md §4.2).
type LaunchOptions struct {
	Width  int
	Height int
	// InterceptPatterns are URL glob patterns whose requests get
	// cache-control/pragma no-cache headers injected before being
	// forwarded, matching the vis-views.json/vis-user.css interceptors.
	InterceptPatterns []string
}

// NavigateOptions carries the "DOM content loaded, 45s timeout" load
// semantics spec.md uses for every navigation and reload.
type NavigateOptions struct {
	TimeoutMs int
}

// ScreenshotOptions requests the animation/caret suppression spec.md
// prefers, with a plain fallback when unsupported.
type ScreenshotOptions struct {
	DisableAnimations bool
	HideCaret         bool
}

// Driver launches browsers. There is exactly one live Browser per pool
// instance at a time (spec.md §3 pool state: one browser handle).
type Driver interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser owns the single shared browsing context and creates pages
// within it.
type Browser interface {
	NewPage(ctx context.Context, initScripts []string) (Page, error)
	Close() error
}

// Page is one open tab rendering exactly one view.
type Page interface {
	URL() string
	Goto(ctx context.Context, url string, opts NavigateOptions) error
	Reload(ctx context.Context, opts NavigateOptions) error
	Evaluate(ctx context.Context, script string) (any, error)
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)
	Close() error
}
