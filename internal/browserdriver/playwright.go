package browserdriver

import (
	"context"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightDriver launches a headless Chromium browser via
// playwright-go, the same library the teacher repo's manual CDP probe
// (cmd/testing) uses to drive a connected browser.
type PlaywrightDriver struct {
	pw *playwright.Playwright
}

// NewPlaywrightDriver starts the playwright driver process. It must be
// called once per pool lifetime and stopped with Close when the pool
// shuts down for good (not on every browser-idle-close).
func NewPlaywrightDriver() (*PlaywrightDriver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	return &PlaywrightDriver{pw: pw}, nil
}

func (d *PlaywrightDriver) Close() error {
	if d.pw == nil {
		return nil
	}
	return d.pw.Stop()
}

func (d *PlaywrightDriver) Launch(_ context.Context, opts LaunchOptions) (Browser, error) {
	browser, err := d.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
		Args: []string{
			"--disable-dev-shm-usage",
			"--disable-application-cache",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  opts.Width,
			Height: opts.Height,
		},
		DeviceScaleFactor: playwright.Float(1),
	})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("create browsing context: %w", err)
	}

	for _, pattern := range opts.InterceptPatterns {
		pattern := pattern
		if err := bctx.Route(pattern, func(route playwright.Route) {
			request := route.Request()
			headers := request.Headers()
			headers["cache-control"] = "no-cache"
			headers["pragma"] = "no-cache"
			if err := route.Continue(playwright.RouteContinueOptions{Headers: headers}); err != nil {
				_ = route.Abort()
			}
		}); err != nil {
			_ = browser.Close()
			return nil, fmt.Errorf("install interceptor for %s: %w", pattern, err)
		}
	}

	return &pwBrowser{browser: browser, bctx: bctx}, nil
}

type pwBrowser struct {
	browser playwright.Browser
	bctx    playwright.BrowserContext
}

func (b *pwBrowser) NewPage(_ context.Context, initScripts []string) (Page, error) {
	page, err := b.bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	for _, script := range initScripts {
		if err := page.AddInitScript(playwright.Script{Content: playwright.String(script)}); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("install init script: %w", err)
		}
	}

	return &pwPage{page: page}, nil
}

func (b *pwBrowser) Close() error {
	return b.browser.Close()
}

type pwPage struct {
	page playwright.Page
}

func (p *pwPage) URL() string {
	return p.page.URL()
}

func (p *pwPage) Goto(_ context.Context, url string, opts NavigateOptions) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   timeoutMs(opts.TimeoutMs),
	})
	if err != nil {
		return fmt.Errorf("goto %s: %w", url, err)
	}
	return nil
}

func (p *pwPage) Reload(_ context.Context, opts NavigateOptions) error {
	_, err := p.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   timeoutMs(opts.TimeoutMs),
	})
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

func (p *pwPage) Evaluate(_ context.Context, script string) (any, error) {
	result, err := p.page.Evaluate(script)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}
	return result, nil
}

// Screenshot prefers the animation/caret suppression spec.md calls for
// and falls back to a plain screenshot if the installed browser build
// rejects those options.
func (p *pwPage) Screenshot(_ context.Context, opts ScreenshotOptions) ([]byte, error) {
	full := playwright.PageScreenshotOptions{Type: playwright.ScreenshotTypePng}
	if opts.DisableAnimations {
		full.Animations = playwright.ScreenshotAnimationsDisabled
	}
	if opts.HideCaret {
		full.Caret = playwright.ScreenshotCaretHide
	}

	png, err := p.page.Screenshot(full)
	if err == nil {
		return png, nil
	}
	if !isUnsupportedOptionError(err) {
		return nil, fmt.Errorf("screenshot: %w", err)
	}

	png, err = p.page.Screenshot(playwright.PageScreenshotOptions{Type: playwright.ScreenshotTypePng})
	if err != nil {
		return nil, fmt.Errorf("screenshot (fallback): %w", err)
	}
	return png, nil
}

func (p *pwPage) Close() error {
	return p.page.Close()
}

func timeoutMs(ms int) *float64 {
	if ms <= 0 {
		ms = 45000
	}
	v := float64(ms)
	return &v
}

func isUnsupportedOptionError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unsupported") || strings.Contains(msg, "unknown option")
}
