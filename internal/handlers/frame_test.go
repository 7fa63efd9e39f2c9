package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/brian-nunez/hb-bridge/internal/browserdriver"
	"github.com/brian-nunez/hb-bridge/internal/pool"
	"github.com/brian-nunez/hb-bridge/internal/session"
	"github.com/brian-nunez/hb-bridge/internal/view"
)

func testViews() []view.Config {
	return []view.Config{
		{ID: "A", URL: "http://host/vis/a.html", Enabled: true, BusyFPS: 10},
		{ID: "B", URL: "http://host/vis/b.html", Enabled: true, BusyFPS: 10},
		{ID: "disabled", URL: "http://host/vis/d.html", Enabled: false, BusyFPS: 10},
	}
}

func newTestPool(t *testing.T, maxActive int) *pool.Pool {
	t.Helper()
	driver := browserdriver.NewFakeDriver()
	p := pool.New(driver, testViews(), pool.Config{
		Width:                    800,
		Height:                   480,
		MaxActiveViews:           maxActive,
		InactiveGraceMs:          5000,
		ClosePageAfterInactiveMs: 5000,
		Session: session.Config{
			CaptureMinIntervalMs: 20,
			CaptureMaxIntervalMs: 200,
		},
	})
	p.SetLogf(func(string, ...any) {})
	t.Cleanup(p.Shutdown)
	return p
}

func newTestServer(deps Dependencies) *httptest.Server {
	e := echo.New()
	RegisterRoutes(e, deps)
	return httptest.NewServer(e)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(Dependencies{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestFrameUnauthorized(t *testing.T) {
	p := newTestPool(t, 2)
	srv := newTestServer(Dependencies{Pool: p, AuthToken: "secret"})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/frame/A.png")
	if err != nil {
		t.Fatalf("GET /frame/A.png: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestFrameUnknownView(t *testing.T) {
	p := newTestPool(t, 2)
	srv := newTestServer(Dependencies{Pool: p})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/frame/nonexistent.png")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestFrameDisabledViewIsUnknown(t *testing.T) {
	p := newTestPool(t, 2)
	srv := newTestServer(Dependencies{Pool: p})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/frame/disabled.png")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for disabled view, got %d", resp.StatusCode)
	}
}

func TestFrameRendererNotReady(t *testing.T) {
	srv := newTestServer(Dependencies{Pool: nil})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/frame/A.png")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

// TestFrameColdStartThenETagRevalidation exercises spec.md §8
// scenarios S3 and S4: the first request for a never-rendered view
// drives admission, session activation, and the cold-start wait all
// the way through to a 200 PNG response with a 42-char quoted SHA-1
// ETag, and a follow-up request with If-None-Match set to that ETag
// gets back a 304 with an empty body.
func TestFrameColdStartThenETagRevalidation(t *testing.T) {
	p := newTestPool(t, 2)
	srv := newTestServer(Dependencies{Pool: p})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/frame/A.png")
	if err != nil {
		t.Fatalf("GET /frame/A.png: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("expected image/png, got %q", ct)
	}
	etag := resp.Header.Get("ETag")
	if len(etag) != 42 || etag[0] != '"' || etag[len(etag)-1] != '"' {
		t.Fatalf("expected a 42-char quoted SHA-1 ETag, got %q", etag)
	}

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/frame/A.png", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("If-None-Match", etag)

	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with If-None-Match: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", resp2.StatusCode)
	}
	if got := resp2.Header.Get("ETag"); got != etag {
		t.Fatalf("expected ETag %q on 304, got %q", etag, got)
	}
}

// TestFrameAdmissionRejection covers spec.md §8 scenario S2 over
// HTTP: once the cap is reached, a request for a different view gets
// back a structured too_many_active_views error.
func TestFrameAdmissionRejection(t *testing.T) {
	p := newTestPool(t, 1)
	srv := newTestServer(Dependencies{Pool: p})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/frame/A.png")
	if err != nil {
		t.Fatalf("GET /frame/A.png: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected view A to be admitted with 200, got %d", resp.StatusCode)
	}

	resp2, err := http.Get(srv.URL + "/frame/B.png")
	if err != nil {
		t.Fatalf("GET /frame/B.png: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for view B over the cap, got %d", resp2.StatusCode)
	}
}

// TestFrameByQueryFallsBackToDefaultView covers the legacy
// /frame.png?viewId=... path's fallback to the pool's default view
// when viewId is omitted.
func TestFrameByQueryFallsBackToDefaultView(t *testing.T) {
	p := newTestPool(t, 2)
	srv := newTestServer(Dependencies{Pool: p})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/frame.png")
	if err != nil {
		t.Fatalf("GET /frame.png: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 via default-view fallback, got %d", resp.StatusCode)
	}
}

func TestStatusJSONReportsPoolSnapshot(t *testing.T) {
	p := newTestPool(t, 2)
	srv := newTestServer(Dependencies{Pool: p})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status.json")
	if err != nil {
		t.Fatalf("GET /status.json: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
