package session

import (
	"context"
	"testing"

	"github.com/brian-nunez/hb-bridge/internal/browserdriver"
	"github.com/brian-nunez/hb-bridge/internal/frame"
	"github.com/brian-nunez/hb-bridge/internal/view"
)

func newTestSession(t *testing.T, onFrame OnFrame) (*Session, *browserdriver.FakePage) {
	t.Helper()
	v := view.Config{ID: "A", URL: "http://host/vis/dashboard.html", Enabled: true, BusyFPS: 10}
	cfg := Config{CaptureMinIntervalMs: 200, CaptureMaxIntervalMs: 2000}
	s := New("A", v, cfg, onFrame, func(string, error) {})
	page := &browserdriver.FakePage{}
	s.page = page
	s.enabled = true
	return s, page
}

func TestCaptureAndPublishDedupesIdenticalScreenshot(t *testing.T) {
	var published []frame.Frame
	s, page := newTestSession(t, func(f frame.Frame, viewID string) {
		published = append(published, f)
	})

	s.captureAndPublish(context.Background(), page, 1000)
	s.captureAndPublish(context.Background(), page, 1200)

	if len(published) != 1 {
		t.Fatalf("expected exactly one publish for two identical screenshots, got %d", len(published))
	}
}

func TestCaptureAndPublishEmitsOnChange(t *testing.T) {
	var published []frame.Frame
	s, page := newTestSession(t, func(f frame.Frame, viewID string) {
		published = append(published, f)
	})

	s.captureAndPublish(context.Background(), page, 1000)
	page.Version++
	s.captureAndPublish(context.Background(), page, 1200)

	if len(published) != 2 {
		t.Fatalf("expected two publishes for two distinct screenshots, got %d", len(published))
	}
	if published[0].ETag == published[1].ETag {
		t.Fatalf("expected distinct etags, got %q twice", published[0].ETag)
	}
}

func TestCaptureAndPublishBacksOffProbeOnNoChange(t *testing.T) {
	s, page := newTestSession(t, func(frame.Frame, string) {})

	s.captureAndPublish(context.Background(), page, 1000)
	before := s.ProbeMs()
	s.captureAndPublish(context.Background(), page, 1200)
	after := s.ProbeMs()

	if after <= before {
		t.Fatalf("expected probeMs to back off after an unchanged capture: before=%d after=%d", before, after)
	}
	if after > s.captureMaxMs {
		t.Fatalf("probeMs %d exceeds captureMaxMs %d", after, s.captureMaxMs)
	}
}

func TestCaptureAndPublishResetsProbeOnChange(t *testing.T) {
	s, page := newTestSession(t, func(frame.Frame, string) {})

	s.captureAndPublish(context.Background(), page, 1000) // first publish
	s.captureAndPublish(context.Background(), page, 1200) // unchanged, backs off
	page.Version++
	s.captureAndPublish(context.Background(), page, 1400) // changed again

	if got := s.ProbeMs(); got != s.captureMinMs {
		t.Fatalf("expected probeMs reset to captureMinMs (%d) after a change, got %d", s.captureMinMs, got)
	}
}

func TestDecideCaptureHonorsWantCaptureNowEdge(t *testing.T) {
	s, page := newTestSession(t, func(frame.Frame, string) {})
	s.wantCaptureNow = true

	capture, probe := s.decideCapture(context.Background(), page, 1000)
	if !capture || probe {
		t.Fatalf("expected an explicit capture (not a silent probe), got capture=%v probe=%v", capture, probe)
	}
	if s.wantCaptureNow {
		t.Fatal("expected wantCaptureNow to be cleared after being consumed")
	}
}

func TestDecideCaptureDetectsDirty(t *testing.T) {
	s, page := newTestSession(t, func(frame.Frame, string) {})
	page.Dirty = true

	capture, probe := s.decideCapture(context.Background(), page, 5000)
	if !capture || probe {
		t.Fatalf("expected dirty-triggered capture, got capture=%v probe=%v", capture, probe)
	}
	if page.Dirty {
		t.Fatal("expected dirty flag to be consumed")
	}
	if s.ProbeMs() != s.captureMinMs {
		t.Fatalf("expected probeMs reset on dirty capture, got %d", s.ProbeMs())
	}
}

func TestDecideCaptureSilentProbeWhenStale(t *testing.T) {
	s, page := newTestSession(t, func(frame.Frame, string) {})
	s.lastCaptureTs = 0
	s.probeMs = s.captureMinMs

	capture, probe := s.decideCapture(context.Background(), page, int64(s.captureMinMs)+1)
	if !capture || !probe {
		t.Fatalf("expected silent probe capture, got capture=%v probe=%v", capture, probe)
	}
}

func TestWantedBySubscriberOrGraceWindow(t *testing.T) {
	v := view.Config{ID: "A", URL: "http://host/a", Enabled: true, BusyFPS: 10}
	s := New("A", v, Config{CaptureMinIntervalMs: 200, CaptureMaxIntervalMs: 2000}, nil, nil)

	if s.Wanted(1000, 5000) {
		t.Fatal("expected fresh session with no activity to be unwanted")
	}

	s.Subscribe()
	if !s.Wanted(1000, 5000) {
		t.Fatal("expected session with a subscriber to be wanted")
	}

	s.Unsubscribe()
	s.TouchHTTP()
	if !s.Wanted(1000, 5000) {
		t.Fatal("expected recently-touched session to be wanted within grace window")
	}
}

func TestSetViewUpdatesMinIntervalFromBusyFPS(t *testing.T) {
	v := view.Config{ID: "A", URL: "http://host/a", Enabled: true, BusyFPS: 10}
	s := New("A", v, Config{CaptureMinIntervalMs: 50, CaptureMaxIntervalMs: 2000}, nil, nil)

	fast := view.Config{ID: "A", URL: "http://host/a", Enabled: true, BusyFPS: 20}
	s.SetView(fast)

	if s.captureMinMs != 50 {
		t.Fatalf("expected 20fps to floor to 50ms minimum, got %d", s.captureMinMs)
	}

	slow := view.Config{ID: "A", URL: "http://host/a", Enabled: true, BusyFPS: 1}
	s.SetView(slow)
	if s.captureMinMs != 1000 {
		t.Fatalf("expected 1fps to floor to 1000ms minimum, got %d", s.captureMinMs)
	}
	if s.captureMaxMs < s.captureMinMs {
		t.Fatalf("captureMaxMs %d must stay >= captureMinMs %d", s.captureMaxMs, s.captureMinMs)
	}
}
