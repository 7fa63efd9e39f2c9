package wsapi

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/coder/websocket"

	"github.com/brian-nunez/hb-bridge/internal/browserdriver"
	"github.com/brian-nunez/hb-bridge/internal/pool"
	"github.com/brian-nunez/hb-bridge/internal/session"
	"github.com/brian-nunez/hb-bridge/internal/view"
)

// fakeConn is a hand-rolled wsConn double, following the same
// fake-over-an-interface style as internal/browserdriver.FakePage
// rather than a mocking framework.
type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
	code   websocket.StatusCode
	reason string
}

func (c *fakeConn) Read(context.Context) (websocket.MessageType, []byte, error) {
	<-context.Background().Done()
	return 0, nil, context.Canceled
}

func (c *fakeConn) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close(code websocket.StatusCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.code = code
	c.reason = reason
	return nil
}

func (c *fakeConn) lastMessage(t *testing.T) outboundMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writes) == 0 {
		t.Fatalf("expected at least one write, got none")
	}
	var msg outboundMessage
	if err := json.Unmarshal(c.writes[len(c.writes)-1], &msg); err != nil {
		t.Fatalf("unmarshal last write: %v", err)
	}
	return msg
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

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

// TestHandleSubscribeUnknownViewPreservesExistingSubscription is the
// regression test for spec.md §4.5's documented order: an unknown or
// disabled viewId must be rejected before any prior subscription is
// torn down, so a client already watching a healthy view never loses
// it by asking for a bad one (spec.md §8 property 3, "no silent
// loss").
func TestHandleSubscribeUnknownViewPreservesExistingSubscription(t *testing.T) {
	p := newTestPool(t, 2)
	conn := &fakeConn{}
	s := &wsSession{conn: conn, deps: Dependencies{Pool: p}}

	s.handleSubscribe("A")
	if !s.subscribed || s.subscribedID != "A" {
		t.Fatalf("expected subscription to A, got subscribed=%v id=%q", s.subscribed, s.subscribedID)
	}

	s.handleSubscribe("nonexistent")

	if !s.subscribed || s.subscribedID != "A" {
		t.Fatalf("subscription to A was lost after an unknown-view request: subscribed=%v id=%q", s.subscribed, s.subscribedID)
	}

	msg := conn.lastMessage(t)
	if msg.Type != "error" || msg.Error != "unknown_view" || msg.ViewID != "nonexistent" {
		t.Fatalf("unexpected error reply: %+v", msg)
	}
}

// TestHandleSubscribeDisabledViewPreservesExistingSubscription covers
// the disabled-but-known case of the same ordering requirement.
func TestHandleSubscribeDisabledViewPreservesExistingSubscription(t *testing.T) {
	p := newTestPool(t, 2)
	conn := &fakeConn{}
	s := &wsSession{conn: conn, deps: Dependencies{Pool: p}}

	s.handleSubscribe("A")
	s.handleSubscribe("disabled")

	if !s.subscribed || s.subscribedID != "A" {
		t.Fatalf("subscription to A was lost after a disabled-view request: subscribed=%v id=%q", s.subscribed, s.subscribedID)
	}

	msg := conn.lastMessage(t)
	if msg.Type != "error" || msg.Error != "unknown_view" || msg.ViewID != "disabled" {
		t.Fatalf("unexpected error reply: %+v", msg)
	}
}

// TestHandleSubscribeSwitchesBetweenKnownViews ensures the fix above
// did not break the ordinary switch-views path: a subsequent
// subscribe to a different, valid view still unsubscribes from the
// prior one and admits the new one.
func TestHandleSubscribeSwitchesBetweenKnownViews(t *testing.T) {
	p := newTestPool(t, 2)
	conn := &fakeConn{}
	s := &wsSession{conn: conn, deps: Dependencies{Pool: p}}

	s.handleSubscribe("A")
	s.handleSubscribe("B")

	if !s.subscribed || s.subscribedID != "B" {
		t.Fatalf("expected switched subscription to B, got subscribed=%v id=%q", s.subscribed, s.subscribedID)
	}

	msg := conn.lastMessage(t)
	if msg.Type != "subscribed" || msg.ViewID != "B" {
		t.Fatalf("unexpected reply after switch: %+v", msg)
	}
}

// TestHandleSubscribeAdmissionRejection covers spec.md §8 scenario S2
// with a cap of 1: a second subscriber, for a different view, gets back
// a structured
// too_many_active_views error naming the limit and the views already
// active.
func TestHandleSubscribeAdmissionRejection(t *testing.T) {
	p := newTestPool(t, 1)

	connA := &fakeConn{}
	sessA := &wsSession{conn: connA, deps: Dependencies{Pool: p}}
	sessA.handleSubscribe("A")
	if msg := connA.lastMessage(t); msg.Type != "subscribed" {
		t.Fatalf("expected A to be admitted, got %+v", msg)
	}

	connB := &fakeConn{}
	sessB := &wsSession{conn: connB, deps: Dependencies{Pool: p}}
	sessB.handleSubscribe("B")

	msg := connB.lastMessage(t)
	if msg.Type != "error" || msg.Error != "too_many_active_views" {
		t.Fatalf("expected too_many_active_views, got %+v", msg)
	}
	if msg.Limit != 1 {
		t.Fatalf("expected limit 1, got %d", msg.Limit)
	}
	if msg.Requested != "B" {
		t.Fatalf("expected requested=B, got %q", msg.Requested)
	}
	if len(msg.ActiveViews) != 1 || msg.ActiveViews[0] != "A" {
		t.Fatalf("expected activeViews=[A], got %v", msg.ActiveViews)
	}
	if sessB.subscribed {
		t.Fatalf("rejected subscribe must not leave the session marked subscribed")
	}
}

func TestHandleSubscribeEmptyViewID(t *testing.T) {
	p := newTestPool(t, 2)
	conn := &fakeConn{}
	s := &wsSession{conn: conn, deps: Dependencies{Pool: p}}

	s.handleSubscribe("")

	msg := conn.lastMessage(t)
	if msg.Type != "error" || msg.Error != "unknown_view" {
		t.Fatalf("unexpected reply for empty viewId: %+v", msg)
	}
}

func TestHandleSubscribeNoPool(t *testing.T) {
	conn := &fakeConn{}
	s := &wsSession{conn: conn, deps: Dependencies{}}

	s.handleSubscribe("A")

	msg := conn.lastMessage(t)
	if msg.Type != "error" || msg.Error != "renderer_not_ready" {
		t.Fatalf("unexpected reply with no pool: %+v", msg)
	}
}

func TestHandleHelloReportsSubscribedView(t *testing.T) {
	p := newTestPool(t, 2)
	conn := &fakeConn{}
	s := &wsSession{conn: conn, deps: Dependencies{Pool: p}}

	s.handleSubscribe("A")
	s.handleHello()

	msg := conn.lastMessage(t)
	if msg.Type != "hello_ack" || msg.SubscribedView != "A" {
		t.Fatalf("unexpected hello_ack: %+v", msg)
	}
}

func TestUnsubscribeIsNoOpWithoutAnActiveSubscription(t *testing.T) {
	p := newTestPool(t, 2)
	conn := &fakeConn{}
	s := &wsSession{conn: conn, deps: Dependencies{Pool: p}}

	s.unsubscribe()

	if conn.writeCount() != 0 {
		t.Fatalf("expected no writes from a no-op unsubscribe, got %d", conn.writeCount())
	}
}
