// Package wsapi implements the WS control handler spec.md §4.5
// describes: hello/subscribe/setView, frame push, and authenticated
// close codes.
//
// Grounded on other_examples/raiden-staging-kernel-images__domsync.go
// (coder/websocket.Accept/Read/Write/Close, a per-connection read loop
// run to completion with context.Background() since the handler's own
// request context is canceled as soon as it returns) and on the
// teacher's auth.go token-extraction idiom, reused here via
// internal/authn.
package wsapi

import (
	"context"
	"encoding/json"
	"log"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/brian-nunez/hb-bridge/internal/authn"
	"github.com/brian-nunez/hb-bridge/internal/pool"
)

const (
	closeUnauthorized  = websocket.StatusCode(4001)
	closeInternalError = websocket.StatusCode(1011)
)

// wsConn is the subset of *websocket.Conn wsSession drives. The seam
// lets tests exercise handleSubscribe/handleHello with a hand-rolled
// fake instead of a live socket, following the same
// interface-over-a-driver shape as internal/browserdriver.Driver.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dependencies mirrors internal/handlers.Dependencies.
type Dependencies struct {
	Pool      *pool.Pool
	AuthToken string
}

// RegisterRoutes attaches the WS endpoint to e. Any path accepted by
// the upgrade works, per spec.md §6; this mounts it at /ws.
func RegisterRoutes(e *echo.Echo, deps Dependencies) {
	h := &handler{deps: deps}
	e.GET("/ws", h.serve)
}

type handler struct {
	deps Dependencies
}

type inboundMessage struct {
	Type   string `json:"type"`
	ViewID string `json:"viewId"`
}

type outboundMessage struct {
	Type           string      `json:"type"`
	ActiveViewID   string      `json:"activeViewId,omitempty"`
	SubscribedView string      `json:"subscribedViewId,omitempty"`
	Pool           interface{} `json:"pool,omitempty"`
	Frame          interface{} `json:"frame,omitempty"`
	ViewID         string      `json:"viewId,omitempty"`
	Error          string      `json:"error,omitempty"`
	Limit          int         `json:"limit,omitempty"`
	ActiveViews    []string    `json:"activeViews,omitempty"`
	Requested      string      `json:"requested,omitempty"`
}

// connSubscriber adapts a wsConn to subscriptions.Subscriber.
type connSubscriber struct {
	conn wsConn
}

func (s connSubscriber) Send(payload []byte) error {
	return s.conn.Write(context.Background(), websocket.MessageText, payload)
}

func (h *handler) serve(c echo.Context) error {
	w := c.Response().Writer
	r := c.Request()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return nil
	}

	if !authn.Authorized(h.deps.AuthToken, authn.ExtractToken(r)) {
		conn.Close(closeUnauthorized, "unauthorized")
		return nil
	}

	session := &wsSession{conn: conn, deps: h.deps}
	session.run()
	return nil
}

// wsSession tracks the at-most-one subscribed view for a single
// connection (spec.md §4.5: "each connection has at most one
// subscribed view").
type wsSession struct {
	conn wsConn
	deps Dependencies

	subscribed   bool
	subscribedID string
	handle       uuid.UUID
}

// run reads messages until the connection closes, using
// context.Background() since the echo request context is canceled the
// moment serve() returns (same reasoning as the domsync grounding).
func (s *wsSession) run() {
	defer s.unsubscribe()
	defer s.recoverPanic()

	for {
		_, data, err := s.conn.Read(context.Background())
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "hello":
			s.handleHello()
		case "subscribe", "setView":
			s.handleSubscribe(msg.ViewID)
		}
	}
}

// recoverPanic catches a panic unwinding through run()'s read loop and
// closes the connection with 1011 instead of letting it escape past
// serve() with no close frame sent (spec.md §7: "Internal exception in
// handler | Any | HTTP 500 internal_error; WS close 1011").
func (s *wsSession) recoverPanic() {
	if r := recover(); r != nil {
		log.Printf("ws session panic: %v", r)
		_ = s.conn.Close(closeInternalError, "internal_error")
	}
}

func (s *wsSession) handleHello() {
	reply := outboundMessage{
		Type:           "hello_ack",
		SubscribedView: s.subscribedID,
	}
	if s.deps.Pool != nil {
		reply.ActiveViewID = s.deps.Pool.DefaultViewID()
		reply.Pool = s.deps.Pool.Status()
		if s.subscribedID != "" {
			if f, ok := s.deps.Pool.GetFrame(s.subscribedID); ok {
				reply.Frame = f
			}
		}
	}
	s.send(reply)
}

func (s *wsSession) handleSubscribe(viewID string) {
	if s.deps.Pool == nil {
		s.send(outboundMessage{Type: "error", Error: "renderer_not_ready"})
		return
	}
	if viewID == "" {
		s.send(outboundMessage{Type: "error", Error: "unknown_view"})
		return
	}
	if err := s.deps.Pool.LookupView(viewID); err != nil {
		s.send(outboundMessage{Type: "error", Error: "unknown_view", ViewID: viewID})
		return
	}

	s.unsubscribe()

	handle, err := s.deps.Pool.Subscribe(context.Background(), viewID, connSubscriber{conn: s.conn})
	if err != nil {
		s.sendActivationError(viewID, err)
		return
	}

	s.subscribed = true
	s.subscribedID = viewID
	s.handle = handle
	s.send(outboundMessage{Type: "subscribed", ViewID: viewID})
}

func (s *wsSession) sendActivationError(viewID string, err error) {
	if err == pool.ErrUnknownView {
		s.send(outboundMessage{Type: "error", Error: "unknown_view", ViewID: viewID})
		return
	}
	if admErr, ok := err.(*pool.AdmissionError); ok {
		s.send(outboundMessage{
			Type:        "error",
			Error:       "too_many_active_views",
			Limit:       admErr.Limit,
			ActiveViews: admErr.ActiveViews,
			Requested:   admErr.Requested,
		})
		return
	}
	s.send(outboundMessage{Type: "error", Error: "internal_error", ViewID: viewID})
}

func (s *wsSession) unsubscribe() {
	if !s.subscribed || s.deps.Pool == nil {
		return
	}
	s.deps.Pool.Unsubscribe(s.handle)
	s.subscribed = false
	s.subscribedID = ""
}

func (s *wsSession) send(msg outboundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	_ = s.conn.Write(context.Background(), websocket.MessageText, data)
}
