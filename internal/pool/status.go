package pool

import (
	"encoding/json"
	"net/url"
	"sort"

	"github.com/brian-nunez/hb-bridge/internal/frame"
	"github.com/brian-nunez/hb-bridge/internal/session"
)

// framePush is the WS payload spec.md §4.5 pushes to every subscriber
// of a view on a new frame.
type framePush struct {
	Type   string `json:"type"`
	ViewID string `json:"viewId"`
	ETag   string `json:"etag"`
	TS     int64  `json:"ts"`
	URL    string `json:"url"`
}

func framePushPayload(viewID string, f frame.Frame) []byte {
	payload := framePush{
		Type:   "frame",
		ViewID: viewID,
		ETag:   f.ETag,
		TS:     f.TS,
		URL:    "/frame/" + url.PathEscape(viewID) + ".png",
	}
	// Marshal cannot fail for this fixed, all-string/int shape.
	b, _ := json.Marshal(payload)
	return b
}

// Status is the /status.json response body (SPEC_FULL.md §4.4).
type Status struct {
	ActiveViewID   string           `json:"activeViewId"`
	BrowserOpen    bool             `json:"browserOpen"`
	MaxActiveViews int              `json:"maxActiveViews"`
	ActiveViews    []string         `json:"activeViews"`
	Sessions       []session.Status `json:"sessions"`
}

// Status returns a point-in-time snapshot for the status endpoint.
func (p *Pool) Status() Status {
	now := p.nowMs()

	p.mu.Lock()
	browserOpen := p.browser != nil
	activeViewID := p.activeViewID
	maxActive := p.cfg.MaxActiveViews
	sessions := make([]*session.Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()

	active := p.activeOrReservedSnapshot(now)
	snaps := make([]session.Status, 0, len(sessions))
	for _, s := range sessions {
		snaps = append(snaps, s.Snapshot())
	}

	return Status{
		ActiveViewID:   activeViewID,
		BrowserOpen:    browserOpen,
		MaxActiveViews: maxActive,
		ActiveViews:    active,
		Sessions:       snaps,
	}
}

func (p *Pool) activeOrReservedSnapshot(now int64) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneReservationsLocked(now)
	set := p.activeOrReservedLocked(now)
	list := make([]string, 0, len(set))
	for id := range set {
		list = append(list, id)
	}
	sort.Strings(list)
	return list
}
