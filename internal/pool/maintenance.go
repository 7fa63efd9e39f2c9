package pool

import (
	"context"
	"time"

	"github.com/brian-nunez/hb-bridge/internal/session"
)

const maintenanceTickInterval = time.Second

// maintenanceLoop runs spec.md §4.2's 1Hz maintenance tick until
// Shutdown closes tickerStop.
func (p *Pool) maintenanceLoop(ctx context.Context) {
	defer close(p.tickerDone)
	ticker := time.NewTicker(maintenanceTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.tickerStop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick implements the maintenance pass: recompute which views are
// active, retire the shared browser after CloseBrowserAfterInactiveMs
// with nothing wanted, then give every session a chance to open,
// close, or re-navigate its page.
func (p *Pool) tick(ctx context.Context) {
	now := p.nowMs()

	p.mu.Lock()
	sessions := make([]*session.Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	active := 0
	for _, s := range sessions {
		if s.Wanted(now, p.cfg.InactiveGraceMs) {
			active++
		}
	}
	if active > 0 {
		p.lastAnyActiveTs = now
	} else if p.lastAnyActiveTs == 0 {
		// Nothing has ever been active; start the inactivity clock now
		// rather than at the zero value, so a pool that is simply idle
		// from boot doesn't look infinitely overdue for a browser close.
		p.lastAnyActiveTs = now
	}
	browserOpen := p.browser != nil
	shouldClose := browserOpen && p.cfg.CloseBrowserAfterInactiveMs > 0 &&
		now-p.lastAnyActiveTs >= p.cfg.CloseBrowserAfterInactiveMs
	p.mu.Unlock()

	if shouldClose {
		p.closeBrowser()
		browserOpen = false
	}

	if !browserOpen && active == 0 {
		return
	}

	for _, s := range sessions {
		s.Tick(ctx, now, p.cfg.InactiveGraceMs, p.cfg.ClosePageAfterInactiveMs)
	}
}

// closeBrowser implements spec.md §4.2 step 2: clear every session's
// page reference first, then close the browser. Session loops are not
// stopped; with no page they idle at quietSleepMs until the next
// activation reopens one through a freshly re-resolved factory.
func (p *Pool) closeBrowser() {
	p.mu.Lock()
	sessions := make([]*session.Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	browser := p.browser
	p.browser = nil
	p.mu.Unlock()

	for _, s := range sessions {
		s.ClearPage()
	}
	if browser != nil {
		_ = browser.Close()
	}
}
