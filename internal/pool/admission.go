package pool

import "sort"

// Admit implements spec.md §4.2's canActivate plus the race-safe
// reservation it describes. The two steps described there — "place a
// reservation" then "run the admission check" — are folded into one
// atomic operation here: Go gives us a real mutex, so there is no
// cooperative-scheduling gap for a second request to slip through
// between check and reserve the way there would be in an event-loop
// runtime. A view already counted (an existing session the grace
// window still considers wanted, or a reservation placed by an
// earlier concurrent request for the same view) is always admitted
// without consuming another slot.
func (p *Pool) Admit(viewID string) error {
	now := p.nowMs()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.pruneReservationsLocked(now)
	active := p.activeOrReservedLocked(now)

	if _, already := active[viewID]; already {
		return nil
	}

	if len(active) >= p.cfg.MaxActiveViews {
		list := make([]string, 0, len(active))
		for id := range active {
			list = append(list, id)
		}
		sort.Strings(list)
		return &AdmissionError{Limit: p.cfg.MaxActiveViews, ActiveViews: list, Requested: viewID}
	}

	p.reservations[viewID] = now + reservationTTLMs
	return nil
}

func (p *Pool) pruneReservationsLocked(now int64) {
	for id, expiry := range p.reservations {
		if now > expiry {
			delete(p.reservations, id)
		}
	}
}

// activeOrReservedLocked returns the union of view-ids whose session
// is currently "wanted" and view-ids with an unexpired reservation.
// Callers must hold p.mu and have already pruned expired reservations.
func (p *Pool) activeOrReservedLocked(now int64) map[string]struct{} {
	set := make(map[string]struct{}, len(p.sessions)+len(p.reservations))
	for id, s := range p.sessions {
		if s.Wanted(now, p.cfg.InactiveGraceMs) {
			set[id] = struct{}{}
		}
	}
	for id := range p.reservations {
		set[id] = struct{}{}
	}
	return set
}
