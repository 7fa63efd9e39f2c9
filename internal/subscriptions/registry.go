// Package subscriptions maps view-ids to the set of subscriber handles
// watching them, and the inverse, exactly as spec.md §3 describes: each
// subscriber subscribes to at most one view.
//
// Grounded on the teacher's own mutex-guarded map idiom
// (internal/browsers/ownership_store.go's InMemoryOwnershipStore) and
// on the pack's WebSocket hub patterns (other_examples/
// raiden-staging-kernel-images__domsync.go's clientsMu-guarded client
// map, other_examples/markus-barta-nixfleet__hub.go's per-client safe
// send). Subscriber handles are uuid.UUID, following the pack's
// convention for opaque connection identifiers.
package subscriptions

import (
	"sync"

	"github.com/google/uuid"
)

// Subscriber is anything that can receive a push notification; the WS
// handler implements it over a single connection.
type Subscriber interface {
	// Send delivers a JSON-encoded payload. Implementations must not
	// block the caller for long; the registry treats a failing send as
	// fire-and-forget (spec.md §4.3: "send failures are swallowed").
	Send(payload []byte) error
}

// Registry holds the view-id -> subscriber-set map and its inverse.
type Registry struct {
	mu          sync.RWMutex
	byView      map[string]map[uuid.UUID]Subscriber
	viewByToken map[uuid.UUID]string
}

func NewRegistry() *Registry {
	return &Registry{
		byView:      make(map[string]map[uuid.UUID]Subscriber),
		viewByToken: make(map[uuid.UUID]string),
	}
}

// NewHandle mints a fresh subscriber handle. Callers hold it for the
// lifetime of one connection.
func NewHandle() uuid.UUID {
	return uuid.New()
}

// Subscribe registers handle against viewID, first removing any prior
// subscription for handle (invariant 1: a handle subscribes to at most
// one view). It returns the view-id the handle was previously
// subscribed to, if any, so the caller can decrement that session's
// subscriber counter.
func (r *Registry) Subscribe(handle uuid.UUID, viewID string, sub Subscriber) (previousViewID string, hadPrevious bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	previousViewID, hadPrevious = r.unsubscribeLocked(handle)

	set, ok := r.byView[viewID]
	if !ok {
		set = make(map[uuid.UUID]Subscriber)
		r.byView[viewID] = set
	}
	set[handle] = sub
	r.viewByToken[handle] = viewID
	return previousViewID, hadPrevious
}

// Unsubscribe removes handle from whatever view it was watching. It
// returns the view-id it was removed from, if any.
func (r *Registry) Unsubscribe(handle uuid.UUID) (viewID string, hadSubscription bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unsubscribeLocked(handle)
}

func (r *Registry) unsubscribeLocked(handle uuid.UUID) (string, bool) {
	viewID, ok := r.viewByToken[handle]
	if !ok {
		return "", false
	}
	delete(r.viewByToken, handle)
	if set, ok := r.byView[viewID]; ok {
		delete(set, handle)
		if len(set) == 0 {
			delete(r.byView, viewID)
		}
	}
	return viewID, true
}

// ViewOf returns the view-id handle currently subscribes to, if any.
func (r *Registry) ViewOf(handle uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	viewID, ok := r.viewByToken[handle]
	return viewID, ok
}

// Count returns the number of subscribers currently watching viewID.
func (r *Registry) Count(viewID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byView[viewID])
}

// Broadcast delivers payload to every subscriber of viewID. Per-send
// errors are swallowed (spec.md §4.3/§5 backpressure policy): a slow or
// broken subscriber never blocks the publisher or other subscribers.
func (r *Registry) Broadcast(viewID string, payload []byte) {
	r.mu.RLock()
	set := r.byView[viewID]
	subs := make([]Subscriber, 0, len(set))
	for _, sub := range set {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()

	for _, sub := range subs {
		_ = sub.Send(payload)
	}
}
