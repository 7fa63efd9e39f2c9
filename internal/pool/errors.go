package pool

import (
	"errors"
	"fmt"
)

// ErrUnknownView is returned when a caller references a view-id that
// was never configured, or that is configured but disabled (spec.md
// §7 taxonomy: "unknown_view").
var ErrUnknownView = errors.New("unknown_view")

// AdmissionError is returned when activating a view would exceed
// maxActiveViews (spec.md §7: "too_many_active_views"). It carries the
// fields the HTTP 429 / WS error payload both surface.
type AdmissionError struct {
	Limit       int
	ActiveViews []string
	Requested   string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("too many active views: limit=%d requested=%s active=%v", e.Limit, e.Requested, e.ActiveViews)
}
