// Package handlers implements the HTTP surface spec.md §4.4/§6
// describe: the frame endpoint, health check, and status snapshot.
//
// Grounded on the teacher's internal/handlers/v1 package layout
// (routes.go registers against a *echo.Echo, one handler type per
// resource, auth.go's middleware-returns-echo.MiddlewareFunc idiom)
// with the handlers/errors response-builder replaced by a flat
// struct: the original handlererrors package was never retrieved into
// the pack, so the builder chain (Unauthorized().WithMessage().Build())
// referenced from auth.go could not be copied; this package matches
// its effect (a JSON {error, ...} body with the right status) without
// reconstructing an unretrieved API.
package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/brian-nunez/hb-bridge/internal/pool"
)

type errorResponse struct {
	Error       string   `json:"error"`
	ViewID      string   `json:"viewId,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	ActiveViews []string `json:"activeViews,omitempty"`
	Requested   string   `json:"requested,omitempty"`
}

func writeError(c echo.Context, status int, code string) error {
	return c.JSON(status, errorResponse{Error: code})
}

func writeUnknownView(c echo.Context) error {
	return writeError(c, http.StatusNotFound, "unknown_view")
}

func writeRendererNotReady(c echo.Context) error {
	return writeError(c, http.StatusServiceUnavailable, "renderer_not_ready")
}

func writeNoFrame(c echo.Context, viewID string) error {
	return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "no_frame", ViewID: viewID})
}

func writeUnauthorized(c echo.Context) error {
	return writeError(c, http.StatusUnauthorized, "unauthorized")
}

func writeAdmissionError(c echo.Context, err *pool.AdmissionError) error {
	return c.JSON(http.StatusTooManyRequests, errorResponse{
		Error:       "too_many_active_views",
		Limit:       err.Limit,
		ActiveViews: err.ActiveViews,
		Requested:   err.Requested,
	})
}

// mapActivationError translates an OnFrameRequest/Subscribe error into
// the HTTP response spec.md §7's taxonomy names.
func mapActivationError(c echo.Context, err error) error {
	if err == pool.ErrUnknownView {
		return writeUnknownView(c)
	}
	if admErr, ok := err.(*pool.AdmissionError); ok {
		return writeAdmissionError(c, admErr)
	}
	return writeError(c, http.StatusInternalServerError, "internal_error")
}
