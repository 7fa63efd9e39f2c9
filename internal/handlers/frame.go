package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/brian-nunez/hb-bridge/internal/authn"
	"github.com/brian-nunez/hb-bridge/internal/pool"
)

const coldStartWaitMs = 900

// Dependencies are the collaborators RegisterRoutes wires into every
// handler, following the teacher's routes.go Dependencies struct.
type Dependencies struct {
	Pool      *pool.Pool
	AuthToken string
}

// RegisterRoutes attaches the frame/status/health surface to e,
// matching the teacher's RegisterRoutes(e, dependencies) shape.
func RegisterRoutes(e *echo.Echo, deps Dependencies) {
	h := &frameHandler{deps: deps}

	e.GET("/healthz", h.health)
	e.GET("/status.json", h.status)
	e.GET("/frame/:viewIdPng", h.frameByPath)
	e.GET("/frame.png", h.frameByQuery)
}

type frameHandler struct {
	deps Dependencies
}

func (h *frameHandler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (h *frameHandler) status(c echo.Context) error {
	if h.deps.Pool == nil {
		return writeRendererNotReady(c)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ok":     true,
		"status": h.deps.Pool.Status(),
	})
}

// frameByPath serves GET /frame/<urlencoded viewId>.png. The viewId
// and its .png suffix share one path segment, so the param is
// unescaped and the suffix stripped here rather than split at the
// router (echo params span a whole segment).
func (h *frameHandler) frameByPath(c echo.Context) error {
	raw := c.Param("viewIdPng")
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return writeUnknownView(c)
	}
	if !strings.HasSuffix(decoded, ".png") {
		return writeUnknownView(c)
	}
	viewID := strings.TrimSuffix(decoded, ".png")
	return h.serveFrame(c, viewID)
}

// frameByQuery serves the legacy GET /frame.png?viewId=…, falling back
// to the pool's default view when viewId is omitted (spec.md §6).
func (h *frameHandler) frameByQuery(c echo.Context) error {
	viewID := c.QueryParam("viewId")
	if viewID == "" {
		if h.deps.Pool == nil {
			return writeRendererNotReady(c)
		}
		viewID = h.deps.Pool.DefaultViewID()
	}
	return h.serveFrame(c, viewID)
}

func (h *frameHandler) serveFrame(c echo.Context, viewID string) error {
	if !authn.Authorized(h.deps.AuthToken, authn.ExtractToken(c.Request())) {
		return writeUnauthorized(c)
	}
	if h.deps.Pool == nil {
		return writeRendererNotReady(c)
	}
	if viewID == "" {
		return writeUnknownView(c)
	}

	ctx := c.Request().Context()
	if err := h.deps.Pool.OnFrameRequest(ctx, viewID); err != nil {
		return mapActivationError(c, err)
	}

	f, ok := h.deps.Pool.GetFrame(viewID)
	if !ok {
		if h.deps.Pool.WaitForFrame(viewID, coldStartWaitMs) {
			f, ok = h.deps.Pool.GetFrame(viewID)
		}
	}
	if !ok {
		return writeNoFrame(c, viewID)
	}

	c.Response().Header().Set("Cache-Control", "no-cache")
	if match := c.Request().Header.Get("If-None-Match"); match != "" && match == f.ETag {
		c.Response().Header().Set("ETag", f.ETag)
		return c.NoContent(http.StatusNotModified)
	}

	c.Response().Header().Set("ETag", f.ETag)
	return c.Blob(http.StatusOK, "image/png", f.PNG)
}
