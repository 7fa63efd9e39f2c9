// Package httpserver bootstraps the echo HTTP/WS listener: route
// registration, default middleware, and the error/not-found handling
// spec.md §6 requires (405 method_not_allowed, 404 not_found).
//
// Grounded on the teacher's internal/httpserver/server.go, which
// chains New().WithStaticAssets(...).WithDefaultMiddleware().
// WithErrorHandler().WithRoutes(...).WithNotFound().Build() — that
// builder itself was never retrieved into the pack (only its call
// site was), so the fluent type here is rebuilt fresh in the same
// shape rather than reconstructed from a file that doesn't exist.
package httpserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server is the teacher's own Server interface, unchanged.
type Server interface {
	Start(addr string) error
	Shutdown(ctx context.Context) error
}

type appServer struct {
	echo *echo.Echo
}

func (s *appServer) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *appServer) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Builder is the fluent construction chain the teacher's Bootstrap
// used against an unretrieved New(); every With* method mutates and
// returns the same builder.
type Builder struct {
	echo *echo.Echo
}

// New starts a builder around a bare *echo.Echo with the banner and
// port log hidden. Echo's default HTTPErrorHandler stays in place until
// WithErrorHandler replaces it.
func New() *Builder {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	return &Builder{echo: e}
}

// WithStaticAssets mounts each urlPrefix -> directory pair, mirroring
// the teacher's StaticDirectories map. The bridge has no HTML
// dashboard of its own (spec.md's no-client-side-rendering non-goal),
// but this stays available for an operator-supplied status page.
func (b *Builder) WithStaticAssets(dirs map[string]string) *Builder {
	for prefix, dir := range dirs {
		b.echo.Static(prefix, dir)
	}
	return b
}

// WithDefaultMiddleware installs request logging and panic recovery,
// the two middlewares every echo service in the pack reaches for.
func (b *Builder) WithDefaultMiddleware() *Builder {
	b.echo.Use(middleware.Logger())
	b.echo.Use(middleware.Recover())
	return b
}

// WithErrorHandler installs the spec.md §7 error shape for the cases
// echo itself generates (405, unhandled panics surfaced as 500)
// instead of echo's default HTML error page.
func (b *Builder) WithErrorHandler() *Builder {
	b.echo.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		code := "internal_error"

		if he, ok := err.(*echo.HTTPError); ok {
			status = he.Code
			switch status {
			case http.StatusMethodNotAllowed:
				code = "method_not_allowed"
			case http.StatusNotFound:
				code = "not_found"
			case http.StatusUnauthorized:
				code = "unauthorized"
			}
		}

		_ = c.JSON(status, map[string]string{"error": code})
	}
	return b
}

// WithRoutes runs register against the builder's echo instance,
// mirroring the teacher's WithRoutes(func(e *echo.Echo)) signature.
func (b *Builder) WithRoutes(register func(e *echo.Echo)) *Builder {
	register(b.echo)
	return b
}

// WithNotFound is a no-op seam kept for parity with the teacher's
// chain; echo's router already produces a 404 HTTPError for unmatched
// paths, which WithErrorHandler formats into {error:"not_found"}.
func (b *Builder) WithNotFound() *Builder {
	return b
}

// Build finalizes the echo instance into a Server.
func (b *Builder) Build() Server {
	return &appServer{echo: b.echo}
}
