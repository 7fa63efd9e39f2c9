// Package authn validates the single shared bearer token spec.md §1
// scopes authentication to ("authentication beyond a single shared
// bearer token" is an explicit non-goal).
//
// Grounded on the teacher's own API-key extraction idiom
// (internal/handlers/v1/auth.go's extractAPIToken) and on
// other_examples/brennhill-gasoline-mcp-ai-devtools's AuthMiddleware,
// which is the one file in the pack using crypto/subtle for constant-
// time comparison instead of ==.
package authn

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// ExtractToken reads the token from Authorization: Bearer <T> first,
// falling back to the ?token=<T> query parameter (spec.md §6).
func ExtractToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[len("bearer "):])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// Authorized reports whether provided matches configured. An empty
// configured token disables authentication entirely, per spec.md §6
// ("authToken: string or empty").
func Authorized(configured, provided string) bool {
	if configured == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(provided)) == 1
}
