package session

import (
	"fmt"
	"net/url"
	"strings"
)

// excludedReloadPath is the project-selector exception: its query
// string is a selector, not cache-bust fodder, so cache-busting is
// skipped for it (spec.md §4.1 Reload).
const excludedReloadPath = "/vis/index.html"

// cacheBustedURL implements spec.md §4.1's reload URL transform and
// testable-property 5. It is grounded on the teacher pack's
// internal/browsers/public_url.go, which rewrites a raw URL's host/
// scheme/path while preserving its query string using the same
// net/url + path manipulation idiom used here to add a query
// parameter instead.
func cacheBustedURL(raw string, enabled bool, nowMs int64) string {
	if !enabled {
		return raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if strings.EqualFold(parsed.Path, excludedReloadPath) {
		return raw
	}

	query := parsed.Query()
	query.Set("hb_ts", fmt.Sprintf("%d", nowMs))
	parsed.RawQuery = query.Encode()
	return parsed.String()
}
