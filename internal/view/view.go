// Package view holds the immutable per-view configuration shared by the
// renderer pool and every view session.
package view

// Config is a single named dashboard view. It is immutable for the
// lifetime of a session: a change to URL or FPS produces a new Config
// that setView() swaps in, it never mutates one in place.
type Config struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Name    string `json:"name,omitempty"`
	Enabled bool   `json:"enabled"`
	BusyFPS int    `json:"busyFps"`
}

// MinIntervalMs derives the per-view capture floor from BusyFPS,
// matching spec.md §4.1 setView: max(50, floor(1000/busyFps)).
func (c Config) MinIntervalMs() int {
	fps := c.BusyFPS
	if fps <= 0 {
		fps = 10
	}
	ms := 1000 / fps
	if ms < 50 {
		ms = 50
	}
	return ms
}
