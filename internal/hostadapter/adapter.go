// Package hostadapter persists the info.*/control.* key-value state
// SPEC_FULL.md §6 describes for the host integration surface, so a
// restart doesn't lose the last-known capture stats or the operator's
// chosen active view.
//
// Grounded on the teacher's internal/data/adapter.go: same Config
// shape, same Open flow, same modernc.org/sqlite
// driver. The multi-tenant tables (users, sessions, applications, api
// keys) do not survive the transform; this package keeps the
// connection-opening idiom and replaces the schema with the single
// kv_state table SPEC_FULL.md §6 defines.
package hostadapter

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// Config mirrors the teacher's data.Config; only sqlite is wired since
// the bridge never needed a second backend.
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// DefaultConfig matches the teacher's DefaultConfig shape, scoped to
// this service's own database file.
func DefaultConfig() Config {
	return Config{
		DSN:          "",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
}

const defaultDSN = "file:hb-bridge.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

func normalizeDSN(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return defaultDSN
	}
	return trimmed
}

// Open opens and pings the sqlite connection, following the teacher's
// Open: single pooled connection, since sqlite is single-writer and the
// adapter's write volume is low. It does not create the schema; callers
// run RunMigrations next.
func Open(cfg Config) (*sql.DB, error) {
	dsn := normalizeDSN(cfg.DSN)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	return db, nil
}
