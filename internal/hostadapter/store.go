package hostadapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Store wraps the kv_state table, following the teacher's Store shape
// (a thin struct around *sql.DB with one method per access pattern)
// rather than a generic ORM.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Keys SPEC_FULL.md §6 names explicitly.
const (
	KeyInfoConnection     = "info.connection"
	KeyInfoLastCaptureTs  = "info.lastCaptureTs"
	KeyInfoLastEtag       = "info.lastEtag"
	KeyInfoLastError      = "info.lastError"
	KeyControlActiveView  = "control.activeView"
	KeyControlCaptureNow  = "control.captureNow"
	KeyControlReloadNow   = "control.reloadNow"
)

// Get returns the raw value stored for key, if any.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get kv_state %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts key's value.
func (s *Store) Set(ctx context.Context, key, value string, now time.Time) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO kv_state (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set kv_state %s: %w", key, err)
	}
	return nil
}

// GetAll returns every persisted key-value pair, used to repopulate
// info.*/control.* state on process start.
func (s *Store) GetAll(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM kv_state`)
	if err != nil {
		return nil, fmt.Errorf("list kv_state: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan kv_state row: %w", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kv_state: %w", err)
	}
	return out, nil
}

// SetFrameInfo records the pool's last published frame, mirrored after
// every onFrame fan-out (SPEC_FULL.md §6: "the pool writes info.* after
// every published frame").
func (s *Store) SetFrameInfo(ctx context.Context, lastCaptureTs int64, etag string, now time.Time) error {
	if err := s.Set(ctx, KeyInfoLastCaptureTs, fmt.Sprintf("%d", lastCaptureTs), now); err != nil {
		return err
	}
	return s.Set(ctx, KeyInfoLastEtag, etag, now)
}

// SetConnectionInfo records whether the shared browser is currently
// live.
func (s *Store) SetConnectionInfo(ctx context.Context, connected bool, now time.Time) error {
	value := "disconnected"
	if connected {
		value = "connected"
	}
	return s.Set(ctx, KeyInfoConnection, value, now)
}

// SetErrorInfo records the most recent absorbed error, if any.
func (s *Store) SetErrorInfo(ctx context.Context, message string, now time.Time) error {
	return s.Set(ctx, KeyInfoLastError, message, now)
}

// ActiveView returns the persisted control.activeView, if set.
func (s *Store) ActiveView(ctx context.Context) (string, bool, error) {
	return s.Get(ctx, KeyControlActiveView)
}

// SetActiveView persists the operator's chosen active view.
func (s *Store) SetActiveView(ctx context.Context, viewID string, now time.Time) error {
	return s.Set(ctx, KeyControlActiveView, viewID, now)
}

// ConsumeCaptureNow reads control.captureNow and, if it is exactly "1",
// clears it back to "0" and reports true. This is the edge-trigger
// consume pattern SPEC_FULL.md §6 describes: an external operator
// write is applied at most once, on the pool's next poll.
func (s *Store) ConsumeCaptureNow(ctx context.Context, now time.Time) (bool, error) {
	return s.consumeFlag(ctx, KeyControlCaptureNow, now)
}

// ConsumeReloadNow is ConsumeCaptureNow's reload-now counterpart.
func (s *Store) ConsumeReloadNow(ctx context.Context, now time.Time) (bool, error) {
	return s.consumeFlag(ctx, KeyControlReloadNow, now)
}

func (s *Store) consumeFlag(ctx context.Context, key string, now time.Time) (bool, error) {
	value, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok || value != "1" {
		return false, nil
	}
	if err := s.Set(ctx, key, "0", now); err != nil {
		return false, err
	}
	return true, nil
}
