package hostadapter

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(Config{DSN: "file::memory:?cache=shared"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return NewStore(db)
}

func TestGetMissingKeyReportsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get(context.Background(), "info.connection")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a key never set")
	}
}

func TestSetThenGetRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1000)

	if err := s.Set(ctx, "control.activeView", "dashboard-1", now); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok, err := s.Get(ctx, "control.activeView")
	if err != nil || !ok {
		t.Fatalf("get: value=%q ok=%v err=%v", value, ok, err)
	}
	if value != "dashboard-1" {
		t.Fatalf("expected dashboard-1, got %q", value)
	}
}

func TestSetOverwritesPriorValue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, "info.lastError", "first", time.UnixMilli(1))
	_ = s.Set(ctx, "info.lastError", "second", time.UnixMilli(2))

	value, _, err := s.Get(ctx, "info.lastError")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "second" {
		t.Fatalf("expected second to win, got %q", value)
	}
}

func TestSetFrameInfoWritesBothKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetFrameInfo(ctx, 12345, `"abc123"`, time.UnixMilli(1)); err != nil {
		t.Fatalf("set frame info: %v", err)
	}

	ts, ok, _ := s.Get(ctx, KeyInfoLastCaptureTs)
	if !ok || ts != "12345" {
		t.Fatalf("expected lastCaptureTs=12345, got %q ok=%v", ts, ok)
	}
	etag, ok, _ := s.Get(ctx, KeyInfoLastEtag)
	if !ok || etag != `"abc123"` {
		t.Fatalf("expected etag to round-trip, got %q ok=%v", etag, ok)
	}
}

func TestConsumeCaptureNowIsEdgeTriggered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1)

	consumed, err := s.ConsumeCaptureNow(ctx, now)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if consumed {
		t.Fatal("expected no pending captureNow before it is set")
	}

	if err := s.Set(ctx, KeyControlCaptureNow, "1", now); err != nil {
		t.Fatalf("set: %v", err)
	}

	consumed, err = s.ConsumeCaptureNow(ctx, now)
	if err != nil || !consumed {
		t.Fatalf("expected consume to report true once, got consumed=%v err=%v", consumed, err)
	}

	consumed, err = s.ConsumeCaptureNow(ctx, now)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if consumed {
		t.Fatal("expected captureNow to already be cleared on the second poll")
	}
}

func TestGetAllReturnsEveryPersistedKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1)

	_ = s.SetConnectionInfo(ctx, true, now)
	_ = s.SetActiveView(ctx, "A", now)

	all, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if all[KeyInfoConnection] != "connected" {
		t.Fatalf("expected connected, got %q", all[KeyInfoConnection])
	}
	if all[KeyControlActiveView] != "A" {
		t.Fatalf("expected A, got %q", all[KeyControlActiveView])
	}
}
