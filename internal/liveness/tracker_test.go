package liveness

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roamwifi/roam-backend/internal/ledger"
)

func TestStatusUnknownWithoutHeartbeat(t *testing.T) {
	tr := NewTracker(0, nil)

	status, beat := tr.Status("pi-001", time.Now())
	if status != StatusUnknown || beat != nil {
		t.Errorf("Status = %s, %v; want unknown, nil", status, beat)
	}
}

func TestStatusOnlineThenOffline(t *testing.T) {
	tr := NewTracker(0, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	latency := tr.Record("pi-001", 7, now.Unix()-2, now)
	if latency != 2 {
		t.Errorf("latency = %d, want 2", latency)
	}

	status, beat := tr.Status("pi-001", now.Add(89*time.Second))
	if status != StatusOnline {
		t.Errorf("status at 89s = %s, want online", status)
	}
	if beat == nil || beat.SequenceID != 7 {
		t.Errorf("unexpected heartbeat: %+v", beat)
	}

	status, _ = tr.Status("pi-001", now.Add(90*time.Second))
	if status != StatusOffline {
		t.Errorf("status at 90s = %s, want offline", status)
	}
}

func TestSnapshot(t *testing.T) {
	tr := NewTracker(0, nil)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tr.Record("pi-live", 1, now.Unix(), now)
	tr.Record("pi-gone", 1, now.Unix(), now.Add(-3*time.Minute))

	snap := tr.Snapshot(now)
	if len(snap) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(snap))
	}
	if snap["pi-live"].Status != StatusOnline {
		t.Errorf("pi-live status = %s, want online", snap["pi-live"].Status)
	}
	if snap["pi-gone"].Status != StatusOffline {
		t.Errorf("pi-gone status = %s, want offline", snap["pi-gone"].Status)
	}
}

func TestReset(t *testing.T) {
	tr := NewTracker(0, nil)
	now := time.Now()

	tr.Record("pi-001", 1, now.Unix(), now)
	tr.Reset()

	if status, _ := tr.Status("pi-001", now); status != StatusUnknown {
		t.Errorf("status after reset = %s, want unknown", status)
	}
}

func TestSweepStale(t *testing.T) {
	store, err := ledger.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	h := &ledger.Hotspot{
		DeviceID: "pi-stale", Name: "Stale", SSID: "s", Password: "p",
		PricePerMinuteCents: 2, IsActive: true,
	}
	if err := store.CreateHotspot(ctx, h); err != nil {
		t.Fatalf("CreateHotspot failed: %v", err)
	}
	old := time.Now().UTC().Add(-10 * time.Minute)
	if err := store.TouchHeartbeat(ctx, "pi-stale", old); err != nil {
		t.Fatalf("TouchHeartbeat failed: %v", err)
	}

	tr := NewTracker(0, nil)
	n, err := tr.SweepStale(ctx, store, time.Now().UTC())
	if err != nil || n != 1 {
		t.Fatalf("SweepStale = %d, %v; want 1", n, err)
	}

	got, _ := store.GetHotspotByDeviceID(ctx, "pi-stale")
	if got.IsOnline {
		t.Error("hotspot still online after sweep")
	}
}
