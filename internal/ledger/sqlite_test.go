package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedHotspot(t *testing.T, store *SQLiteStore) *Hotspot {
	t.Helper()
	h := &Hotspot{
		DeviceID:            "pi-test-001",
		Name:                "Corner Cafe",
		Latitude:            40.7128,
		Longitude:           -74.0060,
		SSID:                "Roam_CornerCafe",
		Password:            "coffee123",
		PricePerMinuteCents: 2,
		IsActive:            true,
	}
	if err := store.CreateHotspot(context.Background(), h); err != nil {
		t.Fatalf("CreateHotspot failed: %v", err)
	}
	return h
}

func TestHotspotCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	h := seedHotspot(t, store)

	got, err := store.GetHotspot(ctx, h.ID)
	if err != nil {
		t.Fatalf("GetHotspot failed: %v", err)
	}
	if got.SSID != "Roam_CornerCafe" || got.PricePerMinuteCents != 2 {
		t.Errorf("unexpected hotspot: %+v", got)
	}

	byDevice, err := store.GetHotspotByDeviceID(ctx, "pi-test-001")
	if err != nil || byDevice.ID != h.ID {
		t.Fatalf("GetHotspotByDeviceID = %v, %v", byDevice, err)
	}

	_, err = store.GetHotspot(ctx, 9999)
	if !errors.Is(err, ErrHotspotNotFound) {
		t.Errorf("expected ErrHotspotNotFound, got %v", err)
	}
}

func TestHotspotDeviceIDUnique(t *testing.T) {
	store := newTestStore(t)
	seedHotspot(t, store)

	dup := &Hotspot{DeviceID: "pi-test-001", Name: "Clone", SSID: "x", Password: "y", IsActive: true}
	if err := store.CreateHotspot(context.Background(), dup); err == nil {
		t.Fatal("expected unique constraint violation on device_id")
	}
}

func TestUpsertHotspotByDeviceID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	h := seedHotspot(t, store)

	now := time.Now().UTC()
	updated, err := store.UpsertHotspotByDeviceID(ctx, &Hotspot{
		DeviceID:            "pi-test-001",
		Name:                "Corner Cafe (renamed)",
		Latitude:            40.7130,
		Longitude:           -74.0062,
		SSID:                "Roam_CornerCafe",
		Password:            "newpass",
		PricePerMinuteCents: 3,
		IsActive:            true,
		IsOnline:            true,
		LastHeartbeatAt:     &now,
	})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if updated.ID != h.ID {
		t.Errorf("upsert created a new row: id %d != %d", updated.ID, h.ID)
	}
	if updated.Name != "Corner Cafe (renamed)" || updated.PricePerMinuteCents != 3 || !updated.IsOnline {
		t.Errorf("upsert did not apply updates: %+v", updated)
	}

	fresh, err := store.UpsertHotspotByDeviceID(ctx, &Hotspot{
		DeviceID: "pi-test-002", Name: "New Spot", SSID: "s", Password: "p",
		PricePerMinuteCents: 2, IsActive: true,
	})
	if err != nil || fresh.ID == h.ID {
		t.Fatalf("upsert of new device failed: %v, %v", fresh, err)
	}
}

func TestFindWithinRadius(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	near := seedHotspot(t, store)
	far := &Hotspot{
		DeviceID: "pi-test-far", Name: "Uptown", Latitude: 40.8610, Longitude: -73.8900,
		SSID: "s", Password: "p", PricePerMinuteCents: 2, IsActive: true,
	}
	inactive := &Hotspot{
		DeviceID: "pi-test-off", Name: "Closed", Latitude: 40.7128, Longitude: -74.0060,
		SSID: "s", Password: "p", PricePerMinuteCents: 2, IsActive: false,
	}
	for _, h := range []*Hotspot{far, inactive} {
		if err := store.CreateHotspot(ctx, h); err != nil {
			t.Fatalf("CreateHotspot failed: %v", err)
		}
	}

	// 1km around the near hotspot's location.
	found, err := store.FindWithinRadius(ctx, 40.7128, -74.0060, 1000)
	if err != nil {
		t.Fatalf("FindWithinRadius failed: %v", err)
	}
	if len(found) != 1 || found[0].ID != near.ID {
		t.Errorf("expected only the near active hotspot, got %d results", len(found))
	}
}

func TestHeartbeatAndStaleSweep(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedHotspot(t, store)

	old := time.Now().UTC().Add(-5 * time.Minute)
	if err := store.TouchHeartbeat(ctx, "pi-test-001", old); err != nil {
		t.Fatalf("TouchHeartbeat failed: %v", err)
	}
	h, _ := store.GetHotspotByDeviceID(ctx, "pi-test-001")
	if !h.IsOnline {
		t.Fatal("expected hotspot online after heartbeat")
	}

	n, err := store.MarkStaleOffline(ctx, time.Now().UTC().Add(-90*time.Second))
	if err != nil || n != 1 {
		t.Fatalf("MarkStaleOffline = %d, %v; want 1 row", n, err)
	}
	h, _ = store.GetHotspotByDeviceID(ctx, "pi-test-001")
	if h.IsOnline {
		t.Error("expected hotspot offline after stale sweep")
	}

	if err := store.TouchHeartbeat(ctx, "no-such-device", time.Now()); !errors.Is(err, ErrHotspotNotFound) {
		t.Errorf("expected ErrHotspotNotFound for unknown device, got %v", err)
	}
}

func TestTransactionIntentUniqueness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	h := seedHotspot(t, store)

	tx := &Transaction{
		PaymentIntentID: "pi_abc123", HotspotID: h.ID,
		AmountCents: 60, PlatformFeeCents: 12, BusinessPayoutCents: 48,
		DurationMinutes: 30, CustomerDeviceID: "device-1",
	}
	if err := store.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}
	if tx.Status != TransactionPending {
		t.Errorf("new transaction status = %s, want pending", tx.Status)
	}

	dup := &Transaction{PaymentIntentID: "pi_abc123", HotspotID: h.ID, AmountCents: 60}
	if err := store.CreateTransaction(ctx, dup); !errors.Is(err, ErrDuplicateIntent) {
		t.Errorf("expected ErrDuplicateIntent, got %v", err)
	}
}

func TestMarkTransactionSucceededGuarded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	h := seedHotspot(t, store)

	tx := &Transaction{PaymentIntentID: "pi_guard", HotspotID: h.ID, AmountCents: 60,
		PlatformFeeCents: 12, BusinessPayoutCents: 48, DurationMinutes: 30}
	if err := store.CreateTransaction(ctx, tx); err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}

	now := time.Now().UTC()
	won, err := store.MarkTransactionSucceeded(ctx, "pi_guard", now)
	if err != nil || !won {
		t.Fatalf("first transition: won=%v err=%v, want true", won, err)
	}

	// Replay loses the guard.
	won, err = store.MarkTransactionSucceeded(ctx, "pi_guard", now)
	if err != nil || won {
		t.Fatalf("replayed transition: won=%v err=%v, want false", won, err)
	}

	got, _ := store.GetTransactionByIntentID(ctx, "pi_guard")
	if got.Status != TransactionSucceeded || got.CompletedAt == nil {
		t.Errorf("transaction not settled: %+v", got)
	}

	// A failed webhook after success is a no-op.
	won, err = store.MarkTransactionFailed(ctx, "pi_guard")
	if err != nil || won {
		t.Fatalf("failed-after-succeeded: won=%v err=%v, want false", won, err)
	}
}

func TestSessionRecordMonotoneStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	h := seedHotspot(t, store)

	now := time.Now().UTC()
	rec := &SessionRecord{
		HotspotID: h.ID, SessionToken: "tok-1", DurationMinutes: 30,
		StartedAt: now, ExpiresAt: now.Add(30 * time.Minute), CustomerDeviceID: "device-1",
	}
	if err := store.CreateSessionRecord(ctx, rec); err != nil {
		t.Fatalf("CreateSessionRecord failed: %v", err)
	}
	if rec.Status != SessionActive {
		t.Errorf("new record status = %s, want active", rec.Status)
	}

	if err := store.UpdateSessionRecordStatus(ctx, "tok-1", SessionRevoked); err != nil {
		t.Fatalf("UpdateSessionRecordStatus failed: %v", err)
	}
	got, _ := store.GetSessionRecordByToken(ctx, "tok-1")
	if got.Status != SessionRevoked {
		t.Fatalf("status = %s, want revoked", got.Status)
	}

	// Revoked is terminal; a late expiry marker must not overwrite it.
	if err := store.UpdateSessionRecordStatus(ctx, "tok-1", SessionExpired); err != nil {
		t.Fatalf("UpdateSessionRecordStatus failed: %v", err)
	}
	got, _ = store.GetSessionRecordByToken(ctx, "tok-1")
	if got.Status != SessionRevoked {
		t.Errorf("status = %s, want revoked to stick", got.Status)
	}
}

func TestSessionRecordExpiryUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	h := seedHotspot(t, store)

	now := time.Now().UTC().Truncate(time.Second)
	rec := &SessionRecord{
		HotspotID: h.ID, SessionToken: "tok-ext", DurationMinutes: 30,
		StartedAt: now, ExpiresAt: now.Add(30 * time.Minute),
	}
	if err := store.CreateSessionRecord(ctx, rec); err != nil {
		t.Fatalf("CreateSessionRecord failed: %v", err)
	}

	newExpiry := rec.ExpiresAt.Add(10 * time.Minute)
	if err := store.UpdateSessionRecordExpiry(ctx, "tok-ext", newExpiry, 40); err != nil {
		t.Fatalf("UpdateSessionRecordExpiry failed: %v", err)
	}
	got, _ := store.GetSessionRecordByToken(ctx, "tok-ext")
	if got.DurationMinutes != 40 || !got.ExpiresAt.Equal(newExpiry) {
		t.Errorf("expiry update not applied: %+v", got)
	}

	if err := store.UpdateSessionRecordExpiry(ctx, "no-such-token", newExpiry, 40); !errors.Is(err, ErrSessionRecordNotFound) {
		t.Errorf("expected ErrSessionRecordNotFound, got %v", err)
	}
}
