package device

import (
	"context"
	"testing"
	"time"

	"shirodhara-backend/internal/store"
)

func TestLivenessDerivedFromHeartbeatAge(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	m := NewLivenessMonitor(st, "dev-1")
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	if m.Online(time.Now()) {
		t.Fatal("device with no heartbeat should be offline")
	}

	now := time.Now()
	st.Merge(ctx, store.DeviceStatusPath("dev-1"), store.Doc{
		"lastSeen":        store.Timestamp(now),
		"power":           1,
		"firmwareVersion": "1.2.0",
	})

	deadline := time.Now().Add(2 * time.Second)
	for m.Heartbeat() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	hb := m.Heartbeat()
	if hb == nil {
		t.Fatal("heartbeat never delivered")
	}
	if hb.Power != 1 || hb.FirmwareVersion != "1.2.0" {
		t.Fatalf("unexpected heartbeat: %+v", hb)
	}

	if !m.Online(now.Add(5 * time.Second)) {
		t.Fatal("fresh heartbeat should read online")
	}
	// Liveness flips with the clock alone; no store write involved.
	if m.Online(now.Add(31 * time.Second)) {
		t.Fatal("stale heartbeat should read offline")
	}
	if !m.Online(now.Add(29 * time.Second)) {
		t.Fatal("29s old heartbeat should still read online")
	}
}
