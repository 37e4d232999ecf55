// Package device tracks device presence from heartbeat documents.
package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shirodhara-backend/internal/models"
	"shirodhara-backend/internal/store"
)

// LivenessMonitor watches a device's heartbeat document and derives liveness
// on demand. It caches the last heartbeat but never the online flag: that is
// a function of wall-clock time and must flip to false by itself once the
// heartbeat goes stale, with no further store write.
type LivenessMonitor struct {
	st        store.Store
	deviceID  string
	staleness time.Duration
	sub       *store.DocSub

	mu        sync.RWMutex
	heartbeat *models.DeviceHeartbeat
}

func NewLivenessMonitor(st store.Store, deviceID string) *LivenessMonitor {
	return &LivenessMonitor{
		st:        st,
		deviceID:  deviceID,
		staleness: models.HeartbeatStaleness,
	}
}

// Start subscribes to the heartbeat document.
func (m *LivenessMonitor) Start(ctx context.Context) error {
	sub, err := m.st.WatchDoc(ctx, store.DeviceStatusPath(m.deviceID))
	if err != nil {
		return fmt.Errorf("heartbeat watch for %s: %w", m.deviceID, err)
	}
	m.sub = sub
	go func() {
		for doc := range sub.C {
			hb := heartbeatFromDoc(doc)
			m.mu.Lock()
			m.heartbeat = hb
			m.mu.Unlock()
		}
	}()
	return nil
}

// Stop cancels the subscription.
func (m *LivenessMonitor) Stop() {
	if m.sub != nil {
		m.sub.Unsubscribe()
	}
}

// Online recomputes liveness at the given instant. No heartbeat seen yet
// means offline.
func (m *LivenessMonitor) Online(now time.Time) bool {
	m.mu.RLock()
	hb := m.heartbeat
	m.mu.RUnlock()
	if hb == nil || hb.LastSeen.IsZero() {
		return false
	}
	return now.Sub(hb.LastSeen) < m.staleness
}

// Heartbeat returns the most recent heartbeat document, or nil.
func (m *LivenessMonitor) Heartbeat() *models.DeviceHeartbeat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.heartbeat
}

func heartbeatFromDoc(doc store.Doc) *models.DeviceHeartbeat {
	hb := &models.DeviceHeartbeat{}
	if ts, ok := models.ParseTime(doc["lastSeen"]); ok {
		hb.LastSeen = ts
	}
	switch p := doc["power"].(type) {
	case float64:
		hb.Power = int(p)
	case int:
		hb.Power = p
	}
	if fw, ok := doc["firmwareVersion"].(string); ok {
		hb.FirmwareVersion = fw
	}
	return hb
}
