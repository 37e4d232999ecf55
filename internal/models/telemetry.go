package models

import "time"

// TelemetrySample is one reading from the device's sensor loop. All four
// measured fields are optional; a sample with only a pulse is still valid.
// Samples are append-only and written solely by the device.
type TelemetrySample struct {
	Timestamp   time.Time `json:"timestamp"`
	Pulse       *float64  `json:"pulse,omitempty"`       // beats/min
	SpO2        *float64  `json:"spo2,omitempty"`        // percent
	FlowState   *float64  `json:"flowState,omitempty"`   // ml/min
	Temperature *float64  `json:"temperature,omitempty"` // Celsius
	DeviceID    string    `json:"device_id,omitempty"`
}

// Float is a convenience for building optional telemetry fields.
func Float(v float64) *float64 { return &v }

// DeviceHeartbeat is the device's self-reported status document. Whether the
// device is online is never stored; see Online.
type DeviceHeartbeat struct {
	LastSeen        time.Time `json:"lastSeen"`
	Power           int       `json:"power"` // 0|1
	FirmwareVersion string    `json:"firmwareVersion,omitempty"`
}

// HeartbeatStaleness is the wall-clock age beyond which a device counts as
// offline.
const HeartbeatStaleness = 30 * time.Second

// Online derives liveness from heartbeat age at the given instant. It must be
// recomputed at every use; caching it would freeze a time-dependent value.
func (h *DeviceHeartbeat) Online(now time.Time) bool {
	if h == nil || h.LastSeen.IsZero() {
		return false
	}
	return now.Sub(h.LastSeen) < HeartbeatStaleness
}

// Safety limits for the telemetry watchdog, matching the device firmware's
// own cutoffs.
const (
	PulseMinSafe = 40.0  // beats/min
	PulseMaxSafe = 150.0 // beats/min
	TempMaxSafe  = 48.0  // Celsius
	FlowMinSafe  = 2.0   // ml/min
)

// Alert is a safety or lifecycle event record, written both to the global
// alerts collection and under the session it belongs to.
type Alert struct {
	Type      string      `json:"type"`
	Level     string      `json:"level"` // "warning" | "critical"
	Message   string      `json:"message"`
	Value     interface{} `json:"value,omitempty"`
	DeviceID  string      `json:"device_id,omitempty"`
	Timestamp time.Time   `json:"timestamp,omitempty"`
}
