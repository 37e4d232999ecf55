package models

import "time"

// SessionStatus is the lifecycle state of a therapy session. Status only
// moves forward; the three terminal values are absorbing.
type SessionStatus string

const (
	StatusStarting         SessionStatus = "starting"
	StatusActive           SessionStatus = "active"
	StatusStopping         SessionStatus = "stopping"
	StatusCompleted        SessionStatus = "completed"
	StatusStoppedEmergency SessionStatus = "stopped_emergency"
	StatusStopped          SessionStatus = "stopped"
)

// statusRank orders the lifecycle. Transitions are valid only when the rank
// does not decrease (equal rank covers the store echoing our own write).
var statusRank = map[SessionStatus]int{
	StatusStarting:         0,
	StatusActive:           1,
	StatusStopping:         2,
	StatusCompleted:        3,
	StatusStoppedEmergency: 3,
	StatusStopped:          3,
}

// Valid reports whether the status is one of the known lifecycle values.
func (s SessionStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether the status is absorbing.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusStoppedEmergency || s == StatusStopped
}

// CanTransition reports whether moving from s to next respects the forward-only
// lifecycle. A terminal status accepts nothing, not even itself.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.Terminal() {
		return false
	}
	return statusRank[next] >= statusRank[s]
}

// SessionMode selects who drives flow/temperature during treatment.
type SessionMode string

const (
	ModeAuto   SessionMode = "auto"
	ModeManual SessionMode = "manual"
)

// SessionSettings are the therapist-chosen parameters for one session.
type SessionSettings struct {
	Mode              SessionMode `json:"mode"`
	DurationMinutes   float64     `json:"duration"`
	TargetTemperature float64     `json:"temperature"` // Celsius
	TargetFlowRate    float64     `json:"flowRate"`    // ml/min
	TherapyType       string      `json:"therapyType"`
}

// Session is the root document of one therapy session. Created by the client
// in "starting", advanced by the device, terminated by either side.
type Session struct {
	SessionID   string          `json:"sessionId"`
	PatientID   string          `json:"patientId"`
	DeviceID    string          `json:"deviceId"`
	TherapistID string          `json:"therapistId"`
	Status      SessionStatus   `json:"status"`
	StartTime   time.Time       `json:"startTime"`
	EndTime     *time.Time      `json:"endTime,omitempty"`
	Settings    SessionSettings `json:"settings"`
}

// SessionSummary is the permanent clinical record, created exactly once when
// a session reaches a terminal status. Only Notes is editable afterwards.
type SessionSummary struct {
	EndTime              time.Time `json:"endTime"`
	DurationSeconds      int       `json:"durationSeconds"`
	AvgPulse             float64   `json:"avgPulse"`
	AvgSpO2              float64   `json:"avgSpO2"`
	MaxTemperature       float64   `json:"maxTemperature"`
	RelaxationIndex      float64   `json:"relaxationIndex"` // 0-100
	RelaxationState      string    `json:"relaxationState"`
	RelaxationConfidence float64   `json:"relaxationConfidence"` // 0-1
	RelaxationReason     string    `json:"relaxationReason"`
	Alerts               []string  `json:"alerts"`
	Notes                string    `json:"notes"`
}
