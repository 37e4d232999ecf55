package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"shirodhara-backend/internal/models"
	"shirodhara-backend/internal/store"
)

// Dispatcher issues lifecycle commands and session documents to the store.
// Writes are independent and non-transactional; consumers must tolerate the
// window where the session root exists but its metadata does not. Any store
// failure propagates untouched. Nothing is rolled back, and every write is
// idempotent at the document level, so the caller may simply retry.
type Dispatcher struct {
	st       store.Store
	issuedBy string

	mu       sync.Mutex
	stopping map[string]bool
}

func NewDispatcher(st store.Store, issuedBy string) *Dispatcher {
	if issuedBy == "" {
		issuedBy = "therapist"
	}
	return &Dispatcher{
		st:       st,
		issuedBy: issuedBy,
		stopping: make(map[string]bool),
	}
}

// StartSession creates the session root, its metadata mirror, and the
// start_session command, in that order, and returns the new session id.
// On a store failure the caller retries with the SAME returned id only when
// the root write itself failed; a fresh id is generated only on an explicit
// new start, never automatically.
func (d *Dispatcher) StartSession(ctx context.Context, patientID, therapistID, deviceID string, settings models.SessionSettings) (string, error) {
	if patientID == "" {
		return "", fmt.Errorf("%w: patient id required", ErrValidation)
	}
	if therapistID == "" {
		return "", fmt.Errorf("%w: therapist id required", ErrValidation)
	}

	sessionID := uuid.NewString()
	now := time.Now()

	// Touch the patient root marker so collection listings see the patient
	// even before any profile data is filled in.
	if err := d.st.Merge(ctx, store.PatientPath(patientID), store.Doc{
		"lastSessionAt": store.Timestamp(now),
	}); err != nil {
		return "", fmt.Errorf("touch patient root: %w", err)
	}

	root, err := store.EncodeDoc(models.Session{
		SessionID:   sessionID,
		PatientID:   patientID,
		DeviceID:    deviceID,
		TherapistID: therapistID,
		Status:      models.StatusStarting,
		StartTime:   now,
		Settings:    settings,
	})
	if err != nil {
		return "", err
	}
	if err := d.st.Set(ctx, store.SessionPath(patientID, sessionID), root); err != nil {
		return "", fmt.Errorf("write session root: %w", err)
	}

	settingsDoc, err := store.EncodeDoc(settings)
	if err != nil {
		return "", err
	}
	meta := store.Doc{
		"therapist": therapistID,
		"deviceId":  deviceID,
		"settings":  map[string]interface{}(settingsDoc),
		"status":    string(models.StatusStarting),
	}
	if err := d.st.Set(ctx, store.SessionMetaPath(patientID, sessionID), meta); err != nil {
		return "", fmt.Errorf("write session metadata: %w", err)
	}

	if _, err := d.writeCommand(ctx, deviceID, store.Doc{
		"cmd":       models.CmdStartSession,
		"patientId": patientID,
		"sessionId": sessionID,
	}); err != nil {
		return "", err
	}

	log.Printf("Dispatcher: session %s started for patient %s on device %s", sessionID, patientID, deviceID)
	return sessionID, nil
}

// StopSession merge-writes the stopping status onto the root and metadata
// documents and issues a stop_session command. Repeat calls for the same
// session are no-ops while a stop is already in flight, because the store
// does not deduplicate commands.
func (d *Dispatcher) StopSession(ctx context.Context, sessionID, patientID, deviceID string) error {
	if sessionID == "" || patientID == "" {
		return fmt.Errorf("%w: session and patient ids required", ErrValidation)
	}

	d.mu.Lock()
	if d.stopping[sessionID] {
		d.mu.Unlock()
		return nil
	}
	d.stopping[sessionID] = true
	d.mu.Unlock()

	err := d.stopWrites(ctx, sessionID, patientID, deviceID)
	if err != nil {
		// Let the user retry the stop.
		d.mu.Lock()
		delete(d.stopping, sessionID)
		d.mu.Unlock()
	}
	return err
}

func (d *Dispatcher) stopWrites(ctx context.Context, sessionID, patientID, deviceID string) error {
	end := store.Doc{
		"status":  string(models.StatusStopping),
		"endTime": store.Timestamp(time.Now()),
	}
	if err := d.st.Merge(ctx, store.SessionPath(patientID, sessionID), end); err != nil {
		return fmt.Errorf("mark session stopping: %w", err)
	}
	if err := d.st.Merge(ctx, store.SessionMetaPath(patientID, sessionID), end); err != nil {
		return fmt.Errorf("mark metadata stopping: %w", err)
	}
	if _, err := d.writeCommand(ctx, deviceID, store.Doc{
		"cmd":       models.CmdStopSession,
		"patientId": patientID,
		"sessionId": sessionID,
	}); err != nil {
		return err
	}
	log.Printf("Dispatcher: session %s stopping", sessionID)
	return nil
}

// EmergencyStop writes only the emergency_stop command. It does not know
// which session the device considers active, and it must succeed even when
// the device never acknowledges; finalizing the session document and summary
// is the coordinator's job.
func (d *Dispatcher) EmergencyStop(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("%w: device id required", ErrValidation)
	}
	if _, err := d.writeCommand(ctx, deviceID, store.Doc{
		"cmd": models.CmdEmergencyStop,
	}); err != nil {
		return err
	}
	log.Printf("Dispatcher: emergency stop issued to device %s", deviceID)
	return nil
}

// SendDeviceCommand is the generic escape hatch for ad-hoc directives such
// as power toggles. Returns the generated command id.
func (d *Dispatcher) SendDeviceCommand(ctx context.Context, deviceID, cmd string, value interface{}) (string, error) {
	if deviceID == "" || cmd == "" {
		return "", fmt.Errorf("%w: device id and command required", ErrValidation)
	}
	doc := store.Doc{"cmd": cmd}
	if value != nil {
		doc["value"] = value
	}
	return d.writeCommand(ctx, deviceID, doc)
}

func (d *Dispatcher) writeCommand(ctx context.Context, deviceID string, doc store.Doc) (string, error) {
	doc["issuedBy"] = d.issuedBy
	doc["timestamp"] = store.Timestamp(time.Now())
	doc["ack"] = false
	id, err := d.st.Add(ctx, store.DeviceCommandsCollection(deviceID), doc)
	if err != nil {
		return "", fmt.Errorf("write %v command: %w", doc["cmd"], err)
	}
	return id, nil
}
