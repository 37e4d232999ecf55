package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"shirodhara-backend/internal/models"
	"shirodhara-backend/internal/store"
)

func testSettings() models.SessionSettings {
	return models.SessionSettings{
		Mode:              models.ModeManual,
		DurationMinutes:   30,
		TargetTemperature: 40,
		TargetFlowRate:    30,
		TherapyType:       "shirodhara",
	}
}

func TestStartSessionValidation(t *testing.T) {
	d := NewDispatcher(store.NewMemoryStore(), "therapist")
	ctx := context.Background()

	if _, err := d.StartSession(ctx, "", "t1", "dev", testSettings()); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing patient, got %v", err)
	}
	if _, err := d.StartSession(ctx, "p1", "", "dev", testSettings()); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing therapist, got %v", err)
	}
}

func TestStartSessionWriteOrder(t *testing.T) {
	st := store.NewMemoryStore()
	d := NewDispatcher(st, "therapist")
	ctx := context.Background()

	sessionID, err := d.StartSession(ctx, "p1", "t1", "dev-1", testSettings())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sessionID == "" {
		t.Fatal("expected a generated session id")
	}

	writes := st.Writes()
	if len(writes) != 4 {
		t.Fatalf("expected 4 writes, got %d: %v", len(writes), writes)
	}
	if writes[0].Kind != "merge" || writes[0].Path != store.PatientPath("p1") {
		t.Fatalf("first write must touch the patient root, got %+v", writes[0])
	}
	if writes[1].Kind != "set" || writes[1].Path != store.SessionPath("p1", sessionID) {
		t.Fatalf("second write must create the session root, got %+v", writes[1])
	}
	if writes[2].Kind != "set" || writes[2].Path != store.SessionMetaPath("p1", sessionID) {
		t.Fatalf("third write must create the metadata mirror, got %+v", writes[2])
	}
	if writes[3].Kind != "add" || !strings.HasPrefix(writes[3].Path, store.DeviceCommandsCollection("dev-1")) {
		t.Fatalf("fourth write must be the start command, got %+v", writes[3])
	}

	root, err := st.Get(ctx, store.SessionPath("p1", sessionID))
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if root["status"] != string(models.StatusStarting) {
		t.Fatalf("root must start in starting, got %v", root["status"])
	}

	meta, err := st.Get(ctx, store.SessionMetaPath("p1", sessionID))
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	settings, ok := meta["settings"].(map[string]interface{})
	if !ok {
		t.Fatalf("metadata settings missing: %v", meta)
	}
	if settings["duration"] != float64(30) {
		t.Fatalf("expected duration 30 in metadata, got %v", settings["duration"])
	}

	cmd, err := st.Get(ctx, writes[3].Path)
	if err != nil {
		t.Fatalf("read command: %v", err)
	}
	if cmd["cmd"] != models.CmdStartSession || cmd["ack"] != false {
		t.Fatalf("unexpected command doc: %v", cmd)
	}
	if cmd["issuedBy"] != "therapist" {
		t.Fatalf("command must carry issuer, got %v", cmd["issuedBy"])
	}
}

func TestStopSessionIdempotentWhileInFlight(t *testing.T) {
	st := store.NewMemoryStore()
	d := NewDispatcher(st, "therapist")
	ctx := context.Background()

	if err := d.StopSession(ctx, "s1", "p1", "dev-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	before := len(st.Writes())

	// Auto-stop and a button mash racing the first stop are no-ops.
	if err := d.StopSession(ctx, "s1", "p1", "dev-1"); err != nil {
		t.Fatalf("repeat stop: %v", err)
	}
	if got := len(st.Writes()); got != before {
		t.Fatalf("repeat stop wrote %d extra ops", got-before)
	}

	root, err := st.Get(ctx, store.SessionPath("p1", "s1"))
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if root["status"] != string(models.StatusStopping) {
		t.Fatalf("expected stopping status, got %v", root["status"])
	}
	if _, ok := root["endTime"].(string); !ok {
		t.Fatalf("expected endTime on stop, got %v", root["endTime"])
	}
}

func TestEmergencyStopWritesOnlyTheCommand(t *testing.T) {
	st := store.NewMemoryStore()
	d := NewDispatcher(st, "therapist")
	ctx := context.Background()

	if err := d.EmergencyStop(ctx, "dev-1"); err != nil {
		t.Fatalf("emergency stop: %v", err)
	}
	writes := st.Writes()
	if len(writes) != 1 || writes[0].Kind != "add" {
		t.Fatalf("emergency stop must be a single command write, got %v", writes)
	}
	cmd, err := st.Get(ctx, writes[0].Path)
	if err != nil {
		t.Fatalf("read command: %v", err)
	}
	if cmd["cmd"] != models.CmdEmergencyStop {
		t.Fatalf("unexpected command: %v", cmd["cmd"])
	}

	if err := d.EmergencyStop(ctx, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing device, got %v", err)
	}
}

func TestSendDeviceCommandReturnsID(t *testing.T) {
	st := store.NewMemoryStore()
	d := NewDispatcher(st, "therapist")
	ctx := context.Background()

	id, err := d.SendDeviceCommand(ctx, "dev-1", models.CmdSetFlow, 35.0)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	cmd, err := st.Get(ctx, store.DeviceCommandsCollection("dev-1")+"/"+id)
	if err != nil {
		t.Fatalf("read command by returned id: %v", err)
	}
	if cmd["cmd"] != models.CmdSetFlow || cmd["value"] != 35.0 {
		t.Fatalf("unexpected command doc: %v", cmd)
	}
}
