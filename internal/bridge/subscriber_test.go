package bridge

import (
	"testing"
	"time"
)

func TestDecodeTelemetry(t *testing.T) {
	raw := []byte(`{"patientId":"p1","sessionId":"s1","pulse":72.5,"spo2":98.1,"flowState":30,"temperature":40.2}`)
	payload, err := decodeTelemetry(raw, "pi-01")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.PatientID != "p1" || payload.SessionID != "s1" {
		t.Fatalf("bad addressing: %+v", payload)
	}
	if payload.Pulse == nil || *payload.Pulse != 72.5 {
		t.Fatalf("bad pulse: %+v", payload.Pulse)
	}
	if payload.DeviceID != "pi-01" {
		t.Fatalf("topic device id not filled in: %q", payload.DeviceID)
	}
	if payload.Timestamp.IsZero() {
		t.Fatal("missing timestamp not defaulted")
	}
}

func TestDecodeTelemetryRequiresAddressing(t *testing.T) {
	if _, err := decodeTelemetry([]byte(`{"pulse":72}`), "pi-01"); err == nil {
		t.Fatal("telemetry without session addressing must be rejected")
	}
	if _, err := decodeTelemetry([]byte(`not json`), "pi-01"); err == nil {
		t.Fatal("malformed payload must be rejected")
	}
}

func TestDecodeTelemetryKeepsPayloadIdentity(t *testing.T) {
	ts := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	raw := []byte(`{"patientId":"p1","sessionId":"s1","device_id":"dev-7","timestamp":"` + ts.Format(time.RFC3339) + `"}`)
	payload, err := decodeTelemetry(raw, "pi-01")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.DeviceID != "dev-7" {
		t.Fatalf("payload device id must win over topic: %q", payload.DeviceID)
	}
	if !payload.Timestamp.Equal(ts) {
		t.Fatalf("payload timestamp must survive: %v", payload.Timestamp)
	}
}

func TestDecodeStatus(t *testing.T) {
	payload, err := decodeStatus([]byte(`{"patientId":"p1","sessionId":"s1","status":"active"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != "active" {
		t.Fatalf("bad status: %q", payload.Status)
	}

	if _, err := decodeStatus([]byte(`{"patientId":"p1","sessionId":"s1","status":"paused"}`)); err == nil {
		t.Fatal("unknown status must be rejected")
	}
	if _, err := decodeStatus([]byte(`{"status":"active"}`)); err == nil {
		t.Fatal("status without session addressing must be rejected")
	}
}

func TestExtractDeviceID(t *testing.T) {
	if got := extractDeviceID("shirodhara/pi-01/telemetry"); got != "pi-01" {
		t.Fatalf("got %q", got)
	}
	if got := extractDeviceID("junk"); got != "" {
		t.Fatalf("expected empty for malformed topic, got %q", got)
	}
}

func TestFormatTopic(t *testing.T) {
	if got := formatTopic("shirodhara/{device_id}/commands", "pi-01"); got != "shirodhara/pi-01/commands" {
		t.Fatalf("got %q", got)
	}
}
