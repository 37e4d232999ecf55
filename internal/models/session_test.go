package models

import (
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to SessionStatus
		want     bool
	}{
		{StatusStarting, StatusActive, true},
		{StatusStarting, StatusStopping, true},
		{StatusStarting, StatusCompleted, true},
		{StatusActive, StatusStopping, true},
		{StatusActive, StatusStoppedEmergency, true},
		{StatusStopping, StatusCompleted, true},
		{StatusStopping, StatusStopped, true},
		{StatusStopping, StatusStopping, true},

		{StatusActive, StatusStarting, false},
		{StatusStopping, StatusActive, false},
		{StatusCompleted, StatusActive, false},
		{StatusCompleted, StatusCompleted, false},
		{StatusCompleted, StatusStopped, false},
		{StatusStopped, StatusStarting, false},
		{StatusStoppedEmergency, StatusStopping, false},
		{StatusActive, SessionStatus("paused"), false},
		{SessionStatus(""), StatusActive, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Errorf("CanTransition(%q -> %q) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []SessionStatus{StatusCompleted, StatusStoppedEmergency, StatusStopped} {
		if !s.Terminal() {
			t.Errorf("expected %q to be terminal", s)
		}
	}
	for _, s := range []SessionStatus{StatusStarting, StatusActive, StatusStopping} {
		if s.Terminal() {
			t.Errorf("expected %q not to be terminal", s)
		}
	}
}

func TestHeartbeatOnline(t *testing.T) {
	now := time.Now()
	fresh := &DeviceHeartbeat{LastSeen: now.Add(-5 * time.Second)}
	if !fresh.Online(now) {
		t.Fatal("heartbeat 5s old should be online")
	}
	stale := &DeviceHeartbeat{LastSeen: now.Add(-31 * time.Second)}
	if stale.Online(now) {
		t.Fatal("heartbeat 31s old should be offline")
	}
	// The same heartbeat flips offline purely by the clock moving.
	if fresh.Online(now.Add(HeartbeatStaleness)) {
		t.Fatal("heartbeat should go stale without any new write")
	}
	var missing *DeviceHeartbeat
	if missing.Online(now) {
		t.Fatal("nil heartbeat should be offline")
	}
	if (&DeviceHeartbeat{}).Online(now) {
		t.Fatal("zero lastSeen should be offline")
	}
}

func TestCommandFromDoc(t *testing.T) {
	issued := time.Now().UTC().Truncate(time.Millisecond)
	doc := map[string]interface{}{
		"_id":       "cmd-123",
		"cmd":       CmdSetFlow,
		"value":     35.5,
		"patientId": "p1",
		"sessionId": "s1",
		"issuedBy":  "therapist",
		"ack":       false,
		"timestamp": issued.Format(time.RFC3339Nano),
	}
	cmd := CommandFromDoc(doc)
	if cmd.CommandID != "cmd-123" {
		t.Fatalf("expected document id as command id, got %q", cmd.CommandID)
	}
	if cmd.Cmd != CmdSetFlow || cmd.PatientID != "p1" || cmd.SessionID != "s1" {
		t.Fatalf("unexpected decode: %+v", cmd)
	}
	if v, ok := cmd.Value.(float64); !ok || v != 35.5 {
		t.Fatalf("expected value 35.5, got %v", cmd.Value)
	}
	if !cmd.Timestamp.Equal(issued) {
		t.Fatalf("expected timestamp %v, got %v", issued, cmd.Timestamp)
	}
	if cmd.Ack {
		t.Fatal("expected unacked command")
	}
}
