package models

import "time"

// Command names understood by the device.
const (
	CmdStartSession  = "start_session"
	CmdStopSession   = "stop_session"
	CmdEmergencyStop = "emergency_stop"
	CmdSetPower      = "set_power"
	CmdSetFlow       = "set_flow"
	CmdSetTemp       = "set_temp"
	CmdSetMode       = "set_mode"
)

// Command is a directive written under devices/{did}/commands. Ack is set by
// the device once processed; the client never reads it back, it exists for
// device-side dedup and for operators inspecting the store.
type Command struct {
	CommandID string      `json:"commandId"`
	Cmd       string      `json:"cmd"`
	Value     interface{} `json:"value,omitempty"`
	PatientID string      `json:"patientId,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	IssuedBy  string      `json:"issuedBy"`
	Timestamp time.Time   `json:"timestamp"`
	Ack       bool        `json:"ack"`
	Error     string      `json:"error,omitempty"`
}

// CommandStaleAfter is how old a command may be before the device refuses to
// execute it and acks it with an error instead.
const CommandStaleAfter = 5 * time.Minute

// CommandFromDoc decodes a command document. Query snapshots surface the
// document id under the store's reserved "_id" field; that id doubles as
// the command id.
func CommandFromDoc(doc map[string]interface{}) *Command {
	cmd := &Command{}
	if id, ok := doc["_id"].(string); ok {
		cmd.CommandID = id
	}
	if v, ok := doc["cmd"].(string); ok {
		cmd.Cmd = v
	}
	cmd.Value = doc["value"]
	if v, ok := doc["patientId"].(string); ok {
		cmd.PatientID = v
	}
	if v, ok := doc["sessionId"].(string); ok {
		cmd.SessionID = v
	}
	if v, ok := doc["issuedBy"].(string); ok {
		cmd.IssuedBy = v
	}
	if v, ok := doc["ack"].(bool); ok {
		cmd.Ack = v
	}
	if v, ok := doc["error"].(string); ok {
		cmd.Error = v
	}
	if ts, ok := ParseTime(doc["timestamp"]); ok {
		cmd.Timestamp = ts
	}
	return cmd
}
