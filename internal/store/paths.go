package store

import "fmt"

// Store paths shared with the device firmware. These strings are the wire
// contract; change them and deployed devices stop hearing us.

func PatientPath(patientID string) string {
	return fmt.Sprintf("patients/%s", patientID)
}

func PatientMetaPath(patientID string) string {
	return fmt.Sprintf("patients/%s/meta/info", patientID)
}

func SessionPath(patientID, sessionID string) string {
	return fmt.Sprintf("patients/%s/sessions/%s", patientID, sessionID)
}

func SessionMetaPath(patientID, sessionID string) string {
	return fmt.Sprintf("patients/%s/sessions/%s/metadata/info", patientID, sessionID)
}

func TelemetryCollection(patientID, sessionID string) string {
	return fmt.Sprintf("patients/%s/sessions/%s/telemetry", patientID, sessionID)
}

func SummaryPath(patientID, sessionID string) string {
	return fmt.Sprintf("patients/%s/sessions/%s/summary/final", patientID, sessionID)
}

func DeviceStatusPath(deviceID string) string {
	return fmt.Sprintf("devices/%s/status/current", deviceID)
}

func DeviceCommandsCollection(deviceID string) string {
	return fmt.Sprintf("devices/%s/commands", deviceID)
}
