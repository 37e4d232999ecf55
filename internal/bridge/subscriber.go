package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"shirodhara-backend/internal/models"
	"shirodhara-backend/internal/store"
)

// TelemetryArchiver receives every telemetry sample for long-term storage.
type TelemetryArchiver interface {
	SaveTelemetry(ctx context.Context, patientID, sessionID string, sample *models.TelemetrySample) error
}

// Subscriber listens on the device topics and writes the decoded payloads
// into the shared store, which is where all client-side consumers watch.
type Subscriber struct {
	client  mqtt.Client
	st      store.Store
	archive TelemetryArchiver // optional

	telemetryTopic string
	heartbeatTopic string
	statusTopic    string
}

// SubscriberConfig holds the inbound topic patterns.
type SubscriberConfig struct {
	TelemetryTopic string // e.g. "shirodhara/+/telemetry"
	HeartbeatTopic string // e.g. "shirodhara/+/heartbeat"
	StatusTopic    string // e.g. "shirodhara/+/status"
}

// telemetryPayload is the device's telemetry message. The device addresses
// the session itself; the bridge does not track which session is active.
type telemetryPayload struct {
	PatientID string `json:"patientId"`
	SessionID string `json:"sessionId"`
	models.TelemetrySample
}

// statusPayload is the device's lifecycle transition message.
type statusPayload struct {
	PatientID string `json:"patientId"`
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Final     bool   `json:"final,omitempty"`
}

func NewSubscriber(client mqtt.Client, st store.Store, archive TelemetryArchiver, config SubscriberConfig) *Subscriber {
	return &Subscriber{
		client:         client,
		st:             st,
		archive:        archive,
		telemetryTopic: config.TelemetryTopic,
		heartbeatTopic: config.HeartbeatTopic,
		statusTopic:    config.StatusTopic,
	}
}

// SubscribeAll subscribes to all configured device topics.
func (s *Subscriber) SubscribeAll() error {
	if s.telemetryTopic != "" {
		if err := s.subscribe(s.telemetryTopic, s.handleTelemetry); err != nil {
			return fmt.Errorf("failed to subscribe to telemetry topic: %w", err)
		}
		log.Printf("Bridge: subscribed to telemetry topic: %s", s.telemetryTopic)
	}
	if s.heartbeatTopic != "" {
		if err := s.subscribe(s.heartbeatTopic, s.handleHeartbeat); err != nil {
			return fmt.Errorf("failed to subscribe to heartbeat topic: %w", err)
		}
		log.Printf("Bridge: subscribed to heartbeat topic: %s", s.heartbeatTopic)
	}
	if s.statusTopic != "" {
		if err := s.subscribe(s.statusTopic, s.handleStatus); err != nil {
			return fmt.Errorf("failed to subscribe to status topic: %w", err)
		}
		log.Printf("Bridge: subscribed to status topic: %s", s.statusTopic)
	}
	return nil
}

func (s *Subscriber) subscribe(topic string, handler mqtt.MessageHandler) error {
	token := s.client.Subscribe(topic, 1, handler)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

func (s *Subscriber) handleTelemetry(client mqtt.Client, msg mqtt.Message) {
	deviceID := extractDeviceID(msg.Topic())
	payload, err := decodeTelemetry(msg.Payload(), deviceID)
	if err != nil {
		log.Printf("Bridge: bad telemetry from %s: %v", deviceID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doc, err := store.EncodeDoc(payload.TelemetrySample)
	if err != nil {
		log.Printf("Bridge: encode telemetry from %s: %v", deviceID, err)
		return
	}
	collection := store.TelemetryCollection(payload.PatientID, payload.SessionID)
	if _, err := s.st.Add(ctx, collection, doc); err != nil {
		log.Printf("Bridge: store telemetry from %s: %v", deviceID, err)
		return
	}

	if s.archive != nil {
		if err := s.archive.SaveTelemetry(ctx, payload.PatientID, payload.SessionID, &payload.TelemetrySample); err != nil {
			log.Printf("Bridge: archive telemetry from %s: %v", deviceID, err)
		}
	}
}

func (s *Subscriber) handleHeartbeat(client mqtt.Client, msg mqtt.Message) {
	deviceID := extractDeviceID(msg.Topic())
	var hb models.DeviceHeartbeat
	if err := json.Unmarshal(msg.Payload(), &hb); err != nil {
		log.Printf("Bridge: bad heartbeat from %s: %v", deviceID, err)
		return
	}

	// lastSeen is server-assigned; a device clock is not to be trusted for
	// staleness math.
	doc := store.Doc{
		"lastSeen": store.Timestamp(time.Now()),
		"power":    hb.Power,
	}
	if hb.FirmwareVersion != "" {
		doc["firmwareVersion"] = hb.FirmwareVersion
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.st.Merge(ctx, store.DeviceStatusPath(deviceID), doc); err != nil {
		log.Printf("Bridge: store heartbeat from %s: %v", deviceID, err)
	}
}

func (s *Subscriber) handleStatus(client mqtt.Client, msg mqtt.Message) {
	deviceID := extractDeviceID(msg.Topic())
	payload, err := decodeStatus(msg.Payload())
	if err != nil {
		log.Printf("Bridge: bad status from %s: %v", deviceID, err)
		return
	}

	doc := store.Doc{"status": payload.Status}
	if models.SessionStatus(payload.Status).Terminal() {
		doc["endTime"] = store.Timestamp(time.Now())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.st.Merge(ctx, store.SessionPath(payload.PatientID, payload.SessionID), doc); err != nil {
		log.Printf("Bridge: store status from %s: %v", deviceID, err)
		return
	}
	log.Printf("Bridge: device %s moved session %s to %s", deviceID, payload.SessionID, payload.Status)
}

func decodeTelemetry(raw []byte, deviceID string) (*telemetryPayload, error) {
	var payload telemetryPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	if payload.PatientID == "" || payload.SessionID == "" {
		return nil, fmt.Errorf("telemetry without session addressing")
	}
	if payload.DeviceID == "" {
		payload.DeviceID = deviceID
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}
	return &payload, nil
}

func decodeStatus(raw []byte) (*statusPayload, error) {
	var payload statusPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	if payload.PatientID == "" || payload.SessionID == "" {
		return nil, fmt.Errorf("status without session addressing")
	}
	if !models.SessionStatus(payload.Status).Valid() {
		return nil, fmt.Errorf("unknown session status %q", payload.Status)
	}
	return &payload, nil
}

// extractDeviceID pulls the device id out of a topic such as
// "shirodhara/pi-01/telemetry".
func extractDeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
