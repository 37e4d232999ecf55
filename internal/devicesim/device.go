// Package devicesim is a software stand-in for the treatment device. It
// honors the full device contract against the shared store: it watches its
// command collection, acks every command, advances the session lifecycle,
// and emits telemetry and heartbeats. Used by cmd/devicesim for demos and
// by integration tests against the in-memory store.
package devicesim

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"shirodhara-backend/internal/models"
	"shirodhara-backend/internal/store"
)

const commandWatchLimit = 20

// Config holds the simulated device's identity and loop timings. Intervals
// default to the real firmware's cadence; tests shrink them.
type Config struct {
	DeviceID          string
	FirmwareVersion   string
	HeartbeatInterval time.Duration
	TelemetryInterval time.Duration
	BasePulse         float64
}

// Device is one simulated treatment unit. All session state lives behind mu
// because the command watcher and the telemetry loop race on it.
type Device struct {
	st  store.Store
	cfg Config
	rng *rand.Rand

	mu          sync.Mutex
	active      bool
	patientID   string
	sessionID   string
	mode        models.SessionMode
	flowValue   float64
	tempValue   float64
	durationSec float64
	startedAt   time.Time
	power       int

	cmdSub *store.QuerySub
}

func New(st store.Store, cfg Config) *Device {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.TelemetryInterval <= 0 {
		cfg.TelemetryInterval = 2 * time.Second
	}
	if cfg.BasePulse <= 0 {
		cfg.BasePulse = 72.0
	}
	if cfg.FirmwareVersion == "" {
		cfg.FirmwareVersion = "sim-1.0"
	}
	return &Device{
		st:    st,
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		power: 1,
	}
}

// Start opens the command watch and launches the heartbeat and telemetry
// loops. They all stop when ctx is cancelled.
func (d *Device) Start(ctx context.Context) error {
	sub, err := d.st.WatchQuery(ctx, store.DeviceCommandsCollection(d.cfg.DeviceID), commandWatchLimit)
	if err != nil {
		return fmt.Errorf("watch commands: %w", err)
	}
	d.cmdSub = sub

	go d.commandLoop(ctx)
	go d.heartbeatLoop(ctx)
	go d.telemetryLoop(ctx)
	log.Printf("DeviceSim: %s started", d.cfg.DeviceID)
	return nil
}

// Stop cancels the command watch. The loops exit with their context.
func (d *Device) Stop() {
	if d.cmdSub != nil {
		d.cmdSub.Unsubscribe()
	}
}

func (d *Device) commandLoop(ctx context.Context) {
	for snap := range d.cmdSub.C {
		for _, doc := range snap.Added {
			cmd := models.CommandFromDoc(doc)
			if cmd.Cmd == "" || cmd.Ack {
				continue
			}
			d.handleCommand(ctx, cmd)
		}
	}
}

func (d *Device) handleCommand(ctx context.Context, cmd *models.Command) {
	ack := store.Doc{
		"ack":         true,
		"processedAt": store.Timestamp(time.Now()),
	}

	if !cmd.Timestamp.IsZero() && time.Since(cmd.Timestamp) > models.CommandStaleAfter {
		log.Printf("DeviceSim: ignoring stale command %s (age %s)", cmd.Cmd, time.Since(cmd.Timestamp).Round(time.Second))
		ack["error"] = "stale_command"
		d.ackCommand(ctx, cmd.CommandID, ack)
		return
	}

	log.Printf("DeviceSim: %s received command %s", d.cfg.DeviceID, cmd.Cmd)

	switch cmd.Cmd {
	case models.CmdStartSession:
		if err := d.startSession(ctx, cmd.PatientID, cmd.SessionID); err != nil {
			ack["error"] = err.Error()
		}
	case models.CmdStopSession:
		d.endSession(ctx, models.StatusStopped)
	case models.CmdEmergencyStop:
		d.emergencyStop(ctx, "manual_command")
	case models.CmdSetFlow:
		if v, ok := numberValue(cmd.Value); ok {
			d.mu.Lock()
			d.flowValue = v
			d.mode = models.ModeManual
			d.mu.Unlock()
		}
	case models.CmdSetTemp:
		if v, ok := numberValue(cmd.Value); ok {
			d.mu.Lock()
			d.tempValue = v
			d.mode = models.ModeManual
			d.mu.Unlock()
		}
	case models.CmdSetMode:
		if v, ok := cmd.Value.(string); ok {
			d.mu.Lock()
			d.mode = models.SessionMode(v)
			d.mu.Unlock()
		}
	case models.CmdSetPower:
		if v, ok := numberValue(cmd.Value); ok {
			d.mu.Lock()
			d.power = int(v)
			d.mu.Unlock()
		}
	default:
		ack["error"] = "unknown_command"
	}

	d.ackCommand(ctx, cmd.CommandID, ack)
}

func (d *Device) ackCommand(ctx context.Context, commandID string, ack store.Doc) {
	if commandID == "" {
		return
	}
	path := store.DeviceCommandsCollection(d.cfg.DeviceID) + "/" + commandID
	if err := d.st.Merge(ctx, path, ack); err != nil {
		log.Printf("DeviceSim: ack command %s: %v", commandID, err)
	}
}

// startSession reads the session metadata for its settings and moves the
// root document to active. Missing metadata falls back to firmware defaults
// rather than refusing the session.
func (d *Device) startSession(ctx context.Context, patientID, sessionID string) error {
	d.mu.Lock()
	if d.active {
		d.mu.Unlock()
		return fmt.Errorf("session already active")
	}
	d.mu.Unlock()

	if patientID == "" || sessionID == "" {
		return fmt.Errorf("start_session without session addressing")
	}

	durationMin := 45.0
	mode := models.ModeManual
	flow := 30.0
	temp := 40.0
	if meta, err := d.st.Get(ctx, store.SessionMetaPath(patientID, sessionID)); err == nil {
		if settings, ok := meta["settings"].(map[string]interface{}); ok {
			if v, ok := numberValue(settings["duration"]); ok && v > 0 {
				durationMin = v
			}
			if v, ok := settings["mode"].(string); ok && v != "" {
				mode = models.SessionMode(v)
			}
			if v, ok := numberValue(settings["flowRate"]); ok && v > 0 {
				flow = v
			}
			if v, ok := numberValue(settings["temperature"]); ok && v > 0 {
				temp = v
			}
		}
	} else {
		log.Printf("DeviceSim: metadata for session %s not readable, using defaults: %v", sessionID, err)
	}

	d.mu.Lock()
	d.active = true
	d.patientID = patientID
	d.sessionID = sessionID
	d.mode = mode
	d.flowValue = flow
	d.tempValue = temp
	d.durationSec = durationMin * 60
	d.startedAt = time.Now()
	d.mu.Unlock()

	if err := d.st.Merge(ctx, store.SessionPath(patientID, sessionID), store.Doc{
		"status": string(models.StatusActive),
	}); err != nil {
		return fmt.Errorf("mark session active: %w", err)
	}
	log.Printf("DeviceSim: session %s active (duration %.0f min, mode %s)", sessionID, durationMin, mode)
	return nil
}

// endSession writes the terminal status and clears local state. Safe to call
// when no session is active.
func (d *Device) endSession(ctx context.Context, status models.SessionStatus) {
	d.mu.Lock()
	patientID, sessionID := d.patientID, d.sessionID
	d.active = false
	d.patientID = ""
	d.sessionID = ""
	d.mu.Unlock()

	if patientID == "" || sessionID == "" {
		return
	}
	if err := d.st.Merge(ctx, store.SessionPath(patientID, sessionID), store.Doc{
		"status":  string(status),
		"endTime": store.Timestamp(time.Now()),
	}); err != nil {
		log.Printf("DeviceSim: finalize session %s: %v", sessionID, err)
		return
	}
	log.Printf("DeviceSim: session %s finalized as %s", sessionID, status)
}

func (d *Device) emergencyStop(ctx context.Context, reason string) {
	d.mu.Lock()
	patientID, sessionID := d.patientID, d.sessionID
	d.mu.Unlock()

	alert, err := store.EncodeDoc(models.Alert{
		Type:      "emergency_stop",
		Level:     "critical",
		Message:   "Emergency stop: " + reason,
		DeviceID:  d.cfg.DeviceID,
		Timestamp: time.Now(),
	})
	if err != nil {
		log.Printf("DeviceSim: encode alert: %v", err)
	} else {
		if _, err := d.st.Add(ctx, "alerts", alert); err != nil {
			log.Printf("DeviceSim: write alert: %v", err)
		}
		if patientID != "" && sessionID != "" {
			sessionAlerts := store.SessionPath(patientID, sessionID) + "/alerts"
			if _, err := d.st.Add(ctx, sessionAlerts, alert); err != nil {
				log.Printf("DeviceSim: write session alert: %v", err)
			}
		}
	}
	d.endSession(ctx, models.StatusStoppedEmergency)
}

func (d *Device) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.mu.Lock()
			power := d.power
			d.mu.Unlock()
			err := d.st.Merge(ctx, store.DeviceStatusPath(d.cfg.DeviceID), store.Doc{
				"lastSeen":        store.Timestamp(time.Now()),
				"power":           power,
				"firmwareVersion": d.cfg.FirmwareVersion,
			})
			if err != nil {
				log.Printf("DeviceSim: heartbeat: %v", err)
			}
		}
	}
}

func (d *Device) telemetryLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.TelemetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.emitTelemetry(ctx)
		}
	}
}

func (d *Device) emitTelemetry(ctx context.Context) {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return
	}
	elapsed := time.Since(d.startedAt).Seconds()
	if elapsed >= d.durationSec {
		d.mu.Unlock()
		log.Printf("DeviceSim: session %s time complete", d.sessionID)
		d.endSession(ctx, models.StatusCompleted)
		return
	}

	pulse := d.simulatePulse(elapsed)
	if d.mode == models.ModeAuto {
		d.flowValue, d.tempValue = autoModeTargets(elapsed, d.durationSec, pulse)
	}
	sample := models.TelemetrySample{
		Pulse:       models.Float(round1(pulse)),
		SpO2:        models.Float(round1(98.0 + d.rng.Float64()*2 - 1)),
		FlowState:   models.Float(d.flowValue),
		Temperature: models.Float(d.tempValue),
		DeviceID:    d.cfg.DeviceID,
		Timestamp:   time.Now(),
	}
	patientID, sessionID := d.patientID, d.sessionID
	d.mu.Unlock()

	doc, err := store.EncodeDoc(sample)
	if err != nil {
		log.Printf("DeviceSim: encode telemetry: %v", err)
		return
	}
	if _, err := d.st.Add(ctx, store.TelemetryCollection(patientID, sessionID), doc); err != nil {
		log.Printf("DeviceSim: send telemetry: %v", err)
	}
}

// simulatePulse drifts the pulse downward over the session so the subject
// appears to settle, with a little noise on top. Callers hold mu.
func (d *Device) simulatePulse(elapsed float64) float64 {
	progress := elapsed / d.durationSec
	return d.cfg.BasePulse - 10.0*progress + d.rng.Float64()*2 - 1
}

// autoModeTargets is the therapeutic control curve: a warmup ramp for the
// first tenth of the session, a cooldown ramp for the last tenth, and in
// between a pulse-driven offset plus a slow oscillation in the flow.
func autoModeTargets(elapsedSec, durationSec, pulse float64) (flow, temp float64) {
	progress := elapsedSec / durationSec

	switch {
	case progress < 0.1:
		temp = 37.0 + (progress*10)*2.0
		flow = 20.0 + (progress*10)*15.0
	case progress > 0.9:
		pEnd := (progress - 0.9) * 10
		temp = 39.0 - pEnd*2.0
		flow = 35.0 - pEnd*15.0
	default:
		flowOffset := math.Max(-2, math.Min(5, (pulse-60)*0.1))
		tempOffset := math.Max(-0.5, math.Min(1.5, (pulse-60)*0.05))
		flow = 30.0 + flowOffset + 0.5*math.Sin(elapsedSec/5.0)
		temp = 38.0 + tempOffset
	}
	return flow, temp
}

func numberValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
