package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"shirodhara-backend/internal/aggregator"
	"shirodhara-backend/internal/analysis"
	"shirodhara-backend/internal/device"
	"shirodhara-backend/internal/models"
	"shirodhara-backend/internal/store"
)

// Archiver receives finalized records for long-term reporting storage. The
// live store stays the source of truth; archiving is best effort.
type Archiver interface {
	SaveSummary(ctx context.Context, patientID, sessionID, deviceID string, summary *models.SessionSummary) error
}

// Coordinator composes dispatcher, state machine, aggregator, liveness
// monitor, and auto-stop timer for one session: it accumulates telemetry
// history, keeps the live relaxation index fresh, raises safety alerts, and
// finalizes the session exactly once when a terminal status arrives.
type Coordinator struct {
	st         store.Store
	dispatcher *Dispatcher
	archive    Archiver

	retryAttempts int
	retryDelay    time.Duration

	patientID   string
	sessionID   string
	deviceID    string
	therapistID string
	settings    models.SessionSettings
	startTime   time.Time

	machine  *StateMachine
	agg      *aggregator.Aggregator
	timer    *AutoStopTimer
	liveness *device.LivenessMonitor

	mu         sync.Mutex
	history    []*models.TelemetrySample
	relaxIndex float64
	alerts     []string
	alertSeen  map[string]bool

	finalOnce sync.Once
	done      chan *models.SessionSummary
	cancel    context.CancelFunc
}

func NewCoordinator(st store.Store, archive Archiver) *Coordinator {
	return &Coordinator{
		st:            st,
		dispatcher:    NewDispatcher(st, "therapist"),
		archive:       archive,
		retryAttempts: 5,
		retryDelay:    time.Second,
		relaxIndex:    50,
		alertSeen:     make(map[string]bool),
		done:          make(chan *models.SessionSummary, 1),
	}
}

// Begin starts a new session end to end: dispatches the start writes, waits
// out the phantom-document window for the metadata mirror, then wires the
// subscriptions and the auto-stop timer. Returns the session id.
func (c *Coordinator) Begin(ctx context.Context, patientID, therapistID, deviceID string, settings models.SessionSettings) (string, error) {
	sessionID, err := c.dispatcher.StartSession(ctx, patientID, therapistID, deviceID, settings)
	if err != nil {
		return "", err
	}
	c.patientID = patientID
	c.sessionID = sessionID
	c.deviceID = deviceID
	c.therapistID = therapistID
	c.settings = settings
	c.startTime = time.Now()

	// The timer trusts the stored metadata, not the settings we happen to
	// hold in memory; a monitor opened on another client has nothing else.
	duration, err := c.loadDurationMinutes(ctx)
	if err != nil {
		return sessionID, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.machine = NewStateMachine(c.st, patientID, sessionID)
	c.agg = aggregator.New(c.st, patientID, sessionID, aggregator.DefaultWindowSize)
	c.liveness = device.NewLivenessMonitor(c.st, deviceID)
	c.timer = NewAutoStopTimer(duration, func() {
		if err := c.StopSession(context.Background()); err != nil {
			log.Printf("Coordinator: auto-stop failed: %v", err)
		}
	})

	if err := c.machine.Start(runCtx); err != nil {
		cancel()
		return sessionID, err
	}
	if err := c.agg.Start(runCtx); err != nil {
		c.machine.Stop()
		cancel()
		return sessionID, err
	}
	if err := c.liveness.Start(runCtx); err != nil {
		log.Printf("Coordinator: heartbeat watch unavailable: %v", err)
	}

	go c.timer.Run(runCtx)
	go c.run(runCtx)

	log.Printf("Coordinator: session %s running (%.0f min, mode %s)", sessionID, duration, settings.Mode)
	return sessionID, nil
}

// StopSession takes the graceful stop path and suppresses the auto-stop
// trigger.
func (c *Coordinator) StopSession(ctx context.Context) error {
	if c.timer != nil {
		c.timer.MarkStopping()
	}
	return c.dispatcher.StopSession(ctx, c.sessionID, c.patientID, c.deviceID)
}

// EmergencyStop halts the device and finalizes the session without waiting
// for any acknowledgement. It is unconditionally available: earlier errors,
// a missing metadata document, or a dead device never block it.
func (c *Coordinator) EmergencyStop(ctx context.Context) error {
	if c.timer != nil {
		c.timer.MarkStopping()
	}
	c.addAlert("emergency", "emergency stop issued by therapist")

	err := c.dispatcher.EmergencyStop(ctx, c.deviceID)
	if err != nil {
		log.Printf("Coordinator: emergency command write failed, finalizing anyway: %v", err)
	}

	end := store.Doc{
		"status":  string(models.StatusStoppedEmergency),
		"endTime": store.Timestamp(time.Now()),
	}
	if merr := c.st.Merge(ctx, store.SessionPath(c.patientID, c.sessionID), end); merr != nil {
		log.Printf("Coordinator: emergency status merge failed: %v", merr)
	}

	// The merge above normally loops back through the state machine, but an
	// emergency must produce a record even when the store is unreachable.
	c.finalize(models.StatusStoppedEmergency)
	return err
}

// Done delivers the summary once the session is finalized, then closes.
func (c *Coordinator) Done() <-chan *models.SessionSummary {
	return c.done
}

// RelaxIndex returns the current live relaxation score.
func (c *Coordinator) RelaxIndex() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.relaxIndex
}

// DeviceOnline recomputes device liveness at the given instant.
func (c *Coordinator) DeviceOnline(now time.Time) bool {
	return c.liveness != nil && c.liveness.Online(now)
}

// UpdateNotes edits the free-text notes on the finalized summary. Nothing
// else on the summary is mutable after creation.
func (c *Coordinator) UpdateNotes(ctx context.Context, notes string) error {
	return c.st.Merge(ctx, store.SummaryPath(c.patientID, c.sessionID), store.Doc{"notes": notes})
}

func (c *Coordinator) run(ctx context.Context) {
	latest := c.agg.Latest()
	window := c.agg.Window()
	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-latest:
			if !ok {
				latest = nil
				continue
			}
			c.mu.Lock()
			c.history = append(c.history, sample)
			c.mu.Unlock()
			c.checkSafety(sample)
		case win, ok := <-window:
			if !ok {
				window = nil
				continue
			}
			score := analysis.ComputeRelaxScore(win)
			c.mu.Lock()
			c.relaxIndex = score
			c.mu.Unlock()
		case status, ok := <-c.machine.Ended():
			if !ok {
				return
			}
			c.finalize(status)
			return
		}
	}
}

// finalize computes and persists the summary. Runs at most once per session
// no matter how many paths race into it.
func (c *Coordinator) finalize(status models.SessionStatus) {
	c.finalOnce.Do(func() {
		if c.timer != nil {
			c.timer.MarkStopped()
		}

		c.mu.Lock()
		history := c.history
		index := c.relaxIndex
		alerts := append([]string(nil), c.alerts...)
		c.mu.Unlock()

		assessment := analysis.AnalyzeRelaxation(history, index)
		end := time.Now()
		summary := &models.SessionSummary{
			EndTime:              end,
			DurationSeconds:      int(end.Sub(c.startTime).Seconds()),
			AvgPulse:             aggregator.AvgPulse(history),
			AvgSpO2:              aggregator.AvgSpO2(history),
			MaxTemperature:       aggregator.MaxTemperature(history),
			RelaxationIndex:      index,
			RelaxationState:      assessment.State,
			RelaxationConfidence: assessment.Confidence,
			RelaxationReason:     assessment.Reason,
			Alerts:               alerts,
		}

		ctx, cancelWrite := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelWrite()
		doc, err := store.EncodeDoc(summary)
		if err == nil {
			err = c.st.Set(ctx, store.SummaryPath(c.patientID, c.sessionID), doc)
		}
		if err != nil {
			log.Printf("Coordinator: summary write for %s failed: %v", c.sessionID, err)
		}

		if c.archive != nil {
			if err := c.archive.SaveSummary(ctx, c.patientID, c.sessionID, c.deviceID, summary); err != nil {
				log.Printf("Coordinator: summary archive for %s failed: %v", c.sessionID, err)
			}
		}

		c.teardown()
		log.Printf("Coordinator: session %s finalized as %s (%s, index %.0f)", c.sessionID, status, assessment.State, index)
		c.done <- summary
		close(c.done)
	})
}

func (c *Coordinator) teardown() {
	if c.machine != nil {
		c.machine.Stop()
	}
	if c.agg != nil {
		c.agg.Stop()
	}
	if c.liveness != nil {
		c.liveness.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
}

// checkSafety raises each alert class at most once per session.
func (c *Coordinator) checkSafety(s *models.TelemetrySample) {
	if s.Pulse != nil && *s.Pulse > 0 {
		if *s.Pulse < models.PulseMinSafe {
			c.addAlert("pulse_low", fmt.Sprintf("pulse %.0f bpm below safe minimum %.0f", *s.Pulse, models.PulseMinSafe))
		}
		if *s.Pulse > models.PulseMaxSafe {
			c.addAlert("pulse_high", fmt.Sprintf("pulse %.0f bpm above safe maximum %.0f", *s.Pulse, models.PulseMaxSafe))
		}
	}
	if s.Temperature != nil && *s.Temperature > models.TempMaxSafe {
		c.addAlert("temp_high", fmt.Sprintf("oil temperature %.1f C above safe maximum %.1f C", *s.Temperature, models.TempMaxSafe))
	}
	if s.FlowState != nil && *s.FlowState > 0 && *s.FlowState < models.FlowMinSafe {
		c.addAlert("flow_low", fmt.Sprintf("flow %.1f ml/min below safe minimum %.1f", *s.FlowState, models.FlowMinSafe))
	}
}

func (c *Coordinator) addAlert(key, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.alertSeen[key] {
		return
	}
	c.alertSeen[key] = true
	c.alerts = append(c.alerts, message)
	log.Printf("Coordinator: alert: %s", message)
}

// loadDurationMinutes reads the session metadata with a bounded retry. The
// metadata write may not be visible yet right after start (phantom-document
// window); absence is retried, anything past the bound surfaces as
// ErrMetadataUnavailable for a human decision.
func (c *Coordinator) loadDurationMinutes(ctx context.Context) (float64, error) {
	path := store.SessionMetaPath(c.patientID, c.sessionID)
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
		doc, err := c.st.Get(ctx, path)
		if err != nil {
			log.Printf("Coordinator: metadata read attempt %d: %v", attempt+1, err)
			continue
		}
		if settings, ok := doc["settings"].(map[string]interface{}); ok {
			if d, ok := settings["duration"].(float64); ok && d > 0 {
				return d, nil
			}
		}
		log.Printf("Coordinator: metadata missing duration, attempt %d", attempt+1)
	}
	return 0, ErrMetadataUnavailable
}
