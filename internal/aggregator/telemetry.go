// Package aggregator maintains the live telemetry views for one session: a
// latest-sample feed and a rolling chronological window, both driven by
// store query subscriptions.
package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"shirodhara-backend/internal/models"
	"shirodhara-backend/internal/store"
)

// DefaultWindowSize matches the 120-sample rolling chart the monitor view
// draws.
const DefaultWindowSize = 120

// Aggregator runs two independent subscriptions against the same append-only
// telemetry collection and republishes decoded samples on channels.
type Aggregator struct {
	st         store.Store
	collection string
	windowSize int

	latestSub *store.QuerySub
	windowSub *store.QuerySub

	latestCh chan *models.TelemetrySample
	windowCh chan []*models.TelemetrySample
}

func New(st store.Store, patientID, sessionID string, windowSize int) *Aggregator {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Aggregator{
		st:         st,
		collection: store.TelemetryCollection(patientID, sessionID),
		windowSize: windowSize,
		latestCh:   make(chan *models.TelemetrySample, 128),
		windowCh:   make(chan []*models.TelemetrySample, 16),
	}
}

// Start opens both subscriptions and begins republishing. Call Stop to tear
// down; the output channels close once the subscriptions drain.
func (a *Aggregator) Start(ctx context.Context) error {
	latest, err := a.st.WatchQuery(ctx, a.collection, 1)
	if err != nil {
		return fmt.Errorf("telemetry latest watch: %w", err)
	}
	window, err := a.st.WatchQuery(ctx, a.collection, a.windowSize)
	if err != nil {
		latest.Unsubscribe()
		return fmt.Errorf("telemetry window watch: %w", err)
	}
	a.latestSub = latest
	a.windowSub = window

	go a.latestLoop()
	go a.windowLoop()
	return nil
}

// Latest emits each freshly added sample exactly once.
func (a *Aggregator) Latest() <-chan *models.TelemetrySample {
	return a.latestCh
}

// Window emits the rolling window in chronological order on every telemetry
// push. The store's native order is most-recent-first; charting and scoring
// both need oldest-first, so each snapshot is reversed before delivery.
func (a *Aggregator) Window() <-chan []*models.TelemetrySample {
	return a.windowCh
}

// Stop cancels both subscriptions.
func (a *Aggregator) Stop() {
	if a.latestSub != nil {
		a.latestSub.Unsubscribe()
	}
	if a.windowSub != nil {
		a.windowSub.Unsubscribe()
	}
}

// latestLoop reacts only to newly added documents so unchanged data is never
// re-processed.
func (a *Aggregator) latestLoop() {
	defer close(a.latestCh)
	for snap := range a.latestSub.C {
		for _, doc := range snap.Added {
			sample, err := SampleFromDoc(doc)
			if err != nil {
				log.Printf("Aggregator: bad telemetry doc: %v", err)
				continue
			}
			select {
			case a.latestCh <- sample:
			default:
				log.Printf("Aggregator: latest channel full, dropping sample")
			}
		}
	}
}

func (a *Aggregator) windowLoop() {
	defer close(a.windowCh)
	for snap := range a.windowSub.C {
		window := make([]*models.TelemetrySample, 0, len(snap.Docs))
		for i := len(snap.Docs) - 1; i >= 0; i-- {
			sample, err := SampleFromDoc(snap.Docs[i])
			if err != nil {
				log.Printf("Aggregator: bad telemetry doc: %v", err)
				continue
			}
			window = append(window, sample)
		}
		if len(window) == 0 {
			continue
		}
		select {
		case a.windowCh <- window:
		default:
			log.Printf("Aggregator: window channel full, dropping snapshot")
		}
	}
}

// SampleFromDoc decodes a telemetry document, normalizing the timestamp and
// tolerating any subset of the four optional measurements.
func SampleFromDoc(doc store.Doc) (*models.TelemetrySample, error) {
	if doc == nil {
		return nil, fmt.Errorf("nil telemetry doc")
	}
	s := &models.TelemetrySample{
		Pulse:       floatField(doc, "pulse"),
		SpO2:        floatField(doc, "spo2"),
		FlowState:   floatField(doc, "flowState"),
		Temperature: floatField(doc, "temperature"),
	}
	if id, ok := doc["device_id"].(string); ok {
		s.DeviceID = id
	}
	if ts, ok := models.ParseTime(doc["timestamp"]); ok {
		s.Timestamp = ts
	}
	return s, nil
}

func floatField(doc store.Doc, key string) *float64 {
	switch v := doc[key].(type) {
	case float64:
		return models.Float(v)
	case int:
		return models.Float(float64(v))
	case int64:
		return models.Float(float64(v))
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return models.Float(f)
		}
	}
	return nil
}

// AvgPulse averages positive pulse values across samples; absent and
// non-positive readings are ignored.
func AvgPulse(samples []*models.TelemetrySample) float64 {
	return avgField(samples, func(s *models.TelemetrySample) *float64 { return s.Pulse })
}

// AvgSpO2 averages positive SpO2 values across samples.
func AvgSpO2(samples []*models.TelemetrySample) float64 {
	return avgField(samples, func(s *models.TelemetrySample) *float64 { return s.SpO2 })
}

// MaxTemperature returns the highest temperature seen, or 0 when none was
// reported.
func MaxTemperature(samples []*models.TelemetrySample) float64 {
	var max float64
	for _, s := range samples {
		if s.Temperature != nil && *s.Temperature > max {
			max = *s.Temperature
		}
	}
	return max
}

func avgField(samples []*models.TelemetrySample, field func(*models.TelemetrySample) *float64) float64 {
	var sum float64
	var n int
	for _, s := range samples {
		if v := field(s); v != nil && *v > 0 {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
