package analysis

import (
	"math/rand"
	"testing"
	"time"

	"shirodhara-backend/internal/models"
)

func sampleAt(ts time.Time, pulse, spo2 float64) *models.TelemetrySample {
	return &models.TelemetrySample{
		Timestamp: ts,
		Pulse:     models.Float(pulse),
		SpO2:      models.Float(spo2),
	}
}

func TestComputeRelaxScoreNeutralOnFewPulses(t *testing.T) {
	base := time.Now()
	window := []*models.TelemetrySample{
		sampleAt(base, 80, 98),
		sampleAt(base.Add(time.Second), 78, 98),
	}
	if got := ComputeRelaxScore(window); got != 50 {
		t.Fatalf("expected neutral score 50 for short window, got %v", got)
	}
	if got := ComputeRelaxScore(nil); got != 50 {
		t.Fatalf("expected neutral score 50 for empty window, got %v", got)
	}
}

func TestComputeRelaxScoreDropAndSpO2Bonus(t *testing.T) {
	base := time.Now()
	window := []*models.TelemetrySample{
		sampleAt(base, 80, 98),
		sampleAt(base.Add(time.Second), 75, 98),
		sampleAt(base.Add(2*time.Second), 70, 97),
	}
	// drop 10 -> 50 + 20, spo2 97 > 96 -> +3
	if got := ComputeRelaxScore(window); got != 73 {
		t.Fatalf("expected score 73, got %v", got)
	}
}

func TestComputeRelaxScoreDropIsCapped(t *testing.T) {
	base := time.Now()
	window := []*models.TelemetrySample{
		sampleAt(base, 130, 95),
		sampleAt(base.Add(time.Second), 100, 95),
		sampleAt(base.Add(2*time.Second), 60, 95),
	}
	// drop 70 capped at +30, no spo2 bonus at 95
	if got := ComputeRelaxScore(window); got != 80 {
		t.Fatalf("expected capped score 80, got %v", got)
	}
}

func TestComputeRelaxScoreRisingPulseStaysNeutral(t *testing.T) {
	base := time.Now()
	window := []*models.TelemetrySample{
		sampleAt(base, 70, 95),
		sampleAt(base.Add(time.Second), 75, 95),
		sampleAt(base.Add(2*time.Second), 82, 95),
	}
	if got := ComputeRelaxScore(window); got != 50 {
		t.Fatalf("expected neutral score for rising pulse, got %v", got)
	}
}

func TestAnalyzeRelaxationInsufficientData(t *testing.T) {
	base := time.Now()
	history := make([]*models.TelemetrySample, 0, 10)
	for i := 0; i < 10; i++ {
		history = append(history, sampleAt(base.Add(time.Duration(i)*time.Second), 72, 98))
	}
	got := AnalyzeRelaxation(history, 65)
	if got.State != StateInsufficientData {
		t.Fatalf("expected %q, got %q", StateInsufficientData, got.State)
	}
	if got.Confidence != 0 {
		t.Fatalf("expected zero confidence, got %v", got.Confidence)
	}
	if got.Metrics.RelaxationIndex != 65 {
		t.Fatalf("expected live index carried through, got %v", got.Metrics.RelaxationIndex)
	}
}

// deepHistory builds 60 samples whose pulse settles from 80 to 70 with a
// small SpO2 rise.
func deepHistory(base time.Time) []*models.TelemetrySample {
	history := make([]*models.TelemetrySample, 0, 60)
	for i := 0; i < 60; i++ {
		pulse := 80.0
		spo2 := 97.0
		if i >= 40 {
			pulse = 70.0
			spo2 = 98.0
		}
		history = append(history, sampleAt(base.Add(time.Duration(i)*time.Second), pulse, spo2))
	}
	return history
}

func TestAnalyzeRelaxationDeeplyRelaxed(t *testing.T) {
	got := AnalyzeRelaxation(deepHistory(time.Now()), 75)
	if got.State != StateDeeplyRelaxed {
		t.Fatalf("expected %q, got %q (%s)", StateDeeplyRelaxed, got.State, got.Reason)
	}
	if got.Metrics.PulseDrop != 10 {
		t.Fatalf("expected pulse drop 10, got %v", got.Metrics.PulseDrop)
	}
	if got.Metrics.PulseStability != 0 {
		t.Fatalf("expected flat end window, got stddev %v", got.Metrics.PulseStability)
	}
	// 0.4*0.75 + 0.3*min(1, 10/15) + 0.2 + 0.1
	want := 0.3 + 0.2 + 0.2 + 0.1
	if diff := got.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected confidence %v, got %v", want, got.Confidence)
	}
}

func TestAnalyzeRelaxationOrderIndependent(t *testing.T) {
	history := deepHistory(time.Now())
	shuffled := make([]*models.TelemetrySample, len(history))
	copy(shuffled, history)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	a := AnalyzeRelaxation(history, 75)
	b := AnalyzeRelaxation(shuffled, 75)
	if a.State != b.State || a.Metrics != b.Metrics || a.Confidence != b.Confidence {
		t.Fatalf("arrival order changed the assessment: %+v vs %+v", a, b)
	}
}

func TestAnalyzeRelaxationModeratelyRelaxed(t *testing.T) {
	base := time.Now()
	history := make([]*models.TelemetrySample, 0, 45)
	for i := 0; i < 45; i++ {
		history = append(history, sampleAt(base.Add(time.Duration(i)*time.Second), 72, 98))
	}
	// Flat pulse, flat SpO2: drop 0 but spo2Change 0 satisfies the moderate arm.
	got := AnalyzeRelaxation(history, 55)
	if got.State != StateModeratelyRelaxed {
		t.Fatalf("expected %q, got %q (%s)", StateModeratelyRelaxed, got.State, got.Reason)
	}
}

func TestAnalyzeRelaxationNotRelaxed(t *testing.T) {
	base := time.Now()
	history := make([]*models.TelemetrySample, 0, 45)
	for i := 0; i < 45; i++ {
		spo2 := 98.0
		if i >= 30 {
			spo2 = 96.0
		}
		history = append(history, sampleAt(base.Add(time.Duration(i)*time.Second), 72, spo2))
	}
	got := AnalyzeRelaxation(history, 40)
	if got.State != StateNotRelaxed {
		t.Fatalf("expected %q, got %q (%s)", StateNotRelaxed, got.State, got.Reason)
	}
	if got.Confidence < 0.1 || got.Confidence > 0.98 {
		t.Fatalf("confidence %v out of [0.1, 0.98]", got.Confidence)
	}
}

func TestAnalyzeRelaxationConfidenceBounds(t *testing.T) {
	base := time.Now()
	// Strongest possible signal still clamps at 0.98.
	history := make([]*models.TelemetrySample, 0, 90)
	for i := 0; i < 90; i++ {
		pulse := 110.0
		spo2 := 94.0
		if i >= 70 {
			pulse = 60.0
			spo2 = 99.0
		}
		history = append(history, sampleAt(base.Add(time.Duration(i)*time.Second), pulse, spo2))
	}
	got := AnalyzeRelaxation(history, 100)
	if got.Confidence != 0.98 {
		t.Fatalf("expected confidence clamped to 0.98, got %v", got.Confidence)
	}
}
