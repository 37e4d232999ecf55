// Package analysis holds the relaxation scoring functions. Both entry points
// are pure: no I/O, no clocks, deterministic for a given sample set, so they
// can be unit-tested away from the store.
package analysis

import (
	"fmt"
	"math"
	"sort"

	"shirodhara-backend/internal/models"
)

// Assessment state labels.
const (
	StateDeeplyRelaxed     = "Deeply Relaxed"
	StateModeratelyRelaxed = "Moderately Relaxed"
	StateNotRelaxed        = "Not Relaxed"
	StateInsufficientData  = "Insufficient Data"
)

// minHistorySamples is the floor below which no post-hoc classification is
// attempted.
const minHistorySamples = 30

// Metrics are the intermediate quantities behind a classification.
type Metrics struct {
	PulseDrop       float64 `json:"pulseDrop"`       // beats/min, floored at 0
	PulseStability  float64 `json:"pulseStability"`  // population stddev of end-window pulse
	SpO2Change      float64 `json:"spo2Change"`      // end avg minus start avg
	RelaxationIndex float64 `json:"relaxationIndex"` // the live index handed in
}

// Assessment is the post-hoc clinical classification of a finished session.
type Assessment struct {
	State      string  `json:"state"`
	Confidence float64 `json:"confidence"` // [0.1, 0.98] when classified, 0 otherwise
	Reason     string  `json:"reason"`
	Metrics    Metrics `json:"metrics"`
}

// ComputeRelaxScore is the live heuristic recomputed on every telemetry push.
// It scores the chronological rolling window in [0, 100]; 50 is neutral. It
// trades rigor for responsiveness and never feeds the clinical record.
func ComputeRelaxScore(window []*models.TelemetrySample) float64 {
	pulses := positivePulses(window)
	if len(pulses) < 3 {
		return 50
	}
	drop := math.Max(0, pulses[0]-pulses[len(pulses)-1])
	score := 50 + math.Min(30, drop*2)
	if last := window[len(window)-1]; last.SpO2 != nil && *last.SpO2 > 96 {
		score += 3
	}
	return clamp(0, 100, score)
}

// AnalyzeRelaxation classifies a full session history. Arrival order of the
// history does not matter; samples are re-sorted by timestamp before
// windowing. relaxationIndex is the final value of the live score.
func AnalyzeRelaxation(history []*models.TelemetrySample, relaxationIndex float64) Assessment {
	if len(history) < minHistorySamples {
		return Assessment{
			State:      StateInsufficientData,
			Confidence: 0,
			Reason:     fmt.Sprintf("only %d telemetry samples recorded, need %d", len(history), minHistorySamples),
			Metrics:    Metrics{RelaxationIndex: relaxationIndex},
		}
	}

	sorted := make([]*models.TelemetrySample, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	n := len(sorted)
	k := n / 3
	if k > 20 {
		k = 20
	}
	startWindow := sorted[:k]
	endWindow := sorted[n-k:]

	endPulses := positivePulses(endWindow)
	metrics := Metrics{
		PulseDrop:       math.Max(0, mean(positivePulses(startWindow))-mean(endPulses)),
		PulseStability:  pstdev(endPulses),
		SpO2Change:      mean(positiveSpO2(endWindow)) - mean(positiveSpO2(startWindow)),
		RelaxationIndex: relaxationIndex,
	}

	var state, reason string
	switch {
	case relaxationIndex >= 70 && metrics.PulseDrop >= 5 && metrics.PulseStability <= 5:
		state = StateDeeplyRelaxed
		reason = fmt.Sprintf("pulse dropped %.1f bpm and settled (stddev %.1f) with a high live index", metrics.PulseDrop, metrics.PulseStability)
	case relaxationIndex >= 50 && (metrics.PulseDrop >= 2 || metrics.SpO2Change >= 0):
		state = StateModeratelyRelaxed
		reason = fmt.Sprintf("pulse drop %.1f bpm, SpO2 change %+.1f%% with a moderate live index", metrics.PulseDrop, metrics.SpO2Change)
	default:
		state = StateNotRelaxed
		reason = fmt.Sprintf("no sustained pulse drop (%.1f bpm) and live index %.0f", metrics.PulseDrop, relaxationIndex)
	}

	confidence := (relaxationIndex/100)*0.4 + math.Min(1, metrics.PulseDrop/15)*0.3
	if metrics.PulseStability < 3 {
		confidence += 0.2
	}
	if metrics.SpO2Change > 0 {
		confidence += 0.1
	}

	return Assessment{
		State:      state,
		Confidence: clamp(0.1, 0.98, confidence),
		Reason:     reason,
		Metrics:    metrics,
	}
}

func positivePulses(samples []*models.TelemetrySample) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.Pulse != nil && *s.Pulse > 0 {
			out = append(out, *s.Pulse)
		}
	}
	return out
}

func positiveSpO2(samples []*models.TelemetrySample) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.SpO2 != nil && *s.SpO2 > 0 {
			out = append(out, *s.SpO2)
		}
	}
	return out
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// pstdev is the population standard deviation.
func pstdev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sq float64
	for _, v := range values {
		d := v - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

func clamp(lo, hi, v float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
