package aggregator

import (
	"context"
	"testing"
	"time"

	"shirodhara-backend/internal/models"
	"shirodhara-backend/internal/store"
)

func addSample(t *testing.T, st *store.MemoryStore, collection string, pulse float64) {
	t.Helper()
	if _, err := st.Add(context.Background(), collection, store.Doc{"pulse": pulse}); err != nil {
		t.Fatalf("add sample: %v", err)
	}
}

func TestAggregatorLatestEmitsEachSampleOnce(t *testing.T) {
	st := store.NewMemoryStore()
	collection := store.TelemetryCollection("p1", "s1")

	agg := New(st, "p1", "s1", 10)
	if err := agg.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer agg.Stop()

	for _, pulse := range []float64{80, 78, 76} {
		addSample(t, st, collection, pulse)
	}

	for _, want := range []float64{80, 78, 76} {
		select {
		case sample := <-agg.Latest():
			if sample.Pulse == nil || *sample.Pulse != want {
				t.Fatalf("expected pulse %v, got %+v", want, sample)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for sample %v", want)
		}
	}
}

func TestAggregatorWindowIsChronological(t *testing.T) {
	st := store.NewMemoryStore()
	collection := store.TelemetryCollection("p1", "s1")

	agg := New(st, "p1", "s1", 10)
	if err := agg.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer agg.Stop()

	for _, pulse := range []float64{80, 78, 76} {
		addSample(t, st, collection, pulse)
	}

	// Snapshots arrive per write; wait for the one holding all three.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case window := <-agg.Window():
			if len(window) < 3 {
				continue
			}
			for i, want := range []float64{80, 78, 76} {
				if window[i].Pulse == nil || *window[i].Pulse != want {
					t.Fatalf("window not chronological at %d: %v", i, window)
				}
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for full window")
		}
	}
}

func TestSampleFromDoc(t *testing.T) {
	ts := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	doc := store.Doc{
		"pulse":       float64(72.5),
		"spo2":        97,
		"temperature": int64(40),
		"timestamp":   store.Timestamp(ts),
		"device_id":   "pi-01",
	}
	s, err := SampleFromDoc(doc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *s.Pulse != 72.5 || *s.SpO2 != 97 || *s.Temperature != 40 {
		t.Fatalf("unexpected fields: %+v", s)
	}
	if s.FlowState != nil {
		t.Fatalf("absent field should decode to nil, got %v", *s.FlowState)
	}
	if !s.Timestamp.Equal(ts) {
		t.Fatalf("expected timestamp %v, got %v", ts, s.Timestamp)
	}
	if s.DeviceID != "pi-01" {
		t.Fatalf("expected device id, got %q", s.DeviceID)
	}
	if _, err := SampleFromDoc(nil); err == nil {
		t.Fatal("nil doc should error")
	}
}

func TestAggregateHelpersIgnoreMissingValues(t *testing.T) {
	samples := []*models.TelemetrySample{
		{Pulse: models.Float(80), SpO2: models.Float(98), Temperature: models.Float(39)},
		{Pulse: models.Float(70), Temperature: models.Float(41)},
		{SpO2: models.Float(96)},
		{Pulse: models.Float(0)}, // sensor dropout, not a reading
		{},
	}
	if got := AvgPulse(samples); got != 75 {
		t.Fatalf("expected avg pulse 75, got %v", got)
	}
	if got := AvgSpO2(samples); got != 97 {
		t.Fatalf("expected avg spo2 97, got %v", got)
	}
	if got := MaxTemperature(samples); got != 41 {
		t.Fatalf("expected max temperature 41, got %v", got)
	}
	if got := AvgPulse(nil); got != 0 {
		t.Fatalf("expected 0 for empty input, got %v", got)
	}
}
