package calibration

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(filepath.Join(t.TempDir(), "calibration.json"))
}

func TestAdjustmentNeutralBelowMinSamples(t *testing.T) {
	e := newTestEngine(t)

	e.RecordOutcome("agent-a", true)
	if adj := e.Adjustment("agent-a"); adj != 0 {
		t.Errorf("adjustment after 1 sample = %.1f, want 0", adj)
	}

	e.RecordOutcome("agent-a", true)
	if adj := e.Adjustment("agent-a"); adj != 0 {
		t.Errorf("adjustment after 2 samples = %.1f, want 0", adj)
	}

	// Third success crosses the sample floor: net +3 -> +15.
	e.RecordOutcome("agent-a", true)
	adj := e.Adjustment("agent-a")
	if adj <= 0 || adj > AdjustmentBound {
		t.Errorf("adjustment after 3 successes = %.1f, want positive and <= %.1f", adj, AdjustmentBound)
	}
}

func TestAdjustmentClamped(t *testing.T) {
	e := newTestEngine(t)

	for i := 0; i < 20; i++ {
		e.RecordOutcome("lucky", true)
	}
	if adj := e.Adjustment("lucky"); adj != AdjustmentBound {
		t.Errorf("adjustment = %.1f, want clamped to %.1f", adj, AdjustmentBound)
	}

	for i := 0; i < 20; i++ {
		e.RecordOutcome("unlucky", false)
	}
	if adj := e.Adjustment("unlucky"); adj != -AdjustmentBound {
		t.Errorf("adjustment = %.1f, want clamped to %.1f", adj, -AdjustmentBound)
	}
}

func TestAdjustmentMixedOutcomes(t *testing.T) {
	e := newTestEngine(t)

	// 2 successes, 1 failure: 3 samples, net +1 -> +5.
	e.RecordOutcome("mixed", true)
	e.RecordOutcome("mixed", false)
	e.RecordOutcome("mixed", true)

	if adj := e.Adjustment("mixed"); adj != AdjustmentStep {
		t.Errorf("adjustment = %.1f, want %.1f", adj, AdjustmentStep)
	}
}

func TestAdjustmentUnknownCandidate(t *testing.T) {
	e := newTestEngine(t)
	if adj := e.Adjustment("never-seen"); adj != 0 {
		t.Errorf("adjustment for unknown candidate = %.1f, want 0", adj)
	}
}

func TestAdjustmentsSnapshotOmitsNeutral(t *testing.T) {
	e := newTestEngine(t)
	e.RecordOutcome("quiet", true) // below sample floor, neutral
	for i := 0; i < 4; i++ {
		e.RecordOutcome("loud", true)
	}

	snap := e.Adjustments()
	if _, ok := snap["quiet"]; ok {
		t.Error("neutral candidate present in adjustments snapshot")
	}
	if _, ok := snap["loud"]; !ok {
		t.Error("adjusted candidate missing from snapshot")
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")

	e := NewEngine(path)
	for i := 0; i < 5; i++ {
		e.RecordOutcome("survivor", true)
	}
	want := e.Adjustment("survivor")

	reloaded := NewEngine(path)
	if got := reloaded.Adjustment("survivor"); got != want {
		t.Errorf("adjustment after reload = %.1f, want %.1f", got, want)
	}
	rec, ok := reloaded.Get("survivor")
	if !ok || rec.SuccessCount != 5 {
		t.Errorf("record after reload = %+v, ok=%v", rec, ok)
	}
}

func TestCorruptedFileDiscarded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	e := NewEngine(path)
	if adj := e.Adjustment("anything"); adj != 0 {
		t.Errorf("adjustment from corrupted file = %.1f, want 0", adj)
	}
	// The engine still works after discarding.
	e.RecordOutcome("anything", false)
	if _, ok := e.Get("anything"); !ok {
		t.Error("engine unusable after discarding corrupted file")
	}
}

func TestComputeAdjustmentProperty(t *testing.T) {
	for successes := 0; successes <= 10; successes++ {
		for failures := 0; failures <= 10; failures++ {
			adj := computeAdjustment(successes, failures)
			if successes+failures < MinSamples && adj != 0 {
				t.Errorf("computeAdjustment(%d, %d) = %.1f, want 0 below sample floor", successes, failures, adj)
			}
			if adj > AdjustmentBound || adj < -AdjustmentBound {
				t.Errorf("computeAdjustment(%d, %d) = %.1f outside clamp", successes, failures, adj)
			}
		}
	}
}
