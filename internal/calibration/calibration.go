// Package calibration tracks per-candidate success/failure outcomes and
// derives a bounded confidence adjustment consumed by the classifier. The
// adjustment is deliberately conservative: nothing moves until a minimum
// sample count is reached, and no candidate can shift its own confidence by
// more than the clamp bound however lopsided its record.
package calibration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"conductor/internal/logging"
)

const (
	// MinSamples is the minimum recorded outcomes before any adjustment.
	MinSamples = 3
	// AdjustmentStep is the per-net-outcome adjustment magnitude.
	AdjustmentStep = 5.0
	// AdjustmentBound clamps the absolute adjustment.
	AdjustmentBound = 15.0
)

// Record holds the observed history for one candidate.
type Record struct {
	CandidateID    string    `json:"candidate_id"`
	SuccessCount   int       `json:"success_count"`
	FailureCount   int       `json:"failure_count"`
	LastAdjustment float64   `json:"last_adjustment"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// calibrationFile is the on-disk layout.
type calibrationFile struct {
	Records map[string]*Record `json:"records"`
}

// Engine maintains calibration records, persisted as JSON in the workspace.
type Engine struct {
	mu      sync.Mutex
	path    string
	records map[string]*Record
}

// NewEngine creates an engine persisting to path. A missing or corrupted file
// yields an empty engine; calibration never propagates load errors.
func NewEngine(path string) *Engine {
	e := &Engine{
		path:    path,
		records: make(map[string]*Record),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Calibration("Could not read calibration file %s: %v (starting empty)", path, err)
		}
		return e
	}

	var cf calibrationFile
	if err := json.Unmarshal(data, &cf); err != nil {
		logging.Get(logging.CategoryCalibration).Warn("Corrupted calibration file %s: %v (discarding)", path, err)
		return e
	}
	if cf.Records != nil {
		e.records = cf.Records
	}
	return e
}

// RecordOutcome records a success or failure for a candidate and recomputes
// its adjustment. Persistence is best-effort: a failed save is logged, never
// returned, because calibration must not break the dispatch path.
func (e *Engine) RecordOutcome(candidateID string, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[candidateID]
	if !ok {
		rec = &Record{CandidateID: candidateID}
		e.records[candidateID] = rec
	}

	if success {
		rec.SuccessCount++
	} else {
		rec.FailureCount++
	}
	rec.LastAdjustment = computeAdjustment(rec.SuccessCount, rec.FailureCount)
	rec.UpdatedAt = time.Now()

	logging.Calibration("Outcome for %s: success=%v (now %d/%d, adjustment %.1f)",
		candidateID, success, rec.SuccessCount, rec.FailureCount, rec.LastAdjustment)

	if err := e.save(); err != nil {
		logging.Get(logging.CategoryCalibration).Warn("Failed to persist calibration: %v", err)
	}
}

// Adjustment returns the current adjustment for a candidate (0 if unknown or
// below the sample floor).
func (e *Engine) Adjustment(candidateID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[candidateID]
	if !ok {
		return 0
	}
	return rec.LastAdjustment
}

// Adjustments returns a snapshot of all non-zero adjustments, keyed by
// candidate id, for the classifier.
func (e *Engine) Adjustments() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]float64, len(e.records))
	for id, rec := range e.records {
		if rec.LastAdjustment != 0 {
			out[id] = rec.LastAdjustment
		}
	}
	return out
}

// Get returns a copy of the record for a candidate.
func (e *Engine) Get(candidateID string) (Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.records[candidateID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// computeAdjustment derives the bounded adjustment from raw counts.
// Below MinSamples the adjustment is neutral so early noise cannot skew
// classification. Beyond it, each net success/failure moves the adjustment by
// AdjustmentStep, clamped to +/-AdjustmentBound.
func computeAdjustment(successes, failures int) float64 {
	if successes+failures < MinSamples {
		return 0
	}
	adj := AdjustmentStep * float64(successes-failures)
	if adj > AdjustmentBound {
		return AdjustmentBound
	}
	if adj < -AdjustmentBound {
		return -AdjustmentBound
	}
	return adj
}

// save writes the records file. Caller holds the lock.
func (e *Engine) save() error {
	if e.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(e.path), 0755); err != nil {
		return fmt.Errorf("failed to create calibration directory: %w", err)
	}
	data, err := json.MarshalIndent(calibrationFile{Records: e.records}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal calibration: %w", err)
	}
	return os.WriteFile(e.path, data, 0644)
}
