package retry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"conductor/internal/logging"
)

// Outcome of a completed execution attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Attempt records one execution of a dispatched candidate. Appended when the
// candidate starts; completed exactly once.
type Attempt struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id"`
	CandidateID   string     `json:"candidate_id"`
	AttemptNumber int        `json:"attempt_number"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Outcome       Outcome    `json:"outcome,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	DurationMs    int64      `json:"duration_ms,omitempty"`
}

// CandidateStats aggregates a candidate's attempt history.
type CandidateStats struct {
	CandidateID   string      `json:"candidate_id"`
	TotalAttempts int         `json:"total_attempts"`
	Successes     int         `json:"successes"`
	Failures      int         `json:"failures"`
	SuccessRate   float64     `json:"success_rate"`
	AvgDurationMs float64     `json:"avg_duration_ms"`
	TopErrors     []ErrorFreq `json:"top_errors,omitempty"`
}

// ErrorFreq is one distinct error message and its occurrence count.
type ErrorFreq struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// History is the execution-attempt log. The in-memory slice is authoritative
// for the running process; when opened with a database path, attempts are
// mirrored to SQLite so reporting survives restarts. Database write failures
// are logged and never surfaced - the log must not break dispatch.
type History struct {
	mu       sync.Mutex
	attempts []*Attempt
	byID     map[string]*Attempt
	db       *sql.DB
}

// NewHistory creates an in-memory attempt log.
func NewHistory() *History {
	return &History{byID: make(map[string]*Attempt)}
}

// OpenHistory creates an attempt log mirrored to a SQLite database at dbPath.
func OpenHistory(dbPath string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS attempts (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		candidate_id TEXT NOT NULL,
		attempt_number INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		completed_at INTEGER,
		outcome TEXT,
		error_message TEXT,
		duration_ms INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_session ON attempts(session_id);
	CREATE INDEX IF NOT EXISTS idx_attempts_candidate ON attempts(candidate_id);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create attempts schema: %w", err)
	}

	h := NewHistory()
	h.db = db
	return h, nil
}

// Close releases the database handle, if any.
func (h *History) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	return err
}

// CreateAttempt appends a new running attempt and returns it.
func (h *History) CreateAttempt(sessionID, candidateID string, attemptNumber int) *Attempt {
	h.mu.Lock()
	defer h.mu.Unlock()

	a := &Attempt{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		CandidateID:   candidateID,
		AttemptNumber: attemptNumber,
		StartedAt:     time.Now(),
	}
	h.attempts = append(h.attempts, a)
	h.byID[a.ID] = a

	if h.db != nil {
		_, err := h.db.Exec(
			`INSERT INTO attempts (id, session_id, candidate_id, attempt_number, started_at) VALUES (?, ?, ?, ?, ?)`,
			a.ID, a.SessionID, a.CandidateID, a.AttemptNumber, a.StartedAt.UnixMilli(),
		)
		if err != nil {
			logging.Get(logging.CategoryRetry).Warn("Failed to persist attempt %s: %v", a.ID, err)
		}
	}
	return a
}

// CompleteAttempt sets completion time, duration, and outcome for a running
// attempt. Completing an already-completed attempt is a no-op.
func (h *History) CompleteAttempt(attemptID string, outcome Outcome, errorMessage string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.byID[attemptID]
	if !ok || a.CompletedAt != nil {
		return
	}

	now := time.Now()
	a.CompletedAt = &now
	a.Outcome = outcome
	a.ErrorMessage = errorMessage
	a.DurationMs = now.Sub(a.StartedAt).Milliseconds()

	if h.db != nil {
		_, err := h.db.Exec(
			`UPDATE attempts SET completed_at = ?, outcome = ?, error_message = ?, duration_ms = ? WHERE id = ?`,
			now.UnixMilli(), string(outcome), errorMessage, a.DurationMs, a.ID,
		)
		if err != nil {
			logging.Get(logging.CategoryRetry).Warn("Failed to persist attempt completion %s: %v", a.ID, err)
		}
	}
}

// LatestAttempt returns the most recent attempt for a candidate in a session.
func (h *History) LatestAttempt(sessionID, candidateID string) (*Attempt, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := len(h.attempts) - 1; i >= 0; i-- {
		a := h.attempts[i]
		if a.SessionID == sessionID && a.CandidateID == candidateID {
			return a, true
		}
	}
	return nil, false
}

// AttemptedCandidates returns the set of candidate ids attempted this session.
func (h *History) AttemptedCandidates(sessionID string) map[string]bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]bool)
	for _, a := range h.attempts {
		if a.SessionID == sessionID {
			out[a.CandidateID] = true
		}
	}
	return out
}

// AnalyzeAttemptHistory aggregates per-candidate stats for a session:
// success rate over all attempts, average duration of completed attempts,
// and the top 3 most frequent distinct error messages among failures.
func (h *History) AnalyzeAttemptHistory(sessionID string) map[string]CandidateStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	type agg struct {
		total     int
		successes int
		failures  int
		completed int
		durSum    int64
		errCounts map[string]int
	}
	byCandidate := make(map[string]*agg)

	for _, a := range h.attempts {
		if a.SessionID != sessionID {
			continue
		}
		ag, ok := byCandidate[a.CandidateID]
		if !ok {
			ag = &agg{errCounts: make(map[string]int)}
			byCandidate[a.CandidateID] = ag
		}
		ag.total++
		if a.CompletedAt == nil {
			continue
		}
		ag.completed++
		ag.durSum += a.DurationMs
		switch a.Outcome {
		case OutcomeSuccess:
			ag.successes++
		case OutcomeFailure:
			ag.failures++
			if a.ErrorMessage != "" {
				ag.errCounts[a.ErrorMessage]++
			}
		}
	}

	out := make(map[string]CandidateStats, len(byCandidate))
	for id, ag := range byCandidate {
		stats := CandidateStats{
			CandidateID:   id,
			TotalAttempts: ag.total,
			Successes:     ag.successes,
			Failures:      ag.failures,
		}
		if ag.total > 0 {
			stats.SuccessRate = float64(ag.successes) / float64(ag.total)
		}
		if ag.completed > 0 {
			stats.AvgDurationMs = float64(ag.durSum) / float64(ag.completed)
		}
		stats.TopErrors = topErrors(ag.errCounts, 3)
		out[id] = stats
	}
	return out
}

// topErrors returns the n most frequent distinct error messages, most
// frequent first, ties broken by message for determinism.
func topErrors(counts map[string]int, n int) []ErrorFreq {
	freqs := make([]ErrorFreq, 0, len(counts))
	for msg, count := range counts {
		freqs = append(freqs, ErrorFreq{Message: msg, Count: count})
	}
	sort.Slice(freqs, func(i, j int) bool {
		if freqs[i].Count != freqs[j].Count {
			return freqs[i].Count > freqs[j].Count
		}
		return freqs[i].Message < freqs[j].Message
	})
	if len(freqs) > n {
		freqs = freqs[:n]
	}
	if len(freqs) == 0 {
		return nil
	}
	return freqs
}

// AnalyzeStored aggregates per-candidate stats across all sessions from the
// SQLite mirror. Used by the report command; returns nil when the history is
// memory-only.
func (h *History) AnalyzeStored() (map[string]CandidateStats, error) {
	h.mu.Lock()
	db := h.db
	h.mu.Unlock()
	if db == nil {
		return nil, nil
	}

	rows, err := db.Query(`
		SELECT candidate_id, outcome, error_message, duration_ms, completed_at IS NOT NULL
		FROM attempts`)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	type agg struct {
		total     int
		successes int
		failures  int
		completed int
		durSum    int64
		errCounts map[string]int
	}
	byCandidate := make(map[string]*agg)

	for rows.Next() {
		var (
			candidateID string
			outcome     sql.NullString
			errMsg      sql.NullString
			durationMs  sql.NullInt64
			done        bool
		)
		if err := rows.Scan(&candidateID, &outcome, &errMsg, &durationMs, &done); err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		ag, ok := byCandidate[candidateID]
		if !ok {
			ag = &agg{errCounts: make(map[string]int)}
			byCandidate[candidateID] = ag
		}
		ag.total++
		if !done {
			continue
		}
		ag.completed++
		ag.durSum += durationMs.Int64
		switch Outcome(outcome.String) {
		case OutcomeSuccess:
			ag.successes++
		case OutcomeFailure:
			ag.failures++
			if errMsg.String != "" {
				ag.errCounts[errMsg.String]++
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read attempts: %w", err)
	}

	out := make(map[string]CandidateStats, len(byCandidate))
	for id, ag := range byCandidate {
		stats := CandidateStats{
			CandidateID:   id,
			TotalAttempts: ag.total,
			Successes:     ag.successes,
			Failures:      ag.failures,
		}
		if ag.total > 0 {
			stats.SuccessRate = float64(ag.successes) / float64(ag.total)
		}
		if ag.completed > 0 {
			stats.AvgDurationMs = float64(ag.durSum) / float64(ag.completed)
		}
		stats.TopErrors = topErrors(ag.errCounts, 3)
		out[id] = stats
	}
	return out, nil
}
