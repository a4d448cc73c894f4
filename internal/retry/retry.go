package retry

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"conductor/internal/logging"
	"conductor/internal/state"
)

const (
	// MaxRetries is the retry budget per dispatched candidate.
	MaxRetries = 3
	// DefaultBackoffBase seeds the exponential backoff.
	DefaultBackoffBase = time.Second
	// BackoffCap bounds the pre-jitter delay.
	BackoffCap = 30 * time.Second
	// JitterFraction is the maximum jitter as a fraction of the delay.
	JitterFraction = 0.1
)

// Decision is the outcome of a retry evaluation, handed back to the host.
// The delay is advisory: the host owns scheduling.
type Decision struct {
	Retry                  bool          `json:"retry"`
	Delay                  time.Duration `json:"-"`
	DelayMs                int64         `json:"delay_ms"`
	Reason                 string        `json:"reason"`
	ErrorClass             string        `json:"error_class,omitempty"`
	AlternativeCandidateID string        `json:"alternative_candidate_id,omitempty"`
}

// Manager evaluates retry decisions and tracks execution attempts.
type Manager struct {
	mu           sync.Mutex
	alternatives map[string][]string
	history      *History
	rng          *rand.Rand
	base         time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithBackoffBase overrides the backoff base delay.
func WithBackoffBase(d time.Duration) Option {
	return func(m *Manager) { m.base = d }
}

// WithRandSource makes jitter deterministic for tests.
func WithRandSource(src rand.Source) Option {
	return func(m *Manager) { m.rng = rand.New(src) }
}

// NewManager creates a manager. alternatives maps a candidate id to its
// ordered fallback candidates (from the catalog); history may be shared with
// the dispatch layer.
func NewManager(alternatives map[string][]string, history *History, opts ...Option) *Manager {
	if history == nil {
		history = NewHistory()
	}
	m := &Manager{
		alternatives: alternatives,
		history:      history,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		base:         DefaultBackoffBase,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// History returns the manager's attempt log.
func (m *Manager) History() *History {
	return m.history
}

// Backoff computes the delay before retry attempt n (zero-indexed):
// min(cap, base*2^n) plus up to 10% pseudo-random jitter.
func (m *Manager) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// 2^attempt, clamped before the shift can overflow.
	shift := attempt
	if shift > 20 {
		shift = 20
	}
	delay := m.base * time.Duration(1<<uint(shift))
	if delay > BackoffCap || delay <= 0 {
		delay = BackoffCap
	}

	m.mu.Lock()
	jitter := time.Duration(m.rng.Int63n(int64(float64(delay)*JitterFraction) + 1))
	m.mu.Unlock()

	return delay + jitter
}

// ShouldRetry evaluates whether a failed attempt should be retried.
// attemptNumber counts completed attempts for this candidate (the first
// failure arrives with attemptNumber 0).
func (m *Manager) ShouldRetry(sessionID, candidateID string, attemptNumber int, err error) Decision {
	class := ClassifyError(err)

	if attemptNumber >= MaxRetries {
		dec := Decision{
			Retry:      false,
			Reason:     fmt.Sprintf("retry budget exhausted: attempt %d of %d", attemptNumber, MaxRetries),
			ErrorClass: class.String(),
		}
		dec.AlternativeCandidateID = m.nextAlternative(sessionID, candidateID)
		logging.Retry("Session %s: %s exhausted retries (attempt %d), alternative=%q",
			sessionID, candidateID, attemptNumber, dec.AlternativeCandidateID)
		return dec
	}

	switch class {
	case ClassTerminal:
		logging.Retry("Session %s: %s terminal error, not retrying: %v", sessionID, candidateID, err)
		return Decision{
			Retry:      false,
			Reason:     fmt.Sprintf("non-retryable error on attempt %d: %v", attemptNumber, err),
			ErrorClass: class.String(),
		}
	case ClassScope:
		dec := Decision{
			Retry:      false,
			Reason:     fmt.Sprintf("candidate cannot handle this request (attempt %d): %v", attemptNumber, err),
			ErrorClass: class.String(),
		}
		dec.AlternativeCandidateID = m.nextAlternative(sessionID, candidateID)
		logging.Retry("Session %s: %s scope error, alternative=%q", sessionID, candidateID, dec.AlternativeCandidateID)
		return dec
	}

	delay := m.Backoff(attemptNumber)
	logging.Retry("Session %s: retrying %s, attempt %d, delay %s", sessionID, candidateID, attemptNumber, delay)
	return Decision{
		Retry:      true,
		Delay:      delay,
		DelayMs:    delay.Milliseconds(),
		Reason:     fmt.Sprintf("retryable error, scheduling attempt %d of %d", attemptNumber+1, MaxRetries),
		ErrorClass: class.String(),
	}
}

// nextAlternative returns the first configured alternative for candidateID
// that has not already been attempted in this session, or "" when exhausted.
func (m *Manager) nextAlternative(sessionID, candidateID string) string {
	attempted := m.history.AttemptedCandidates(sessionID)
	for _, alt := range m.alternatives[candidateID] {
		if alt == candidateID {
			continue
		}
		if attempted[alt] {
			continue
		}
		return alt
	}
	return ""
}

// PrepareForRetry transitions an agent record to retrying and increments its
// retry count. All other fields are untouched.
func PrepareForRetry(rec *state.AgentRecord) {
	rec.Status = state.StatusRetrying
	rec.RetryCount++
	rec.UpdatedAt = time.Now()
}
