// Package orchestrator composes the classifier, calibration engine, state
// store, and retry manager into the per-turn dispatch decision: given one
// prompt, decide whether to auto-dispatch an agent, inject a skill, surface a
// recommendation, or do nothing; given one status update, decide the next
// action for the dispatched candidate.
package orchestrator

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"conductor/internal/calibration"
	"conductor/internal/catalog"
	"conductor/internal/classifier"
	"conductor/internal/logging"
	"conductor/internal/retry"
	"conductor/internal/state"
)

// DecisionType enumerates the dispatch decisions surfaced to the host.
type DecisionType string

const (
	DecisionAutoDispatch DecisionType = "auto_dispatch"
	DecisionInjectSkill  DecisionType = "inject_skill"
	DecisionRecommend    DecisionType = "recommend"
	DecisionPipeline     DecisionType = "pipeline"
	DecisionNoOp         DecisionType = "no_op"
)

// Decision is the outcome of one prompt evaluation.
type Decision struct {
	Type        DecisionType       `json:"type"`
	CandidateID string             `json:"candidate_id,omitempty"`
	Confidence  int                `json:"confidence,omitempty"`
	TaskID      string             `json:"task_id,omitempty"`
	Pipeline    []string           `json:"pipeline,omitempty"`
	Reason      string             `json:"reason"`
	Result      *classifier.Result `json:"result,omitempty"`
}

// Orchestrator wires the components together. It holds no per-session state
// of its own: everything durable lives in the Repository. The catalog sits
// behind an atomic pointer because hot reload swaps it from the watcher
// goroutine while HandlePrompt may be mid-turn; each turn loads the pointer
// once and sees one consistent snapshot.
type Orchestrator struct {
	catalog     atomic.Pointer[catalog.Catalog]
	classifier  *classifier.Classifier
	calibration *calibration.Engine
	store       state.Repository
	retry       *retry.Manager
}

// New creates an orchestrator over the given collaborators.
func New(cat *catalog.Catalog, store state.Repository, calib *calibration.Engine, retryMgr *retry.Manager) *Orchestrator {
	o := &Orchestrator{
		classifier:  classifier.New(cat),
		calibration: calib,
		store:       store,
		retry:       retryMgr,
	}
	o.catalog.Store(cat)
	return o
}

// SetCatalog swaps the catalog snapshot (catalog hot reload). Safe to call
// concurrently with HandlePrompt.
func (o *Orchestrator) SetCatalog(cat *catalog.Catalog) {
	o.catalog.Store(cat)
	o.classifier.SetCatalog(cat)
}

// HandlePrompt runs the dispatch decision state machine for one prompt.
// tokenBudget bounds skill injection; zero means unconstrained. A non-nil
// error means a state mutation did not persist; the decision itself is still
// valid for this turn.
func (o *Orchestrator) HandlePrompt(sessionID, prompt string, tokenBudget int) (*Decision, error) {
	// Filtered prompts must not touch state or calibration at all.
	if !o.classifier.ShouldClassify(prompt) {
		logging.DispatchDebug("Session %s: prompt filtered, no-op", sessionID)
		return &Decision{Type: DecisionNoOp, Reason: "prompt filtered before classification"}, nil
	}

	st := o.store.Load(sessionID)
	cat := o.catalog.Load()

	// Classify against history as it stood before this prompt.
	result := o.classifier.Classify(prompt, st.PromptHistory, o.calibration.Adjustments())

	var saveErr error
	if err := o.store.AddToPromptHistory(sessionID, prompt); err != nil {
		saveErr = err
	}
	if err := o.store.CacheClassification(sessionID, result); err != nil && saveErr == nil {
		saveErr = err
	}

	if result == nil || len(result.Matches) == 0 {
		return &Decision{Type: DecisionNoOp, Reason: "no candidate above confidence floor", Result: result}, saveErr
	}

	if st.Flags.PipelinesEnabled {
		if steps := detectPipeline(prompt, result, cat); len(steps) >= 2 {
			logging.Dispatch("Session %s: pipeline detected: %v", sessionID, steps)
			return &Decision{
				Type:     DecisionPipeline,
				Pipeline: steps,
				Reason:   fmt.Sprintf("%d sequential agent steps detected", len(steps)),
				Result:   result,
			}, saveErr
		}
	}

	top := result.Matches[0]
	entry, ok := cat.Get(top.CandidateID)
	if !ok {
		// Catalog changed between scoring and lookup; treat as no signal.
		return &Decision{Type: DecisionNoOp, Reason: "top candidate no longer in catalog", Result: result}, saveErr
	}

	if top.Confidence >= classifier.AutoDispatchThreshold && st.Flags.AutoDispatchEnabled && entry.Kind == catalog.KindAgent {
		taskID := uuid.NewString()
		if err := o.store.TrackDispatchedAgent(sessionID, top.CandidateID, taskID); err != nil && saveErr == nil {
			saveErr = err
		}
		logging.Dispatch("Session %s: auto-dispatch %s (confidence %d, task %s)",
			sessionID, top.CandidateID, top.Confidence, taskID)
		return &Decision{
			Type:        DecisionAutoDispatch,
			CandidateID: top.CandidateID,
			Confidence:  top.Confidence,
			TaskID:      taskID,
			Reason:      fmt.Sprintf("confidence %d above auto-dispatch threshold", top.Confidence),
			Result:      result,
		}, saveErr
	}

	if top.Confidence >= classifier.SkillInjectThreshold && entry.Kind == catalog.KindSkill &&
		st.Flags.SkillInjectEnabled && !o.store.IsSkillInjected(sessionID, top.CandidateID) {
		cost := entry.EstimatedTokens()
		if tokenBudget <= 0 || cost <= tokenBudget {
			if err := o.store.TrackInjectedSkill(sessionID, top.CandidateID); err != nil && saveErr == nil {
				saveErr = err
			}
			logging.Dispatch("Session %s: inject skill %s (confidence %d, ~%d tokens)",
				sessionID, top.CandidateID, top.Confidence, cost)
			return &Decision{
				Type:        DecisionInjectSkill,
				CandidateID: top.CandidateID,
				Confidence:  top.Confidence,
				Reason:      fmt.Sprintf("confidence %d above skill-inject threshold", top.Confidence),
				Result:      result,
			}, saveErr
		}
		logging.DispatchDebug("Session %s: skill %s skipped, cost %d exceeds budget %d",
			sessionID, top.CandidateID, cost, tokenBudget)
	}

	if top.Confidence >= classifier.RecommendThreshold {
		return &Decision{
			Type:        DecisionRecommend,
			CandidateID: top.CandidateID,
			Confidence:  top.Confidence,
			Reason:      fmt.Sprintf("confidence %d above recommend threshold", top.Confidence),
			Result:      result,
		}, saveErr
	}

	return &Decision{Type: DecisionNoOp, Reason: "no candidate above action thresholds", Result: result}, saveErr
}

// OnStatusUpdate applies a caller-reported status transition and, for
// failures, evaluates the retry decision. Untracked candidates are a quiet
// no-op with a nil decision.
func (o *Orchestrator) OnStatusUpdate(sessionID, candidateID string, status state.AgentStatus, dispatchErr error) (*retry.Decision, error) {
	rec, tracked := o.store.GetActiveAgent(sessionID, candidateID)
	if !tracked {
		logging.DispatchDebug("Session %s: status update for untracked candidate %s ignored", sessionID, candidateID)
		return nil, nil
	}

	switch status {
	case state.StatusInProgress:
		// Illegal transitions (e.g. a duplicate in_progress report) must not
		// open a phantom attempt in the history.
		if !state.CanTransition(rec.Status, status) {
			logging.DispatchDebug("Session %s: ignoring %s -> %s for %s", sessionID, rec.Status, status, candidateID)
			return nil, nil
		}
		err := o.store.UpdateAgentStatus(sessionID, candidateID, status)
		o.retry.History().CreateAttempt(sessionID, candidateID, rec.RetryCount)
		return nil, err

	case state.StatusCompleted:
		if a, ok := o.retry.History().LatestAttempt(sessionID, candidateID); ok {
			o.retry.History().CompleteAttempt(a.ID, retry.OutcomeSuccess, "")
		}
		err := o.store.UpdateAgentStatus(sessionID, candidateID, status)
		o.calibration.RecordOutcome(candidateID, true)
		return nil, err

	case state.StatusFailed:
		return o.handleFailure(sessionID, candidateID, rec, dispatchErr)

	default:
		return nil, o.store.UpdateAgentStatus(sessionID, candidateID, status)
	}
}

// handleFailure completes the running attempt, evaluates the retry decision,
// and either prepares the agent for retry or marks it terminally failed.
func (o *Orchestrator) handleFailure(sessionID, candidateID string, rec state.AgentRecord, dispatchErr error) (*retry.Decision, error) {
	errMsg := ""
	if dispatchErr != nil {
		errMsg = dispatchErr.Error()
	}
	if a, ok := o.retry.History().LatestAttempt(sessionID, candidateID); ok {
		o.retry.History().CompleteAttempt(a.ID, retry.OutcomeFailure, errMsg)
	}

	saveErr := o.store.UpdateAgentStatus(sessionID, candidateID, state.StatusFailed)

	dec := o.retry.ShouldRetry(sessionID, candidateID, rec.RetryCount, dispatchErr)
	if dec.Retry {
		st := o.store.Load(sessionID)
		if r, ok := st.ActiveAgents[candidateID]; ok {
			retry.PrepareForRetry(r)
			if err := o.store.Save(st); err != nil && saveErr == nil {
				saveErr = err
			}
		}
		return &dec, saveErr
	}

	// Terminal failure: the retry budget is spent or the error class rules
	// retries out. Calibration learns from the outcome either way.
	o.calibration.RecordOutcome(candidateID, false)
	return &dec, saveErr
}

// RecordOutcome lets the host report an outcome directly (e.g. for work it
// dispatched from a recommendation). Completes any running attempt and feeds
// calibration.
func (o *Orchestrator) RecordOutcome(sessionID, candidateID string, success bool) {
	if a, ok := o.retry.History().LatestAttempt(sessionID, candidateID); ok && a.CompletedAt == nil {
		outcome := retry.OutcomeFailure
		if success {
			outcome = retry.OutcomeSuccess
		}
		o.retry.History().CompleteAttempt(a.ID, outcome, "")
	}
	o.calibration.RecordOutcome(candidateID, success)
}

// LastClassification returns the cached classification for a session.
func (o *Orchestrator) LastClassification(sessionID string) *classifier.Result {
	return o.store.LastClassification(sessionID)
}
