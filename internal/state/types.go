// Package state implements the per-session orchestration state store:
// dispatched agents, injected skills, prompt history, and the cached last
// classification, persisted as one JSON record per session.
package state

import (
	"time"

	"conductor/internal/classifier"
)

// AgentStatus is the lifecycle state of a dispatched agent.
type AgentStatus string

const (
	StatusPending    AgentStatus = "pending"
	StatusInProgress AgentStatus = "in_progress"
	StatusCompleted  AgentStatus = "completed"
	StatusFailed     AgentStatus = "failed"
	StatusRetrying   AgentStatus = "retrying"
)

// Terminal reports whether the status ends the agent's lifecycle.
func (s AgentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s AgentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusRetrying:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal status transition.
// Transitions are monotonic (pending -> in_progress -> terminal) except the
// retry loop: failed or in_progress may enter retrying, and retrying returns
// to in_progress or a terminal state.
func CanTransition(from, to AgentStatus) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusInProgress || to == StatusCompleted || to == StatusFailed
	case StatusInProgress:
		return to == StatusCompleted || to == StatusFailed || to == StatusRetrying
	case StatusRetrying:
		return to == StatusInProgress || to == StatusCompleted || to == StatusFailed
	case StatusFailed:
		return to == StatusRetrying
	case StatusCompleted:
		return false
	}
	return false
}

// AgentRecord tracks one dispatched agent within a session.
type AgentRecord struct {
	CandidateID string      `json:"candidate_id"`
	Status      AgentStatus `json:"status"`
	TaskID      string      `json:"task_id,omitempty"`
	RetryCount  int         `json:"retry_count"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Flags are the per-session feature toggles, copied from the workspace config
// when the session is created.
type Flags struct {
	AutoDispatchEnabled bool `json:"auto_dispatch_enabled"`
	SkillInjectEnabled  bool `json:"skill_inject_enabled"`
	PipelinesEnabled    bool `json:"pipelines_enabled"`
}

// DefaultFlags returns the built-in defaults (everything enabled).
func DefaultFlags() Flags {
	return Flags{
		AutoDispatchEnabled: true,
		SkillInjectEnabled:  true,
		PipelinesEnabled:    true,
	}
}

// SessionState is the durable per-session orchestration record.
type SessionState struct {
	SessionID          string                  `json:"session_id"`
	ActiveAgents       map[string]*AgentRecord `json:"active_agents"`
	InjectedSkills     []string                `json:"injected_skills"`
	PromptHistory      []string                `json:"prompt_history"`
	LastClassification *classifier.Result      `json:"last_classification,omitempty"`
	Flags              Flags                   `json:"flags"`
	UpdatedAt          time.Time               `json:"updated_at"`
}

// NewSessionState creates a default state for a session id.
func NewSessionState(sessionID string, flags Flags) *SessionState {
	return &SessionState{
		SessionID:      sessionID,
		ActiveAgents:   make(map[string]*AgentRecord),
		InjectedSkills: []string{},
		PromptHistory:  []string{},
		Flags:          flags,
		UpdatedAt:      time.Now(),
	}
}

// TrackAgent records a dispatched agent. Idempotent: re-dispatching an
// already-active candidate updates the task id but keeps the existing record.
func (s *SessionState) TrackAgent(candidateID, taskID string) *AgentRecord {
	if rec, ok := s.ActiveAgents[candidateID]; ok {
		if taskID != "" {
			rec.TaskID = taskID
		}
		rec.UpdatedAt = time.Now()
		return rec
	}
	now := time.Now()
	rec := &AgentRecord{
		CandidateID: candidateID,
		Status:      StatusPending,
		TaskID:      taskID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.ActiveAgents[candidateID] = rec
	return rec
}

// SetAgentStatus applies a status transition to a tracked agent. Returns
// false without mutating anything if the candidate is untracked or the
// transition is illegal.
func (s *SessionState) SetAgentStatus(candidateID string, status AgentStatus) bool {
	rec, ok := s.ActiveAgents[candidateID]
	if !ok {
		return false
	}
	if !CanTransition(rec.Status, status) {
		return false
	}
	rec.Status = status
	rec.UpdatedAt = time.Now()
	return true
}

// InjectSkill records a skill injection with set semantics. Returns false if
// the skill was already injected this session.
func (s *SessionState) InjectSkill(skillID string) bool {
	if s.SkillInjected(skillID) {
		return false
	}
	s.InjectedSkills = append(s.InjectedSkills, skillID)
	return true
}

// SkillInjected reports whether a skill has been injected this session.
func (s *SessionState) SkillInjected(skillID string) bool {
	for _, id := range s.InjectedSkills {
		if id == skillID {
			return true
		}
	}
	return false
}

// AddPrompt appends to the prompt history and trims to max entries, dropping
// the oldest. The most recent prompts are always the ones retained.
func (s *SessionState) AddPrompt(prompt string, max int) {
	s.PromptHistory = append(s.PromptHistory, prompt)
	if max > 0 && len(s.PromptHistory) > max {
		s.PromptHistory = s.PromptHistory[len(s.PromptHistory)-max:]
	}
}
