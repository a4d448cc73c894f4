package state

import (
	"sync"
	"time"

	"conductor/internal/classifier"
)

// MemoryStore is an in-memory Repository for tests and embedding hosts that
// do their own persistence.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*SessionState

	maxHistory int
	flags      Flags

	// SaveErr, when set, is returned from every mutation to exercise
	// fail-closed save handling.
	SaveErr error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[string]*SessionState),
		maxHistory: DefaultMaxPromptHistory,
		flags:      DefaultFlags(),
	}
}

// SetFlags sets the flags used for newly created sessions.
func (s *MemoryStore) SetFlags(f Flags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags = f
}

func (s *MemoryStore) get(sessionID string) *SessionState {
	st, ok := s.sessions[sessionID]
	if !ok {
		st = NewSessionState(sessionID, s.flags)
		s.sessions[sessionID] = st
	}
	return st
}

// Load implements Repository.
func (s *MemoryStore) Load(sessionID string) *SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(sessionID)
}

// Save implements Repository.
func (s *MemoryStore) Save(st *SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	st.UpdatedAt = time.Now()
	s.sessions[st.SessionID] = st
	return nil
}

func (s *MemoryStore) mutate(sessionID string, fn func(*SessionState) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	st := s.get(sessionID)
	if fn(st) {
		st.UpdatedAt = time.Now()
	}
	return nil
}

// TrackDispatchedAgent implements Repository.
func (s *MemoryStore) TrackDispatchedAgent(sessionID, candidateID, taskID string) error {
	return s.mutate(sessionID, func(st *SessionState) bool {
		st.TrackAgent(candidateID, taskID)
		return true
	})
}

// UpdateAgentStatus implements Repository.
func (s *MemoryStore) UpdateAgentStatus(sessionID, candidateID string, status AgentStatus) error {
	return s.mutate(sessionID, func(st *SessionState) bool {
		return st.SetAgentStatus(candidateID, status)
	})
}

// RemoveAgent implements Repository.
func (s *MemoryStore) RemoveAgent(sessionID, candidateID string) error {
	return s.mutate(sessionID, func(st *SessionState) bool {
		if _, ok := st.ActiveAgents[candidateID]; !ok {
			return false
		}
		delete(st.ActiveAgents, candidateID)
		return true
	})
}

// IsAgentDispatched implements Repository.
func (s *MemoryStore) IsAgentDispatched(sessionID, candidateID string) bool {
	_, ok := s.GetActiveAgent(sessionID, candidateID)
	return ok
}

// GetActiveAgent implements Repository.
func (s *MemoryStore) GetActiveAgent(sessionID, candidateID string) (AgentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.get(sessionID).ActiveAgents[candidateID]
	if !ok {
		return AgentRecord{}, false
	}
	return *rec, true
}

// TrackInjectedSkill implements Repository.
func (s *MemoryStore) TrackInjectedSkill(sessionID, skillID string) error {
	return s.mutate(sessionID, func(st *SessionState) bool {
		return st.InjectSkill(skillID)
	})
}

// IsSkillInjected implements Repository.
func (s *MemoryStore) IsSkillInjected(sessionID, skillID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(sessionID).SkillInjected(skillID)
}

// AddToPromptHistory implements Repository.
func (s *MemoryStore) AddToPromptHistory(sessionID, prompt string) error {
	return s.mutate(sessionID, func(st *SessionState) bool {
		st.AddPrompt(prompt, s.maxHistory)
		return true
	})
}

// CacheClassification implements Repository.
func (s *MemoryStore) CacheClassification(sessionID string, result *classifier.Result) error {
	return s.mutate(sessionID, func(st *SessionState) bool {
		st.LastClassification = result
		return true
	})
}

// LastClassification implements Repository.
func (s *MemoryStore) LastClassification(sessionID string) *classifier.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(sessionID).LastClassification
}

// Clear implements Repository.
func (s *MemoryStore) Clear(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// CleanupOldStates implements Repository. Nothing to sweep in memory.
func (s *MemoryStore) CleanupOldStates() error {
	return nil
}
