package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"conductor/internal/classifier"
	"conductor/internal/logging"
)

// nowFunc is swapped out by tests that need deterministic timestamps.
var nowFunc = time.Now

// DefaultRetainSessions is how many session files the cleanup sweep keeps.
const DefaultRetainSessions = 5

// DefaultMaxPromptHistory bounds the per-session prompt history.
const DefaultMaxPromptHistory = 10

// Repository is the session-state persistence interface. The dispatch layer
// is written against it so tests can substitute the in-memory backend.
type Repository interface {
	// Load returns the state for a session, creating a default on first
	// access. Load never fails: a missing or corrupted record is discarded
	// (and logged) and a fresh default returned.
	Load(sessionID string) *SessionState

	// Save persists the state. Failures are returned to the caller so a
	// lost mutation is never silent; in-memory state is unaffected.
	Save(st *SessionState) error

	TrackDispatchedAgent(sessionID, candidateID, taskID string) error
	UpdateAgentStatus(sessionID, candidateID string, status AgentStatus) error
	RemoveAgent(sessionID, candidateID string) error
	IsAgentDispatched(sessionID, candidateID string) bool
	GetActiveAgent(sessionID, candidateID string) (AgentRecord, bool)

	TrackInjectedSkill(sessionID, skillID string) error
	IsSkillInjected(sessionID, skillID string) bool

	AddToPromptHistory(sessionID, prompt string) error
	CacheClassification(sessionID string, result *classifier.Result) error
	LastClassification(sessionID string) *classifier.Result

	Clear(sessionID string) error
	CleanupOldStates() error
}

// FileStore persists one JSON record per session under a storage root.
type FileStore struct {
	mu         sync.Mutex
	root       string
	maxHistory int
	retain     int
	flags      Flags
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithMaxHistory overrides the prompt history bound.
func WithMaxHistory(n int) FileStoreOption {
	return func(s *FileStore) { s.maxHistory = n }
}

// WithRetainSessions overrides the cleanup retention count.
func WithRetainSessions(n int) FileStoreOption {
	return func(s *FileStore) { s.retain = n }
}

// WithDefaultFlags sets the flags new sessions are created with.
func WithDefaultFlags(f Flags) FileStoreOption {
	return func(s *FileStore) { s.flags = f }
}

// NewFileStore creates a store rooted at dir (typically
// <workspace>/.conductor/sessions).
func NewFileStore(dir string, opts ...FileStoreOption) *FileStore {
	s := &FileStore{
		root:       dir,
		maxHistory: DefaultMaxPromptHistory,
		retain:     DefaultRetainSessions,
		flags:      DefaultFlags(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FileStore) sessionPath(sessionID string) string {
	return filepath.Join(s.root, sanitizeSessionID(sessionID)+".json")
}

// sanitizeSessionID keeps session ids safe as file names.
func sanitizeSessionID(sessionID string) string {
	out := make([]rune, 0, len(sessionID))
	for _, r := range sessionID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// Load implements Repository. Fail-open: any read or parse failure yields a
// fresh default state so classification availability never depends on a
// healthy state file.
func (s *FileStore) Load(sessionID string) *SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(sessionID)
}

func (s *FileStore) loadLocked(sessionID string) *SessionState {
	path := s.sessionPath(sessionID)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Get(logging.CategoryState).Warn("Failed to read session %s: %v (using defaults)", sessionID, err)
		}
		return NewSessionState(sessionID, s.flags)
	}

	var st SessionState
	if err := json.Unmarshal(data, &st); err != nil {
		logging.Get(logging.CategoryState).Warn("Corrupted session record %s: %v (discarding)", sessionID, err)
		return NewSessionState(sessionID, s.flags)
	}

	// Defend against hand-edited or truncated records.
	if st.SessionID == "" {
		st.SessionID = sessionID
	}
	if st.ActiveAgents == nil {
		st.ActiveAgents = make(map[string]*AgentRecord)
	}
	return &st
}

// Save implements Repository with an atomic write (temp file + rename).
func (s *FileStore) Save(st *SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(st)
}

func (s *FileStore) saveLocked(st *SessionState) error {
	if err := os.MkdirAll(s.root, 0755); err != nil {
		return fmt.Errorf("failed to create sessions directory: %w", err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}

	path := s.sessionPath(st.SessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	logging.StateDebug("Session %s saved (%d bytes)", st.SessionID, len(data))
	return nil
}

// mutate runs fn against the loaded state and persists the result. fn returns
// false to skip the save (no-op mutations).
func (s *FileStore) mutate(sessionID string, fn func(*SessionState) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.loadLocked(sessionID)
	if !fn(st) {
		return nil
	}
	st.UpdatedAt = nowFunc()
	return s.saveLocked(st)
}

// TrackDispatchedAgent implements Repository.
func (s *FileStore) TrackDispatchedAgent(sessionID, candidateID, taskID string) error {
	return s.mutate(sessionID, func(st *SessionState) bool {
		st.TrackAgent(candidateID, taskID)
		logging.State("Session %s: tracked agent %s (task %q)", sessionID, candidateID, taskID)
		return true
	})
}

// UpdateAgentStatus implements Repository. Untracked candidates and illegal
// transitions are quiet no-ops, not errors.
func (s *FileStore) UpdateAgentStatus(sessionID, candidateID string, status AgentStatus) error {
	return s.mutate(sessionID, func(st *SessionState) bool {
		if !st.SetAgentStatus(candidateID, status) {
			logging.StateDebug("Session %s: status %s ignored for %s (untracked or illegal transition)",
				sessionID, status, candidateID)
			return false
		}
		logging.State("Session %s: agent %s -> %s", sessionID, candidateID, status)
		return true
	})
}

// RemoveAgent implements Repository.
func (s *FileStore) RemoveAgent(sessionID, candidateID string) error {
	return s.mutate(sessionID, func(st *SessionState) bool {
		if _, ok := st.ActiveAgents[candidateID]; !ok {
			return false
		}
		delete(st.ActiveAgents, candidateID)
		return true
	})
}

// IsAgentDispatched implements Repository.
func (s *FileStore) IsAgentDispatched(sessionID, candidateID string) bool {
	_, ok := s.GetActiveAgent(sessionID, candidateID)
	return ok
}

// GetActiveAgent implements Repository.
func (s *FileStore) GetActiveAgent(sessionID, candidateID string) (AgentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.loadLocked(sessionID)
	rec, ok := st.ActiveAgents[candidateID]
	if !ok {
		return AgentRecord{}, false
	}
	return *rec, true
}

// TrackInjectedSkill implements Repository (idempotent, set semantics).
func (s *FileStore) TrackInjectedSkill(sessionID, skillID string) error {
	return s.mutate(sessionID, func(st *SessionState) bool {
		if !st.InjectSkill(skillID) {
			return false
		}
		logging.State("Session %s: injected skill %s", sessionID, skillID)
		return true
	})
}

// IsSkillInjected implements Repository.
func (s *FileStore) IsSkillInjected(sessionID, skillID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(sessionID).SkillInjected(skillID)
}

// AddToPromptHistory implements Repository.
func (s *FileStore) AddToPromptHistory(sessionID, prompt string) error {
	return s.mutate(sessionID, func(st *SessionState) bool {
		st.AddPrompt(prompt, s.maxHistory)
		return true
	})
}

// CacheClassification implements Repository.
func (s *FileStore) CacheClassification(sessionID string, result *classifier.Result) error {
	return s.mutate(sessionID, func(st *SessionState) bool {
		st.LastClassification = result
		return true
	})
}

// LastClassification implements Repository.
func (s *FileStore) LastClassification(sessionID string) *classifier.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(sessionID).LastClassification
}

// Clear implements Repository. Safe to call for a session that was never
// persisted.
func (s *FileStore) Clear(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.sessionPath(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear session %s: %w", sessionID, err)
	}
	logging.State("Session %s cleared", sessionID)
	return nil
}

// CleanupOldStates implements Repository: retains the most recently modified
// N session files and deletes the rest. Individual delete failures are logged
// and do not abort the sweep.
func (s *FileStore) CleanupOldStates() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to list sessions directory: %w", err)
	}

	type sessionFile struct {
		name    string
		modTime int64
	}
	var files []sessionFile
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, sessionFile{name: e.Name(), modTime: info.ModTime().UnixNano()})
	}

	if len(files) <= s.retain {
		return nil
	}

	// Newest first; everything past the retention count goes.
	sort.Slice(files, func(i, j int) bool { return files[i].modTime > files[j].modTime })
	for _, f := range files[s.retain:] {
		path := filepath.Join(s.root, f.name)
		if err := os.Remove(path); err != nil {
			logging.Get(logging.CategoryState).Warn("Cleanup: could not delete %s: %v", path, err)
			continue
		}
		logging.StateDebug("Cleanup: deleted old session file %s", f.name)
	}
	return nil
}
