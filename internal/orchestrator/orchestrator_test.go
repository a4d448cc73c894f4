package orchestrator

import (
	"errors"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"conductor/internal/calibration"
	"conductor/internal/catalog"
	"conductor/internal/retry"
	"conductor/internal/state"
)

// testCatalog: deploy-agent scores ~94 on "kubernetes", refactor-agent ~75 on
// "refactor", api-skill ~84 on "graphql". backup-agent is deploy-agent's
// fallback.
func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	entries := []catalog.Entry{
		{
			ID:       "deploy-agent",
			Kind:     catalog.KindAgent,
			Keywords: []catalog.WeightedTerm{{Text: "kubernetes", Weight: 70}},
		},
		{
			ID:       "backup-agent",
			Kind:     catalog.KindAgent,
			Keywords: []catalog.WeightedTerm{{Text: "failover", Weight: 70}},
		},
		{
			ID:       "refactor-agent",
			Kind:     catalog.KindAgent,
			Keywords: []catalog.WeightedTerm{{Text: "refactor", Weight: 60}},
		},
		{
			ID:        "api-skill",
			Kind:      catalog.KindSkill,
			TokenCost: 500,
			Keywords:  []catalog.WeightedTerm{{Text: "graphql", Weight: 70}},
		},
	}
	alts := map[string][]string{"deploy-agent": {"backup-agent"}}
	cat, err := catalog.New(entries, alts)
	if err != nil {
		t.Fatalf("failed to build test catalog: %v", err)
	}
	return cat
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *state.MemoryStore) {
	t.Helper()
	cat := testCatalog(t)
	store := state.NewMemoryStore()
	calib := calibration.NewEngine(filepath.Join(t.TempDir(), "calibration.json"))
	mgr := retry.NewManager(cat.AlternativeMap(), retry.NewHistory(),
		retry.WithRandSource(rand.NewSource(1)))
	return New(cat, store, calib, mgr), store
}

func TestHandlePromptAutoDispatch(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	dec, err := orch.HandlePrompt("sess", "deploy the new service to kubernetes", 0)
	if err != nil {
		t.Fatalf("HandlePrompt: %v", err)
	}
	if dec.Type != DecisionAutoDispatch {
		t.Fatalf("decision = %s (%s), want auto_dispatch", dec.Type, dec.Reason)
	}
	if dec.CandidateID != "deploy-agent" || dec.TaskID == "" {
		t.Errorf("decision = %+v", dec)
	}
	if dec.Confidence < 85 {
		t.Errorf("confidence %d below auto-dispatch threshold", dec.Confidence)
	}

	rec, ok := store.GetActiveAgent("sess", "deploy-agent")
	if !ok {
		t.Fatal("dispatched agent not tracked")
	}
	if rec.Status != state.StatusPending || rec.TaskID != dec.TaskID {
		t.Errorf("tracked record = %+v", rec)
	}
}

func TestHandlePromptSkillInjection(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	prompt := "add a graphql endpoint for billing exports"

	dec, err := orch.HandlePrompt("sess", prompt, 0)
	if err != nil {
		t.Fatalf("HandlePrompt: %v", err)
	}
	if dec.Type != DecisionInjectSkill || dec.CandidateID != "api-skill" {
		t.Fatalf("decision = %+v, want inject_skill api-skill", dec)
	}
	if !store.IsSkillInjected("sess", "api-skill") {
		t.Error("injected skill not tracked")
	}

	// A second matching prompt must not re-inject; it degrades to a
	// recommendation.
	dec, err = orch.HandlePrompt("sess", prompt, 0)
	if err != nil {
		t.Fatalf("HandlePrompt: %v", err)
	}
	if dec.Type != DecisionRecommend {
		t.Errorf("repeat decision = %s, want recommend", dec.Type)
	}
}

func TestHandlePromptSkillBudgetRejected(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	// api-skill costs 500 tokens; a 100-token budget blocks injection.
	dec, err := orch.HandlePrompt("sess", "add a graphql endpoint for billing exports", 100)
	if err != nil {
		t.Fatalf("HandlePrompt: %v", err)
	}
	if dec.Type != DecisionRecommend {
		t.Errorf("decision = %s, want recommend when over budget", dec.Type)
	}
	if store.IsSkillInjected("sess", "api-skill") {
		t.Error("skill injected despite budget")
	}
}

func TestHandlePromptRecommend(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	dec, err := orch.HandlePrompt("sess", "refactor the payment handlers please", 0)
	if err != nil {
		t.Fatalf("HandlePrompt: %v", err)
	}
	if dec.Type != DecisionRecommend || dec.CandidateID != "refactor-agent" {
		t.Fatalf("decision = %+v, want recommend refactor-agent", dec)
	}
	if dec.Confidence < 70 || dec.Confidence >= 85 {
		t.Errorf("confidence %d outside recommend band", dec.Confidence)
	}
}

func TestHandlePromptNoSignal(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	dec, err := orch.HandlePrompt("sess", "what is the weather like in Lisbon today", 0)
	if err != nil {
		t.Fatalf("HandlePrompt: %v", err)
	}
	if dec.Type != DecisionNoOp {
		t.Errorf("decision = %s, want no_op", dec.Type)
	}
}

func TestHandlePromptFilteredHasNoSideEffects(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	dec, err := orch.HandlePrompt("sess", "ok", 0)
	if err != nil {
		t.Fatalf("HandlePrompt: %v", err)
	}
	if dec.Type != DecisionNoOp {
		t.Fatalf("decision = %s, want no_op", dec.Type)
	}

	st := store.Load("sess")
	if len(st.PromptHistory) != 0 {
		t.Errorf("filtered prompt recorded in history: %v", st.PromptHistory)
	}
	if store.LastClassification("sess") != nil {
		t.Error("filtered prompt cached a classification")
	}
}

func TestHandlePromptCachesClassification(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	if _, err := orch.HandlePrompt("sess", "refactor the payment handlers please", 0); err != nil {
		t.Fatalf("HandlePrompt: %v", err)
	}

	cached := orch.LastClassification("sess")
	if cached == nil || len(cached.Matches) == 0 {
		t.Fatal("classification not cached")
	}
	if cached.Matches[0].CandidateID != "refactor-agent" {
		t.Errorf("cached top match = %s", cached.Matches[0].CandidateID)
	}
}

func TestHandlePromptPipeline(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	dec, err := orch.HandlePrompt("sess", "deploy to kubernetes then refactor the payment handlers", 0)
	if err != nil {
		t.Fatalf("HandlePrompt: %v", err)
	}
	if dec.Type != DecisionPipeline {
		t.Fatalf("decision = %s (%s), want pipeline", dec.Type, dec.Reason)
	}
	want := []string{"deploy-agent", "refactor-agent"}
	if len(dec.Pipeline) != 2 || dec.Pipeline[0] != want[0] || dec.Pipeline[1] != want[1] {
		t.Errorf("pipeline = %v, want %v", dec.Pipeline, want)
	}
}

func TestHandlePromptPipelineDisabledByFlag(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	flags := state.DefaultFlags()
	flags.PipelinesEnabled = false
	store.SetFlags(flags)

	dec, err := orch.HandlePrompt("sess", "deploy to kubernetes then refactor the payment handlers", 0)
	if err != nil {
		t.Fatalf("HandlePrompt: %v", err)
	}
	if dec.Type == DecisionPipeline {
		t.Error("pipeline decision despite disabled flag")
	}
}

func TestHandlePromptAutoDispatchDisabledByFlag(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	flags := state.DefaultFlags()
	flags.AutoDispatchEnabled = false
	store.SetFlags(flags)

	dec, err := orch.HandlePrompt("sess", "deploy the new service to kubernetes", 0)
	if err != nil {
		t.Fatalf("HandlePrompt: %v", err)
	}
	if dec.Type != DecisionRecommend {
		t.Errorf("decision = %s, want recommend when auto-dispatch disabled", dec.Type)
	}
	if store.IsAgentDispatched("sess", "deploy-agent") {
		t.Error("agent dispatched despite disabled flag")
	}
}

func TestHandlePromptSaveErrorIsSurfaced(t *testing.T) {
	orch, store := newTestOrchestrator(t)
	store.SaveErr = errors.New("disk full")

	dec, err := orch.HandlePrompt("sess", "deploy the new service to kubernetes", 0)
	if err == nil {
		t.Fatal("expected save error to surface")
	}
	// The decision for this turn is still produced.
	if dec == nil || dec.Type != DecisionAutoDispatch {
		t.Errorf("decision = %+v, want auto_dispatch alongside the error", dec)
	}
}

func TestStatusUpdateUntrackedCandidateIgnored(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	dec, err := orch.OnStatusUpdate("sess", "ghost-agent", state.StatusCompleted, nil)
	if err != nil {
		t.Fatalf("OnStatusUpdate: %v", err)
	}
	if dec != nil {
		t.Errorf("expected nil decision for untracked candidate, got %+v", dec)
	}
}

func TestFailRetrySucceedLifecycle(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	if _, err := orch.HandlePrompt("sess", "deploy the new service to kubernetes", 0); err != nil {
		t.Fatalf("HandlePrompt: %v", err)
	}

	// First execution fails transiently.
	if _, err := orch.OnStatusUpdate("sess", "deploy-agent", state.StatusInProgress, nil); err != nil {
		t.Fatalf("in_progress: %v", err)
	}
	dec, err := orch.OnStatusUpdate("sess", "deploy-agent", state.StatusFailed, errors.New("connection timeout"))
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	if dec == nil || !dec.Retry {
		t.Fatalf("first failure decision = %+v, want retry", dec)
	}

	rec, _ := store.GetActiveAgent("sess", "deploy-agent")
	if rec.Status != state.StatusRetrying || rec.RetryCount != 1 {
		t.Fatalf("record after first failure = %+v", rec)
	}

	// Second execution fails too.
	if _, err := orch.OnStatusUpdate("sess", "deploy-agent", state.StatusInProgress, nil); err != nil {
		t.Fatalf("in_progress: %v", err)
	}
	dec, err = orch.OnStatusUpdate("sess", "deploy-agent", state.StatusFailed, errors.New("connection timeout"))
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	if dec == nil || !dec.Retry {
		t.Fatalf("second failure decision = %+v, want retry", dec)
	}

	// Third execution succeeds.
	if _, err := orch.OnStatusUpdate("sess", "deploy-agent", state.StatusInProgress, nil); err != nil {
		t.Fatalf("in_progress: %v", err)
	}
	if _, err := orch.OnStatusUpdate("sess", "deploy-agent", state.StatusCompleted, nil); err != nil {
		t.Fatalf("completed: %v", err)
	}

	rec, _ = store.GetActiveAgent("sess", "deploy-agent")
	if rec.Status != state.StatusCompleted {
		t.Errorf("final status = %s, want completed", rec.Status)
	}
	if rec.RetryCount != 2 {
		t.Errorf("final retry count = %d, want 2", rec.RetryCount)
	}
}

func TestRetryBudgetExhaustionSuggestsAlternative(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	if _, err := orch.HandlePrompt("sess", "deploy the new service to kubernetes", 0); err != nil {
		t.Fatalf("HandlePrompt: %v", err)
	}

	var dec *retry.Decision
	for i := 0; i < retry.MaxRetries+1; i++ {
		if _, err := orch.OnStatusUpdate("sess", "deploy-agent", state.StatusInProgress, nil); err != nil {
			t.Fatalf("in_progress %d: %v", i, err)
		}
		var err error
		dec, err = orch.OnStatusUpdate("sess", "deploy-agent", state.StatusFailed, errors.New("connection timeout"))
		if err != nil {
			t.Fatalf("failed %d: %v", i, err)
		}
		if i < retry.MaxRetries && (dec == nil || !dec.Retry) {
			t.Fatalf("failure %d denied inside budget: %+v", i, dec)
		}
	}

	if dec == nil || dec.Retry {
		t.Fatalf("final decision = %+v, want denial", dec)
	}
	if !strings.Contains(dec.Reason, "exhausted") {
		t.Errorf("reason = %q, want exhaustion phrasing", dec.Reason)
	}
	if dec.AlternativeCandidateID != "backup-agent" {
		t.Errorf("alternative = %q, want backup-agent", dec.AlternativeCandidateID)
	}

	rec, _ := store.GetActiveAgent("sess", "deploy-agent")
	if rec.Status != state.StatusFailed {
		t.Errorf("status after exhaustion = %s, want failed", rec.Status)
	}
}

func TestTerminalErrorDeniedOnFirstFailure(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	if _, err := orch.HandlePrompt("sess", "deploy the new service to kubernetes", 0); err != nil {
		t.Fatalf("HandlePrompt: %v", err)
	}
	if _, err := orch.OnStatusUpdate("sess", "deploy-agent", state.StatusInProgress, nil); err != nil {
		t.Fatalf("in_progress: %v", err)
	}

	dec, err := orch.OnStatusUpdate("sess", "deploy-agent", state.StatusFailed, errors.New("authentication failed"))
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	if dec == nil || dec.Retry {
		t.Fatalf("terminal failure decision = %+v, want denial", dec)
	}
	if dec.ErrorClass != "terminal" {
		t.Errorf("error class = %q, want terminal", dec.ErrorClass)
	}

	rec, _ := store.GetActiveAgent("sess", "deploy-agent")
	if rec.Status != state.StatusFailed || rec.RetryCount != 0 {
		t.Errorf("record after terminal failure = %+v", rec)
	}
}

func TestScopeErrorSuggestsAlternative(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	if _, err := orch.HandlePrompt("sess", "deploy the new service to kubernetes", 0); err != nil {
		t.Fatalf("HandlePrompt: %v", err)
	}
	if _, err := orch.OnStatusUpdate("sess", "deploy-agent", state.StatusInProgress, nil); err != nil {
		t.Fatalf("in_progress: %v", err)
	}

	dec, err := orch.OnStatusUpdate("sess", "deploy-agent", state.StatusFailed, errors.New("module not found: helm charts"))
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	if dec == nil || dec.Retry {
		t.Fatalf("scope failure decision = %+v, want denial", dec)
	}
	if dec.AlternativeCandidateID != "backup-agent" {
		t.Errorf("alternative = %q, want backup-agent", dec.AlternativeCandidateID)
	}
}

func TestHistoryMirrorsLifecycle(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	if _, err := orch.HandlePrompt("sess", "deploy the new service to kubernetes", 0); err != nil {
		t.Fatalf("HandlePrompt: %v", err)
	}
	if _, err := orch.OnStatusUpdate("sess", "deploy-agent", state.StatusInProgress, nil); err != nil {
		t.Fatalf("in_progress: %v", err)
	}
	if _, err := orch.OnStatusUpdate("sess", "deploy-agent", state.StatusFailed, errors.New("connection reset")); err != nil {
		t.Fatalf("failed: %v", err)
	}
	if _, err := orch.OnStatusUpdate("sess", "deploy-agent", state.StatusInProgress, nil); err != nil {
		t.Fatalf("in_progress: %v", err)
	}
	if _, err := orch.OnStatusUpdate("sess", "deploy-agent", state.StatusCompleted, nil); err != nil {
		t.Fatalf("completed: %v", err)
	}

	stats := orch.retry.History().AnalyzeAttemptHistory("sess")
	sa := stats["deploy-agent"]
	if sa.TotalAttempts != 2 || sa.Successes != 1 || sa.Failures != 1 {
		t.Errorf("attempt stats = %+v", sa)
	}
	if len(sa.TopErrors) != 1 || sa.TopErrors[0].Message != "connection reset" {
		t.Errorf("top errors = %+v", sa.TopErrors)
	}
}

func TestCatalogSwapDuringPromptHandling(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	first := testCatalog(t)
	second := testCatalog(t)

	// The repl wires the watcher's reload callback to SetCatalog, so swaps
	// land on a different goroutine than the one inside HandlePrompt.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 300; i++ {
			orch.SetCatalog(second)
			orch.SetCatalog(first)
		}
	}()

	for i := 0; i < 300; i++ {
		dec, err := orch.HandlePrompt("sess", "deploy the new service to kubernetes", 0)
		if err != nil {
			t.Fatalf("HandlePrompt during swap: %v", err)
		}
		if dec == nil {
			t.Fatal("nil decision during swap")
		}
	}
	<-done
}

func TestDuplicateInProgressDoesNotInflateAttempts(t *testing.T) {
	orch, store := newTestOrchestrator(t)

	if _, err := orch.HandlePrompt("sess", "deploy the new service to kubernetes", 0); err != nil {
		t.Fatalf("HandlePrompt: %v", err)
	}
	if _, err := orch.OnStatusUpdate("sess", "deploy-agent", state.StatusInProgress, nil); err != nil {
		t.Fatalf("in_progress: %v", err)
	}

	// A misbehaving host repeats the in_progress report.
	dec, err := orch.OnStatusUpdate("sess", "deploy-agent", state.StatusInProgress, nil)
	if err != nil {
		t.Fatalf("duplicate in_progress: %v", err)
	}
	if dec != nil {
		t.Errorf("duplicate in_progress returned a decision: %+v", dec)
	}

	stats := orch.retry.History().AnalyzeAttemptHistory("sess")
	if got := stats["deploy-agent"].TotalAttempts; got != 1 {
		t.Errorf("attempt count after duplicate report = %d, want 1", got)
	}

	rec, _ := store.GetActiveAgent("sess", "deploy-agent")
	if rec.Status != state.StatusInProgress {
		t.Errorf("status = %s, want in_progress", rec.Status)
	}
}

func TestCatalogHotSwap(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	entries := []catalog.Entry{{
		ID:       "migration-agent",
		Kind:     catalog.KindAgent,
		Keywords: []catalog.WeightedTerm{{Text: "migration", Weight: 70}},
	}}
	cat, err := catalog.New(entries, nil)
	if err != nil {
		t.Fatal(err)
	}
	orch.SetCatalog(cat)

	dec, err := orch.HandlePrompt("sess", "run the database migration for orders", 0)
	if err != nil {
		t.Fatalf("HandlePrompt: %v", err)
	}
	if dec.Type != DecisionAutoDispatch || dec.CandidateID != "migration-agent" {
		t.Errorf("decision after swap = %+v", dec)
	}

	// The old catalog's candidates no longer match.
	dec, err = orch.HandlePrompt("sess-2", "deploy the new service to kubernetes", 0)
	if err != nil {
		t.Fatalf("HandlePrompt: %v", err)
	}
	if dec.Type != DecisionNoOp {
		t.Errorf("stale candidate still matched after swap: %+v", dec)
	}
}
