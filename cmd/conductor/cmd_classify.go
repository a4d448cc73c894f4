package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"conductor/internal/catalog"
	"conductor/internal/orchestrator"
)

var tokenBudget int

// Render styles shared by classify/repl output.
var (
	decisionStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	noopStyle      = lipgloss.NewStyle().Faint(true)
	candidateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	signalStyle    = lipgloss.NewStyle().Faint(true)
	confBarStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// classifyCmd classifies a single prompt and prints the dispatch decision.
var classifyCmd = &cobra.Command{
	Use:   "classify [prompt]",
	Short: "Classify a prompt and print the dispatch decision",
	Long: `Scores the prompt against the candidate catalog and runs the dispatch
decision state machine for the session:

  confidence >= 85  auto-dispatch (agents)
  confidence >= 80  skill injection (skills, once per session)
  confidence >= 70  recommendation
  otherwise         no action`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

// replCmd reads prompts interactively, with catalog hot reload.
var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Classify prompts interactively from stdin",
	Long: `Reads one prompt per line and prints the dispatch decision for each.
When a catalog file is in use, edits to it are picked up live.`,
	RunE: runRepl,
}

func init() {
	classifyCmd.Flags().IntVar(&tokenBudget, "budget", 0, "token budget for skill injection (0 = unlimited)")
	replCmd.Flags().IntVar(&tokenBudget, "budget", 0, "token budget for skill injection (0 = unlimited)")
}

func runClassify(cmd *cobra.Command, args []string) error {
	orch, _, cleanup, err := buildOrchestrator()
	if err != nil {
		return err
	}
	defer cleanup()

	prompt := strings.Join(args, " ")
	logger.Info("Classifying prompt", zap.String("session", sessionID), zap.Int("chars", len(prompt)))

	decision, err := orch.HandlePrompt(sessionID, prompt, tokenBudget)
	if err != nil {
		// The decision is still valid for this turn; the caller needs to
		// know the mutation did not persist.
		fmt.Fprintf(os.Stderr, "Warning: session state not persisted: %v\n", err)
	}

	printDecision(decision)
	return nil
}

func runRepl(cmd *cobra.Command, args []string) error {
	orch, _, cleanup, err := buildOrchestrator()
	if err != nil {
		return err
	}
	defer cleanup()

	// Hot-reload the catalog while the repl is running, if one is on disk.
	if path := catalogFileInUse(); path != "" {
		watcher, err := catalog.NewWatcher(path, func(cat *catalog.Catalog) {
			orch.SetCatalog(cat)
			fmt.Println(noopStyle.Render(fmt.Sprintf("(catalog reloaded: %d entries)", cat.Len())))
		})
		if err != nil {
			logger.Warn("Catalog watcher unavailable", zap.Error(err))
		} else {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := watcher.Start(ctx); err != nil {
				logger.Warn("Catalog watcher failed to start", zap.Error(err))
			} else {
				defer watcher.Stop()
			}
		}
	}

	fmt.Printf("conductor repl - session %q (ctrl-d to exit)\n", sessionID)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		decision, err := orch.HandlePrompt(sessionID, prompt, tokenBudget)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: session state not persisted: %v\n", err)
		}
		printDecision(decision)
	}
	return scanner.Err()
}

// catalogFileInUse returns the catalog path the CLI resolved, or "" for the
// built-in catalog.
func catalogFileInUse() string {
	if catalogPath != "" {
		return catalogPath
	}
	wsPath := conductorDir() + "/catalog.yaml"
	if _, err := os.Stat(wsPath); err == nil {
		return wsPath
	}
	return ""
}

func printDecision(d *orchestrator.Decision) {
	switch d.Type {
	case orchestrator.DecisionAutoDispatch:
		fmt.Println(decisionStyle.Render("AUTO-DISPATCH"), candidateStyle.Render(d.CandidateID),
			fmt.Sprintf("(confidence %d, task %s)", d.Confidence, d.TaskID))
	case orchestrator.DecisionInjectSkill:
		fmt.Println(decisionStyle.Render("INJECT-SKILL"), candidateStyle.Render(d.CandidateID),
			fmt.Sprintf("(confidence %d)", d.Confidence))
	case orchestrator.DecisionRecommend:
		fmt.Println(decisionStyle.Render("RECOMMEND"), candidateStyle.Render(d.CandidateID),
			fmt.Sprintf("(confidence %d)", d.Confidence))
	case orchestrator.DecisionPipeline:
		fmt.Println(decisionStyle.Render("PIPELINE"), candidateStyle.Render(strings.Join(d.Pipeline, " -> ")))
	default:
		fmt.Println(noopStyle.Render("no action: " + d.Reason))
	}

	if d.Result != nil && len(d.Result.Matches) > 0 {
		fmt.Println()
		for _, m := range d.Result.Matches {
			fmt.Printf("  %s %s %d\n",
				candidateStyle.Render(fmt.Sprintf("%-20s", m.CandidateID)),
				confBarStyle.Render(confidenceBar(m.Confidence)),
				m.Confidence)
			for _, sig := range m.Signals {
				fmt.Println(signalStyle.Render(fmt.Sprintf("      %s: %s", sig.Type, sig.Text)))
			}
		}
	}
}

// confidenceBar renders a 20-cell bar for a 0-100 confidence.
func confidenceBar(confidence int) string {
	filled := confidence / 5
	if filled > 20 {
		filled = 20
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", 20-filled)
}
