// Session management CLI commands: listing, clearing, and pruning the
// per-session orchestration state files.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"conductor/internal/state"
)

// sessionsCmd manages persisted sessions
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage persisted sessions",
	Long: `List and manage persisted orchestration sessions.

Subcommands:
  list     - List saved sessions
  clear    - Delete one session's state
  cleanup  - Prune all but the most recent session files`,
	RunE: runSessionsList,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions",
	RunE:  runSessionsList,
}

var sessionsClearCmd = &cobra.Command{
	Use:   "clear <session-id>",
	Short: "Delete one session's persisted state",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsClear,
}

var sessionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune all but the most recently used session files",
	RunE:  runSessionsCleanup,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsClearCmd)
	sessionsCmd.AddCommand(sessionsCleanupCmd)
}

func sessionsDir() string {
	return filepath.Join(conductorDir(), "sessions")
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	entries, err := os.ReadDir(sessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No saved sessions found.")
			return nil
		}
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	type row struct {
		id  string
		mod int64
	}
	var rows []row
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		rows = append(rows, row{
			id:  strings.TrimSuffix(e.Name(), ".json"),
			mod: info.ModTime().Unix(),
		})
	}
	if len(rows) == 0 {
		fmt.Println("No saved sessions found.")
		return nil
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].mod > rows[j].mod })

	store := state.NewFileStore(sessionsDir())
	for _, r := range rows {
		st := store.Load(r.id)
		fmt.Printf("%s  %s  (%d agents, %d skills, %d prompts)\n",
			candidateStyle.Render(fmt.Sprintf("%-24s", r.id)),
			st.UpdatedAt.Format("2006-01-02 15:04"),
			len(st.ActiveAgents), len(st.InjectedSkills), len(st.PromptHistory))
	}
	return nil
}

func runSessionsClear(cmd *cobra.Command, args []string) error {
	store := state.NewFileStore(sessionsDir())
	if err := store.Clear(args[0]); err != nil {
		return err
	}
	fmt.Printf("Session %s cleared.\n", args[0])
	return nil
}

func runSessionsCleanup(cmd *cobra.Command, args []string) error {
	cfg := state.LoadConfig(filepath.Join(conductorDir(), "config.json"))
	store := state.NewFileStore(sessionsDir(), state.WithRetainSessions(cfg.RetainSessions))
	if err := store.CleanupOldStates(); err != nil {
		return err
	}
	fmt.Printf("Pruned session files (retaining %d most recent).\n", cfg.RetainSessions)
	return nil
}
