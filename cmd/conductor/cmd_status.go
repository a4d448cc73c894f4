package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"conductor/internal/state"
)

var statusError string

// statusCmd reports a status transition for a dispatched candidate.
var statusCmd = &cobra.Command{
	Use:   "status [candidate-id] [pending|in_progress|completed|failed]",
	Short: "Report a status update for a dispatched candidate",
	Long: `Applies a caller-reported status transition to a dispatched candidate and
prints the resulting retry decision, if any.

Failures carry an error message via --error; the message determines whether
the failure is retried (transient errors), abandoned (auth/permission/quota),
or redirected to an alternative candidate (scope errors).`,
	Args: cobra.ExactArgs(2),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusError, "error", "", "error message for failed status")
}

func runStatus(cmd *cobra.Command, args []string) error {
	orch, _, cleanup, err := buildOrchestrator()
	if err != nil {
		return err
	}
	defer cleanup()

	candidateID := args[0]
	status := state.AgentStatus(args[1])
	if !status.Valid() {
		return fmt.Errorf("unknown status %q", args[1])
	}

	var dispatchErr error
	if statusError != "" {
		dispatchErr = errors.New(statusError)
	}

	logger.Info("Applying status update",
		zap.String("session", sessionID),
		zap.String("candidate", candidateID),
		zap.String("status", string(status)))

	decision, err := orch.OnStatusUpdate(sessionID, candidateID, status, dispatchErr)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: session state not persisted: %v\n", err)
	}

	if decision == nil {
		fmt.Printf("%s -> %s\n", candidateID, status)
		return nil
	}

	if decision.Retry {
		fmt.Printf("RETRY %s in %s (%s)\n", candidateID, decision.Delay, decision.Reason)
		return nil
	}
	fmt.Printf("GIVE UP on %s: %s\n", candidateID, decision.Reason)
	if decision.AlternativeCandidateID != "" {
		fmt.Printf("Try instead: %s\n", candidateStyle.Render(decision.AlternativeCandidateID))
	}
	return nil
}
