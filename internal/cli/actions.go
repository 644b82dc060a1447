package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/bodyguard/internal/client"
	"github.com/linnemanlabs/bodyguard/internal/ledger"
	"github.com/linnemanlabs/bodyguard/internal/textutil"
)

var pendingOnly bool

func init() {
	rootCmd.AddCommand(actionsCmd)
	actionsCmd.AddCommand(actionsListCmd, actionsConfirmCmd, actionsDenyCmd)
	actionsListCmd.Flags().BoolVar(&pendingOnly, "consulting", false, "only show actions awaiting confirmation")
}

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Work with the action ledger",
}

var actionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List actions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runActionsList,
}

var actionsConfirmCmd = &cobra.Command{
	Use:   "confirm <action-id>",
	Short: "Approve an action awaiting confirmation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecision(cmd, args[0], "confirm", newClient().Confirm)
	},
}

var actionsDenyCmd = &cobra.Command{
	Use:   "deny <action-id>",
	Short: "Dismiss an action awaiting confirmation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecision(cmd, args[0], "deny", newClient().Deny)
	},
}

func runActionsList(cmd *cobra.Command, _ []string) error {
	actions, err := newClient().ListActions(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list actions: %w", err)
	}

	shown := 0
	for _, a := range actions {
		if pendingOnly && a.Status != ledger.StatusConsulting {
			continue
		}
		if shown == 0 {
			fmt.Fprintf(out(cmd), "%-32s %-11s %-11s %-60s %s\n", "ID", "TYPE", "STATUS", "DETAILS", "TIME")
		}
		fmt.Fprintf(out(cmd), "%-32s %-11s %-11s %-60s %s\n",
			a.ID,
			a.Type,
			a.Status,
			textutil.Truncate(a.Details, 60),
			a.Timestamp.Local().Format("15:04:05"),
		)
		shown++
	}
	if shown == 0 {
		fmt.Fprintln(out(cmd), "No actions.")
	}
	return nil
}

func runDecision(cmd *cobra.Command, id, verb string, fn func(context.Context, string) (*ledger.Action, error)) error {
	a, err := fn(cmd.Context(), id)
	switch {
	case client.IsStatus(err, http.StatusNotFound):
		return fmt.Errorf("action %s not found", id)
	case client.IsStatus(err, http.StatusConflict):
		return fmt.Errorf("action %s is not awaiting confirmation", id)
	case err != nil:
		return fmt.Errorf("failed to %s action: %w", verb, err)
	}
	fmt.Fprintf(out(cmd), "%s %s -> %s: %s\n", a.ID, a.Type, a.Status, a.Details)
	return nil
}

func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d)
}
