package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/bodyguard/internal/textutil"
)

var (
	submitWait bool
	waitTime   time.Duration
)

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsListCmd, alertsSubmitCmd, alertsProcessCmd)

	for _, c := range []*cobra.Command{alertsSubmitCmd, alertsProcessCmd} {
		c.Flags().BoolVar(&submitWait, "wait", false, "wait for analysis to finish and print the resulting actions")
		c.Flags().DurationVar(&waitTime, "timeout", 2*time.Minute, "how long --wait blocks")
	}
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Work with the alert feed",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts, newest first",
	Args:  cobra.NoArgs,
	RunE:  runAlertsList,
}

var alertsSubmitCmd = &cobra.Command{
	Use:   "submit <json|->",
	Short: "Submit a manual alert for analysis",
	Long:  "Submits a raw JSON alert. Use - to read it from stdin.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsSubmit,
}

var alertsProcessCmd = &cobra.Command{
	Use:   "process <alert-id>",
	Short: "Analyze an alert already in the feed",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlertsProcess,
}

func runAlertsList(cmd *cobra.Command, _ []string) error {
	alerts, err := newClient().ListAlerts(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list alerts: %w", err)
	}
	if len(alerts) == 0 {
		fmt.Fprintln(out(cmd), "No alerts.")
		return nil
	}

	fmt.Fprintf(out(cmd), "%-22s %-40s %-20s %8s %s\n", "ID", "ALERT", "LOCATION", "ATTEMPTS", "TIME")
	for _, a := range alerts {
		fmt.Fprintf(out(cmd), "%-22s %-40s %-20s %8d %s\n",
			a.ID,
			textutil.Truncate(a.Alert, 40),
			textutil.Truncate(a.Location, 20),
			a.Attempts,
			a.Timestamp.Local().Format("15:04:05"),
		)
	}
	return nil
}

func runAlertsSubmit(cmd *cobra.Command, args []string) error {
	raw := []byte(args[0])
	if args[0] == "-" {
		var err error
		raw, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	} else if b, err := os.ReadFile(args[0]); err == nil {
		raw = b
	}

	sub, err := newClient().SubmitAlert(cmd.Context(), raw)
	if err != nil {
		return fmt.Errorf("failed to submit alert: %w", err)
	}
	fmt.Fprintf(out(cmd), "Submitted %s (task %s)\n", sub.Alert.ID, sub.TaskID)
	return waitAndPrint(cmd, sub.TaskID)
}

func runAlertsProcess(cmd *cobra.Command, args []string) error {
	taskID, err := newClient().ProcessAlert(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to process alert: %w", err)
	}
	fmt.Fprintf(out(cmd), "Processing %s (task %s)\n", args[0], taskID)
	return waitAndPrint(cmd, taskID)
}

func waitAndPrint(cmd *cobra.Command, taskID string) error {
	if !submitWait {
		return nil
	}
	ctx, cancel := contextWithTimeout(cmd, waitTime)
	defer cancel()

	c := newClient()
	info, err := c.WaitTask(ctx, taskID, 500*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed waiting for task: %w", err)
	}
	fmt.Fprintf(out(cmd), "Task %s %s\n", info.ID, info.Status)

	actions, err := c.ListActions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list actions: %w", err)
	}
	mine := make(map[string]bool, len(info.ActionIDs))
	for _, id := range info.ActionIDs {
		mine[id] = true
	}
	for _, a := range actions {
		if mine[a.ID] {
			fmt.Fprintf(out(cmd), "  %-12s %-10s %s\n", a.Type, a.Status, a.Details)
		}
	}
	return nil
}
