package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(stateCmd)
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the current threat level and narrative",
	Args:  cobra.NoArgs,
	RunE:  runState,
}

func runState(cmd *cobra.Command, _ []string) error {
	st, err := newClient().State(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get state: %w", err)
	}

	w := out(cmd)
	fmt.Fprintf(w, "Threat level: %d%%\n", st.ThreatLevel)
	fmt.Fprintf(w, "Analyzing:    %v\n", st.Analyzing)
	fmt.Fprintf(w, "Voice queue:  %d\n", len(st.VoiceQueue))
	if st.Narrative != "" {
		fmt.Fprintf(w, "\n%s\n", st.Narrative)
	}
	return nil
}
