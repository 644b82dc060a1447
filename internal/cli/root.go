// Package cli implements the bodyguardctl command tree.
package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/linnemanlabs/bodyguard/internal/client"
)

const defaultServer = "http://localhost:8080"

var serverURL string

var rootCmd = &cobra.Command{
	Use:           "bodyguardctl",
	Short:         "Control a bodyguard server",
	Long:          "Lists and submits security alerts, inspects the action ledger and resolves actions awaiting confirmation.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	def := os.Getenv("BODYGUARD_SERVER")
	if def == "" {
		def = defaultServer
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", def, "bodyguard server base URL (env BODYGUARD_SERVER)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newClient() *client.Client {
	return client.New(serverURL)
}

func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
