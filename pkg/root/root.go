package root

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ownmailer",
	Short: "Self-hosted email sending and tracking",
	Long: `ownmailer sends email through a configured provider, records every
delivery outcome the provider reports, and dispatches scheduled email.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func GetRoot() *cobra.Command {
	return rootCmd
}

// SetInfo overrides the name and descriptions of the root command.
func SetInfo(use, short, long string) {
	rootCmd.Use = use
	rootCmd.Short = short
	rootCmd.Long = long
}
