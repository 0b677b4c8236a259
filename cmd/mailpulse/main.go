package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tidemark/mailpulse/cmd/mailpulse/commands"
	"github.com/tidemark/mailpulse/logger"
)

var rootCmd = &cobra.Command{
	Use:   "mailpulse",
	Short: "mailpulse - resilience and scheduling substrate for mailbox assistants",
	Long: `mailpulse - resilience and scheduling substrate for mailbox assistants.

mailpulse owns the unglamorous half of a mailbox assistant: retrying flaky
upstream calls with classified backoff, tripping a per-tenant circuit breaker,
bounding a stale-while-revalidate artifact cache, and multiplexing N job
cadences onto one periodic tick.

Available commands:
  run      - Start the tick daemon
  tick     - Run a single scheduler tick now
  features - Enable, disable, or list per-tenant feature toggles
  db       - Manage the mailpulse database
  version  - Show version information

Examples:
  mailpulse run                      # Start the daemon in foreground
  mailpulse tick                     # Fire one tick manually
  mailpulse features enable digest   # Turn the daily digest on
  mailpulse db stats                 # Show storage and cache statistics`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.InitializeWithVerbosity(false, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: search standard locations)")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.TickCmd)
	rootCmd.AddCommand(commands.FeaturesCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
