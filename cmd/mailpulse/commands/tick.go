package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tidemark/mailpulse/schedule"
)

// TickCmd fires a single scheduler tick, the manual "run now" path.
var TickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run a single scheduler tick now",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd, schedule.NoopTrigger{})
		if err != nil {
			return err
		}
		defer rt.Close()

		result, err := rt.sched.Tick(context.Background())
		if err != nil {
			return err
		}

		fmt.Printf("Tick %s at %s (%v)\n", result.ID, result.At.Format("15:04:05"), result.Duration)
		for _, jr := range result.Jobs {
			line := fmt.Sprintf("  %-12s %s", jr.Job, jr.Outcome)
			if jr.Err != nil {
				line += fmt.Sprintf(" (%v)", jr.Err)
			}
			fmt.Println(line)
		}
		if result.Maintenance != nil {
			fmt.Printf("  maintenance: purged=%d swept=%d drained=%d\n",
				result.Maintenance.Purged, result.Maintenance.Swept, result.Maintenance.Drained)
		}
		return nil
	},
}
