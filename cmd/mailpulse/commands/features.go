package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tidemark/mailpulse/schedule"
)

// FeaturesCmd manages the per-tenant feature toggles the scheduler reads.
var FeaturesCmd = &cobra.Command{
	Use:   "features",
	Short: "Enable, disable, or list per-tenant feature toggles",
	Long: `Manage the per-tenant feature toggles.

Every registered job carries a toggle under its own name. A feature with no
recorded toggle is off.

Examples:
  mailpulse features list
  mailpulse features enable digest
  mailpulse features disable autoLabel`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var featuresEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a feature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd, schedule.NoopTrigger{})
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.sched.EnableFeature(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Feature %s enabled\n", args[0])
		return nil
	},
}

var featuresDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a feature",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd, schedule.NoopTrigger{})
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.sched.DisableFeature(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Feature %s disabled\n", args[0])
		return nil
	},
}

var featuresListCmd = &cobra.Command{
	Use:   "list",
	Short: "List feature toggles",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd, schedule.NoopTrigger{})
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := context.Background()
		prefs, err := rt.prefs.List(ctx, rt.cfg.Tenant.ID)
		if err != nil {
			return err
		}

		recorded := make(map[string]bool, len(prefs))
		for _, pref := range prefs {
			recorded[pref.Name] = pref.Enabled
		}

		fmt.Printf("Features for tenant %s:\n", rt.cfg.Tenant.ID)
		for _, name := range rt.sched.Jobs() {
			state := "disabled"
			if recorded[name] {
				state = "enabled"
			}
			fmt.Printf("  %-12s %s\n", name, state)
		}
		return nil
	},
}

func init() {
	FeaturesCmd.AddCommand(featuresEnableCmd)
	FeaturesCmd.AddCommand(featuresDisableCmd)
	FeaturesCmd.AddCommand(featuresListCmd)
}
