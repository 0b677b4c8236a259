package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tidemark/mailpulse/schedule"
)

// DbCmd groups database operations.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the mailpulse database",
	Long: `Manage database operations.

Examples:
  mailpulse db migrate   # Apply pending schema migrations
  mailpulse db stats     # Show storage, cache, and breaker statistics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		// openDatabase migrates as part of opening.
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		fmt.Println("Database migrated")
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show storage, cache, and breaker statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime(cmd, schedule.NoopTrigger{})
		if err != nil {
			return err
		}
		defer rt.Close()

		ctx := context.Background()
		stats, err := rt.cache.Stats(ctx)
		if err != nil {
			return err
		}
		state, err := rt.breaker.State()
		if err != nil {
			return err
		}

		fmt.Printf("mailpulse statistics for tenant %s\n\n", rt.cfg.Tenant.ID)
		fmt.Printf("Database path:    %s\n", rt.cfg.Database.Path)
		fmt.Printf("Cache items:      %d / %d\n", stats.Items, rt.cfg.Cache.MaxItems)
		fmt.Printf("Cache bytes:      %d\n", stats.TotalBytes)
		fmt.Printf("Revalidations:    %d queued\n", stats.QueueDepth)
		if !stats.LastMaintenance.IsZero() {
			fmt.Printf("Last maintenance: %s\n", stats.LastMaintenance.Format("2006-01-02 15:04:05"))
		}
		for kind, count := range stats.ByKind {
			fmt.Printf("  %-12s %d\n", kind, count)
		}

		fmt.Printf("\nBreaker open:     %v\n", state.Open)
		fmt.Printf("Failure count:    %d\n", state.FailureCount)
		if state.LastFailureAt != nil {
			fmt.Printf("Last failure:     %s\n", state.LastFailureAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}
