package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tidemark/mailpulse/config"
	"github.com/tidemark/mailpulse/logger"
	"github.com/tidemark/mailpulse/schedule"
)

// RunCmd starts the tick daemon.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the mailpulse tick daemon",
	Long: `Start the mailpulse daemon in foreground mode.

The daemon will:
- Open and migrate the database
- Register the built-in jobs (digest, autoLabel, cacheWarm)
- Install the periodic tick trigger while any feature is enabled
- Watch the config file for hot reload
- Run until interrupted (Ctrl+C)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// The trigger closure fires into the scheduler built a few lines
		// down; the indirection keeps construction order simple.
		var rt *runtime
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		var trigger *schedule.CronTrigger
		fire := func() {
			result, err := rt.sched.Tick(ctx)
			if err != nil {
				logger.Logger.Errorw("tick failed", logger.FieldError, err)
				return
			}
			for _, jr := range result.Jobs {
				if jr.Outcome == schedule.OutcomeErrored {
					logger.Logger.Warnw("job errored during tick",
						logger.FieldTickID, result.ID.String(),
						logger.FieldJob, jr.Job,
						logger.FieldError, jr.Err,
					)
				}
			}
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		trigger = schedule.NewCronTrigger(cfg.Scheduler.TickSpec, fire)

		rt, err = buildRuntime(cmd, trigger)
		if err != nil {
			return err
		}
		defer rt.Close()

		// Re-establish trigger state from persisted toggles: a restart must
		// not lose the "trigger exists iff any feature enabled" invariant.
		enabled, err := rt.prefs.EnabledCount(ctx, rt.cfg.Tenant.ID)
		if err != nil {
			return err
		}
		if enabled > 0 {
			if err := trigger.Ensure(); err != nil {
				return err
			}
		}
		trigger.Start()
		defer trigger.Stop()

		watcher := startConfigWatcher(cmd)
		if watcher != nil {
			defer watcher.Stop()
		}

		fmt.Printf("mailpulse daemon started\n")
		fmt.Printf("  Tenant:    %s\n", rt.cfg.Tenant.ID)
		fmt.Printf("  Database:  %s\n", rt.cfg.Database.Path)
		fmt.Printf("  Tick spec: %s\n", rt.cfg.Scheduler.TickSpec)
		fmt.Printf("  Jobs:      %v\n", rt.sched.Jobs())
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Printf("\nShutting down...\n")
		return nil
	},
}

// startConfigWatcher hot-reloads tunables when the config file changes.
// Returns nil when no config file is in play.
func startConfigWatcher(cmd *cobra.Command) *config.Watcher {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path == "" {
		path = config.GetViper().ConfigFileUsed()
	}
	if path == "" {
		return nil
	}

	watcher, err := config.NewWatcher(path)
	if err != nil {
		logger.Logger.Warnw("config watcher unavailable", logger.FieldError, err)
		return nil
	}
	watcher.OnReload(func(cfg *config.Config) error {
		logger.Logger.Infow("configuration reloaded", "path", path)
		return nil
	})
	watcher.Start()
	return watcher
}
