package schedule

import (
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/tidemark/mailpulse/errors"
	"github.com/tidemark/mailpulse/logger"
)

// TriggerController manages the single external timer that drives ticks.
// Ensure installs it when at least one feature is enabled; Retire tears it
// down when none are. Both are idempotent.
type TriggerController interface {
	Ensure() error
	Retire() error
}

// CronTrigger drives ticks from an in-process cron runner. The spec string
// uses the standard cron grammar plus descriptors like @hourly.
type CronTrigger struct {
	mu     sync.Mutex
	runner *cron.Cron
	spec   string
	fire   func()
	entry  cron.EntryID
	active bool
}

// NewCronTrigger creates a trigger that calls fire on the given cadence. The
// runner is not started; call Start once wiring is complete.
func NewCronTrigger(spec string, fire func()) *CronTrigger {
	return &CronTrigger{
		runner: cron.New(),
		spec:   spec,
		fire:   fire,
	}
}

// Start begins the cron runner. Entries only fire between Start and Stop.
func (t *CronTrigger) Start() {
	t.runner.Start()
}

// Stop halts the runner and waits for a running fire to finish.
func (t *CronTrigger) Stop() {
	ctx := t.runner.Stop()
	<-ctx.Done()
}

func (t *CronTrigger) Ensure() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active {
		return nil
	}
	entry, err := t.runner.AddFunc(t.spec, t.fire)
	if err != nil {
		return errors.Wrapf(err, "failed to install trigger with spec %q", t.spec)
	}
	t.entry = entry
	t.active = true
	logger.Logger.Infow("tick trigger installed", "spec", t.spec)
	return nil
}

func (t *CronTrigger) Retire() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		return nil
	}
	t.runner.Remove(t.entry)
	t.active = false
	logger.Logger.Infow("tick trigger retired", "spec", t.spec)
	return nil
}

// Active reports whether the trigger is currently installed.
func (t *CronTrigger) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// NoopTrigger satisfies TriggerController where ticks are driven manually
// (tests, the one-shot tick command).
type NoopTrigger struct{}

func (NoopTrigger) Ensure() error { return nil }
func (NoopTrigger) Retire() error { return nil }
