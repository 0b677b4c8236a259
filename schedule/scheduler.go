package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tidemark/mailpulse/cache"
	"github.com/tidemark/mailpulse/errors"
	"github.com/tidemark/mailpulse/logger"
)

// Outcome classifies what happened to one job during a tick.
type Outcome string

const (
	OutcomeRan             Outcome = "ran"
	OutcomeSkippedDisabled Outcome = "skipped-disabled"
	OutcomeSkippedNotDue   Outcome = "skipped-not-due"
	OutcomeErrored         Outcome = "errored"
)

// JobResult is the per-job slice of a TickResult.
type JobResult struct {
	Job     string
	Outcome Outcome
	Err     error
}

// TickResult summarizes one tick for observability. It is never persisted.
type TickResult struct {
	ID          uuid.UUID
	At          time.Time
	Jobs        []JobResult
	Maintenance *cache.MaintenanceReport
	Duration    time.Duration
}

// maintainer is the slice of the cache the scheduler drives at the end of
// each tick.
type maintainer interface {
	MaintenanceDue(ctx context.Context) (bool, error)
	RunMaintenance(ctx context.Context) (cache.MaintenanceReport, error)
}

// Scheduler owns the single periodic tick and fans it out to registered
// jobs. Jobs are evaluated strictly in registration order; one job's failure
// never blocks the jobs after it.
type Scheduler struct {
	tenant  string
	markers *markerStore
	prefs   *PrefStore
	trigger TriggerController
	cache   maintainer

	jobs  []*Job
	names map[string]struct{}

	log *zap.SugaredLogger
	now func() time.Time
}

// New builds a Scheduler. cache may be nil when maintenance is driven
// elsewhere; trigger may be nil when no external timer bookkeeping is needed.
func New(tenant string, db *sql.DB, prefs *PrefStore, trigger TriggerController, c maintainer) *Scheduler {
	if trigger == nil {
		trigger = NoopTrigger{}
	}
	return &Scheduler{
		tenant:  tenant,
		markers: &markerStore{db: db},
		prefs:   prefs,
		trigger: trigger,
		cache:   c,
		names:   make(map[string]struct{}),
		log:     logger.Named("schedule").With(logger.FieldTenant, tenant),
		now:     time.Now,
	}
}

// RegisterJob adds a job to the tick rotation. Names must be unique; the
// tick evaluates jobs in the order they were registered.
func (s *Scheduler) RegisterJob(job *Job) error {
	if err := job.validate(); err != nil {
		return err
	}
	if _, exists := s.names[job.Name]; exists {
		return errors.Newf("job %s is already registered", job.Name)
	}
	s.names[job.Name] = struct{}{}
	s.jobs = append(s.jobs, job)
	return nil
}

// Jobs returns the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	names := make([]string, len(s.jobs))
	for i, job := range s.jobs {
		names[i] = job.Name
	}
	return names
}

// EnableFeature turns the named job's toggle on and makes sure the external
// trigger is installed.
func (s *Scheduler) EnableFeature(ctx context.Context, name string) error {
	if _, exists := s.names[name]; !exists {
		return errors.Newf("no job registered with name %s", name)
	}
	if err := s.prefs.SetEnabled(ctx, s.tenant, name, true); err != nil {
		return err
	}
	return s.trigger.Ensure()
}

// DisableFeature turns the toggle off and retires the external trigger when
// no features remain enabled.
func (s *Scheduler) DisableFeature(ctx context.Context, name string) error {
	if _, exists := s.names[name]; !exists {
		return errors.Newf("no job registered with name %s", name)
	}
	if err := s.prefs.SetEnabled(ctx, s.tenant, name, false); err != nil {
		return err
	}
	count, err := s.prefs.EnabledCount(ctx, s.tenant)
	if err != nil {
		return err
	}
	if count == 0 {
		return s.trigger.Retire()
	}
	return nil
}

// Tick runs one scheduler pass: evaluate every job in registration order,
// then drive cache maintenance. Job errors are captured in the result, never
// returned; the error return covers only the tick's own bookkeeping.
func (s *Scheduler) Tick(ctx context.Context) (*TickResult, error) {
	now := s.now()
	result := &TickResult{
		ID:   uuid.New(),
		At:   now,
		Jobs: make([]JobResult, 0, len(s.jobs)),
	}
	log := s.log.With(logger.FieldTickID, result.ID.String())
	log.Debugw("tick started")

	for _, job := range s.jobs {
		result.Jobs = append(result.Jobs, s.evaluate(ctx, log, job, now))
	}

	if s.cache != nil {
		if err := s.maintain(ctx, log, result); err != nil {
			return result, err
		}
	}

	result.Duration = time.Since(now)
	log.Infow("tick complete",
		logger.FieldDurationMS, result.Duration.Milliseconds(),
		"jobs", len(result.Jobs),
	)
	return result, nil
}

func (s *Scheduler) evaluate(ctx context.Context, log *zap.SugaredLogger, job *Job, now time.Time) JobResult {
	jlog := log.With(logger.FieldJob, job.Name)

	enabled, err := s.prefs.IsEnabled(ctx, s.tenant, job.Name)
	if err != nil {
		jlog.Errorw("failed to read feature toggle", logger.FieldError, err)
		return JobResult{Job: job.Name, Outcome: OutcomeErrored, Err: err}
	}
	if !enabled {
		jlog.Debugw("job skipped, feature disabled")
		return JobResult{Job: job.Name, Outcome: OutcomeSkippedDisabled}
	}

	marker, err := s.markers.get(ctx, s.tenant, job.Name)
	if err != nil {
		jlog.Errorw("failed to read idempotency marker", logger.FieldError, err)
		return JobResult{Job: job.Name, Outcome: OutcomeErrored, Err: err}
	}
	if !job.Cadence.ShouldRun(now, marker) {
		jlog.Debugw("job skipped, not due")
		return JobResult{Job: job.Name, Outcome: OutcomeSkippedNotDue}
	}

	if err := s.run(ctx, job); err != nil {
		jlog.Errorw("job failed", logger.FieldError, err)
		return JobResult{Job: job.Name, Outcome: OutcomeErrored, Err: err}
	}

	// The marker is written only after a successful run. A crash mid-run
	// leaves the job due again on the next tick.
	if value, ok := job.Cadence.Marker(now); ok {
		if err := s.markers.set(ctx, s.tenant, job.Name, value, now); err != nil {
			jlog.Errorw("failed to write idempotency marker", logger.FieldError, err)
			return JobResult{Job: job.Name, Outcome: OutcomeErrored, Err: err}
		}
	}

	jlog.Infow("job ran")
	return JobResult{Job: job.Name, Outcome: OutcomeRan}
}

// run executes the job, converting a panic into an error so one misbehaving
// job cannot take down the tick.
func (s *Scheduler) run(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("job %s panicked: %v", job.Name, r)
		}
	}()
	return job.Run(ctx)
}

func (s *Scheduler) maintain(ctx context.Context, log *zap.SugaredLogger, result *TickResult) error {
	due, err := s.cache.MaintenanceDue(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check cache maintenance")
	}
	if !due {
		return nil
	}
	report, err := s.cache.RunMaintenance(ctx)
	if err != nil {
		return errors.Wrap(err, "cache maintenance failed")
	}
	result.Maintenance = &report
	return nil
}
