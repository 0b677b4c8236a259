// Package schedule multiplexes N independent job cadences onto one periodic
// tick. The platform gives us a single timer; every registered job carries
// its own due-predicate and idempotency marker so an hourly tick can drive
// daily jobs, every-tick jobs, and anything in between.
package schedule

import (
	"context"
	"time"

	"github.com/tidemark/mailpulse/errors"
)

// Cadence decides when a job fires relative to the tick stream.
type Cadence struct {
	// ShouldRun reports whether the job is due at now given the marker its
	// last successful run recorded.
	ShouldRun func(now time.Time, marker string) bool

	// Marker returns the value a successful run at now should persist, or
	// false when the cadence needs no marker.
	Marker func(now time.Time) (string, bool)
}

const dayMarkerLayout = "2006-01-02"

// DailyAt fires once per calendar day at or after the given hour, evaluated
// in the tenant's timezone. The marker is the day string of the run; a tick
// delayed past midnight lands on the next day's string, which keeps the
// comparison coarse and cheap.
func DailyAt(hour int, loc *time.Location) Cadence {
	if loc == nil {
		loc = time.UTC
	}
	return Cadence{
		ShouldRun: func(now time.Time, marker string) bool {
			local := now.In(loc)
			return local.Hour() >= hour && local.Format(dayMarkerLayout) != marker
		},
		Marker: func(now time.Time) (string, bool) {
			return now.In(loc).Format(dayMarkerLayout), true
		},
	}
}

// EveryTick fires on every tick and records no marker.
func EveryTick() Cadence {
	return Cadence{
		ShouldRun: func(time.Time, string) bool { return true },
		Marker:    func(time.Time) (string, bool) { return "", false },
	}
}

// Job is one named unit of recurring work. Enablement is not part of the job
// itself; the scheduler reads the tenant's feature toggle under the job's
// name each tick.
type Job struct {
	Name    string
	Cadence Cadence
	Run     func(ctx context.Context) error
}

func (j *Job) validate() error {
	if j.Name == "" {
		return errors.New("job name must not be empty")
	}
	if j.Cadence.ShouldRun == nil || j.Cadence.Marker == nil {
		return errors.Newf("job %s has an incomplete cadence", j.Name)
	}
	if j.Run == nil {
		return errors.Newf("job %s has no run function", j.Name)
	}
	return nil
}
