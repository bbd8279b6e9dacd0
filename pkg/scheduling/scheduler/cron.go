package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	gferrors "github.com/vnykmshr/gowork/pkg/common/errors"
)

// cronParser accepts six fields, seconds first, plus descriptors:
//
//	"*/5 * * * * *"   every 5 seconds
//	"0 30 14 * * 1-5" 2:30 PM on weekdays
//	"@hourly"         every hour
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// CronOptions tunes a cron entry.
type CronOptions struct {
	// MaxRuns removes the entry after this many dispatches (0 = unlimited).
	MaxRuns int

	// Location overrides the scheduler location for this entry.
	Location *time.Location
}

// CronDescription is a readable summary of a cron expression.
type CronDescription struct {
	Expression  string
	Description string
	NextRuns    []time.Time
	Location    string
}

// ParseCron parses a cron expression in the scheduler's format.
func ParseCron(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, gferrors.NewValidationError("scheduler", "cronExpr", expr, "cannot be empty")
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, gferrors.NewValidationError("scheduler", "cronExpr", expr, err.Error()).
			WithHint("expected six fields with seconds first, or a descriptor such as @hourly")
	}
	return schedule, nil
}

// ValidateCronExpression reports whether expr can be scheduled.
func ValidateCronExpression(expr string) error {
	_, err := ParseCron(expr)
	return err
}

// DescribeCron returns the next n run times of expr after from, evaluated
// in loc (time.Local when nil).
func DescribeCron(expr string, from time.Time, n int, loc *time.Location) (CronDescription, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return CronDescription{}, err
	}
	if loc == nil {
		loc = time.Local
	}

	runs := make([]time.Time, 0, n)
	current := from.In(loc)
	for i := 0; i < n; i++ {
		current = schedule.Next(current)
		if current.IsZero() {
			break
		}
		runs = append(runs, current)
	}

	return CronDescription{
		Expression:  expr,
		Description: describe(expr),
		NextRuns:    runs,
		Location:    loc.String(),
	}, nil
}

func describe(expr string) string {
	switch expr {
	case "@yearly", "@annually":
		return "Once a year (January 1st at midnight)"
	case "@monthly":
		return "Once a month (1st day at midnight)"
	case "@weekly":
		return "Once a week (Sunday at midnight)"
	case "@daily", "@midnight":
		return "Once a day (at midnight)"
	case "@hourly":
		return "Once an hour (at minute 0)"
	}
	return fmt.Sprintf("Custom schedule: %s", expr)
}

// inLocation evaluates a schedule in a fixed location.
type inLocation struct {
	cron.Schedule
	loc *time.Location
}

func (s inLocation) Next(t time.Time) time.Time {
	return s.Schedule.Next(t.In(s.loc))
}

// UpdateCron replaces the expression of a cron entry and recomputes its next
// run. The run count is kept.
func (s *Scheduler) UpdateCron(id string, cronExpr string) error {
	schedule, err := ParseCron(cronExpr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.schedule == nil {
		return fmt.Errorf("cron entry %q not found", id)
	}

	loc := e.schedule.(inLocation).loc
	e.schedule = inLocation{schedule, loc}
	e.cronExpr = cronExpr
	e.runAt = e.schedule.Next(s.now())
	return nil
}

// NextRun returns when the entry will be dispatched next.
func (s *Scheduler) NextRun(id string) (time.Time, bool) {
	e, ok := s.Get(id)
	if !ok {
		return time.Time{}, false
	}
	return e.RunAt, true
}
