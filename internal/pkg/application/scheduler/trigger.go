package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type trigger interface {
	// Next returns the first fire time strictly after now, zero if none.
	Next(now time.Time) time.Time
	String() string
}

type intervalTrigger struct {
	start time.Time
	every time.Duration
}

func (t intervalTrigger) Next(now time.Time) time.Time {
	if now.Before(t.start) {
		return t.start
	}
	n := now.Sub(t.start)/t.every + 1
	return t.start.Add(n * t.every)
}

func (t intervalTrigger) String() string {
	return fmt.Sprintf("every %s", t.every)
}

type cronTrigger struct {
	expr     string
	schedule cron.Schedule
}

func (t cronTrigger) Next(now time.Time) time.Time {
	return t.schedule.Next(now)
}

func (t cronTrigger) String() string {
	return fmt.Sprintf("cron %s", t.expr)
}

// onceTrigger always reports its run time, firing it once is up to the scheduler.
type onceTrigger struct {
	at time.Time
}

func (t onceTrigger) Next(time.Time) time.Time {
	return t.at
}

func (t onceTrigger) String() string {
	return fmt.Sprintf("at %s", t.at.Format(time.RFC3339))
}

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron accepts five fields (minute hour day month weekday) or six with
// leading seconds.
func ParseCron(expr string, loc *time.Location) (cron.Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 && len(fields) != 6 {
		return nil, fmt.Errorf("%w: cron expression %q has %d fields, expected 5 or 6", ErrValidation, expr, len(fields))
	}

	normalized := strings.Join(fields, " ")
	if loc != nil {
		normalized = "CRON_TZ=" + loc.String() + " " + normalized
	}

	schedule, err := cronParser.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: cron expression %q: %s", ErrValidation, expr, err.Error())
	}

	return schedule, nil
}

func newTrigger(spec JobSpec, now time.Time, loc *time.Location) (trigger, error) {
	switch spec.Kind {
	case Interval:
		if spec.Every <= 0 {
			return nil, fmt.Errorf("%w: interval must be positive, got %s", ErrValidation, spec.Every)
		}
		return intervalTrigger{start: now.Add(spec.Every), every: spec.Every}, nil
	case Cron:
		schedule, err := ParseCron(spec.Cron, loc)
		if err != nil {
			return nil, err
		}
		return cronTrigger{expr: spec.Cron, schedule: schedule}, nil
	case OneShot:
		if spec.RunAt.IsZero() {
			return nil, fmt.Errorf("%w: one-shot job needs a run time", ErrValidation)
		}
		return onceTrigger{at: spec.RunAt}, nil
	default:
		return nil, fmt.Errorf("%w: unknown job kind %d", ErrValidation, int(spec.Kind))
	}
}
