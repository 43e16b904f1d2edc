// Package schedule wraps cron expression parsing and due-matching.
package schedule

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// EveryMinute is the default expression for a task that never set one.
const EveryMinute = "* * * * *"

// parser accepts the standard 5-field crontab form, an optional leading
// seconds field, and "@"-descriptors like @hourly.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Expression is a cron expression compiled on first use. A bad expression
// surfaces its parse error from Matches on every call — an unparsable
// schedule is an error, never "not due".
type Expression struct {
	spec string

	once  sync.Once
	sched cron.Schedule
	err   error
}

func New(spec string) *Expression {
	return &Expression{spec: spec}
}

func (e *Expression) String() string { return e.spec }

// Matches reports whether the expression fires at the minute containing t.
// The check is minute-granular: t is truncated to its minute and probed
// against the schedule's next activation. The next activation is truncated
// too, so a 6-field expression firing at a non-zero second still counts as
// due for its minute.
func (e *Expression) Matches(t time.Time) (bool, error) {
	e.once.Do(e.compile)
	if e.err != nil {
		return false, e.err
	}
	min := t.Truncate(time.Minute)
	next := e.sched.Next(min.Add(-time.Second))
	return next.Truncate(time.Minute).Equal(min), nil
}

func (e *Expression) compile() {
	sched, err := parser.Parse(e.spec)
	if err != nil {
		e.err = fmt.Errorf("parse cron expression %q: %w", e.spec, err)
		return
	}
	// "@every" produces a delay relative to the probe time, which can never
	// line up with a minute-boundary due check. Reject it up front instead
	// of letting the task silently never fire.
	if _, ok := sched.(cron.ConstantDelaySchedule); ok {
		e.err = fmt.Errorf("interval expression %q is not supported for due-matching; use a cron form", e.spec)
		return
	}
	e.sched = sched
}

// Validate reports whether spec would compile, without building an
// Expression. Config loading uses it to reject bad schedules up front.
func Validate(spec string) error {
	e := New(spec)
	e.once.Do(e.compile)
	return e.err
}

// Location resolves an IANA timezone name, with "" meaning the process-local
// zone.
func Location(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return loc, nil
}
