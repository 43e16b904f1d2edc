// Package task defines the schedulable unit: a command, its cron
// expression, and the policy around a run (gating, overlap prevention,
// output routing, lifecycle hooks). Configuration is a fluent builder —
// every setter mutates one attribute and returns the same *Definition.
package task

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"tickd/internal/cache"
	"tickd/internal/mutex"
	"tickd/internal/notify"
	"tickd/internal/schedule"
)

type Definition struct {
	store cache.Cache
	mutex *mutex.Coordinator

	command string
	expr    *schedule.Expression

	timezone     string
	user         string
	environments []string
	description  string

	evenInMaintenance bool
	preventOverlap    bool
	background        bool

	output       string
	appendOutput bool

	befores []Hook
	afters  []Hook
	whens   []Predicate
	skips   []Predicate

	clock func() time.Time
}

// New creates a definition for the given command, due every minute until
// Cron changes it. The cache handle backs overlap prevention.
func New(store cache.Cache, command string) *Definition {
	return &Definition{
		store:   store,
		mutex:   mutex.New(store),
		command: command,
		expr:    schedule.New(schedule.EveryMinute),
		output:  os.DevNull,
		clock:   time.Now,
	}
}

// ---- schedule & identity ----

// Cron replaces the schedule expression.
func (d *Definition) Cron(expression string) *Definition {
	d.expr = schedule.New(expression)
	return d
}

// Timezone sets the IANA zone the expression is evaluated in.
func (d *Definition) Timezone(tz string) *Definition {
	d.timezone = tz
	return d
}

// AsUser runs the command under another user via sudo.
func (d *Definition) AsUser(user string) *Definition {
	d.user = user
	return d
}

func (d *Definition) Command() string    { return d.command }
func (d *Definition) Expression() string { return d.expr.String() }

// MutexKey is the lock identity for this definition: stable across process
// restarts for the same (expression, command) pair.
func (d *Definition) MutexKey() string {
	return mutex.Key(d.expr.String(), d.command)
}

// ---- gating ----

// Environments restricts execution to the named environments. No arguments
// means "all environments".
func (d *Definition) Environments(envs ...string) *Definition {
	d.environments = envs
	return d
}

// EvenInMaintenanceMode lets the task run while the application is down.
func (d *Definition) EvenInMaintenanceMode() *Definition {
	d.evenInMaintenance = true
	return d
}

// WithoutOverlapping prevents concurrent runs of this task. It composes
// through the generic hook/predicate machinery: an after-hook releases the
// lock, and a reject predicate skips the run while the lock is held. The
// run path has no overlap special case beyond the acquire.
func (d *Definition) WithoutOverlapping() *Definition {
	d.preventOverlap = true
	d.After(func(rc *Context) error {
		return d.mutex.Release(rc.Ctx, d.MutexKey())
	})
	return d.Skip(func(rc *Context) (bool, error) {
		return d.mutex.IsLocked(rc.Ctx, d.MutexKey())
	})
}

// WithAtomicLocks switches overlap prevention to the compare-and-swap
// acquire. The default keeps the blind-write baseline.
func (d *Definition) WithAtomicLocks() *Definition {
	d.mutex = mutex.New(d.store, mutex.WithAtomicAcquire())
	return d
}

// When registers a filter predicate; every filter must pass for the run to
// proceed.
func (d *Definition) When(p Predicate) *Definition {
	d.whens = append(d.whens, p)
	return d
}

// Skip registers a reject predicate; any reject firing suppresses the run.
func (d *Definition) Skip(p Predicate) *Definition {
	d.skips = append(d.skips, p)
	return d
}

// ---- lifecycle hooks ----

// Before registers a hook invoked ahead of the process spawn.
func (d *Definition) Before(h Hook) *Definition {
	d.befores = append(d.befores, h)
	return d
}

// After registers a hook invoked once a foreground run has completed.
// Background runs never invoke after-hooks.
func (d *Definition) After(h Hook) *Definition {
	d.afters = append(d.afters, h)
	return d
}

// Then is an alias of After.
func (d *Definition) Then(h Hook) *Definition { return d.After(h) }

// PingBefore issues a best-effort HTTP GET ahead of each run.
func (d *Definition) PingBefore(url string) *Definition {
	return d.Before(func(rc *Context) error {
		if rc.Pinger != nil {
			rc.Pinger.Ping(rc.Ctx, url)
		}
		return nil
	})
}

// ThenPing issues a best-effort HTTP GET after each foreground run.
func (d *Definition) ThenPing(url string) *Definition {
	return d.Then(func(rc *Context) error {
		if rc.Pinger != nil {
			rc.Pinger.Ping(rc.Ctx, url)
		}
		return nil
	})
}

// ---- output & notification ----

// SendOutputTo overwrites the file at path with the run's output.
func (d *Definition) SendOutputTo(path string) *Definition {
	d.output = path
	d.appendOutput = false
	return d
}

// AppendOutputTo appends the run's output to the file at path.
func (d *Definition) AppendOutputTo(path string) *Definition {
	d.output = path
	d.appendOutput = true
	return d
}

// EmailOutputTo mails the captured output after each foreground run, even
// when the output is empty.
func (d *Definition) EmailOutputTo(addresses ...string) *Definition {
	return d.emailOutput(addresses, false)
}

// EmailWrittenOutputTo mails the captured output only when the run actually
// produced some.
func (d *Definition) EmailWrittenOutputTo(addresses ...string) *Definition {
	return d.emailOutput(addresses, true)
}

func (d *Definition) emailOutput(addresses []string, onlyIfOutput bool) *Definition {
	d.ensureOutputIsBeingCaptured()
	return d.Then(func(rc *Context) error {
		return notify.EmailOutput(rc.Ctx, rc.Mailer, d.output, d.subject(), addresses, onlyIfOutput)
	})
}

func (d *Definition) subject() string {
	if d.description != "" {
		return d.description
	}
	return notify.DefaultSubject
}

// ---- mode & description ----

// RunInBackground detaches the process spawn; the run returns immediately
// and no after-hooks fire.
func (d *Definition) RunInBackground() *Definition {
	d.background = true
	return d
}

// Name sets the human-readable description.
func (d *Definition) Name(description string) *Definition {
	d.description = description
	return d
}

// Description is an alias of Name.
func (d *Definition) Description(description string) *Definition { return d.Name(description) }

func (d *Definition) Background() bool      { return d.background }
func (d *Definition) PreventsOverlap() bool { return d.preventOverlap }
func (d *Definition) OutputPath() string    { return d.output }

// DisplayName is the description when set, otherwise the command.
func (d *Definition) DisplayName() string {
	if d.description != "" {
		return d.description
	}
	return d.command
}

// ---- evaluation protocol ----

// IsDue reports whether the task should run right now: not blocked by
// maintenance mode, expression matching the current minute in the task's
// zone, and the environment admitted by the allow-list.
func (d *Definition) IsDue(app Application) (bool, error) {
	if app.IsDownForMaintenance() && !d.evenInMaintenance {
		return false, nil
	}
	due, err := d.expressionPasses()
	if err != nil {
		return false, err
	}
	if !due {
		return false, nil
	}
	return d.runsInEnvironment(app.Environment()), nil
}

func (d *Definition) expressionPasses() (bool, error) {
	loc, err := schedule.Location(d.timezone)
	if err != nil {
		return false, err
	}
	return d.expr.Matches(d.clock().In(loc))
}

func (d *Definition) runsInEnvironment(env string) bool {
	if len(d.environments) == 0 {
		return true
	}
	return slices.Contains(d.environments, env)
}

// FiltersPass evaluates the when predicates (all must hold, short-circuit
// on the first false) then the skip predicates (any firing suppresses the
// run). Predicate errors propagate.
func (d *Definition) FiltersPass(rc *Context) (bool, error) {
	for _, p := range d.whens {
		ok, err := p(rc)
		if err != nil {
			return false, fmt.Errorf("when predicate for %q: %w", d.DisplayName(), err)
		}
		if !ok {
			return false, nil
		}
	}
	for _, p := range d.skips {
		skip, err := p(rc)
		if err != nil {
			return false, fmt.Errorf("skip predicate for %q: %w", d.DisplayName(), err)
		}
		if skip {
			return false, nil
		}
	}
	return true, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
