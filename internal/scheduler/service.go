package scheduler

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"tickd/internal/eventbus"
	"tickd/internal/notify"
	"tickd/internal/runner"
	"tickd/internal/runtime/supervisor"
	"tickd/internal/task"
	logx "tickd/pkg/logx"
)

type Config struct {
	HistorySize int
}

// Deps are the collaborators handed to every run via task.Context.
type Deps struct {
	App    task.Application
	Exec   runner.Executor
	Dir    string // project root; working directory for spawned processes
	Mailer notify.Mailer
	Pinger *notify.Pinger
}

// RunEvent is the payload published on the event bus for run lifecycle
// events.
type RunEvent struct {
	RunID    string        `json:"run_id"`
	Task     string        `json:"task"`
	Command  string        `json:"command"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type HistoryItem struct {
	RunID    string
	Task     string
	Started  time.Time
	Duration time.Duration
	ExitCode int
	Error    string
}

type Service struct {
	mu   sync.Mutex
	cfg  Config
	log  logx.Logger
	bus  eventbus.Bus
	deps Deps

	defs []*task.Definition
	sup  *supervisor.Supervisor

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, deps Deps, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, deps: deps, log: log, bus: bus}
}

// Register appends a task definition.
func (s *Service) Register(d *task.Definition) {
	s.warnBackgroundOverlap(d)
	s.mu.Lock()
	s.defs = append(s.defs, d)
	s.mu.Unlock()
}

// SetTasks atomically replaces the registered task set (config reload).
func (s *Service) SetTasks(defs []*task.Definition) {
	for _, d := range defs {
		s.warnBackgroundOverlap(d)
	}
	s.mu.Lock()
	s.defs = slices.Clone(defs)
	s.mu.Unlock()
	s.log.Info("task set replaced", logx.Int("tasks", len(defs)))
}

// Tasks returns a snapshot of the registered definitions.
func (s *Service) Tasks() []*task.Definition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.defs)
}

// warnBackgroundOverlap makes the lock-starvation gap visible: background
// runs never invoke after-hooks, so an overlap-prevented background task
// only ever frees its lock through TTL expiry.
func (s *Service) warnBackgroundOverlap(d *task.Definition) {
	if d.Background() && d.PreventsOverlap() {
		s.log.Warn("background task with overlap prevention: lock is released only by TTL expiry",
			logx.String("task", d.DisplayName()),
		)
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.sup.Go("tick-loop", s.loop)
	s.log.Info("scheduler started", logx.Int("tasks", len(s.defs)))
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("scheduler stopped")
	return err
}

// loop fires Tick at every minute boundary.
func (s *Service) loop(ctx context.Context) error {
	for {
		now := time.Now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			s.Tick()
		}
	}
}

// Tick dispatches one evaluation goroutine per registered task. Evaluation
// and the run itself stay off the tick goroutine, so a slow foreground task
// or a failing cache delays nothing but its own task.
func (s *Service) Tick() {
	s.mu.Lock()
	defs := slices.Clone(s.defs)
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		return
	}
	for _, d := range defs {
		d := d
		sup.Go("run "+d.DisplayName(), func(ctx context.Context) error {
			s.evaluate(ctx, d)
			return nil
		})
	}
}

// evaluate runs the full protocol for one task: due check, filter check,
// run. Errors are logged and published per task, never propagated into the
// tick.
func (s *Service) evaluate(ctx context.Context, d *task.Definition) {
	due, err := d.IsDue(s.deps.App)
	if err != nil {
		s.log.Error("due check failed", logx.String("task", d.DisplayName()), logx.Err(err))
		s.publish(eventbus.TypeRunFailed, RunEvent{Task: d.DisplayName(), Command: d.Command(), Error: err.Error()})
		return
	}
	if !due {
		return
	}

	rc := &task.Context{
		Ctx:    ctx,
		App:    s.deps.App,
		Exec:   s.deps.Exec,
		Dir:    s.deps.Dir,
		Mailer: s.deps.Mailer,
		Pinger: s.deps.Pinger,
		Log:    s.log,
	}

	pass, err := d.FiltersPass(rc)
	if err != nil {
		s.log.Error("filter check failed", logx.String("task", d.DisplayName()), logx.Err(err))
		s.publish(eventbus.TypeRunFailed, RunEvent{Task: d.DisplayName(), Command: d.Command(), Error: err.Error()})
		return
	}
	if !pass {
		s.log.Debug("task skipped by filters", logx.String("task", d.DisplayName()))
		s.publish(eventbus.TypeRunSkipped, RunEvent{Task: d.DisplayName(), Command: d.Command()})
		return
	}

	rid := uuid.NewString()
	s.publish(eventbus.TypeRunStarted, RunEvent{RunID: rid, Task: d.DisplayName(), Command: d.Command()})

	start := time.Now()
	runErr := d.Run(rc)
	dur := time.Since(start)

	item := HistoryItem{
		RunID:    rid,
		Task:     d.DisplayName(),
		Started:  start,
		Duration: dur,
		ExitCode: rc.ExitCode,
	}
	ev := RunEvent{RunID: rid, Task: d.DisplayName(), Command: d.Command(), ExitCode: rc.ExitCode, Duration: dur}
	if runErr != nil {
		item.Error = runErr.Error()
		ev.Error = runErr.Error()
		s.log.Warn("run failed", logx.String("task", d.DisplayName()), logx.Err(runErr), logx.Duration("took", dur))
		s.publish(eventbus.TypeRunFailed, ev)
	} else {
		s.log.Info("run ok", logx.String("task", d.DisplayName()), logx.Int("exit_code", rc.ExitCode), logx.Duration("took", dur))
		s.publish(eventbus.TypeRunFinished, ev)
	}
	s.appendHistory(item)
}

func (s *Service) publish(typ string, ev RunEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func (s *Service) appendHistory(item HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
}

// History returns a snapshot of recent runs, newest last.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return slices.Clone(s.history)
}
