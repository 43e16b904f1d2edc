package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tickd/internal/cache"
	"tickd/internal/eventbus"
	"tickd/internal/task"
	logx "tickd/pkg/logx"
)

type fakeApp struct {
	env  string
	down bool
}

func (a fakeApp) Environment() string        { return a.env }
func (a fakeApp) IsDownForMaintenance() bool { return a.down }

type recordingExecutor struct {
	mu   sync.Mutex
	runs []string
	code int
	err  error
}

func (e *recordingExecutor) Run(ctx context.Context, commandLine, dir string) (int, error) {
	e.mu.Lock()
	e.runs = append(e.runs, commandLine)
	e.mu.Unlock()
	return e.code, e.err
}

func (e *recordingExecutor) Start(commandLine, dir string) error {
	e.mu.Lock()
	e.runs = append(e.runs, commandLine)
	e.mu.Unlock()
	return e.err
}

func (e *recordingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runs)
}

func newTestStore(t *testing.T) cache.Cache {
	t.Helper()
	store, err := cache.Open(cache.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func collectEvents(t *testing.T, bus eventbus.Bus) func() []eventbus.Event {
	t.Helper()
	ch, unsub := bus.Subscribe(64)
	t.Cleanup(unsub)
	return func() []eventbus.Event {
		var out []eventbus.Event
		for {
			select {
			case e := <-ch:
				out = append(out, e)
			case <-time.After(50 * time.Millisecond):
				return out
			}
		}
	}
}

func TestEvaluateRunsDueTask(t *testing.T) {
	t.Parallel()

	exec := &recordingExecutor{}
	bus := eventbus.New()
	drain := collectEvents(t, bus)

	svc := New(Config{}, Deps{App: fakeApp{env: "production"}, Exec: exec}, logx.Nop(), bus)
	d := task.New(newTestStore(t), "true").Name("always")

	svc.evaluate(context.Background(), d)

	if got := exec.count(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
	hist := svc.History()
	if len(hist) != 1 {
		t.Fatalf("history entries = %d, want 1", len(hist))
	}
	if hist[0].Task != "always" || hist[0].RunID == "" {
		t.Fatalf("unexpected history entry: %+v", hist[0])
	}

	events := drain()
	wantTypes := []string{eventbus.TypeRunStarted, eventbus.TypeRunFinished}
	if len(events) != len(wantTypes) {
		t.Fatalf("events = %d, want %d (%v)", len(events), len(wantTypes), events)
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("event[%d].Type = %q, want %q", i, events[i].Type, want)
		}
	}
}

func TestEvaluateSkipsNotDue(t *testing.T) {
	t.Parallel()

	exec := &recordingExecutor{}
	svc := New(Config{}, Deps{App: fakeApp{env: "production"}, Exec: exec}, logx.Nop(), eventbus.New())
	// A minute that never matches "now".
	d := task.New(newTestStore(t), "true").Cron("0 0 31 2 *")

	svc.evaluate(context.Background(), d)

	if got := exec.count(); got != 0 {
		t.Fatalf("runs = %d, want 0", got)
	}
	if len(svc.History()) != 0 {
		t.Fatal("not-due task must not be recorded in history")
	}
}

func TestEvaluateSkipsByFilter(t *testing.T) {
	t.Parallel()

	exec := &recordingExecutor{}
	bus := eventbus.New()
	drain := collectEvents(t, bus)

	svc := New(Config{}, Deps{App: fakeApp{env: "production"}, Exec: exec}, logx.Nop(), bus)
	d := task.New(newTestStore(t), "true").
		When(func(*task.Context) (bool, error) { return false, nil })

	svc.evaluate(context.Background(), d)

	if got := exec.count(); got != 0 {
		t.Fatalf("runs = %d, want 0", got)
	}
	events := drain()
	if len(events) != 1 || events[0].Type != eventbus.TypeRunSkipped {
		t.Fatalf("events = %v, want one %s", events, eventbus.TypeRunSkipped)
	}
}

func TestEvaluateRecordsSpawnFailure(t *testing.T) {
	t.Parallel()

	exec := &recordingExecutor{err: errors.New("boom")}
	bus := eventbus.New()
	drain := collectEvents(t, bus)

	svc := New(Config{}, Deps{App: fakeApp{env: "production"}, Exec: exec}, logx.Nop(), bus)
	d := task.New(newTestStore(t), "false").Name("failing")

	svc.evaluate(context.Background(), d)

	hist := svc.History()
	if len(hist) != 1 {
		t.Fatalf("history entries = %d, want 1", len(hist))
	}
	if hist[0].Error == "" {
		t.Fatalf("unexpected failure record: %+v", hist[0])
	}
	events := drain()
	if len(events) != 2 || events[1].Type != eventbus.TypeRunFailed {
		t.Fatalf("events = %v, want started then %s", events, eventbus.TypeRunFailed)
	}
}

func TestEvaluateRecordsExitCode(t *testing.T) {
	t.Parallel()

	// A nonzero exit is a completed run, not an orchestration failure.
	exec := &recordingExecutor{code: 3}
	bus := eventbus.New()
	drain := collectEvents(t, bus)

	svc := New(Config{}, Deps{App: fakeApp{env: "production"}, Exec: exec}, logx.Nop(), bus)
	svc.evaluate(context.Background(), task.New(newTestStore(t), "false"))

	hist := svc.History()
	if len(hist) != 1 || hist[0].ExitCode != 3 || hist[0].Error != "" {
		t.Fatalf("unexpected history: %+v", hist)
	}
	events := drain()
	if len(events) != 2 || events[1].Type != eventbus.TypeRunFinished {
		t.Fatalf("events = %v, want started then %s", events, eventbus.TypeRunFinished)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()

	svc := New(Config{HistorySize: 3}, Deps{}, logx.Nop(), nil)
	for i := 0; i < 10; i++ {
		svc.appendHistory(HistoryItem{RunID: "r", Task: "t"})
	}
	if got := len(svc.History()); got != 3 {
		t.Fatalf("history length = %d, want 3", got)
	}
}

func TestTickIsolatesTaskFailures(t *testing.T) {
	t.Parallel()

	exec := &recordingExecutor{}
	svc := New(Config{}, Deps{App: fakeApp{env: "production"}, Exec: exec}, logx.Nop(), eventbus.New())
	store := newTestStore(t)
	svc.SetTasks([]*task.Definition{
		task.New(store, "true").Cron("bad expression"),
		task.New(store, "true").Name("good"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)
	defer svc.Stop(context.Background())

	svc.Tick()

	deadline := time.After(2 * time.Second)
	for exec.count() < 1 {
		select {
		case <-deadline:
			t.Fatal("good task never ran alongside broken sibling")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := exec.count(); got != 1 {
		t.Fatalf("runs = %d, want 1 (broken task must not run)", got)
	}
}

func TestSetTasksReplacesSet(t *testing.T) {
	t.Parallel()

	svc := New(Config{}, Deps{}, logx.Nop(), nil)
	store := newTestStore(t)
	svc.Register(task.New(store, "one"))
	svc.SetTasks([]*task.Definition{task.New(store, "two"), task.New(store, "three")})

	tasks := svc.Tasks()
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tasks))
	}
	if tasks[0].Command() != "two" || tasks[1].Command() != "three" {
		t.Fatalf("unexpected task set: %q, %q", tasks[0].Command(), tasks[1].Command())
	}
}
