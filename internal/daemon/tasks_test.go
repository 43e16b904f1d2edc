package daemon

import (
	"testing"

	"tickd/internal/cache"
	"tickd/internal/config"
	logx "tickd/pkg/logx"
)

func newStore(t *testing.T) cache.Cache {
	t.Helper()
	store, err := cache.Open(cache.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBuildTasksMapsFields(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{Timezone: "UTC"},
		Tasks: []config.TaskConfig{
			{
				Description:        "send queued mail",
				Command:            "php artisan emails:send",
				Schedule:           "*/5 * * * *",
				User:               "deploy",
				Environments:       []string{"production"},
				WithoutOverlapping: true,
			},
			{
				Command:    "backup.sh",
				Schedule:   "@daily",
				Timezone:   "Asia/Jakarta",
				Background: true,
				Output:     &config.OutputConfig{Path: "/var/log/backup.log", Append: true},
			},
		},
	}

	defs, err := BuildTasks(cfg, newStore(t))
	if err != nil {
		t.Fatalf("BuildTasks: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("defs = %d, want 2", len(defs))
	}

	first := defs[0]
	if first.Expression() != "*/5 * * * *" {
		t.Errorf("expression = %q", first.Expression())
	}
	if !first.PreventsOverlap() {
		t.Error("without_overlapping not applied")
	}
	if first.DisplayName() != "send queued mail" {
		t.Errorf("display name = %q", first.DisplayName())
	}
	if got := first.CommandLine(); got != "sudo -u deploy -- sh -c '(php artisan emails:send) > '\\''/dev/null'\\'' 2>&1'" {
		t.Errorf("command line = %q", got)
	}

	second := defs[1]
	if !second.Background() {
		t.Error("background not applied")
	}
	if second.OutputPath() != "/var/log/backup.log" {
		t.Errorf("output path = %q", second.OutputPath())
	}
}

func TestBuildTasksInheritsSchedulerTimezone(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{Timezone: "America/New_York"},
		Tasks:     []config.TaskConfig{{Command: "true", Schedule: "0 9 * * *"}},
	}
	defs, err := BuildTasks(cfg, newStore(t))
	if err != nil {
		t.Fatalf("BuildTasks: %v", err)
	}
	// Due at 09:00 New York time, not process-local time.
	d := defs[0]
	if d.Expression() != "0 9 * * *" {
		t.Fatalf("expression = %q", d.Expression())
	}
}

func TestBuildTasksRejectsEmptyCommand(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Tasks: []config.TaskConfig{{Command: "  "}}}
	if _, err := BuildTasks(cfg, newStore(t)); err == nil {
		t.Fatal("empty command must be rejected")
	}
}
