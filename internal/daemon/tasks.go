package daemon

import (
	"fmt"
	"strings"

	"tickd/internal/cache"
	"tickd/internal/config"
	"tickd/internal/task"
)

// BuildTasks maps declarative task entries onto the fluent builder. The
// config has already passed Validate; errors here mean the two drifted.
func BuildTasks(cfg *config.Config, store cache.Cache) ([]*task.Definition, error) {
	defs := make([]*task.Definition, 0, len(cfg.Tasks))
	for i, tc := range cfg.Tasks {
		d, err := buildTask(cfg, tc, store)
		if err != nil {
			return nil, fmt.Errorf("tasks[%d] (%s): %w", i, tc.Command, err)
		}
		defs = append(defs, d)
	}
	return defs, nil
}

func buildTask(cfg *config.Config, tc config.TaskConfig, store cache.Cache) (*task.Definition, error) {
	if strings.TrimSpace(tc.Command) == "" {
		return nil, fmt.Errorf("command is required")
	}
	d := task.New(store, tc.Command)

	if s := strings.TrimSpace(tc.Schedule); s != "" {
		d.Cron(s)
	}

	// A task without its own zone inherits the scheduler default.
	tz := strings.TrimSpace(tc.Timezone)
	if tz == "" {
		tz = strings.TrimSpace(cfg.Scheduler.Timezone)
	}
	if tz != "" {
		d.Timezone(tz)
	}

	if tc.User != "" {
		d.AsUser(tc.User)
	}
	if len(tc.Environments) > 0 {
		d.Environments(tc.Environments...)
	}
	if tc.EvenInMaintenance {
		d.EvenInMaintenanceMode()
	}
	if tc.WithoutOverlapping {
		d.WithoutOverlapping()
	}
	if cfg.Scheduler.AtomicLocks {
		d.WithAtomicLocks()
	}
	if tc.Background {
		d.RunInBackground()
	}
	if tc.Output != nil {
		if tc.Output.Append {
			d.AppendOutputTo(tc.Output.Path)
		} else {
			d.SendOutputTo(tc.Output.Path)
		}
	}
	if tc.Email != nil {
		if tc.Email.OnlyIfOutput {
			d.EmailWrittenOutputTo(tc.Email.To...)
		} else {
			d.EmailOutputTo(tc.Email.To...)
		}
	}
	if tc.PingBefore != "" {
		d.PingBefore(tc.PingBefore)
	}
	if tc.ThenPing != "" {
		d.ThenPing(tc.ThenPing)
	}
	if tc.Description != "" {
		d.Name(tc.Description)
	}
	return d, nil
}
