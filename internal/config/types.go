package config

import (
	"fmt"
	"net/mail"
	"strings"

	"tickd/internal/schedule"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Cache     CacheConfig     `json:"cache"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// Mailer is optional; tasks that email output fail at run time when it
	// is omitted.
	Mailer *MailerConfig `json:"mailer,omitempty"`

	Tasks []TaskConfig `json:"tasks"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// CacheConfig selects the shared store backing overlap locks.
//
// Example:
//
//	"cache": { "driver": "sqlite", "path": "./tickd.db" }
type CacheConfig struct {
	Driver string `json:"driver"`
	Prefix string `json:"prefix,omitempty"`
	Path   string `json:"path,omitempty"`
	URL    string `json:"url,omitempty"`
	// BusyTimeout is a Go duration string (sqlite).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the tick loop and the application view tasks are
// gated on.
type SchedulerConfig struct {
	// Environment is matched against each task's environment list.
	// Defaults to "production".
	Environment string `json:"environment,omitempty"`

	// Timezone is the default zone for task schedules without their own.
	Timezone string `json:"timezone,omitempty"`

	// StateDir holds the maintenance-mode marker. Defaults to the working
	// directory.
	StateDir string `json:"state_dir,omitempty"`

	// ProjectRoot is the working directory commands are spawned in.
	ProjectRoot string `json:"project_root,omitempty"`

	// AtomicLocks switches overlap acquisition to compare-and-set.
	AtomicLocks bool `json:"atomic_locks,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
}

type MailerConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	From     string `json:"from"`
}

// TaskConfig is the file form of one scheduled task. It maps onto the
// fluent builder field by field.
type TaskConfig struct {
	Description string `json:"description,omitempty"`
	Command     string `json:"command"`

	// Schedule is a cron expression (5-field, optional seconds, or an
	// "@"-descriptor). Defaults to every minute.
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	User         string   `json:"user,omitempty"`
	Environments []string `json:"environments,omitempty"`

	Background         bool `json:"background,omitempty"`
	WithoutOverlapping bool `json:"without_overlapping,omitempty"`
	EvenInMaintenance  bool `json:"even_in_maintenance,omitempty"`

	Output *OutputConfig `json:"output,omitempty"`
	Email  *EmailConfig  `json:"email,omitempty"`

	PingBefore string `json:"ping_before,omitempty"`
	ThenPing   string `json:"then_ping,omitempty"`
}

type OutputConfig struct {
	Path   string `json:"path"`
	Append bool   `json:"append,omitempty"`
}

type EmailConfig struct {
	To []string `json:"to"`
	// OnlyIfOutput suppresses the mail when the run produced no output.
	OnlyIfOutput bool `json:"only_if_output,omitempty"`
}

// Validate checks cross-field constraints the JSON decoder cannot express.
func (c *Config) Validate() error {
	switch strings.TrimSpace(c.Cache.Driver) {
	case "", "memory":
	case "sqlite":
		if strings.TrimSpace(c.Cache.Path) == "" {
			return fmt.Errorf("cache: sqlite driver requires path")
		}
	case "redis":
		if strings.TrimSpace(c.Cache.URL) == "" {
			return fmt.Errorf("cache: redis driver requires url")
		}
	default:
		return fmt.Errorf("cache: unknown driver %q", c.Cache.Driver)
	}
	if _, err := ParseDurationField("cache.busy_timeout", c.Cache.BusyTimeout); err != nil {
		return err
	}

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := schedule.Location(tz); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}
	if c.Scheduler.HistorySize < 0 {
		return fmt.Errorf("scheduler: history_size must be >= 0")
	}

	if m := c.Mailer; m != nil {
		if strings.TrimSpace(m.Host) == "" {
			return fmt.Errorf("mailer: host is required")
		}
		if m.Port <= 0 || m.Port > 65535 {
			return fmt.Errorf("mailer: invalid port %d", m.Port)
		}
		if _, err := mail.ParseAddress(m.From); err != nil {
			return fmt.Errorf("mailer: invalid from address %q: %w", m.From, err)
		}
	}

	for i := range c.Tasks {
		if err := c.Tasks[i].validate(); err != nil {
			return fmt.Errorf("tasks[%d]: %w", i, err)
		}
		if c.Tasks[i].Email != nil && c.Mailer == nil {
			return fmt.Errorf("tasks[%d]: email requires a mailer section", i)
		}
	}
	return nil
}

func (t *TaskConfig) validate() error {
	if strings.TrimSpace(t.Command) == "" {
		return fmt.Errorf("command is required")
	}
	if s := strings.TrimSpace(t.Schedule); s != "" {
		if err := schedule.Validate(s); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(t.Timezone); tz != "" {
		if _, err := schedule.Location(tz); err != nil {
			return err
		}
	}
	if t.Output != nil && strings.TrimSpace(t.Output.Path) == "" {
		return fmt.Errorf("output: path is required")
	}
	if t.Email != nil {
		if len(t.Email.To) == 0 {
			return fmt.Errorf("email: at least one recipient is required")
		}
		for _, addr := range t.Email.To {
			if _, err := mail.ParseAddress(addr); err != nil {
				return fmt.Errorf("email: invalid recipient %q: %w", addr, err)
			}
		}
	}
	return nil
}
