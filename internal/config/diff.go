package config

import (
	"reflect"
	"sort"
	"strings"

	logx "tickd/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like the
// mailer password), and (3) the commands of tasks that changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Cache (lock store)
	if !reflect.DeepEqual(oldCfg.Cache, newCfg.Cache) {
		changed = append(changed, "cache")
		attrs = append(attrs,
			logx.String("cache.driver", strings.TrimSpace(newCfg.Cache.Driver)),
			logx.Bool("cache.path_set", strings.TrimSpace(newCfg.Cache.Path) != ""),
			logx.Bool("cache.url_set", strings.TrimSpace(newCfg.Cache.URL) != ""),
		)
	}

	// Scheduler
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.environment", strings.TrimSpace(newCfg.Scheduler.Environment)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
			logx.Bool("scheduler.atomic_locks", newCfg.Scheduler.AtomicLocks),
			logx.Int("scheduler.history_size", newCfg.Scheduler.HistorySize),
		)
	}

	// Mailer (never log password)
	oM, nM := oldCfg.Mailer, newCfg.Mailer
	if (oM == nil) != (nM == nil) || (oM != nil && nM != nil && *oM != *nM) {
		changed = append(changed, "mailer")
		present := nM != nil
		attrs = append(attrs, logx.Bool("mailer.present", present))
		if present {
			attrs = append(attrs,
				logx.String("mailer.host", strings.TrimSpace(nM.Host)),
				logx.Int("mailer.port", nM.Port),
				logx.Bool("mailer.password_set", strings.TrimSpace(nM.Password) != ""),
			)
		}
	}

	// Tasks (summarize only; details at debug)
	taskChanged := diffTasks(oldCfg.Tasks, newCfg.Tasks)
	if len(taskChanged) > 0 {
		changed = append(changed, "tasks")
		attrs = append(attrs,
			logx.Int("tasks.changed_count", len(taskChanged)),
			logx.Int("tasks.count", len(newCfg.Tasks)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, taskChanged
}

// diffTasks keys tasks by command. Two entries with the same command are
// rare enough that treating them as one changed unit is fine for a summary.
func diffTasks(oldT, newT []TaskConfig) []string {
	oldByCmd := map[string]TaskConfig{}
	for _, t := range oldT {
		oldByCmd[t.Command] = t
	}
	newByCmd := map[string]TaskConfig{}
	for _, t := range newT {
		newByCmd[t.Command] = t
	}

	set := map[string]struct{}{}
	for k := range oldByCmd {
		set[k] = struct{}{}
	}
	for k := range newByCmd {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for cmd := range set {
		o, oOK := oldByCmd[cmd]
		n, nOK := newByCmd[cmd]
		if oOK != nOK || !reflect.DeepEqual(o, n) {
			out = append(out, cmd)
		}
	}
	sort.Strings(out)
	return out
}
