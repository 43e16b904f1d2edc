// Package daemon wires the engine together: config, logging, the lock
// store, collaborators, and the scheduler service, plus config hot-reload.
package daemon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tickd/internal/app"
	"tickd/internal/cache"
	"tickd/internal/config"
	"tickd/internal/eventbus"
	"tickd/internal/notify"
	"tickd/internal/runner"
	"tickd/internal/runtime/supervisor"
	"tickd/internal/scheduler"
	logx "tickd/pkg/logx"
)

type Daemon struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store  cache.Cache
	appc   *app.App
	mailer notify.Mailer
	pinger *notify.Pinger
	exec   runner.Executor
	bus    eventbus.Bus

	sched *scheduler.Service
}

func New(cfgPath string) (*Daemon, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "daemon"))

	busyTimeout, err := config.ParseDurationField("cache.busy_timeout", cfg.Cache.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := cache.Open(cache.Config{
		Driver:      cfg.Cache.Driver,
		Prefix:      cfg.Cache.Prefix,
		Path:        cfg.Cache.Path,
		URL:         cfg.Cache.URL,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "cache")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}

	appc := app.New(cfg.Scheduler.Environment, cfg.Scheduler.StateDir)

	var mailer notify.Mailer
	if m := cfg.Mailer; m != nil {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     m.Host,
			Port:     m.Port,
			From:     m.From,
			Username: m.Username,
			Password: m.Password,
		})
	}

	bus := eventbus.New()
	exec := &runner.ShellExecutor{}
	sched := scheduler.New(
		scheduler.Config{HistorySize: cfg.Scheduler.HistorySize},
		scheduler.Deps{
			App:    appc,
			Exec:   exec,
			Dir:    cfg.Scheduler.ProjectRoot,
			Mailer: mailer,
			Pinger: notify.NewPinger(log.With(logx.String("comp", "pinger"))),
		},
		log.With(logx.String("comp", "scheduler")),
		bus,
	)

	d := &Daemon{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		appc:    appc,
		mailer:  mailer,
		exec:    exec,
		bus:     bus,
		sched:   sched,
	}

	defs, err := BuildTasks(cfg, store)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	sched.SetTasks(defs)

	return d, nil
}

// Scheduler exposes the service for status surfaces and tests.
func (d *Daemon) Scheduler() *scheduler.Service { return d.sched }

// Bus exposes run lifecycle events.
func (d *Daemon) Bus() eventbus.Bus { return d.bus }

// Done is closed when the daemon's run context is canceled.
func (d *Daemon) Done() <-chan struct{} {
	if d.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return d.sup.Context().Done()
}

func (d *Daemon) Start(ctx context.Context) error {
	d.sup = supervisor.New(ctx, supervisor.WithLogger(d.log))

	// Transactional reload: a config that fails validation is never
	// committed or published.
	d.cfgm.SetLogger(d.log.With(logx.String("comp", "config")))
	d.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	d.sched.Start(d.sup.Context())

	sub := d.cfgm.Subscribe(8)
	d.sup.Go("config.reload", func(c context.Context) error {
		defer d.cfgm.Unsubscribe(sub)
		d.reloadLoop(c, sub)
		return nil
	})

	d.sup.Go("config.watch", func(c context.Context) error {
		return d.cfgm.Watch(c)
	})

	d.log.Info("daemon started",
		logx.String("config", d.cfgPath),
		logx.String("environment", d.appc.Environment()),
	)
	return nil
}

func (d *Daemon) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := d.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs, taskChanged := config.SummarizeConfigChange(lastApplied, newCfg)
			if len(sections) == 0 {
				d.log.Debug("config reload received, but no effective changes detected")
				lastApplied = newCfg
				continue
			}
			lastApplied = newCfg

			d.logs.Apply(logx.Config{
				Level:   newCfg.Logging.Level,
				Console: newCfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: newCfg.Logging.File.Enabled,
					Path:    newCfg.Logging.File.Path,
				},
			})

			// The lock store and scheduler identity settings are bound at
			// startup; a task list change swaps live.
			defs, err := BuildTasks(newCfg, d.store)
			if err != nil {
				d.log.Warn("config reload: task rebuild failed; keeping previous task set", logx.Err(err))
				continue
			}
			d.sched.SetTasks(defs)
			if len(taskChanged) > 0 {
				d.log.Debug("task changes", logx.Any("commands", taskChanged))
			}

			d.log.Info("config reloaded",
				append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...,
			)
		}
	}
}

func (d *Daemon) Stop(ctx context.Context) error {
	if d.sup == nil {
		return nil
	}
	d.log.Info("stopping")
	d.sup.Cancel()

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := d.sched.Stop(stopCtx); err != nil {
		d.log.Warn("scheduler stop", logx.Err(err))
	}
	if err := d.sup.Stop(stopCtx); err != nil {
		d.log.Warn("supervisor stop", logx.Err(err))
	}
	if err := d.store.Close(); err != nil {
		d.log.Warn("cache close", logx.Err(err))
	}
	_ = d.logs.Close()
	return nil
}
