package task

import (
	"context"

	"tickd/internal/notify"
	"tickd/internal/runner"
	logx "tickd/pkg/logx"
)

// Application is the host-process view tasks are gated on.
type Application interface {
	Environment() string
	IsDownForMaintenance() bool
}

// Context bundles everything a hook, predicate, or run can reach for:
// the ambient context, the application view, and the collaborators. It
// replaces resolve-by-type argument injection with one explicit struct.
type Context struct {
	Ctx    context.Context
	App    Application
	Exec   runner.Executor
	Dir    string // working directory for spawned processes (project root)
	Mailer notify.Mailer
	Pinger *notify.Pinger
	Log    logx.Logger

	// ExitCode is set after a foreground run completes.
	ExitCode int
}

// Hook is a lifecycle callback attached to the before/after points of a run.
type Hook func(*Context) error

// Predicate is a boolean gate evaluated by FiltersPass.
type Predicate func(*Context) (bool, error)
