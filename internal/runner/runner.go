// Package runner spawns task processes through the shell, in either
// blocking (foreground) or detached (background) mode.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	logx "tickd/pkg/logx"
)

// Executor is the process-spawning collaborator. Run blocks until the
// process exits and returns its exit code; Start detaches and returns as
// soon as the process has been spawned. Output routing is part of the
// command line itself (shell redirection), so the executor inherits nothing.
type Executor interface {
	Run(ctx context.Context, commandLine, dir string) (int, error)
	Start(commandLine, dir string) error
}

// ShellExecutor runs command lines under /bin/sh -c.
type ShellExecutor struct {
	Log logx.Logger
}

func (e *ShellExecutor) Run(ctx context.Context, commandLine, dir string) (int, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", commandLine)
	cmd.Dir = dir
	err := cmd.Run()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// The process ran and exited non-zero; that is a result, not a
		// spawn failure.
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, fmt.Errorf("spawn %q: %w", commandLine, err)
	}
	return 0, nil
}

func (e *ShellExecutor) Start(commandLine, dir string) error {
	// Detached mode deliberately uses the native non-blocking spawn rather
	// than shell '&' backgrounding, so spawn failures still surface here.
	cmd := exec.Command("/bin/sh", "-c", commandLine)
	cmd.Dir = dir
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %q: %w", commandLine, err)
	}
	log := e.Log
	pid := cmd.Process.Pid
	go func() {
		// Reap so backgrounded children never linger as zombies. The exit
		// code is observed for logging only; background runs have no
		// completion hooks.
		if err := cmd.Wait(); err != nil && !log.IsZero() {
			log.Debug("background process exited", logx.Int("pid", pid), logx.Err(err))
		}
	}()
	return nil
}
