package task

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Run executes the task through its lifecycle. The caller has already
// established that the task is due and its filters pass.
//
// Foreground: before-hooks, blocking spawn, after-hooks — in that order,
// each hook list in registration order. After-hooks run even when the spawn
// failed, because lock release and completion notifications hang off that
// list. Background: before-hooks, detached spawn, immediate return; the
// after-hooks never fire (so for overlap-prevented background tasks the
// lock is only cleared by TTL expiry).
func (d *Definition) Run(rc *Context) error {
	if rc.Ctx == nil {
		rc.Ctx = context.Background()
	}
	if d.preventOverlap {
		ok, err := d.mutex.Acquire(rc.Ctx, d.MutexKey())
		if err != nil {
			return fmt.Errorf("acquire schedule lock for %q: %w", d.DisplayName(), err)
		}
		if !ok {
			// Atomic mode only: another holder took the key between the
			// filter check and now. Same outcome as the reject predicate.
			return nil
		}
	}
	if d.background {
		return d.runInBackground(rc)
	}
	return d.runInForeground(rc)
}

func (d *Definition) runInForeground(rc *Context) error {
	if err := callHooks(rc, d.befores); err != nil {
		return err
	}
	code, runErr := rc.Exec.Run(rc.Ctx, d.CommandLine(), rc.Dir)
	if runErr == nil {
		rc.ExitCode = code
	}
	afterErr := callHooks(rc, d.afters)
	return errors.Join(runErr, afterErr)
}

func (d *Definition) runInBackground(rc *Context) error {
	if err := callHooks(rc, d.befores); err != nil {
		return err
	}
	return rc.Exec.Start(d.CommandLine(), rc.Dir)
}

// callHooks invokes every hook in registration order. Hooks are not gates:
// one hook's error does not stop the rest of the list; errors are collected
// and joined for the caller.
func callHooks(rc *Context, hooks []Hook) error {
	var errs []error
	for _, h := range hooks {
		if err := h(rc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CommandLine is the full shell command for a run: the task command with
// its output redirected (stderr folded into stdout), optionally wrapped to
// run as another user. The command runs in a subshell so the redirect
// covers every part of a compound command, not just the last one.
func (d *Definition) CommandLine() string {
	redirect := ">"
	if d.appendOutput {
		redirect = ">>"
	}
	cmd := fmt.Sprintf("(%s) %s %s 2>&1", d.command, redirect, shellQuote(d.output))
	if d.user != "" {
		cmd = fmt.Sprintf("sudo -u %s -- sh -c %s", d.user, shellQuote(cmd))
	}
	return cmd
}

// ensureOutputIsBeingCaptured redirects output away from the discard device
// to a deterministic per-task file, so hooks that read the output have a
// concrete location. Already-configured destinations are left alone.
func (d *Definition) ensureOutputIsBeingCaptured() {
	if d.output != os.DevNull {
		return
	}
	sum := sha256.Sum256([]byte(d.MutexKey()))
	d.appendOutput = true
	d.output = filepath.Join(os.TempDir(), fmt.Sprintf("schedule-%x.log", sum))
}
