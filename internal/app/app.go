// Package app holds the process-level context tasks are gated on: the
// environment name and the maintenance-mode flag.
package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// downFile is the maintenance marker inside the state directory. Its
// presence is the flag, so maintenance mode survives restarts and can be
// toggled by operators (or other processes) without talking to the daemon.
const downFile = "down"

type App struct {
	env      string
	stateDir string
}

func New(environment, stateDir string) *App {
	env := strings.TrimSpace(environment)
	if env == "" {
		env = "production"
	}
	return &App{env: env, stateDir: stateDir}
}

func (a *App) Environment() string { return a.env }

// IsDownForMaintenance reports whether the maintenance marker file exists.
func (a *App) IsDownForMaintenance() bool {
	if a.stateDir == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(a.stateDir, downFile))
	return err == nil
}

// Down puts the application into maintenance mode.
func (a *App) Down() error {
	if a.stateDir == "" {
		return errors.New("no state directory configured")
	}
	if err := os.MkdirAll(a.stateDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(a.stateDir, downFile), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create maintenance marker: %w", err)
	}
	return f.Close()
}

// Up brings the application out of maintenance mode. It is a no-op when the
// marker is already absent.
func (a *App) Up() error {
	if a.stateDir == "" {
		return nil
	}
	err := os.Remove(filepath.Join(a.stateDir, downFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove maintenance marker: %w", err)
	}
	return nil
}
