package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tickd/internal/app"
	"tickd/internal/config"
	"tickd/internal/daemon"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml/json")
	flag.Parse()

	// Operator subcommands: "tickd down" / "tickd up" toggle maintenance
	// mode without touching a running daemon (it stats the marker file).
	if cmd := flag.Arg(0); cmd == "down" || cmd == "up" {
		if err := maintenance(cfgPath, cmd); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := d.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	<-ctx.Done()
	_ = d.Stop(context.Background())
}

func maintenance(cfgPath, cmd string) error {
	m := config.NewManager(cfgPath)
	cfg, err := m.Parse()
	if err != nil {
		return err
	}
	a := app.New(cfg.Scheduler.Environment, cfg.Scheduler.StateDir)
	if cmd == "down" {
		if err := a.Down(); err != nil {
			return err
		}
		fmt.Println("maintenance mode enabled")
		return nil
	}
	if err := a.Up(); err != nil {
		return err
	}
	fmt.Println("maintenance mode disabled")
	return nil
}
