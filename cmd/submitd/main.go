package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/emissions-network/submitx/app/daemon"
	"github.com/emissions-network/submitx/pkg/config"
	"github.com/emissions-network/submitx/pkg/supervisor"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to submitd config (optional; env vars otherwise)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	creds, err := newHMACCredentials(cfg.WorkerAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	predictor, err := newSidecarPredictor(cfg.QueryTimeout.Duration)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	app, err := daemon.Initialize(ctx, cfg, creds, predictor)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, supervisor.ErrLockHeld) {
			os.Exit(3)
		}
		os.Exit(1)
	}

	// Probe endpoints and run an immediate window pass before cron.
	app.HealthCheck(ctx)
	app.VerifyRegistration(ctx)
	app.TickOnce(ctx)

	if err := app.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
