package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"montage/internal/config"
	"montage/internal/daemon"
	"montage/internal/logging"
	"montage/internal/preflight"
)

func main() {
	configPath := flag.String("config", "", "path to the montage configuration file")
	skipPreflight := flag.Bool("skip-preflight", false, "start even when preflight checks fail")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	checks := preflight.RunAll(ctx, cfg)
	for _, check := range checks {
		if check.Passed {
			logger.Debug("preflight check passed", logging.String("check", check.Name), logging.String("detail", check.Detail))
			continue
		}
		logger.Error("preflight check failed", logging.String("check", check.Name), logging.String("detail", check.Detail))
	}
	if !preflight.AllPassed(checks) && !*skipPreflight {
		logger.Error("preflight failed, refusing to start (use -skip-preflight to override)")
		os.Exit(1)
	}

	d, err := daemon.New(cfg, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		os.Exit(1)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon", logging.Error(err))
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("montaged shutting down")
}
