// Package main runs the resilient database layer as a standalone service:
// it initializes both backends, serves until interrupted, and shuts down
// cleanly so queued writes survive a restart.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/venturekit/core/internal/config"
	apperrors "github.com/venturekit/core/internal/errors"
	"github.com/venturekit/core/internal/logging"
	"github.com/venturekit/core/internal/manager"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			// A missing file falls back to defaults; anything else is fatal.
			if !apperrors.Is(err, apperrors.ErrConfigNotFound) {
				fmt.Fprintf(os.Stderr, "config error: %v\n", err)
				os.Exit(1)
			}
		} else {
			cfg = loaded
		}
	}

	logging.Init(os.Stdout, logging.LogLevel(cfg.LogLevel))
	logging.Info("venturekit core starting", map[string]interface{}{"version": Version})

	mgr := manager.New(cfg)
	if err := mgr.Initialize(context.Background()); err != nil {
		logging.Error("initialization failed", err)
		os.Exit(1)
	}

	printStatus(mgr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("shutting down", map[string]interface{}{"signal": sig.String()})

	if err := mgr.Cleanup(); err != nil {
		logging.Error("cleanup finished with errors", err)
	}
}

// printStatus writes the aggregated health snapshot to stdout.
func printStatus(mgr *manager.Manager) {
	status := mgr.GetStatus()
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return
	}
	fmt.Println(string(data))
}
