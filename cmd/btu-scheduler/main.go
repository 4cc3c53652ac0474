// Command btu-scheduler runs the BTU-style cron scheduling daemon: it
// loads configuration, wires C1 through C10, and blocks until SIGINT or
// SIGTERM.
package main

import (
	"errors"
	"flag"
	"log/slog"
	"os"

	"github.com/btu-sched/daemon/internal/config"
	"github.com/btu-sched/daemon/internal/daemon"

	_ "github.com/go-sql-driver/mysql"
)

// Exit codes per spec.md §6: 1 for generic startup failure, 2 reserved for
// an unrecoverable store error (MySQL ping/migrations, Redis) at startup.
const (
	exitGenericFailure = 1
	exitStoreInit      = 2
)

func main() {
	configPath := flag.String("config", "/etc/btu_scheduler/config.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(exitGenericFailure)
	}

	d, err := daemon.New(cfg)
	if err != nil {
		slog.Error("failed to start daemon", "error", err)
		if errors.Is(err, daemon.ErrStoreInit) {
			os.Exit(exitStoreInit)
		}
		os.Exit(exitGenericFailure)
	}

	ctx, cancel := daemon.WaitForSignal()
	defer cancel()

	if err := d.Run(ctx); err != nil {
		slog.Error("daemon exited with error", "error", err)
		os.Exit(exitGenericFailure)
	}
}
