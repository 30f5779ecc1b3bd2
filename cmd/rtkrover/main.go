package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"rtkrover/internal/config"
	"rtkrover/internal/logging"
	"rtkrover/internal/web"
)

func main() {
	var (
		configPath    string
		summarizePath string
	)
	flag.StringVar(&configPath, "config", "./rover.yaml", "Path to YAML config")
	flag.StringVar(&summarizePath, "summarize", "", "Print a summary of a recorded NMEA capture and exit")
	flag.Parse()

	if summarizePath != "" {
		if err := printCaptureSummary(os.Stdout, summarizePath); err != nil {
			log.Fatalf("summarize failed: %v", err)
		}
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if err := run(cfg, configPath); err != nil {
		fmt.Fprintf(os.Stderr, "rtkrover: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, configPath string) error {
	logs := web.NewLogBuffer(500)
	lg, err := logging.New(cfg.Log.Level, cfg.Log.Dir, logs)
	if err != nil {
		return fmt.Errorf("logging init failed: %w", err)
	}
	defer lg.Close()
	slog.SetDefault(lg.Logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runID := uuid.NewString()
	lg.Info("rtkrover starting", "config", configPath, "run_id", runID)

	rt, err := newRuntime(ctx, cfg, runtimeDeps{Logger: lg.Logger, Logs: logs, RunID: runID})
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	defer rt.Close()

	if err := rt.Run(ctx, cancel); err != nil {
		return err
	}
	lg.Info("rtkrover stopped", "uptime", rt.Uptime())
	return nil
}
