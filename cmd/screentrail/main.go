package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sevlyar/go-daemon"

	"screentrail/internal/app"
	"screentrail/internal/config"
	"screentrail/internal/logger"
)

var (
	configPath = flag.String("c", "", "Path to configuration file (e.g., config.yaml). Defaults to ./config.yaml, ~/.config/screentrail/config.yaml, /etc/screentrail/config.yaml")
	logPath    = flag.String("log", "", "Path to log file (optional, overrides log_path from config; defaults to stderr)")
	debug      = flag.Bool("v", false, "Enable debug logging")
	daemonize  = flag.Bool("d", false, "Run in daemon mode")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logFile := cfg.LogPath
	if *logPath != "" {
		logFile = *logPath
	}

	if *daemonize {
		if logFile == "" {
			// A detached daemon has no stderr worth keeping.
			logFile = filepath.Join(cfg.OutputDir, "screentrail.log")
		}
		dctx := &daemon.Context{
			PidFileName: filepath.Join(cfg.OutputDir, "screentrail.pid"),
			PidFilePerm: 0644,
			Umask:       027,
		}
		child, err := dctx.Reborn()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to daemonize: %v\n", err)
			os.Exit(1)
		}
		if child != nil {
			// Parent: the daemon carries on.
			return
		}
		defer dctx.Release()
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	closer, err := logger.Setup(logFile, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}

	application, err := app.NewApp(cfg)
	if err != nil {
		slog.Error("failed to create application", "err", err)
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("application exited with error", "err", err)
		os.Exit(1)
	}
}
