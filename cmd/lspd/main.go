// Command lspd runs the LSP broker daemon: a background process holding a
// pool of language-server subprocesses and a persistent symbol index,
// reachable over a Unix socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lspdaemon/lspd/internal/config"
	"github.com/lspdaemon/lspd/internal/daemon"
	"github.com/lspdaemon/lspd/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lspd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to a JSONC config file")
		socketPath = flag.String("socket", "", "override the configured socket path")
		logLevel   = flag.String("log-level", "", "override the configured log level (off|info|debug)")
		_          = flag.Bool("foreground", true, "run in the foreground (no background mode is implemented)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	level := logging.LevelInfo
	switch cfg.LogLevel {
	case "off":
		level = logging.LevelOff
	case "debug":
		level = logging.LevelDebug
	}

	log, err := logging.New(level, cfg.LogPath)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := daemon.New(cfg, log)
	return d.Run(ctx)
}
