package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/panelwatch/panelwatch/agent/internal/config"
)

const name = "panelwatch-agent"

// overridden during build with ldflags
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newCommand().Run(ctx, os.Args)
	stop()
	if err != nil {
		slog.Error(name+" exited", "err", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    name,
		Usage:   "Poll 3x-ui panels and health endpoints and expose them as Prometheus metrics",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				Sources: cli.EnvVars("PANELWATCH_CONFIG"),
				Value:   "config.yaml",
			},
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "override the listen address from the config file",
				Sources: cli.EnvVars("PANELWATCH_LISTEN"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "override the log level (debug, info, warn, error)",
				Sources: cli.EnvVars("PANELWATCH_LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:  "check",
				Usage: "validate the config file and exit",
			},
		},
		Action: action,
	}
}

func action(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := applyOverrides(cfg, cmd.String("listen"), cmd.String("log-level")); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cmd.Bool("check") {
		fmt.Fprintf(cmd.Root().Writer, "%s: ok (%d targets)\n", path, cfg.Registry().Len())
		return nil
	}

	logger.Info(name+" starting",
		"version", version,
		"config", path,
		"listen", cfg.Listen,
		"targets", cfg.Registry().Len(),
	)

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}
	return run(ctx, cfg, path, ln, logger)
}

// applyOverrides applies command-line values on top of the loaded config.
func applyOverrides(cfg *config.Config, listen, level string) error {
	if listen != "" {
		cfg.Listen = listen
	}
	if level != "" {
		if _, err := parseLevel(level); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
		cfg.LogLevel = level
	}
	return nil
}
