// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"repository-reconciler/internal/config"
)

var errInvalidURLs = errors.New("one or more repository urls are invalid")

func main() {
	if err := run(); err != nil {
		if !errors.Is(err, errInvalidURLs) {
			slog.Error("Application error", "error", err)
		}
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return newRootCmd(logger, logLevel).ExecuteContext(ctx)
}

// cli carries what the persistent pre-run loads for every subcommand.
type cli struct {
	logger   *slog.Logger
	logLevel *slog.LevelVar
	cfg      *config.Config
}

func newRootCmd(logger *slog.Logger, logLevel *slog.LevelVar) *cobra.Command {
	c := &cli{logger: logger, logLevel: logLevel}

	root := &cobra.Command{
		Use:           "service",
		Short:         "Reconcile repository records against their remote sources",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			setLogLevel(cfg.LogLevel, c.logLevel)
			c.cfg = cfg
			c.logger.Debug("Configuration loaded successfully")
			return nil
		},
	}

	root.AddCommand(
		c.serveCmd(),
		c.reconcileCmd(),
		c.runAllCmd(),
		c.enqueueCmd(),
		c.workCmd(),
		c.validateCmd(),
		c.connectorsCmd(),
		c.statsCmd(),
		c.migrateCmd(),
	)
	return root
}

// withApp builds the application for one subcommand and releases it afterwards.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
