// cmd/service/commands.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"repository-reconciler/internal/api"
	"repository-reconciler/internal/database"
	"repository-reconciler/internal/registry"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the admin HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				sy, err := a.newSyncer(a.reconciler)
				if err != nil {
					return fmt.Errorf("failed to create syncer: %w", err)
				}

				svc := api.NewService(a.reconciler, a.registry, sy)
				srv := &http.Server{
					Addr:              a.cfg.HTTPAddr,
					Handler:           api.NewRouter(svc, a.metrics.Handler(), a.logger),
					ReadHeaderTimeout: 10 * time.Second,
				}

				syncerDone := make(chan struct{})
				go func() {
					sy.Start(ctx)
					close(syncerDone)
				}()

				serveErr := make(chan error, 1)
				go func() {
					a.logger.Info("HTTP server listening", "addr", srv.Addr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						serveErr <- err
					}
					close(serveErr)
				}()

				a.logger.Info("Application started. Waiting for shutdown signal...")
				select {
				case <-ctx.Done():
					a.logger.Info("Shutdown signal received. Exiting.")
				case err := <-serveErr:
					if err != nil {
						return fmt.Errorf("http server failed: %w", err)
					}
				}

				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.logger.Error("HTTP server shutdown failed", "error", err)
				}
				<-syncerDone
				return nil
			})
		},
	}
}

func (c *cli) reconcileCmd() *cobra.Command {
	var accountID int64
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile the records of a single account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				changed, err := a.forRun(dryRun).ReconcileAccount(ctx, accountID)
				if err != nil {
					return err
				}
				if changed {
					a.logger.Info("Repositories updated.", "account_id", accountID)
				} else {
					a.logger.Info("Repositories NOT updated.", "account_id", accountID)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "account id to reconcile")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute changes without writing them")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func (c *cli) runAllCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run-all",
		Short: "Reconcile every eligible account once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				sy, err := a.newSyncer(a.forRun(dryRun))
				if err != nil {
					return err
				}
				summary, err := sy.RunAll(ctx)
				if summary != nil {
					fmt.Fprintln(cmd.OutOrStdout(), summary.Message())
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute changes without writing them")
	return cmd
}

func (c *cli) enqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue",
		Short: "Push every eligible account onto the work queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				sy, err := a.newSyncer(a.reconciler)
				if err != nil {
					return err
				}
				n, err := sy.Enqueue(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d accounts\n", n)
				return nil
			})
		},
	}
}

func (c *cli) workCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Short: "Drain the work queue with the configured number of workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				sy, err := a.newSyncer(a.reconciler)
				if err != nil {
					return err
				}
				summary, err := sy.Drain(ctx)
				fmt.Fprintln(cmd.OutOrStdout(), summary.Message())
				return err
			})
		},
	}
}

func (c *cli) validateCmd() *cobra.Command {
	var accountID int64
	cmd := &cobra.Command{
		Use:   "validate URL...",
		Short: "Check repository urls on behalf of an account without saving them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				report, err := a.reconciler.ValidateURLs(ctx, args, accountID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if report.Valid() {
					fmt.Fprintln(out, "All repository urls are valid.")
					return nil
				}
				for _, p := range report.Problems {
					fmt.Fprintln(out, p.Message)
				}
				return errInvalidURLs
			})
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "account the urls would belong to")
	return cmd
}

func (c *cli) connectorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connectors",
		Short: "List the known repository connectors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := registry.New(connectorDefinitions(c.cfg, c.logger), c.cfg.EnabledConnectors)
			if err != nil {
				return err
			}
			return renderConnectors(cmd.OutOrStdout(), reg.Available())
		},
	}
}

func renderConnectors(w io.Writer, list []registry.Available) error {
	if len(list) == 0 {
		fmt.Fprintln(w, "No connectors are defined.")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Options(
		tablewriter.WithHeader([]string{"ID", "Label", "Enabled", "Description"}),
		tablewriter.WithAlignment(tw.MakeAlign(4, tw.AlignLeft)),
	)
	for _, a := range list {
		if err := table.Append([]string{a.ID, a.Label, strconv.FormatBool(a.Enabled), a.Description}); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}

func (c *cli) statsCmd() *cobra.Command {
	var accountID int64
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the total number of open issues",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				var filter *int64
				if cmd.Flags().Changed("account") {
					filter = &accountID
				}
				total, err := a.reconciler.OpenIssueTotals(ctx, filter)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "open issues: %d\n", total)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&accountID, "account", 0, "restrict the total to one account")
	return cmd
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.DBURL == "" {
				return errors.New("DB_URL is not set")
			}
			if err := database.Migrate(c.cfg.DBURL); err != nil {
				return fmt.Errorf("failed to run database migrations: %w", err)
			}
			c.logger.Info("Database migrations applied successfully")
			return nil
		},
	}
}
