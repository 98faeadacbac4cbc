package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"DeskCast/internal/di"
	"DeskCast/pkg/config"
	"DeskCast/pkg/server"
)

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "deskcast",
		Short: "Service-desk ticket volume forecaster",
		Long: `DeskCast forecasts daily ticket volume per category and entity from the
service-desk fact table, writes the unified history and forecast artifact, and
serves it to dashboards.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path (defaults only when empty)")

	// withApp loads config, wires the application and runs fn until it
	// returns or the process is interrupted.
	withApp := func(fn func(ctx context.Context, cmd *cobra.Command, app *server.App) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWithEnv(configPath)
			if err != nil {
				return err
			}
			app, cleanup, err := di.InitializeApp(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return fn(ctx, cmd, app)
		}
	}

	root.AddCommand(runCmd(withApp))
	root.AddCommand(etlCmd(withApp))
	root.AddCommand(serveCmd(withApp))
	root.AddCommand(scheduleCmd(withApp))
	root.AddCommand(runsCmd(withApp))
	return root
}

type appRunner func(fn func(ctx context.Context, cmd *cobra.Command, app *server.App) error) func(*cobra.Command, []string) error

func runCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the forecast pipeline once",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App) error {
			report, err := app.RunForecast(ctx)
			printRunReport(cmd.OutOrStdout(), report)
			return err
		}),
	}
}

func etlCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "etl",
		Short: "Rebuild the daily fact table from GLPI",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App) error {
			report, err := app.RunETL(ctx)
			if err != nil {
				return err
			}
			printETLReport(cmd.OutOrStdout(), report)
			return nil
		}),
	}
}

func serveCmd(withApp appRunner) *cobra.Command {
	var withScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the forecast artifact over HTTP",
		RunE: withApp(func(ctx context.Context, _ *cobra.Command, app *server.App) error {
			return app.Serve(ctx, withScheduler)
		}),
	}
	cmd.Flags().BoolVar(&withScheduler, "schedule", false, "also run the pipeline on the configured cron spec")
	return cmd
}

func scheduleCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run the forecast pipeline on the configured cron spec",
		RunE: withApp(func(ctx context.Context, _ *cobra.Command, app *server.App) error {
			return app.Schedule(ctx)
		}),
	}
}

func runsCmd(withApp appRunner) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent pipeline runs",
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, app *server.App) error {
			runs, err := app.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		}),
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to list")
	return cmd
}
