package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/outbreak-forecast/internal/adapter/postgres"
	"github.com/couchcryptid/outbreak-forecast/internal/app"
	"github.com/couchcryptid/outbreak-forecast/internal/config"
	"github.com/couchcryptid/outbreak-forecast/internal/domain"
	"github.com/couchcryptid/outbreak-forecast/internal/observability"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "forecastctl",
		Short:         "Administer the outbreak forecasting engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(generateCmd(), getCmd(), invalidateCmd(), migrateCmd())
	return root
}

// withEngine loads configuration, builds the engine and runs fn against it.
func withEngine(cmd *cobra.Command, fn func(a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// Logs go to stderr so stdout stays parseable.
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	a, cleanup, err := app.Build(cmd.Context(), cfg, logger, observability.NewMetricsForTesting())
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(a)
}

func generateCmd() *cobra.Command {
	var req domain.ForecastRequest
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Compute (or fetch from cache) a forecast and print it as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(a *app.App) error {
				f, err := a.Engine.Generate(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), f)
			})
		},
	}
	flags := cmd.Flags()
	flags.Float64Var(&req.Region.North, "north", 0, "Northern latitude bound")
	flags.Float64Var(&req.Region.South, "south", 0, "Southern latitude bound")
	flags.Float64Var(&req.Region.East, "east", 0, "Eastern longitude bound")
	flags.Float64Var(&req.Region.West, "west", 0, "Western longitude bound")
	flags.IntVar(&req.HorizonDays, "horizon", 7, "Days to forecast (1-90)")
	flags.StringVar(&req.DiseaseType, "disease", "", "Disease type; empty means all diseases")
	for _, name := range []string{"north", "south", "east", "west"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print a stored forecast by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(a *app.App) error {
				f, err := a.Engine.GetByID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), f)
			})
		},
	}
}

func invalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate [prefix]",
		Short: "Drop cached forecasts whose fingerprint starts with forecast:<prefix>",
		Long: `Drop cached forecasts. The prefix is matched after "forecast:", so
"influenza:" clears every influenza forecast and no prefix clears them all.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			return withEngine(cmd, func(a *app.App) error {
				n, err := a.Engine.InvalidateCache(cmd.Context(), prefix)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached forecasts\n", n)
				return err
			})
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required for migrate")
			}

			pool, err := postgres.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := postgres.RunMigrations(cmd.Context(), pool)
			if err != nil {
				return err
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
