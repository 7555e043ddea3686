// Package cli implements the dindex command line: the live service, offline
// replay, CSV import and indicator settings management.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"demandindex-plus/config"
	"demandindex-plus/internal/indengine"
	"demandindex-plus/internal/indicator"
	"demandindex-plus/internal/logger"
	redisstore "demandindex-plus/internal/store/redis"
)

// Version is set at build time with -ldflags "-X demandindex-plus/internal/cli.Version=...".
var Version = "dev"

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	var (
		indicatorPath string
		logLevel      string
	)

	rootCmd := &cobra.Command{
		Use:   "dindex",
		Short: "Demand Index Plus oscillator engine",
		Long: `dindex computes the Demand Index oscillator over OHLCV bars, tracks extreme
zones and raises cross and extreme-reversal signals.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if logLevel == "" {
				logLevel = os.Getenv("LOG_LEVEL")
			}
			logger.InitWriter(cmd.ErrOrStderr(), "dindex", logger.ParseLevel(logLevel))
		},
	}

	rootCmd.PersistentFlags().StringVar(&indicatorPath, "config", "", "Indicator settings YAML file (default: $INDICATOR_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: $LOG_LEVEL)")

	load := func() (*config.Config, indicator.Config, error) {
		app := config.Load()
		if indicatorPath != "" {
			app.IndicatorConfig = indicatorPath
		}
		ind, err := config.LoadIndicator(app.IndicatorConfig)
		return app, app.SessionIndicator(ind), err
	}

	rootCmd.AddCommand(newServeCmd(load))
	rootCmd.AddCommand(newReplayCmd(load))
	rootCmd.AddCommand(newImportCmd(load))
	rootCmd.AddCommand(newConfigCmd(load))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

type loadFunc func() (*config.Config, indicator.Config, error)

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// newServeCmd creates the serve command
func newServeCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the live engine: Redis candles in, DI results and alerts out",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, ind, err := load()
			if err != nil {
				return err
			}
			cfg, err := indengine.NewConfig(app, ind)
			if err != nil {
				return err
			}
			svc, err := indengine.New(cfg)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}

			ctx, cancel := signalContext()
			defer cancel()
			return svc.Run(ctx)
		},
	}
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dindex %s\n", Version)
		},
	}
}

// newConfigCmd creates the config command
func newConfigCmd(load loadFunc) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Indicator settings management",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective indicator settings as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, ind, err := load()
			if err != nil {
				return err
			}
			data, err := config.MarshalIndicator(ind)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, titleStyle.Render("Demand Index settings"))
			fmt.Fprint(out, string(data))
			fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("symbols=%v tf=%ds session=%s", app.ParseSymbols(), app.CandleTF, app.SessionTZ)))
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate [FILE]",
		Short: "Validate an indicator settings file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				ind indicator.Config
				err error
			)
			if len(args) == 1 {
				ind, err = config.LoadIndicator(args[0])
			} else {
				_, ind, err = load()
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("✓ settings valid"),
				dimStyle.Render(fmt.Sprintf("(level=%d, sma=%d, alerts=%v)", ind.ExtremeLevel, ind.SMAPeriod, ind.EnableAlerts)))
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "push FILE",
		Short: "Validate settings and publish them to running services over Redis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			app, current, err := load()
			if err != nil {
				return err
			}
			if _, err := config.MergeIndicator(current, data); err != nil {
				return err
			}
			w, err := redisstore.New(redisstore.WriterConfig{Addr: app.RedisAddr, Password: app.RedisPassword})
			if err != nil {
				return err
			}
			defer w.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			n, err := w.PublishConfig(ctx, data)
			if err != nil {
				return fmt.Errorf("publish: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published to %s (%d subscribers)\n", redisstore.ConfigChannel, n)
			return nil
		},
	})

	return configCmd
}
