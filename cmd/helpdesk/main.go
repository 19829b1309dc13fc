package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/jvkabum/vue3-izing-sub001/cmd/helpdesk/modules"
	dbembed "github.com/jvkabum/vue3-izing-sub001/db"
	"github.com/jvkabum/vue3-izing-sub001/internal/config"
	"github.com/jvkabum/vue3-izing-sub001/internal/db"
	"github.com/jvkabum/vue3-izing-sub001/internal/logger"
	"github.com/jvkabum/vue3-izing-sub001/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "helpdesk",
		Short:         "Multi-tenant helpdesk core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to the TOML config file")

	var withWorkers bool
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, websocket events and channel sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(configPath, modules.Role{
				Name:     "serve",
				HTTP:     true,
				Channels: true,
				Workers:  withWorkers,
			})
		},
	}
	serve.Flags().BoolVar(&withWorkers, "with-workers", false, "also consume queue jobs in this process")

	worker := &cobra.Command{
		Use:   "worker",
		Short: "Consume queue jobs and run the recurring sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(configPath, modules.Role{Name: "worker", Workers: true})
		},
	}

	migrate := &cobra.Command{
		Use:       "migrate <up|down|version|force N>",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.MinimumNArgs(1),
		ValidArgs: db.MigrateCommands,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(configPath, args[0], args[1:])
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Details())
		},
	}

	root.AddCommand(serve, worker, migrate, versionCmd)
	return root
}

func runApp(configPath string, role modules.Role) error {
	opts := []fx.Option{
		fx.Supply(modules.ConfigPath(configPath), role),
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: l.With(slog.String("component", "fx"))}
		}),
		modules.InfraModule,
		modules.DomainModule,
		modules.ChannelModule,
		modules.QueueModule,
	}
	if role.HTTP {
		opts = append(opts, modules.ServerModule)
	}
	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func runMigrate(configPath, command string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format)

	migrations, err := fs.Sub(dbembed.MigrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	if err := db.RunMigrate(logger.L, cfg.Postgres, migrations, command, args); err != nil {
		return err
	}
	logger.L.InfoContext(context.Background(), "migrate finished", slog.String("command", command))
	return nil
}
