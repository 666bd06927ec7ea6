package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/WeWatchWall/stark/internal/app"
	"github.com/WeWatchWall/stark/internal/config"
	"github.com/WeWatchWall/stark/internal/platform"
	"github.com/WeWatchWall/stark/internal/version"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "stark",
		Short:        "stark is the control plane for a lightweight container/process orchestrator.",
		Version:      version.Version,
		SilenceUsage: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane (api, controller, or all)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if mode != "" {
				cfg.Mode = mode
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return app.Run(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "run mode: api, controller, or all (overrides STARK_MODE)")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending store migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the stark build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("stark %s (%s)\n", version.Version, version.Commit)
			return nil
		},
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
