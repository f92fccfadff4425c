package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgard/omega/internal/config"
	"github.com/edgard/omega/internal/database"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0".
var Version = "dev"

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string) int {
	exitCode := 0
	root := newRootCmd(&exitCode)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		return 1
	}
	return exitCode
}

func newRootCmd(exitCode *int) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "omega",
		Short:        "Conversational game-master bot for Discord and Telegram",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			*exitCode = run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "./config.yaml", "Path to configuration file")

	root.AddCommand(versionCmd())
	root.AddCommand(migrateCmd(&configPath))
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("omega %s\n", Version)
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Telegram message store schema",
	}

	withDB := func(fn func(cmd *cobra.Command, db *sql.DB, name string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer database.CloseDB(db)
			return fn(cmd, db.DB, database.ExtractDBNameFromPath(cfg.Database.Path))
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: withDB(func(_ *cobra.Command, db *sql.DB, name string) error {
			return database.ApplyMigrations(db, name)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations",
		RunE: withDB(func(_ *cobra.Command, db *sql.DB, name string) error {
			return database.RollbackMigrations(db, name)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: withDB(func(cmd *cobra.Command, db *sql.DB, name string) error {
			version, dirty, err := database.MigrationVersion(db, name)
			if err != nil {
				return err
			}
			cmd.Printf("version %d (dirty: %t)\n", version, dirty)
			return nil
		}),
	})
	return cmd
}
