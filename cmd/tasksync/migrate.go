package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/tasksync/internal/db"
	"github.com/kimhsiao/tasksync/internal/logging"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	Down bool
}

type migrationInfo struct {
	Version     int       `json:"version"`
	Description string    `json:"description"`
	AppliedAt   time.Time `json:"appliedAt"`
}

type migrateReport struct {
	Version    int             `json:"version"`
	Migrations []migrationInfo `json:"migrations"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Apply every embedded schema migration that has not run yet and print the
resulting schema version. With --down the latest migration is rolled back.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Down, "down", false, "roll back the latest migration")

	return cmd
}

func runMigrate(cmd *cobra.Command, opts *MigrateOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	restore, err := setupLogging(cmd, cfg)
	if err != nil {
		return err
	}
	defer restore()
	defer logging.Sync()

	database, err := db.Open(cfg.DB.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	m := db.NewMigrator(database.DB)
	if opts.Down {
		err = m.Down()
	} else {
		err = m.Up()
	}
	if err != nil {
		return err
	}

	version, err := m.CurrentVersion()
	if err != nil {
		return err
	}
	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return err
	}

	report := migrateReport{Version: version, Migrations: []migrationInfo{}}
	for _, mig := range applied {
		report.Migrations = append(report.Migrations, migrationInfo{
			Version:     mig.Version,
			Description: mig.Description,
			AppliedAt:   mig.AppliedAt.UTC(),
		})
	}
	return newFormatter(cmd, opts.RootOptions).Success(report, func(w io.Writer) {
		fmt.Fprintf(w, "schema version: %d\n", report.Version)
		for _, mig := range report.Migrations {
			fmt.Fprintf(w, "  V%d %s (applied %s)\n", mig.Version, mig.Description, mig.AppliedAt.Format(time.RFC3339))
		}
	})
}
