// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/clanwar/internal/store"
	"github.com/holomush/clanwar/pkg/errutil"
)

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Without a subcommand, apply every pending migration.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withMigrator(cmd, func(m Migrator) error {
				pending, err := m.Pending()
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					printf(cmd.OutOrStdout(), "schema is up to date\n")
					return nil
				}
				for _, v := range pending {
					printf(cmd.OutOrStdout(), "applying %s\n", migrationLabel(v))
				}
				if err := m.Up(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "migrate up").Wrap(err)
				}
				printf(cmd.OutOrStdout(), "migrations completed successfully\n")
				return nil
			})
		},
	}
	cmd.AddCommand(
		newMigrateDownCmd(a),
		newMigrateVersionCmd(a),
		newMigrateForceCmd(a),
		newMigrateStepsCmd(a),
	)
	return cmd
}

func (a *app) withMigrator(cmd *cobra.Command, fn func(Migrator) error) error {
	if a.cfg.DatabaseURL == "" {
		return errNoDatabase
	}
	m, err := a.deps.MigratorFactory(a.cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			errutil.LogWarn(a.logger, "closing migrator", err)
		}
	}()
	return fn(m)
}

func newMigrateDownCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration, dropping all clan data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return oops.Code("CONFIRMATION_REQUIRED").Errorf("migrate down drops every table; pass --yes to proceed")
			}
			return a.withMigrator(cmd, func(m Migrator) error {
				if err := m.Down(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "migrate down").Wrap(err)
				}
				printf(cmd.OutOrStdout(), "all migrations rolled back\n")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the rollback")
	return cmd
}

func newMigrateVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withMigrator(cmd, func(m Migrator) error {
				v, dirty, err := m.Version()
				if err != nil {
					return err
				}
				if v == 0 {
					printf(cmd.OutOrStdout(), "no migrations applied\n")
					return nil
				}
				name := migrationLabel(v)
				if dirty {
					printf(cmd.OutOrStdout(), "%s (dirty)\n", name)
					return nil
				}
				printf(cmd.OutOrStdout(), "%s\n", name)
				return nil
			})
		},
	}
}

func newMigrateForceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Mark a version as applied and clear the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_VERSION").With("version", args[0]).Wrap(err)
			}
			return a.withMigrator(cmd, func(m Migrator) error {
				if err := m.Force(v); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "forced version %d\n", v)
				return nil
			})
		},
	}
}

func newMigrateStepsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "steps <n>",
		Short: "Apply n migrations, or roll back -n",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil || n == 0 {
				return oops.Code("INVALID_STEPS").With("steps", args[0]).Errorf("steps must be a non-zero integer")
			}
			return a.withMigrator(cmd, func(m Migrator) error {
				if err := m.Steps(n); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "migrate steps").With("steps", n).Wrap(err)
				}
				printf(cmd.OutOrStdout(), "moved %d steps\n", n)
				return nil
			})
		},
	}
}

// migrationLabel names an embedded migration, or just its number for a
// version this binary does not carry.
func migrationLabel(v uint) string {
	if name, err := store.MigrationName(v); err == nil && name != "" {
		return name
	}
	return strconv.FormatUint(uint64(v), 10)
}
