package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/helixir/unpaywall-client/internal/database"
	"github.com/helixir/unpaywall-client/internal/observability"
)

// annotationNoClient marks commands that do not need the lookup client.
const annotationNoClient = "unpaywall/no-client"

func (a *App) newMigrateCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the schema of the postgres cache store",
		Args:  withUsage(cobra.NoArgs),
		Annotations: map[string]string{
			annotationNoClient: "true",
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Help()
			return usagef("no migrate command given")
		},
	}
	cmd.PersistentFlags().StringVar(&path, "path", "", "migrations directory; empty uses the migrations built into the binary")

	action := func(use, short string, args cobra.PositionalArgs, fn func(m *database.Migrator, args []string) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  withUsage(args),
			Annotations: map[string]string{
				annotationNoClient: "true",
			},
			RunE: func(cmd *cobra.Command, args []string) error {
				logger := observability.WithComponent(a.logger, "migrate")

				dir := a.cfg.Database.MigrationsPath
				if path != "" {
					dir = path
				}

				db, err := database.New(cmd.Context(), &a.cfg.Database, logger)
				if err != nil {
					return fmt.Errorf("connect to database: %w", err)
				}
				defer db.Close()

				m, err := database.NewMigrator(db, dir, logger)
				if err != nil {
					return fmt.Errorf("create migrator: %w", err)
				}
				defer func() {
					if err := m.Close(); err != nil {
						logger.Error().Err(err).Msg("failed to close migrator")
					}
				}()

				if err := fn(m, args); err != nil {
					return err
				}

				v, dirty, err := m.Version()
				if err != nil {
					return fmt.Errorf("reading migration version: %w", err)
				}
				fmt.Fprintf(a.Stdout, "version %d (dirty: %t)\n", v, dirty)
				return nil
			},
		}
	}

	cmd.AddCommand(
		action("up", "Apply all pending migrations", cobra.NoArgs, func(m *database.Migrator, _ []string) error {
			return m.Up()
		}),
		action("down", "Roll back all migrations", cobra.NoArgs, func(m *database.Migrator, _ []string) error {
			return m.Down()
		}),
		action("steps <n>", "Apply n migrations, or roll back when n is negative", cobra.MatchAll(cobra.ExactArgs(1), intArg(false)), func(m *database.Migrator, args []string) error {
			n, _ := strconv.Atoi(args[0])
			return m.Steps(n)
		}),
		action("version", "Print the current migration version", cobra.NoArgs, func(*database.Migrator, []string) error {
			return nil
		}),
		action("force <version>", "Set the migration version without running migrations", cobra.MatchAll(cobra.ExactArgs(1), intArg(true)), func(m *database.Migrator, args []string) error {
			v, _ := strconv.Atoi(args[0])
			return m.Force(v)
		}),
	)
	return cmd
}

// intArg checks that the first argument is a non-zero integer, or a
// non-negative one when zero is allowed.
func intArg(allowZero bool) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		switch {
		case err != nil:
			return fmt.Errorf("expected an integer, got %q", args[0])
		case allowZero && n < 0:
			return fmt.Errorf("expected a non-negative integer, got %d", n)
		case !allowZero && n == 0:
			return errors.New("expected a non-zero integer")
		}
		return nil
	}
}
