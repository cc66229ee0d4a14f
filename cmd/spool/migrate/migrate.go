// Package migratecmder provides the migrate command, which brings a SQL
// backend's schema up to date.
package migratecmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/cmd/spool/backend"
	"github.com/papercomputeco/spool/pkg/cliui"
)

const migrateLongDesc string = `Apply pending schema migrations to the session database.

Every migration runs in its own transaction together with the row that
records it. Databases written by older releases are rebuilt through
staging tables, so a failed run leaves the last committed version intact.
Opening a database from any other command also migrates it; this command
does so explicitly and reports what ran.

Use --dry-run to list pending migrations without applying them.

Examples:
  spool migrate
  spool migrate --dry-run
  spool migrate --session-service postgresql://localhost:5432/spool`

const migrateShortDesc string = "Apply pending schema migrations"

type migrateCommander struct {
	dryRun bool
}

func NewMigrateCmd() *cobra.Command {
	cmder := &migrateCommander{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: migrateShortDesc,
		Long:  migrateLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := backend.Load(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			return cmder.run(cmd, rt)
		},
	}

	cmd.Flags().BoolVar(&cmder.dryRun, "dry-run", false, "List pending migrations without applying them")

	return cmd
}

func (c *migrateCommander) run(cmd *cobra.Command, rt *backend.Runtime) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	db, m, err := rt.Database(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	status, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(status.Pending) == 0 {
		fmt.Fprintf(w, "  %s Schema is up to date %s\n", cliui.SuccessMark, cliui.DimStyle.Render(fmt.Sprintf("(%d applied)", len(status.Applied))))
		return nil
	}

	if c.dryRun {
		printPending(w, status.Pending)
		return nil
	}

	var applied []string
	err = cliui.Step(w, fmt.Sprintf("Applying %d migrations", len(status.Pending)), func() error {
		applied, err = m.Migrate(ctx)
		return err
	})
	for _, v := range applied {
		fmt.Fprintf(w, "    %s %s\n", cliui.SuccessMark, cliui.NameStyle.Render(v))
	}
	return err
}

func printPending(w io.Writer, pending []string) {
	fmt.Fprintf(w, "  %s\n", cliui.KeyStyle.Render("Pending migrations:"))
	for _, v := range pending {
		fmt.Fprintf(w, "    %s %s\n", cliui.DimStyle.Render("●"), v)
	}
}
