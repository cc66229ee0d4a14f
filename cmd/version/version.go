// Package versioncmder
package versioncmder

import (
	"io"
	"runtime"

	"entgo.io/ent/dialect"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/pkg/cliui"
	"github.com/papercomputeco/spool/pkg/storage/schema"
	"github.com/papercomputeco/spool/pkg/utils"
)

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Long:  "Display the spool build and the newest schema version it migrates to.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}

func printVersion(w io.Writer) {
	migrations := schema.Migrations(dialect.SQLite)
	head := migrations[len(migrations)-1].Version

	const width = 9
	cliui.KeyValue(w, "Version", cliui.NameStyle.Render(utils.Version), width)
	cliui.KeyValue(w, "Sha", cliui.HashStyle.Render(utils.Sha), width)
	cliui.KeyValue(w, "Built", utils.Buildtime, width)
	cliui.KeyValue(w, "Schema", head, width)
	cliui.KeyValue(w, "Go", runtime.Version(), width)
}
