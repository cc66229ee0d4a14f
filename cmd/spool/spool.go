// Package spoolcmder
package spoolcmder

import (
	"github.com/spf13/cobra"

	artifactcmder "github.com/papercomputeco/spool/cmd/spool/artifact"
	"github.com/papercomputeco/spool/cmd/spool/backend"
	configcmder "github.com/papercomputeco/spool/cmd/spool/config"
	eventcmder "github.com/papercomputeco/spool/cmd/spool/event"
	initcmder "github.com/papercomputeco/spool/cmd/spool/init"
	memorycmder "github.com/papercomputeco/spool/cmd/spool/memory"
	migratecmder "github.com/papercomputeco/spool/cmd/spool/migrate"
	sessioncmder "github.com/papercomputeco/spool/cmd/spool/session"
	statuscmder "github.com/papercomputeco/spool/cmd/spool/status"
	versioncmder "github.com/papercomputeco/spool/cmd/version"
	"github.com/papercomputeco/spool/pkg/utils"
)

const spoolLongDesc string = `Spool is a persistence engine for conversational agents.

It keeps sessions and their ordered event logs, indexes them into a
searchable memory and stores versioned artifacts, on SQLite, PostgreSQL
or libSQL.

Get started:
  spool init                      Create a .spool directory
  spool session create s1         Start a session
  spool event append s1 "hello"   Record an event
  spool memory search hello       Search what was said
  spool status                    Show backends and schema state`

const spoolShortDesc string = "Spool - Agent Session Persistence"

func NewSpoolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "spool",
		Short:        spoolShortDesc,
		Long:         spoolLongDesc,
		Version:      utils.VersionLine(),
		SilenceUsage: true,
	}

	// Global flags
	backend.AddRootFlags(cmd)

	// Add subcommands
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(migratecmder.NewMigrateCmd())
	cmd.AddCommand(statuscmder.NewStatusCmd())
	cmd.AddCommand(sessioncmder.NewSessionCmd())
	cmd.AddCommand(eventcmder.NewEventCmd())
	cmd.AddCommand(memorycmder.NewMemoryCmd())
	cmd.AddCommand(artifactcmder.NewArtifactCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
