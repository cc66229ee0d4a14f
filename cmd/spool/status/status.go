// Package statuscmder provides the status command, which shows where spool
// keeps its data and how far the schema is migrated.
package statuscmder

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/cmd/spool/backend"
	"github.com/papercomputeco/spool/pkg/cliui"
	"github.com/papercomputeco/spool/pkg/dotdir"
	"github.com/papercomputeco/spool/pkg/resolver"
	"github.com/papercomputeco/spool/pkg/storage"
)

const statusLongDesc string = `Show the resolved spool backends and schema state.

Prints the .spool/ directory in use, the descriptor each service resolves
to after flags, SPOOL_* environment variables and config.toml are applied,
and the applied and pending migrations of the session database.

Examples:
  spool status
  SPOOL_MEMORY_SERVICE=inmemory: spool status`

const statusShortDesc string = "Show resolved backends and schema state"

func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: statusShortDesc,
		Long:  statusLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := backend.Load(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			return runStatus(cmd, rt)
		},
	}

	return cmd
}

const keyWidth = 10

func runStatus(cmd *cobra.Command, rt *backend.Runtime) error {
	w := cmd.OutOrStdout()

	dir, err := dotdir.NewManager().Target(rt.ConfigDir)
	if err != nil {
		return err
	}

	fmt.Fprintln(w)
	cliui.KeyValue(w, "Directory", cliui.DimStyle.Render(dir), keyWidth)
	for _, kind := range resolver.Kinds {
		d, err := rt.Descriptor(kind)
		if err != nil {
			return err
		}
		cliui.KeyValue(w, titleCase(string(kind)), cliui.HashStyle.Render(redact(d)), keyWidth)
	}
	cliui.KeyValue(w, "Stream", cliui.NameStyle.Render(rt.Viper.GetString("eventstream.provider")), keyWidth)
	fmt.Fprintln(w)

	return printSchema(cmd, rt, w)
}

func printSchema(cmd *cobra.Command, rt *backend.Runtime, w io.Writer) error {
	db, m, err := rt.Database(cmd.Context())
	if errors.Is(err, storage.ErrUnsupportedBackend) {
		fmt.Fprintf(w, "  %s %s\n\n", cliui.DimStyle.Render("●"), "Session backend has no schema.")
		return nil
	}
	if err != nil {
		return err
	}
	defer db.Close()

	status, err := m.Status(cmd.Context())
	if err != nil {
		return err
	}

	for _, a := range status.Applied {
		fmt.Fprintf(w, "  %s %s %s\n", cliui.SuccessMark, a.Version,
			cliui.DimStyle.Render(a.AppliedAt.Local().Format("2006-01-02 15:04:05")))
	}
	for _, v := range status.Pending {
		fmt.Fprintf(w, "  %s %s %s\n", cliui.DimStyle.Render("●"), v, cliui.DimStyle.Render("pending"))
	}
	fmt.Fprintln(w)
	return nil
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// redact hides the password of a connection URI.
func redact(descriptor string) string {
	scheme, rest, ok := strings.Cut(descriptor, "://")
	if !ok {
		return descriptor
	}
	userinfo, host, ok := strings.Cut(rest, "@")
	if !ok {
		return descriptor
	}
	if user, _, hasPass := strings.Cut(userinfo, ":"); hasPass {
		return scheme + "://" + user + ":***@" + host
	}
	return descriptor
}
