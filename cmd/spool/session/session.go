// Package sessioncmder provides the session command for creating, reading,
// listing and deleting sessions.
package sessioncmder

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/cmd/spool/backend"
	"github.com/papercomputeco/spool/pkg/cliui"
	"github.com/papercomputeco/spool/pkg/services"
	"github.com/papercomputeco/spool/pkg/session"
)

const sessionLongDesc string = `Manage sessions.

A session is identified by its application, user and session id. The
application and user come from --app and --user.

Examples:
  spool session create s1 --state topic=weather
  spool session get s1
  spool session list --user alice
  spool session state s1 mood=sunny count=3
  spool session delete s1`

const sessionShortDesc string = "Manage sessions"

type sessionCommander struct {
	owner backend.Owner
}

func NewSessionCmd() *cobra.Command {
	cmder := &sessionCommander{}

	cmd := &cobra.Command{
		Use:   "session",
		Short: sessionShortDesc,
		Long:  sessionLongDesc,
	}
	backend.AddOwnerFlags(cmd, &cmder.owner)

	cmd.AddCommand(cmder.newCreateCmd())
	cmd.AddCommand(cmder.newGetCmd())
	cmd.AddCommand(cmder.newListCmd())
	cmd.AddCommand(cmder.newStateCmd())
	cmd.AddCommand(cmder.newDeleteCmd())

	return cmd
}

func (c *sessionCommander) newCreateCmd() *cobra.Command {
	var assignments []string

	cmd := &cobra.Command{
		Use:   "create <session-id>",
		Short: "Create a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initial, err := backend.ParseAssignments(assignments)
			if err != nil {
				return err
			}
			return backend.WithServices(cmd, backend.Options{}, func(set *services.Set) error {
				s, err := set.CreateSession(cmd.Context(), c.owner.Session(args[0]), initial)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %s Created %s\n", cliui.SuccessMark, cliui.HashStyle.Render(s.String()))
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&assignments, "state", "s", nil, "Initial state as key=value (repeatable)")

	return cmd
}

func (c *sessionCommander) newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <session-id>",
		Short: "Print a session and its state as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return backend.WithServices(cmd, backend.Options{}, func(set *services.Set) error {
				s, err := set.Sessions.GetSession(cmd.Context(), c.owner.Session(args[0]))
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), s)
			})
		},
	}
}

func (c *sessionCommander) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the user's sessions, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return backend.WithServices(cmd, backend.Options{}, func(set *services.Set) error {
				sessions, err := set.Sessions.ListSessions(cmd.Context(), c.owner.App, c.owner.User)
				if err != nil {
					return err
				}
				printSessions(cmd.OutOrStdout(), sessions)
				return nil
			})
		},
	}
}

func (c *sessionCommander) newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state <session-id> <key=value>...",
		Short: "Merge key=value pairs into the session state",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := backend.ParseAssignments(args[1:])
			if err != nil {
				return err
			}
			return backend.WithServices(cmd, backend.Options{}, func(set *services.Set) error {
				s, err := set.Sessions.ApplyDelta(cmd.Context(), c.owner.Session(args[0]), delta)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), s.State)
			})
		},
	}
}

func (c *sessionCommander) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <session-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a session with its events, memory entries and artifacts",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return backend.WithServices(cmd, backend.Options{}, func(set *services.Set) error {
				id := c.owner.Session(args[0])
				if err := set.DeleteSession(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %s Deleted %s\n", cliui.SuccessMark, cliui.HashStyle.Render(id.String()))
				return nil
			})
		},
	}
}

func printSessions(w io.Writer, sessions []*session.Session) {
	if len(sessions) == 0 {
		fmt.Fprintf(w, "  %s\n", cliui.DimStyle.Render("No sessions."))
		return
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "  %s  %s  %s\n",
			cliui.NameStyle.Render(s.SessionID),
			cliui.DimStyle.Render(s.UpdatedAt.Local().Format("2006-01-02 15:04:05")),
			cliui.RoleStyle.Render(fmt.Sprintf("%d keys", len(s.State))),
		)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
