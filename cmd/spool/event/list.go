package eventcmder

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/cmd/spool/backend"
	"github.com/papercomputeco/spool/pkg/cliui"
	"github.com/papercomputeco/spool/pkg/services"
	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/storage"
)

const listLongDesc string = `List a session's events in order.

Use --since to list only the events after a given event id, and --coalesce
to fold streamed partial events into the turns they belong to.

Examples:
  spool event list s1
  spool event list s1 --since 01J8Z3...
  spool event list s1 --json`

func (c *eventCommander) newListCmd() *cobra.Command {
	var (
		since    string
		asJSON   bool
		coalesce bool
	)

	cmd := &cobra.Command{
		Use:   "list <session-id>",
		Short: "List a session's events",
		Long:  listLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return backend.WithServices(cmd, backend.Options{}, func(set *services.Set) error {
				w := cmd.OutOrStdout()
				id := c.owner.Session(args[0])

				if coalesce {
					return printTurns(cmd, set, id, since)
				}

				enc := json.NewEncoder(w)
				n := 0
				for ev, err := range set.Sessions.ListEvents(cmd.Context(), id, since) {
					if err != nil {
						return err
					}
					n++
					if asJSON {
						if err := enc.Encode(ev); err != nil {
							return err
						}
						continue
					}
					printEvent(w, ev)
				}
				if n == 0 && !asJSON {
					fmt.Fprintf(w, "  %s\n", cliui.DimStyle.Render("No events."))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "Only list events after this event id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print one JSON object per event")
	cmd.Flags().BoolVar(&coalesce, "coalesce", false, "Fold partial events into turns")

	return cmd
}

func printTurns(cmd *cobra.Command, set *services.Set, id session.Identity, since string) error {
	events, err := storage.CollectEvents(set.Sessions.ListEvents(cmd.Context(), id, since))
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for _, turn := range session.Coalesce(events) {
		line := fmt.Sprintf("  %s %s",
			cliui.RoleStyle.Render("["+turn.Events[0].Author+"]"),
			cliui.PreviewStyle.Render(string(turn.Content())),
		)
		if !turn.Complete {
			line += " " + cliui.DimStyle.Render("(streaming)")
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
