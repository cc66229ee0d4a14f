// Package eventcmder provides the event command for appending to and
// reading a session's event log.
package eventcmder

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/cmd/spool/backend"
	"github.com/papercomputeco/spool/pkg/cliui"
	"github.com/papercomputeco/spool/pkg/config"
	"github.com/papercomputeco/spool/pkg/services"
	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/utils"
)

const eventLongDesc string = `Append to and read a session's event log.

Events are immutable. Appending one merges its state delta into the
session state in the same transaction, publishes an append notification
when an event stream is configured, and queues the session for memory
indexing when the event completes a turn and memory.auto_index is on.

Examples:
  spool event append s1 "what's the weather?" --author user
  echo '{"tool":"forecast"}' | spool event append s1 - --author agent --turn-complete
  spool event list s1
  spool event tail s1 --follow`

const eventShortDesc string = "Append to and read session events"

type eventCommander struct {
	owner backend.Owner
}

func NewEventCmd() *cobra.Command {
	cmder := &eventCommander{}

	cmd := &cobra.Command{
		Use:   "event",
		Short: eventShortDesc,
		Long:  eventLongDesc,
	}
	backend.AddOwnerFlags(cmd, &cmder.owner)

	cmd.AddCommand(cmder.newAppendCmd())
	cmd.AddCommand(cmder.newGetCmd())
	cmd.AddCommand(cmder.newListCmd())
	cmd.AddCommand(cmder.newTailCmd())

	return cmd
}

type appendOptions struct {
	author       string
	invocationID string
	assignments  []string
	partial      bool
	turnComplete bool
	interrupted  bool
	errorCode    string
	errorMessage string
	autoIndex    bool
}

func (c *eventCommander) newAppendCmd() *cobra.Command {
	opts := &appendOptions{}

	cmd := &cobra.Command{
		Use:   "append <session-id> [content|-]",
		Short: "Append an event",
		Long: `Append an event to a session.

Content is taken from the second argument, or read from stdin when the
argument is "-" or missing.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd.InOrStdin(), args[1:])
			if err != nil {
				return err
			}
			ev, err := opts.event(content)
			if err != nil {
				return err
			}

			bo := backend.Options{FlagKeys: []string{config.FlagAutoIndex}}
			return backend.WithServices(cmd, bo, func(set *services.Set) error {
				stored, err := set.AppendEvent(cmd.Context(), c.owner.Session(args[0]), ev)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %s Appended %s %s\n",
					cliui.SuccessMark,
					cliui.HashStyle.Render(stored.ID),
					cliui.DimStyle.Render(fmt.Sprintf("(seq %d)", stored.Seq)),
				)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.author, "author", "user", "Event author: user, an agent name or system")
	cmd.Flags().StringVar(&opts.invocationID, "invocation", "", "Invocation id grouping the events of one agent run")
	cmd.Flags().StringArrayVarP(&opts.assignments, "state", "s", nil, "State delta as key=value (repeatable)")
	cmd.Flags().BoolVar(&opts.partial, "partial", false, "Mark the event as a streamed partial")
	cmd.Flags().BoolVar(&opts.turnComplete, "turn-complete", false, "Mark the event as completing the turn")
	cmd.Flags().BoolVar(&opts.interrupted, "interrupted", false, "Mark the event as interrupted")
	cmd.Flags().StringVar(&opts.errorCode, "error-code", "", "Error code carried by the event")
	cmd.Flags().StringVar(&opts.errorMessage, "error-message", "", "Error message carried by the event")
	config.AddBoolFlag(cmd, config.ServiceFlags, config.FlagAutoIndex, &opts.autoIndex)

	return cmd
}

func (o *appendOptions) event(content []byte) (*session.Event, error) {
	delta, err := backend.ParseAssignments(o.assignments)
	if err != nil {
		return nil, err
	}
	ev := &session.Event{
		InvocationID: o.invocationID,
		Author:       o.author,
		Content:      content,
		StateDelta:   delta,
		Partial:      o.partial,
		TurnComplete: o.turnComplete,
		Interrupted:  o.interrupted,
	}
	if o.errorCode != "" || o.errorMessage != "" {
		ev.Error = &session.EventError{Code: o.errorCode, Message: o.errorMessage}
	}
	return ev, nil
}

func readContent(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 1 && args[0] != "-" {
		return []byte(args[0]), nil
	}
	content, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("reading content from stdin: %w", err)
	}
	return content, nil
}

func (c *eventCommander) newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <session-id> <event-id>",
		Short: "Print one event as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return backend.WithServices(cmd, backend.Options{}, func(set *services.Set) error {
				ev, err := set.Sessions.GetEvent(cmd.Context(), c.owner.Session(args[0]), args[1])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(ev)
			})
		},
	}
}

// printEvent writes one event as a single styled line.
func printEvent(w io.Writer, ev *session.Event) {
	var flags []string
	if ev.Partial {
		flags = append(flags, "partial")
	}
	if ev.TurnComplete {
		flags = append(flags, "turn")
	}
	if ev.Interrupted {
		flags = append(flags, "interrupted")
	}
	if ev.Error != nil {
		flags = append(flags, "error:"+ev.Error.Code)
	}
	if len(ev.StateDelta) > 0 {
		flags = append(flags, "state:"+strings.Join(ev.StateDelta.Keys(), ","))
	}

	preview := strings.ReplaceAll(utils.Truncate(string(ev.Content), 72), "\n", " ")
	line := fmt.Sprintf("  %s %s %s %s",
		cliui.DimStyle.Render(fmt.Sprintf("%4d", ev.Seq)),
		cliui.DimStyle.Render(ev.Timestamp.Local().Format("15:04:05.000")),
		cliui.RoleStyle.Render("["+ev.Author+"]"),
		cliui.PreviewStyle.Render(preview),
	)
	if len(flags) > 0 {
		line += " " + cliui.HashStyle.Render(strings.Join(flags, " "))
	}
	fmt.Fprintln(w, line)
}
