// Package memorycmder provides the memory command for indexing sessions into
// the memory layer and searching it.
package memorycmder

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/spool/cmd/spool/backend"
	"github.com/papercomputeco/spool/pkg/cliui"
	"github.com/papercomputeco/spool/pkg/config"
	"github.com/papercomputeco/spool/pkg/memory"
	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/utils"
)

const memoryLongDesc string = `Index sessions into memory and search them.

Indexing derives one compact entry per event (summary, classification and
keywords). Re-indexing a session only adds entries for new events. Search
ranks a user's entries by keyword overlap with the query.

Examples:
  spool memory index s1
  spool memory index --all --index-workers 8
  spool memory search "weather forecast" --limit 5`

const memoryShortDesc string = "Index and search session memory"

type memoryCommander struct {
	owner backend.Owner
}

func NewMemoryCmd() *cobra.Command {
	cmder := &memoryCommander{}

	cmd := &cobra.Command{
		Use:   "memory",
		Short: memoryShortDesc,
		Long:  memoryLongDesc,
	}
	backend.AddOwnerFlags(cmd, &cmder.owner)

	cmd.AddCommand(cmder.newIndexCmd())
	cmd.AddCommand(cmder.newSearchCmd())

	return cmd
}

func (c *memoryCommander) newIndexCmd() *cobra.Command {
	var (
		all     bool
		workers uint
	)

	cmd := &cobra.Command{
		Use:   "index [session-id...]",
		Short: "Index sessions into memory",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("pass session ids or --all")
			}

			rt, err := backend.Load(cmd, config.FlagIndexWorkers)
			if err != nil {
				return err
			}
			defer rt.Close()
			set, err := rt.Open(cmd.Context(), backend.Options{})
			if err != nil {
				return err
			}
			defer set.Close()

			ids := make([]session.Identity, 0, len(args))
			for _, sid := range args {
				ids = append(ids, c.owner.Session(sid))
			}
			if all {
				sessions, err := set.Sessions.ListSessions(cmd.Context(), c.owner.App, c.owner.User)
				if err != nil {
					return err
				}
				for _, s := range sessions {
					ids = append(ids, s.Identity)
				}
			}
			return indexSessions(cmd, set.Memory, ids, rt.Viper.GetUint("memory.workers"))
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Index every session of the user")
	config.AddUintFlag(cmd, config.ServiceFlags, config.FlagIndexWorkers, &workers)

	return cmd
}

// indexSessions indexes ids with at most workers sessions in flight. The
// first failure cancels the rest.
func indexSessions(cmd *cobra.Command, indexer memory.Indexer, ids []session.Identity, workers uint) error {
	w := cmd.OutOrStdout()
	if len(ids) == 0 {
		fmt.Fprintf(w, "  %s\n", cliui.DimStyle.Render("No sessions to index."))
		return nil
	}

	var (
		mu    sync.Mutex
		total memory.IndexReport
	)
	err := cliui.Step(w, fmt.Sprintf("Indexing %d sessions", len(ids)), func() error {
		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(max(int(workers), 1))
		for _, id := range ids {
			g.Go(func() error {
				report, err := indexer.IndexSession(ctx, id)
				if err != nil {
					return fmt.Errorf("indexing %s: %w", id, err)
				}
				mu.Lock()
				total.Indexed += report.Indexed
				total.Existing += report.Existing
				total.Skipped += report.Skipped
				mu.Unlock()
				return nil
			})
		}
		return g.Wait()
	})
	fmt.Fprintf(w, "\n  %s %s %s\n",
		cliui.NameStyle.Render(fmt.Sprintf("%d indexed", total.Indexed)),
		cliui.DimStyle.Render(fmt.Sprintf("%d already indexed", total.Existing)),
		cliui.DimStyle.Render(fmt.Sprintf("%d skipped", total.Skipped)),
	)
	return err
}

func (c *memoryCommander) newSearchCmd() *cobra.Command {
	var limit uint

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the user's memory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := backend.Load(cmd, config.FlagSearchLimit)
			if err != nil {
				return err
			}
			defer rt.Close()
			set, err := rt.Open(cmd.Context(), backend.Options{})
			if err != nil {
				return err
			}
			defer set.Close()

			query := strings.Join(args, " ")
			results, err := set.Memory.Search(cmd.Context(), c.owner.App, c.owner.User, query, rt.Viper.GetInt("memory.search_limit"))
			if err != nil {
				return err
			}
			printResults(cmd.OutOrStdout(), query, results)
			return nil
		},
	}

	config.AddUintFlag(cmd, config.ServiceFlags, config.FlagSearchLimit, &limit)

	return cmd
}

func printResults(w io.Writer, query string, results []memory.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}

	fmt.Fprintf(w, "\n%s %s\n\n",
		cliui.KeyStyle.Render("Memory results for:"),
		cliui.HashStyle.Render(fmt.Sprintf("%q", query)),
	)
	for i, r := range results {
		fmt.Fprintf(w, "  %s  %s  %s %s\n",
			cliui.NameStyle.Render(fmt.Sprintf("#%d", i+1)),
			cliui.DimStyle.Render(fmt.Sprintf("score: %.4f", r.Score)),
			cliui.HashStyle.Render(r.Ref.SessionID),
			cliui.DimStyle.Render(r.Ref.EventID),
		)
		fmt.Fprintf(w, "  %s %s\n",
			cliui.RoleStyle.Render("["+r.Classification+"]"),
			cliui.PreviewStyle.Render(utils.Truncate(strings.ReplaceAll(r.Summary, "\n", " "), 80)),
		)
		fmt.Fprintf(w, "  %s\n\n", cliui.DimStyle.Render(strings.Join(r.Keywords, ", ")))
	}
}
