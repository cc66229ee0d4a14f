package eventcmder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/cmd/spool/backend"
	"github.com/papercomputeco/spool/pkg/dotdir"
	"github.com/papercomputeco/spool/pkg/resolver"
	"github.com/papercomputeco/spool/pkg/services"
	"github.com/papercomputeco/spool/pkg/session"
	"github.com/papercomputeco/spool/pkg/storage"
	"github.com/papercomputeco/spool/pkg/storage/sqlite"
)

const tailLongDesc string = `Print the events appended since the last tail.

The id of the last printed event is kept per session in .spool/cursors.json,
so a later tail resumes where the previous one stopped. Use --from-start to
forget the cursor.

With --follow, tail keeps running and prints events as they are appended.
For a SQLite session database, changes to the database file wake the tail
immediately; every backend is also polled at --interval.

Examples:
  spool event tail s1
  spool event tail s1 --follow
  spool event tail s1 --from-start`

type tailCommander struct {
	owner     *backend.Owner
	follow    bool
	fromStart bool
	interval  time.Duration
}

func (c *eventCommander) newTailCmd() *cobra.Command {
	cmder := &tailCommander{owner: &c.owner}

	cmd := &cobra.Command{
		Use:   "tail <session-id>",
		Short: "Print new events, optionally following the log",
		Long:  tailLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := backend.Load(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			set, err := rt.Open(cmd.Context(), backend.Options{})
			if err != nil {
				return err
			}
			defer set.Close()

			return cmder.run(cmd, rt, set, cmder.owner.Session(args[0]))
		},
	}

	cmd.Flags().BoolVarP(&cmder.follow, "follow", "f", false, "Keep printing events as they are appended")
	cmd.Flags().BoolVar(&cmder.fromStart, "from-start", false, "Ignore the saved cursor and start at the first event")
	cmd.Flags().DurationVar(&cmder.interval, "interval", time.Second, "Poll interval while following")

	return cmd
}

func (c *tailCommander) run(cmd *cobra.Command, rt *backend.Runtime, set *services.Set, id session.Identity) error {
	ctx := cmd.Context()
	ddm := dotdir.NewManager()
	key := id.String()

	if c.fromStart {
		if err := ddm.ClearCursor(key, rt.ConfigDir); err != nil {
			return err
		}
	}
	cursors, err := ddm.LoadCursors(rt.ConfigDir)
	if err != nil {
		return err
	}

	if _, err := set.Sessions.GetSession(ctx, id); err != nil {
		return err
	}

	t := &tail{
		events: set.Sessions,
		id:     id,
		since:  cursors[key],
		print:  func(ev *session.Event) { printEvent(cmd.OutOrStdout(), ev) },
		save: func(eventID string) error {
			return ddm.SaveCursor(key, eventID, rt.ConfigDir)
		},
		onReset: func(stale string) {
			rt.Logger.Warn("tail cursor no longer exists, starting over", "session", key, "event_id", stale)
		},
	}

	if err := t.drain(ctx); err != nil || !c.follow {
		return err
	}

	wake, closeWatch, err := watchDatabase(rt)
	if err != nil {
		rt.Logger.Debug("falling back to polling", "error", err)
	}
	defer closeWatch()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-wake:
		}
		if err := t.drain(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// tail reads a session's log from a cursor onwards.
type tail struct {
	events  storage.EventLog
	id      session.Identity
	since   string
	print   func(*session.Event)
	save    func(eventID string) error
	onReset func(stale string)
}

// drain prints every event after the cursor and saves the new cursor. A
// cursor whose event no longer exists restarts the tail at the beginning.
func (t *tail) drain(ctx context.Context) error {
	start := t.since
	for ev, err := range t.events.ListEvents(ctx, t.id, t.since) {
		if err != nil {
			if t.since != "" && t.since == start && errors.Is(err, storage.ErrNotFound) {
				t.onReset(t.since)
				t.since = ""
				return t.drain(ctx)
			}
			return err
		}
		t.print(ev)
		t.since = ev.ID
	}
	if t.since == start {
		return nil
	}
	return t.save(t.since)
}

// watchDatabase wakes the tail when a local SQLite session database or its
// WAL changes. Other backends get a nil channel, which never fires.
func watchDatabase(rt *backend.Runtime) (<-chan struct{}, func(), error) {
	noop := func() {}

	raw, err := rt.Descriptor(resolver.KindSession)
	if err != nil {
		return nil, noop, err
	}
	desc, err := resolver.ParseDescriptor(raw)
	if err != nil {
		return nil, noop, err
	}
	if desc.Scheme != "sqlite" && desc.Scheme != "db+sqlite" {
		return nil, noop, fmt.Errorf("%s backend has no local file to watch", desc.Scheme)
	}
	if sqlite.IsMemory(desc.Target) {
		return nil, noop, errors.New("in-memory sqlite database has no file to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, noop, fmt.Errorf("creating database watcher: %w", err)
	}
	path, err := filepath.Abs(desc.Target)
	if err != nil {
		watcher.Close()
		return nil, noop, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, noop, fmt.Errorf("watching database dir: %w", err)
	}

	base := filepath.Base(path)
	wake := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				// spool.db, spool.db-wal and spool.db-journal all count.
				if !strings.HasPrefix(filepath.Base(event.Name), base) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				rt.Logger.Debug("database watcher error", "error", err)
			}
		}
	}()

	return wake, func() { watcher.Close() }, nil
}
