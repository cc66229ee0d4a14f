// Package artifactcmder provides the artifact command for storing and
// retrieving versioned session artifacts.
package artifactcmder

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/cmd/spool/backend"
	"github.com/papercomputeco/spool/pkg/artifact"
	"github.com/papercomputeco/spool/pkg/cliui"
	"github.com/papercomputeco/spool/pkg/config"
	"github.com/papercomputeco/spool/pkg/services"
)

const artifactLongDesc string = `Store and retrieve versioned session artifacts.

Every put stores the next version of the named artifact. Small payloads
are kept inline in the artifact database, larger ones are compressed and
written to the object bucket under --artifact-root.

Examples:
  spool artifact put s1 report.pdf ./report.pdf
  echo '{"plan":"alps"}' | spool artifact put s1 plan.json -
  spool artifact get s1 report.pdf --version 1 -o old.pdf
  spool artifact versions s1 report.pdf
  spool artifact sweep --grace 1h`

const artifactShortDesc string = "Manage session artifacts"

type artifactCommander struct {
	owner backend.Owner
}

func NewArtifactCmd() *cobra.Command {
	cmder := &artifactCommander{}

	cmd := &cobra.Command{
		Use:   "artifact",
		Short: artifactShortDesc,
		Long:  artifactLongDesc,
	}
	backend.AddOwnerFlags(cmd, &cmder.owner)

	cmd.AddCommand(cmder.newPutCmd())
	cmd.AddCommand(cmder.newGetCmd())
	cmd.AddCommand(cmder.newListCmd())
	cmd.AddCommand(cmder.newVersionsCmd())
	cmd.AddCommand(cmder.newRemoveCmd())
	cmd.AddCommand(newSweepCmd())

	return cmd
}

func (c *artifactCommander) newPutCmd() *cobra.Command {
	var (
		threshold uint
		codec     string
	)

	cmd := &cobra.Command{
		Use:   "put <session-id> <name> <file|->",
		Short: "Store a new version of an artifact",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPayload(cmd.InOrStdin(), args[2])
			if err != nil {
				return err
			}

			bo := backend.Options{FlagKeys: []string{config.FlagInlineThreshold, config.FlagCodec}}
			return backend.WithServices(cmd, bo, func(set *services.Set) error {
				id := c.owner.Session(args[0])
				version, err := set.Artifacts.Save(cmd.Context(), id, args[1], data)
				if err != nil {
					return err
				}
				a, err := set.Artifacts.Stat(cmd.Context(), id, args[1], version)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Stored %s\n", cliui.SuccessMark, cliui.NameStyle.Render(args[1]))
				printArtifact(cmd.OutOrStdout(), a)
				return nil
			})
		},
	}

	config.AddUintFlag(cmd, config.ServiceFlags, config.FlagInlineThreshold, &threshold)
	config.AddStringFlag(cmd, config.ServiceFlags, config.FlagCodec, &codec)

	return cmd
}

func readPayload(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func (c *artifactCommander) newGetCmd() *cobra.Command {
	var (
		version int
		output  string
	)

	cmd := &cobra.Command{
		Use:   "get <session-id> <name>",
		Short: "Write an artifact version to stdout or a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return backend.WithServices(cmd, backend.Options{}, func(set *services.Set) error {
				data, err := set.Artifacts.Load(cmd.Context(), c.owner.Session(args[0]), args[1], version)
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				if err := os.WriteFile(output, data, 0o644); err != nil {
					return fmt.Errorf("writing %s: %w", output, err)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Version to load (0 for the latest)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")

	return cmd
}

func (c *artifactCommander) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list <session-id>",
		Aliases: []string{"ls"},
		Short:   "List the latest version of every artifact in a session",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return backend.WithServices(cmd, backend.Options{}, func(set *services.Set) error {
				id := c.owner.Session(args[0])
				names, err := set.Artifacts.List(cmd.Context(), id)
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if len(names) == 0 {
					fmt.Fprintln(w, "No artifacts.")
					return nil
				}
				for _, name := range names {
					a, err := set.Artifacts.Stat(cmd.Context(), id, name, 0)
					if err != nil {
						return err
					}
					printArtifact(w, a)
				}
				return nil
			})
		},
	}
}

func (c *artifactCommander) newVersionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions <session-id> <name>",
		Short: "List the stored versions of an artifact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return backend.WithServices(cmd, backend.Options{}, func(set *services.Set) error {
				id := c.owner.Session(args[0])
				versions, err := set.Artifacts.Versions(cmd.Context(), id, args[1])
				if err != nil {
					return err
				}
				if len(versions) == 0 {
					return artifact.NotFound("versions", args[1], 0)
				}
				for _, v := range versions {
					a, err := set.Artifacts.Stat(cmd.Context(), id, args[1], v)
					if err != nil {
						return err
					}
					printArtifact(cmd.OutOrStdout(), a)
				}
				return nil
			})
		},
	}
}

func (c *artifactCommander) newRemoveCmd() *cobra.Command {
	var version int

	cmd := &cobra.Command{
		Use:     "rm <session-id> <name>",
		Aliases: []string{"delete"},
		Short:   "Delete one version or every version of an artifact",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return backend.WithServices(cmd, backend.Options{}, func(set *services.Set) error {
				if err := set.Artifacts.Delete(cmd.Context(), c.owner.Session(args[0]), args[1], version); err != nil {
					return err
				}
				what := "every version"
				if version > 0 {
					what = fmt.Sprintf("version %d", version)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s of %s\n", cliui.SuccessMark, what, cliui.NameStyle.Render(args[1]))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Version to delete (0 for every version)")

	return cmd
}

func newSweepCmd() *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove bucket objects no artifact references",
		Long: `Remove objects from the artifact bucket that no artifact version
references. Objects younger than --grace are kept so saves in flight are
not raced. The grace cannot be shorter than one minute.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := artifact.ValidateGrace("sweep artifacts", grace); err != nil {
				return err
			}
			return backend.WithServices(cmd, backend.Options{}, func(set *services.Set) error {
				w := cmd.OutOrStdout()
				var report *artifact.SweepReport
				err := cliui.Step(w, "Sweeping artifact bucket", func() error {
					var err error
					report, err = set.Artifacts.Sweep(cmd.Context(), grace)
					return err
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "\n  %s %s\n",
					cliui.NameStyle.Render(fmt.Sprintf("%d removed", report.Removed)),
					cliui.DimStyle.Render(fmt.Sprintf("of %d scanned", report.Scanned)),
				)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&grace, "grace", time.Hour, "Keep unreferenced objects younger than this")

	return cmd
}

func printArtifact(w io.Writer, a *artifact.Artifact) {
	tier := string(a.Location)
	if a.Codec != "" && a.Codec != artifact.CodecNone {
		tier += "/" + string(a.Codec)
	}
	fmt.Fprintf(w, "  %s %s  %s  %s  %s\n",
		cliui.NameStyle.Render(a.Name),
		cliui.HashStyle.Render(fmt.Sprintf("v%d", a.Version)),
		cliui.ValueStyle.Render(cliui.FormatBytes(a.Size)),
		cliui.DimStyle.Render(tier),
		cliui.DimStyle.Render(a.CreatedAt.Local().Format(time.DateTime)),
	)
}
