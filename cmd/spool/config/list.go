package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/pkg/cliui"
	"github.com/papercomputeco/spool/pkg/config"
)

const listLongDesc string = `List all configuration values.

Prints every key of config.toml grouped by section, with the defaults
filled in for keys the file does not set. Unset service descriptors fall
back to SPOOL_<KIND>_SERVICE and then to the SQLite database in .spool/.

Examples:
  spool config list`

const listShortDesc string = "List all configuration values"

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: listShortDesc,
		Long:  listLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runList(cmd.OutOrStdout(), configDir)
		},
	}
}

func runList(w io.Writer, configDir string) error {
	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Fprintf(w, "%s %s\n", cliui.DimStyle.Render("Using config file:"), cfger.GetTarget())

	keys := config.ValidConfigKeys()
	width := 0
	for _, key := range keys {
		_, name, _ := strings.Cut(key, ".")
		width = max(width, len(name)+1)
	}

	section := ""
	for _, key := range keys {
		value, err := cfger.GetConfigValue(key)
		if err != nil {
			return err
		}

		prefix, name, _ := strings.Cut(key, ".")
		if prefix != section {
			section = prefix
			fmt.Fprintf(w, "\n%s\n", cliui.NameStyle.Render("["+section+"]"))
		}

		rendered := cliui.ValueStyle.Render(value)
		if value == "" {
			rendered = cliui.DimStyle.Render("<not set>")
		}
		cliui.KeyValue(w, name, rendered, width)
	}

	return nil
}
