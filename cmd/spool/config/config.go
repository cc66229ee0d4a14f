// Package configcmder provides the config command for managing persistent
// spool configuration stored in the .spool/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent spool configuration.

Configuration is stored as config.toml in the .spool/ directory and provides
default values for command flags. CLI flags and SPOOL_* environment variables
take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  services.session, services.memory, services.artifact,
  artifacts.root, artifacts.inline_threshold, artifacts.codec,
  memory.auto_index, memory.workers, memory.search_limit,
  eventstream.provider, eventstream.brokers, eventstream.topic,
  eventstream.redis_addr, eventstream.stream

Use subcommands to get, set, or list configuration values:
  spool config set <key> <value>    Set a configuration value
  spool config get <key>            Get a configuration value
  spool config list                 List all configuration values

Examples:
  spool config set services.session postgresql://localhost:5432/spool
  spool config set artifacts.codec lz4
  spool config get services.session
  spool config list`

const configShortDesc string = "Manage persistent spool configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
