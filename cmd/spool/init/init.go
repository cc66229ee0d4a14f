// Package initcmder provides the init command for initializing a local .spool
// directory in the current working directory.
package initcmder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/spool/pkg/config"
)

const (
	dirName = ".spool"
)

const initLongDesc string = `Initialize a new .spool/ directory in the current working directory.

Creates a local .spool/ directory that takes precedence over the default
~/.spool/ directory for the SQLite database, external artifacts,
configuration and tail cursors.

Use --preset to write a config.toml for a backend layout:
  local      SQLite database and artifacts inside .spool/ (default)
  inmemory   Every service in memory, nothing persists
  postgres   Every service in one PostgreSQL database

Examples:
  spool init
  spool init --preset postgres`

const initShortDesc string = "Initialize a local .spool/ directory"

func NewInitCmd() *cobra.Command {
	var preset string

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.OutOrStdout(), preset)
		},
		ValidArgsFunction: cobra.NoFileCompletions,
	}

	cmd.Flags().StringVar(&preset, "preset", "", "Backend preset ("+strings.Join(config.ValidPresetNames(), ", ")+")")

	return cmd
}

func runInit(w io.Writer, preset string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	dir := filepath.Join(cwd, dirName)

	info, err := os.Stat(dir)
	existed := err == nil && info.IsDir()
	if !existed {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating .spool directory: %w", err)
		}
	}

	if err := writeConfig(dir, preset); err != nil {
		return err
	}

	if existed {
		fmt.Fprintf(w, "Already initialized: %s\n", dir)
	} else {
		fmt.Fprintf(w, "Initialized .spool directory: %s\n", dir)
	}
	return nil
}

// writeConfig writes config.toml for preset. Without a preset an existing
// config is left alone and a missing one gets the defaults.
func writeConfig(dir, preset string) error {
	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return err
	}

	var cfg *config.Config
	switch {
	case preset != "":
		if cfg, err = config.PresetConfig(preset); err != nil {
			return err
		}
	default:
		if _, err := os.Stat(cfger.GetTarget()); err == nil || !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cfg = config.NewDefaultConfig()
	}

	return cfger.SaveConfig(cfg)
}
