package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/crepo/internal/config"
	"github.com/roach88/crepo/internal/store"
)

// InitResult describes what init created.
type InitResult struct {
	ConfigFile string `json:"config_file"`
	Database   string `json:"database"`
	Workspace  string `json:"workspace"`
	Created    bool   `json:"workspace_created"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration and an empty repository",
		Long: `Write a default config.yaml into the config directory, create the
SQLite database it names and the configured workspace.

An existing config.yaml is left untouched, so init can be run again after
editing it to create a new workspace.

Example:
  crepo init
  crepo init --config-dir ./site`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, cmd)
		},
	}
	return cmd
}

func runInit(opts *RootOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts, cmd)

	path, err := config.Init(opts.ConfigDir)
	if err != nil {
		return fail(formatter, "failed to write config", err)
	}
	formatter.VerboseLog("Config file: %s", path)

	cfg, err := config.Load(opts.ConfigDir)
	if err != nil {
		return fail(formatter, "failed to load config", err)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return fail(formatter, "failed to open database", err)
	}
	defer st.Close()

	result := InitResult{ConfigFile: path, Database: cfg.Database, Workspace: cfg.Workspace}
	names, err := st.Workspaces(ctx)
	if err != nil {
		return fail(formatter, "failed to list workspaces", err)
	}
	if !slices.Contains(names, cfg.Workspace) {
		if err := st.CreateWorkspace(ctx, cfg.Workspace); err != nil {
			return fail(formatter, "failed to create workspace", err)
		}
		result.Created = true
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Repository ready: %s (workspace %q)\n", cfg.Database, cfg.Workspace)
	fmt.Fprintf(formatter.Writer, "  Config: %s\n", path)
	return nil
}
