package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/crepo/internal/document"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Parent string
}

// ImportResult reports an import.
type ImportResult struct {
	File   string `json:"file"`
	Parent string `json:"parent"`
	Nodes  int    `json:"nodes"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <fixture.yaml>",
		Short: "Import a content fixture",
		Long: `Add the nodes of a YAML fixture below a parent node and save them in
one operation. Nothing is written if any node fails.

Example:
  crepo import ./content.yaml
  crepo import ./content.yaml --parent /site`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Parent, "parent", "/", "path of the node to import under")

	return cmd
}

func runImport(opts *ImportOptions, file string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts.RootOptions, cmd)

	fx, err := document.LoadFixture(file)
	if err != nil {
		return fail(formatter, "failed to load fixture", err)
	}
	formatter.VerboseLog("Loaded %d node(s) from %s", fx.Count(), file)

	repo, err := openRepository(ctx, opts.RootOptions, cmd)
	if err != nil {
		return fail(formatter, "failed to open repository", err)
	}
	defer repo.Close(ctx)

	if err := fx.Apply(ctx, repo.session, opts.Parent); err != nil {
		return fail(formatter, "failed to import", err)
	}
	if err := repo.session.Save(ctx); err != nil {
		return fail(formatter, "failed to save", err)
	}

	result := ImportResult{File: file, Parent: opts.Parent, Nodes: fx.Count()}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Imported %d node(s) under %s\n", result.Nodes, result.Parent)
	return nil
}
