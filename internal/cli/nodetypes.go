package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/crepo/internal/nodetype"
)

// NodeTypesOptions holds flags for the nodetypes command.
type NodeTypesOptions struct {
	*RootOptions
	Register string // CUE file with definitions to register
	Update   bool   // allow replacing registered definitions
}

// NodeTypeView is the printed form of a node type definition.
type NodeTypeView struct {
	Name       string            `json:"name"`
	Supertypes []string          `json:"supertypes,omitempty"`
	Mixin      bool              `json:"mixin,omitempty"`
	Abstract   bool              `json:"abstract,omitempty"`
	Orderable  bool              `json:"orderable,omitempty"`
	Properties []PropertyDefView `json:"properties,omitempty"`
	Children   []ChildDefView    `json:"children,omitempty"`
}

// PropertyDefView is the printed form of a property definition.
type PropertyDefView struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Multiple  bool   `json:"multiple,omitempty"`
	Mandatory bool   `json:"mandatory,omitempty"`
}

// ChildDefView is the printed form of a child node definition.
type ChildDefView struct {
	Name          string   `json:"name"`
	RequiredTypes []string `json:"required_types,omitempty"`
	DefaultType   string   `json:"default_type,omitempty"`
}

func nodeTypeView(d *nodetype.Definition) NodeTypeView {
	v := NodeTypeView{
		Name:       d.Name,
		Supertypes: d.Supertypes,
		Mixin:      d.Mixin,
		Abstract:   d.Abstract,
		Orderable:  d.Orderable,
	}
	for _, p := range d.Properties {
		v.Properties = append(v.Properties, PropertyDefView{
			Name: p.Name, Type: p.RequiredType.String(), Multiple: p.Multiple, Mandatory: p.Mandatory,
		})
	}
	for _, c := range d.Children {
		v.Children = append(v.Children, ChildDefView{
			Name: c.Name, RequiredTypes: c.RequiredTypes, DefaultType: c.DefaultType,
		})
	}
	return v
}

// NewNodeTypesCommand creates the nodetypes command.
func NewNodeTypesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeTypesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "nodetypes [name]",
		Short: "List, show or register node types",
		Long: `Without arguments, list the names of every node type the session knows.
With a name, print that node type's definition.

--register loads node type definitions from a CUE file and registers them
with the repository before listing.

Examples:
  crepo nodetypes
  crepo nodetypes nt:folder
  crepo nodetypes --register ./types.cue --update`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return runNodeTypes(opts, name, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Register, "register", "", "CUE file of node type definitions to register")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "replace definitions that are already registered")

	return cmd
}

func runNodeTypes(opts *NodeTypesOptions, name string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts.RootOptions, cmd)

	var defs []nodetype.Definition
	if opts.Register != "" {
		src, err := os.ReadFile(opts.Register)
		if err != nil {
			return fail(formatter, "failed to read node types", err)
		}
		defs, err = nodetype.LoadCUE(opts.Register, string(src))
		if err != nil {
			return fail(formatter, "invalid node types", err)
		}
	}

	repo, err := openRepository(ctx, opts.RootOptions, cmd)
	if err != nil {
		return fail(formatter, "failed to open repository", err)
	}
	defer repo.Close(ctx)
	s := repo.session

	if len(defs) > 0 {
		if err := s.RegisterNodeTypes(ctx, defs, opts.Update); err != nil {
			return fail(formatter, "failed to register node types", err)
		}
		formatter.VerboseLog("Registered %d node type(s) from %s", len(defs), opts.Register)
	}

	if name != "" {
		def, err := s.NodeType(name)
		if err != nil {
			return fail(formatter, "failed to read node type", err)
		}
		return outputNodeType(formatter, nodeTypeView(def))
	}

	names := s.NodeTypeNames()
	if formatter.JSON() {
		return formatter.Success(names)
	}
	for _, n := range names {
		fmt.Fprintln(formatter.Writer, n)
	}
	return nil
}

func outputNodeType(formatter *OutputFormatter, v NodeTypeView) error {
	if formatter.JSON() {
		return formatter.Success(v)
	}
	w := formatter.Writer
	kind := "primary"
	if v.Mixin {
		kind = "mixin"
	}
	if v.Abstract {
		kind = "abstract " + kind
	}
	fmt.Fprintf(w, "%s (%s)\n", v.Name, kind)
	if len(v.Supertypes) > 0 {
		fmt.Fprintf(w, "  supertypes: %s\n", strings.Join(v.Supertypes, ", "))
	}
	for _, p := range v.Properties {
		flags := ""
		if p.Multiple {
			flags += " multiple"
		}
		if p.Mandatory {
			flags += " mandatory"
		}
		fmt.Fprintf(w, "  - %s (%s)%s\n", p.Name, p.Type, flags)
	}
	for _, c := range v.Children {
		fmt.Fprintf(w, "  + %s (%s)\n", c.Name, strings.Join(c.RequiredTypes, ", "))
	}
	return nil
}
