package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/crepo/internal/itempath"
	"github.com/roach88/crepo/internal/om"
	"github.com/roach88/crepo/internal/repoerr"
	"github.com/roach88/crepo/internal/value"
)

// NodeView is the printed form of a node.
type NodeView struct {
	Path        string         `json:"path"`
	Identifier  string         `json:"identifier,omitempty"`
	PrimaryType string         `json:"primary_type"`
	Mixins      []string       `json:"mixins,omitempty"`
	Properties  []PropertyView `json:"properties"`
	Children    []string       `json:"children"`
}

// PropertyView is the printed form of a property. Binary properties show
// their lengths instead of their values.
type PropertyView struct {
	Path     string   `json:"path"`
	Type     string   `json:"type"`
	Multiple bool     `json:"multiple,omitempty"`
	Values   []string `json:"values,omitempty"`
	Lengths  []int64  `json:"lengths,omitempty"`
}

func nodeView(n *om.Node) NodeView {
	v := NodeView{
		Path:        n.Path,
		Identifier:  n.Identifier,
		PrimaryType: n.PrimaryType,
		Mixins:      n.Mixins,
		Properties:  []PropertyView{},
		Children:    append([]string{}, n.Children...),
	}
	for _, p := range n.Properties() {
		v.Properties = append(v.Properties, propertyView(p))
	}
	return v
}

func propertyView(p *om.Property) PropertyView {
	v := PropertyView{Path: p.Path, Type: p.Type.String(), Multiple: p.Multiple}
	if p.Type == value.Binary {
		v.Lengths = p.Lengths
	} else {
		v.Values = p.Strings()
	}
	return v
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <path|identifier>",
		Short: "Print a node or property",
		Long: `Print the node or property at an absolute path, or the node with the
given identifier.

Examples:
  crepo get /site/home
  crepo get /site/home/jcr:title
  crepo get 6f1c0ad4-2f7e-4b3a-9a57-2d1e4c8f3b10 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runGet(opts *RootOptions, target string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts, cmd)

	repo, err := openRepository(ctx, opts, cmd)
	if err != nil {
		return fail(formatter, "failed to open repository", err)
	}
	defer repo.Close(ctx)
	s := repo.session

	if !strings.HasPrefix(target, "/") {
		n, err := s.NodeByIdentifier(ctx, target)
		if err != nil {
			return fail(formatter, "failed to read node", err)
		}
		return outputNode(formatter, nodeView(n))
	}

	n, err := s.Node(ctx, target)
	if err == nil {
		return outputNode(formatter, nodeView(n))
	}
	if !repoerr.IsNotFound(err) {
		return fail(formatter, "failed to read node", err)
	}
	p, perr := s.Property(ctx, target)
	if perr != nil {
		// Report the node lookup: a path is most often meant as a node.
		return fail(formatter, "failed to read item", err)
	}
	return outputProperty(formatter, propertyView(p))
}

func outputNode(formatter *OutputFormatter, v NodeView) error {
	if formatter.JSON() {
		return formatter.Success(v)
	}
	w := formatter.Writer
	fmt.Fprintln(w, v.Path)
	fmt.Fprintf(w, "  type: %s\n", v.PrimaryType)
	if len(v.Mixins) > 0 {
		fmt.Fprintf(w, "  mixins: %s\n", strings.Join(v.Mixins, ", "))
	}
	if v.Identifier != "" {
		fmt.Fprintf(w, "  identifier: %s\n", v.Identifier)
	}
	if len(v.Properties) > 0 {
		fmt.Fprintln(w, "  properties:")
		for _, p := range v.Properties {
			fmt.Fprintf(w, "    %s (%s) = %s\n", itempath.Name(p.Path), p.Type, formatValues(p))
		}
	}
	if len(v.Children) > 0 {
		fmt.Fprintln(w, "  children:")
		for _, c := range v.Children {
			fmt.Fprintf(w, "    %s\n", c)
		}
	}
	return nil
}

func outputProperty(formatter *OutputFormatter, p PropertyView) error {
	if formatter.JSON() {
		return formatter.Success(p)
	}
	fmt.Fprintf(formatter.Writer, "%s (%s) = %s\n", p.Path, p.Type, formatValues(p))
	return nil
}

func formatValues(p PropertyView) string {
	if p.Lengths != nil {
		parts := make([]string, len(p.Lengths))
		for i, n := range p.Lengths {
			parts[i] = fmt.Sprintf("<%d bytes>", n)
		}
		return strings.Join(parts, ", ")
	}
	if p.Multiple {
		return "[" + strings.Join(p.Values, ", ") + "]"
	}
	return strings.Join(p.Values, ", ")
}
