package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/crepo/internal/document"
	"github.com/roach88/crepo/internal/session"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Limit  int
	Offset int
}

// QueryRow is one printed result row. Paths maps selector names to node
// paths; a selector that matched nothing in an outer join has no entry.
type QueryRow struct {
	Paths   map[string]string `json:"paths"`
	Columns map[string]string `json:"columns,omitempty"`
}

// QueryResult holds the printed rows.
type QueryResult struct {
	Selectors []string   `json:"selectors"`
	Columns   []string   `json:"columns,omitempty"`
	Rows      []QueryRow `json:"rows"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <query.yaml>",
		Short: "Run a query document",
		Long: `Build the query object model described by a YAML query document and run
it against the repository. Queries see saved content only.

The query is compiled to the backend's query language when one is known
and evaluated on the client otherwise.

Examples:
  crepo query ./pages.yaml
  crepo query ./pages.yaml --limit 10 --offset 20 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum rows, overriding the document (0 keeps it)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "rows to skip, overriding the document (0 keeps it)")

	return cmd
}

func runQuery(opts *QueryOptions, file string, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(opts.RootOptions, cmd)

	doc, err := document.LoadQuery(file)
	if err != nil {
		return fail(formatter, "failed to load query", err)
	}
	model, err := doc.Model()
	if err != nil {
		return fail(formatter, "invalid query", err)
	}
	bindings, err := doc.Bindings()
	if err != nil {
		return fail(formatter, "invalid bindings", err)
	}

	repo, err := openRepository(ctx, opts.RootOptions, cmd)
	if err != nil {
		return fail(formatter, "failed to open repository", err)
	}
	defer repo.Close(ctx)

	q, err := repo.session.CreateQuery(model)
	if err != nil {
		return fail(formatter, "failed to create query", err)
	}
	for name, v := range bindings {
		if err := q.BindValue(name, v); err != nil {
			return fail(formatter, "failed to bind value", err)
		}
	}
	q.SetLimit(firstPositive(opts.Limit, doc.Limit))
	q.SetOffset(firstPositive(opts.Offset, doc.Offset))

	res, err := q.Execute(ctx)
	if err != nil {
		return fail(formatter, "query failed", err)
	}
	result := queryResult(res)
	formatter.VerboseLog("%d row(s)", len(result.Rows))

	if formatter.JSON() {
		return formatter.Success(result)
	}
	outputQueryText(formatter, result)
	return nil
}

func queryResult(res *session.Result) QueryResult {
	out := QueryResult{
		Selectors: res.SelectorNames(),
		Columns:   res.ColumnNames(),
		Rows:      []QueryRow{},
	}
	for _, row := range res.Rows() {
		r := QueryRow{Paths: map[string]string{}}
		for _, sel := range out.Selectors {
			if p, err := row.Path(sel); err == nil {
				r.Paths[sel] = p
			}
		}
		for _, col := range out.Columns {
			if v, ok := row.Value(col); ok {
				if r.Columns == nil {
					r.Columns = map[string]string{}
				}
				r.Columns[col] = v.String()
			}
		}
		out.Rows = append(out.Rows, r)
	}
	return out
}

func outputQueryText(formatter *OutputFormatter, result QueryResult) {
	w := formatter.Writer
	for _, row := range result.Rows {
		parts := make([]string, 0, len(result.Selectors)+len(result.Columns))
		for _, sel := range result.Selectors {
			p, ok := row.Paths[sel]
			if !ok {
				p = "-"
			}
			if len(result.Selectors) > 1 {
				p = sel + "=" + p
			}
			parts = append(parts, p)
		}
		for _, col := range result.Columns {
			if v, ok := row.Columns[col]; ok {
				parts = append(parts, fmt.Sprintf("%s=%q", col, v))
			}
		}
		fmt.Fprintln(w, strings.Join(parts, "  "))
	}
	fmt.Fprintf(w, "(%d row(s))\n", len(result.Rows))
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
