package cli

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/crepo/internal/document"
	"github.com/roach88/crepo/internal/qom/sql2"
	"github.com/roach88/crepo/internal/querysql"
	"github.com/roach88/crepo/internal/transport"
	"github.com/roach88/crepo/internal/value"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Language string
}

// CompilationResult is a compiled query document.
type CompilationResult struct {
	Language string            `json:"language"`
	Text     string            `json:"text"`
	Args     []string          `json:"args,omitempty"`
	Bindings map[string]string `json:"bindings,omitempty"`
}

// Languages lists the query languages compile can produce.
var Languages = []string{transport.LanguageSQL2, transport.LanguageSQLite}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <query.yaml>",
		Short: "Print the statement a query document compiles to",
		Long: `Compile a YAML query document without running it.

JCR-SQL2 output keeps bind variables as $name. The sqlite dialect resolves
them from the document's bind section into positional parameters; the
workspace parameter is filled in by the backend and printed as <workspace>.

Examples:
  crepo compile ./pages.yaml
  crepo compile ./pages.yaml --language sqlite --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Language, "language", "l", transport.LanguageSQL2, fmt.Sprintf("target language %v", Languages))

	return cmd
}

func runCompile(opts *CompileOptions, file string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if !slices.Contains(Languages, opts.Language) {
		return fail(formatter, "invalid language",
			fmt.Errorf("%q is not one of %v", opts.Language, Languages))
	}

	doc, err := document.LoadQuery(file)
	if err != nil {
		return fail(formatter, "failed to load query", err)
	}
	result, err := compileDocument(doc, opts.Language)
	if err != nil {
		return fail(formatter, "compilation failed", err)
	}
	formatter.VerboseLog("Compiled %s to %s", file, result.Language)

	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintln(formatter.Writer, result.Text)
	for i, a := range result.Args {
		fmt.Fprintf(formatter.Writer, "  ?%d = %s\n", i+1, a)
	}
	for _, name := range slices.Sorted(maps.Keys(result.Bindings)) {
		fmt.Fprintf(formatter.Writer, "  $%s = %s\n", name, result.Bindings[name])
	}
	return nil
}

// compileDocument renders doc in language.
func compileDocument(doc *document.Query, language string) (*CompilationResult, error) {
	model, err := doc.Model()
	if err != nil {
		return nil, err
	}
	bindings, err := doc.Bindings()
	if err != nil {
		return nil, err
	}

	result := &CompilationResult{Language: language}
	switch language {
	case transport.LanguageSQL2:
		text, err := sql2.Text(model)
		if err != nil {
			return nil, err
		}
		result.Text = text
		if len(bindings) > 0 {
			result.Bindings = map[string]string{}
			for name, v := range bindings {
				result.Bindings[name] = sql2.Literal(v)
			}
		}
	case transport.LanguageSQLite:
		stmt, err := querysql.NewSQLCompiler().Compile(model, bindings)
		if err != nil {
			return nil, err
		}
		result.Text = stmt.Text
		for _, a := range stmt.Args {
			result.Args = append(result.Args, formatArg(a))
		}
	}
	return result, nil
}

func formatArg(a any) string {
	switch a := a.(type) {
	case querysql.WorkspaceArg:
		return "<workspace>"
	case value.Value:
		return sql2.Literal(a)
	case string:
		return fmt.Sprintf("%q", a)
	default:
		return fmt.Sprint(a)
	}
}
