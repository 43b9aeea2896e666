package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/crepo/internal/document"
	"github.com/roach88/crepo/internal/harness"
	"github.com/roach88/crepo/internal/nodetype"
)

// Document kinds validate recognizes.
const (
	KindFixture   = "fixture"
	KindQuery     = "query"
	KindScenario  = "scenario"
	KindNodeTypes = "nodetypes"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	File   string `json:"file"`
	Kind   string `json:"kind"`
	Valid  bool   `json:"valid"`
	Detail string `json:"detail,omitempty"` // summary on success
	Error  string `json:"error,omitempty"`
}

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Kind string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a fixture, query, scenario or node type file",
		Long: `Check a document without touching the repository.

The kind is detected from the file: .cue files hold node types, YAML with
top-level nodes is a fixture, source a query and steps a scenario. Use
--kind to override detection.

Exit codes:
  0 - Document is valid
  1 - Document is invalid
  2 - Command error (unreadable file, unknown kind)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "", "document kind (fixture|query|scenario|nodetypes)")

	return cmd
}

func runValidate(opts *ValidateOptions, file string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	data, err := os.ReadFile(file)
	if err != nil {
		return fail(formatter, "failed to read file", err)
	}
	kind := opts.Kind
	if kind == "" {
		kind, err = detectKind(file, data)
		if err != nil {
			return fail(formatter, "cannot detect document kind", err)
		}
	}
	formatter.VerboseLog("Validating %s as %s", file, kind)

	result := ValidationResult{File: file, Kind: kind}
	detail, verr := validateDocument(kind, file, data)
	if errors.Is(verr, errUnknownKind) {
		return fail(formatter, "invalid --kind", fmt.Errorf("%q is not one of fixture, query, scenario, nodetypes", kind))
	}
	if verr != nil {
		result.Error = verr.Error()
		return outputValidationError(formatter, result)
	}
	result.Valid = true
	result.Detail = detail
	return outputValidateSuccess(formatter, result)
}

var errUnknownKind = errors.New("unknown document kind")

// validateDocument parses data as kind and returns a one-line summary.
func validateDocument(kind, file string, data []byte) (string, error) {
	switch kind {
	case KindFixture:
		fx, err := document.ParseFixture(data)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d node(s)", fx.Count()), nil
	case KindQuery:
		q, err := document.ParseQuery(data)
		if err != nil {
			return "", err
		}
		model, err := q.Model()
		if err != nil {
			return "", err
		}
		if _, err := q.Bindings(); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d selector(s), %d bind variable(s)", len(model.SelectorNames()), len(model.BindVariableNames())), nil
	case KindScenario:
		s, err := harness.ParseScenario(data)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s: %d step(s), %d assertion(s)", s.Name, len(s.Steps), len(s.Assertions)), nil
	case KindNodeTypes:
		defs, err := nodetype.LoadCUE(file, string(data))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d node type(s)", len(defs)), nil
	}
	return "", errUnknownKind
}

// detectKind guesses a document kind from its extension and top-level keys.
func detectKind(file string, data []byte) (string, error) {
	if filepath.Ext(file) == ".cue" {
		return KindNodeTypes, nil
	}
	var top map[string]yaml.Node
	if err := yaml.Unmarshal(data, &top); err != nil {
		return "", fmt.Errorf("parse YAML: %w", err)
	}
	switch {
	case has(top, "steps"):
		return KindScenario, nil
	case has(top, "source"):
		return KindQuery, nil
	case has(top, "nodes"):
		return KindFixture, nil
	}
	return "", fmt.Errorf("no nodes, source or steps key in %s", file)
}

func has(m map[string]yaml.Node, key string) bool {
	_, ok := m[key]
	return ok
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Valid %s: %s\n", result.Kind, result.Detail)
	return nil
}

// outputValidationError reports an invalid document and exits 1.
func outputValidationError(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.JSON() {
		err := formatter.encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: "INVALID_DOCUMENT", Message: result.Error},
		})
		if err != nil {
			return err
		}
	} else {
		fmt.Fprintf(formatter.Writer, "✗ Invalid %s\n\n  %s\n", result.Kind, result.Error)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%s is not a valid %s", result.File, result.Kind))
}
