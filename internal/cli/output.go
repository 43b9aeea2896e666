package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/crepo/internal/repoerr"
)

// Process exit codes. A command exits with ExitFailure when it ran but its
// subject was bad (an invalid document, a failing scenario) and with
// ExitCommandError when it could not run at all.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// ErrCodeGeneric is reported for errors that carry no repository code.
const ErrCodeGeneric = "ERROR"

// ExitError carries the process exit code out of a command's RunE.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps a command error to a process exit code. Errors that are
// not ExitErrors count as failures.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// CLIResponse is the envelope every command writes in JSON mode.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError describes a failed command. Code is the repository error code
// (ITEM_NOT_FOUND, CONSTRAINT_VIOLATION, ...) or ErrCodeGeneric.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter writes command results as text or as a CLIResponse.
// Diagnostics go to ErrWriter so they never mix with JSON on Writer.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

func (f *OutputFormatter) JSON() bool { return f.Format == "json" }

func (f *OutputFormatter) encode(resp CLIResponse) error {
	return json.NewEncoder(f.Writer).Encode(resp)
}

// Success writes data. In text mode data is printed with its String
// method, if any.
func (f *OutputFormatter) Success(data any) error {
	if f.JSON() {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Fail reports err under message and returns it wrapped with the exit code.
// The code and path of a repository error are surfaced.
func (f *OutputFormatter) Fail(exit int, message string, err error) error {
	cerr := &CLIError{Code: ErrCodeGeneric, Message: message}
	if err != nil {
		cerr.Message += ": " + err.Error()
	}
	var re *repoerr.Error
	if errors.As(err, &re) {
		cerr.Code, cerr.Path = string(re.Code), re.Path
	}

	if f.JSON() {
		_ = f.encode(CLIResponse{Status: "error", Error: cerr})
	} else {
		fmt.Fprintf(f.Writer, "Error [%s]: %s\n", cerr.Code, cerr.Message)
	}
	return WrapExitError(exit, message, err)
}

// VerboseLog prints a diagnostic line when --verbose is set.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
