// Package repoerr defines the typed error taxonomy shared by every layer of
// the repository engine.
//
// Errors carry a Code that never changes as the error travels upward. Layers
// add context (operation name, path) with Wrap; callers test the kind with
// errors.Is against the sentinel values below or with the Is* predicates.
package repoerr

import (
	"errors"
	"fmt"
)

// Code categorizes repository errors.
type Code string

const (
	// NotFound family.
	CodeItemNotFound    Code = "ITEM_NOT_FOUND"
	CodePathNotFound    Code = "PATH_NOT_FOUND"
	CodeNoSuchWorkspace Code = "NO_SUCH_WORKSPACE"
	CodeNoSuchNodeType  Code = "NO_SUCH_NODE_TYPE"

	// Invalid input.
	CodeInvalidPath     Code = "INVALID_PATH"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeValueFormat     Code = "VALUE_FORMAT"

	// Conflict.
	CodeItemExists           Code = "ITEM_EXISTS"
	CodeReferentialIntegrity Code = "REFERENTIAL_INTEGRITY"
	CodeNodeTypeExists       Code = "NODE_TYPE_EXISTS"

	CodeUnsupportedOperation Code = "UNSUPPORTED_OPERATION"
	CodeNotImplemented       Code = "NOT_IMPLEMENTED"

	// Session state.
	CodeNotLoggedIn Code = "NOT_LOGGED_IN"
	CodeLoginFailed Code = "LOGIN_FAILED"

	// CodeRepository is the catch-all for backend and IO failures.
	CodeRepository Code = "REPOSITORY"
)

// Error is a repository error with diagnostic context.
type Error struct {
	// Code identifies the error category. It is preserved by Wrap.
	Code Code

	// Op is the operation being attempted (e.g. "getNodeByPath", "save").
	Op string

	// Path is the item path or identifier involved, if any.
	Path string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause.
	Err error
}

// Sentinels for errors.Is. Only the Code is compared.
var (
	ErrItemNotFound         = &Error{Code: CodeItemNotFound}
	ErrPathNotFound         = &Error{Code: CodePathNotFound}
	ErrNoSuchWorkspace      = &Error{Code: CodeNoSuchWorkspace}
	ErrNoSuchNodeType       = &Error{Code: CodeNoSuchNodeType}
	ErrInvalidPath          = &Error{Code: CodeInvalidPath}
	ErrInvalidArgument      = &Error{Code: CodeInvalidArgument}
	ErrValueFormat          = &Error{Code: CodeValueFormat}
	ErrItemExists           = &Error{Code: CodeItemExists}
	ErrReferentialIntegrity = &Error{Code: CodeReferentialIntegrity}
	ErrNodeTypeExists       = &Error{Code: CodeNodeTypeExists}
	ErrUnsupportedOperation = &Error{Code: CodeUnsupportedOperation}
	ErrNotImplemented       = &Error{Code: CodeNotImplemented}
	ErrNotLoggedIn          = &Error{Code: CodeNotLoggedIn}
	ErrLoginFailed          = &Error{Code: CodeLoginFailed}
	ErrRepository           = &Error{Code: CodeRepository}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Code)
	}

	switch {
	case e.Op != "" && e.Path != "":
		return fmt.Sprintf("%s: %s (op=%s, path=%s)", e.Code, msg, e.Op, e.Path)
	case e.Op != "":
		return fmt.Sprintf("%s: %s (op=%s)", e.Code, msg, e.Op)
	case e.Path != "":
		return fmt.Sprintf("%s: %s (path=%s)", e.Code, msg, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a repository error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// At creates an Error carrying operation and path context.
func At(code Code, op, path, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Path: path, Message: fmt.Sprintf(format, args...)}
}

// Wrap adds operation and path context to err without changing its kind.
//
// A repository error keeps its Code; any other error becomes CodeRepository.
// Wrap returns nil when err is nil.
func Wrap(err error, op, path string) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		if re.Op == op && re.Path == path {
			return err
		}
		return &Error{Code: re.Code, Op: op, Path: path, Message: re.Message, Err: err}
	}
	return &Error{Code: CodeRepository, Op: op, Path: path, Err: err}
}

// CodeOf returns the Code of the first repository error in err's chain, or
// the empty Code when there is none.
func CodeOf(err error) Code {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsNotFound reports whether err belongs to the NotFound family.
func IsNotFound(err error) bool {
	switch CodeOf(err) {
	case CodeItemNotFound, CodePathNotFound, CodeNoSuchWorkspace, CodeNoSuchNodeType:
		return true
	}
	return false
}

// IsInvalidInput reports whether err was caused by malformed caller input.
func IsInvalidInput(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidPath, CodeInvalidArgument, CodeValueFormat:
		return true
	}
	return false
}

// IsConflict reports whether err is a state conflict.
func IsConflict(err error) bool {
	switch CodeOf(err) {
	case CodeItemExists, CodeReferentialIntegrity, CodeNodeTypeExists:
		return true
	}
	return false
}

// Unsupported reports a missing transport capability.
func Unsupported(op, capability string) *Error {
	return &Error{
		Code:    CodeUnsupportedOperation,
		Op:      op,
		Message: fmt.Sprintf("transport does not implement %s", capability),
	}
}
