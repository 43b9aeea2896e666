package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/crepo/internal/session"
	"github.com/roach88/crepo/internal/testutil"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Seq, event.Op, event.Target)
		}
	}
	return buf.String()
}

// AssertionContext carries what state assertions inspect.
type AssertionContext struct {
	Session *session.Session
	Ctx     context.Context
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertCallCount:
		return assertCallCount(result, a)
	case AssertCallOrder:
		return assertCallOrder(result, a)
	case AssertNodeExists:
		return assertNodeExists(result, a, actx)
	case AssertPropertyEquals:
		return assertPropertyEquals(result, a, actx)
	case AssertPending:
		return assertPending(result, a, actx)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertCallCount checks that a transport method was called exactly Count
// times after login.
func assertCallCount(result *Result, a Assertion) error {
	n := 0
	for _, c := range result.Calls {
		if c.Method == a.Method {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertCallCount,
		Expected: fmt.Sprintf("%s called %d times", a.Method, a.Count),
		Actual:   fmt.Sprintf("called %d times", n),
		Trace:    result.Trace,
	}
}

// assertCallOrder checks that the methods appear in the given relative
// order. Intervening calls are allowed.
func assertCallOrder(result *Result, a Assertion) error {
	next := 0
	for _, c := range result.Calls {
		if next < len(a.Methods) && c.Method == a.Methods[next] {
			next++
		}
	}
	if next == len(a.Methods) {
		return nil
	}
	return &AssertionError{
		Type:     AssertCallOrder,
		Expected: fmt.Sprintf("calls in order %v", a.Methods),
		Actual:   fmt.Sprintf("%s not found after %v; calls were %s", a.Methods[next], a.Methods[:next], callNames(result.Calls)),
		Trace:    result.Trace,
	}
}

func assertNodeExists(result *Result, a Assertion, actx *AssertionContext) error {
	got, err := actx.Session.NodeExists(actx.Ctx, a.Path)
	if err != nil {
		return err
	}
	if got == *a.Exists {
		return nil
	}
	return &AssertionError{
		Type:     AssertNodeExists,
		Expected: fmt.Sprintf("node %s exists=%t", a.Path, *a.Exists),
		Actual:   fmt.Sprintf("exists=%t", got),
		Trace:    result.Trace,
	}
}

func assertPropertyEquals(result *Result, a Assertion, actx *AssertionContext) error {
	p, err := actx.Session.Property(actx.Ctx, a.Path)
	if err != nil {
		return err
	}
	got := p.Strings()
	if slices.Equal(got, a.Values) || (len(got) == 0 && len(a.Values) == 0) {
		return nil
	}
	return &AssertionError{
		Type:     AssertPropertyEquals,
		Expected: fmt.Sprintf("property %s = %v", a.Path, a.Values),
		Actual:   fmt.Sprintf("%v", got),
		Trace:    result.Trace,
	}
}

func assertPending(result *Result, a Assertion, actx *AssertionContext) error {
	got := actx.Session.HasPendingChanges()
	if got == *a.Pending {
		return nil
	}
	return &AssertionError{
		Type:     AssertPending,
		Expected: fmt.Sprintf("pending changes=%t", *a.Pending),
		Actual:   fmt.Sprintf("pending changes=%t", got),
		Trace:    result.Trace,
	}
}

func callNames(calls []testutil.Call) string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Method
	}
	return "[" + strings.Join(names, " ") + "]"
}
