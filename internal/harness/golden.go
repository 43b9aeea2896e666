package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RenderTrace formats a trace as stable text, one line per step followed by
// the step's write calls indented:
//
//	scenario: move_then_save
//	#1 add_node / b -> /b
//	#4 save
//	   PrepareSave()
//	   StoreNode(/b)
//	#6 get_node /b !ITEM_NOT_FOUND
func RenderTrace(name string, trace []TraceEvent) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	for _, e := range trace {
		fmt.Fprintf(&b, "#%d %s", e.Seq, e.Op)
		if e.Target != "" {
			fmt.Fprintf(&b, " %s", e.Target)
		}
		if len(e.Result) > 0 {
			fmt.Fprintf(&b, " -> %s", strings.Join(e.Result, ", "))
		}
		if e.Error != "" {
			fmt.Fprintf(&b, " !%s", e.Error)
		}
		b.WriteString("\n")
		for _, w := range e.Writes {
			fmt.Fprintf(&b, "   %s\n", w)
		}
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario and compares the trace against the
// golden file {dir}/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, dir string, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, dir, scenario.Name, result)
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file in dir.
func AssertGolden(t *testing.T, dir, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir(dir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, RenderTrace(scenarioName, result.Trace))
}
