package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crepo/internal/testutil"
)

func calls(methods ...string) []testutil.Call {
	out := make([]testutil.Call, len(methods))
	for i, m := range methods {
		out[i] = testutil.Call{Method: m}
	}
	return out
}

func TestAssertCallCount(t *testing.T) {
	r := &Result{Calls: calls("GetNode", "StoreNode", "GetNode")}

	assert.NoError(t, assertCallCount(r, Assertion{Type: AssertCallCount, Method: "GetNode", Count: 2}))
	assert.NoError(t, assertCallCount(r, Assertion{Type: AssertCallCount, Method: "Query", Count: 0}))

	err := assertCallCount(r, Assertion{Type: AssertCallCount, Method: "StoreNode", Count: 3})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "called 1 times", ae.Actual)
}

func TestAssertCallOrder(t *testing.T) {
	r := &Result{Calls: calls("BeginTransaction", "GetNode", "StoreNode", "CommitTransaction")}

	tests := []struct {
		name    string
		methods []string
		ok      bool
	}{
		{"consecutive", []string{"BeginTransaction", "GetNode"}, true},
		{"gaps allowed", []string{"BeginTransaction", "CommitTransaction"}, true},
		{"reversed", []string{"CommitTransaction", "BeginTransaction"}, false},
		{"missing", []string{"BeginTransaction", "RollbackTransaction"}, false},
		{"repeated needs repeats", []string{"GetNode", "GetNode"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertCallOrder(r, Assertion{Type: AssertCallOrder, Methods: tt.methods})
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestSessionAssertions(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: state
description: d
seed:
  nodes:
    - name: a
      properties: {tags: [x, y]}
steps:
  - op: add_node
    path: /
    name: b
assertions:
  - {type: node_exists, path: /a, exists: true}
  - {type: node_exists, path: /b, exists: true}
  - {type: node_exists, path: /c, exists: false}
  - {type: property_equals, path: /a/tags, values: [x, y]}
  - {type: pending, pending: true}
  - {type: pending, pending: false}
  - {type: property_equals, path: /a/tags, values: [y]}
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "assertion 5")
	assert.Contains(t, result.Errors[1], "assertion 6")
}

func TestAssertionError_Message(t *testing.T) {
	err := &AssertionError{
		Type: AssertPending, Expected: "pending changes=false", Actual: "pending changes=true",
		Trace: []TraceEvent{{Seq: 1, Op: OpAddNode, Target: "/ b"}},
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: pending")
	assert.Contains(t, msg, "[1] add_node / b")
}
