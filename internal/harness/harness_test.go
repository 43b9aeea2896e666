package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/crepo/internal/document"
)

func run(t *testing.T, yaml string) *Result {
	t.Helper()
	scenario, err := ParseScenario([]byte(yaml))
	require.NoError(t, err)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	return result
}

func TestRun_TraceRecordsResultsAndWrites(t *testing.T) {
	result := run(t, `
name: add_and_save
description: d
steps:
  - op: add_node
    path: /
    name: n
    type: nt:unstructured
  - op: save
`)
	require.True(t, result.Pass, result.Errors)
	require.Len(t, result.Trace, 2)

	assert.Equal(t, TraceEvent{Seq: 1, Op: OpAddNode, Target: "/ n", Result: []string{"/n"}}, result.Trace[0])
	assert.Equal(t, []string{"PrepareSave()", "StoreNode(/n)", "FinishSave()"}, result.Trace[1].Writes)
}

func TestRun_UnexpectedErrorFails(t *testing.T) {
	result := run(t, `
name: missing
description: d
steps:
  - op: get_node
    path: /missing
`)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "unexpected error")
	assert.Equal(t, "ITEM_NOT_FOUND", result.Trace[0].Error)
}

func TestRun_ExpectClause(t *testing.T) {
	result := run(t, `
name: expect
description: d
seed:
  nodes:
    - name: a
      properties: {title: x}
steps:
  - op: get_property
    path: /a/title
    expect: {result: [wrong]}
  - op: get_node
    path: /a
    expect: {error: ITEM_NOT_FOUND}
`)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "expected result [wrong], got [x]")
	assert.Contains(t, result.Errors[1], `expected error ITEM_NOT_FOUND, got ""`)
}

func TestRun_ProfileLimitsCapabilities(t *testing.T) {
	result := run(t, `
name: read_only
description: d
profile: read_only
steps:
  - op: add_node
    path: /
    name: n
    expect: {error: UNSUPPORTED_OPERATION}
  - op: lock
    path: /
    expect: {error: UNSUPPORTED_OPERATION}
`)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_Locking(t *testing.T) {
	result := run(t, `
name: locking
description: d
profile: full
seed:
  nodes:
    - name: a
steps:
  - op: lock
    path: /a
    expect: {result: [lock-/a]}
  - op: unlock
    path: /a
`)
	require.True(t, result.Pass, result.Errors)
	assert.Equal(t, []string{"Lock(/a, admin)"}, result.Trace[0].Writes)
}

func TestRun_SeedRejectsBinary(t *testing.T) {
	scenario := &Scenario{
		Name: "bin", Description: "d",
		Seed: &document.Fixture{Nodes: []document.Node{{
			Name:       "a",
			Properties: map[string]document.Property{"p": {Type: "Binary", Values: []string{"x"}}},
		}}},
		Steps: []Step{{Op: OpSave}},
	}
	_, err := Run(context.Background(), scenario)
	assert.Error(t, err)
}
