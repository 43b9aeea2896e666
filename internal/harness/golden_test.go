package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// projectRoot returns the project root directory.
// Tests run from the package directory; scenarios live at the root.
func projectRoot() string {
	root, _ := filepath.Abs("../..")
	return root
}

// TestScenarios runs the checked-in scenarios and compares their traces
// with the golden snapshots.
func TestScenarios(t *testing.T) {
	dir := filepath.Join(projectRoot(), "testdata", "scenarios")
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	for _, path := range matches {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, filepath.Join(dir, "golden"), scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario errors: %v", result.Errors)
		})
	}
}

func TestRenderTrace(t *testing.T) {
	got := RenderTrace("demo", []TraceEvent{
		{Seq: 1, Op: OpAddNode, Target: "/ a", Result: []string{"/a"}},
		{Seq: 2, Op: OpSave, Writes: []string{"PrepareSave()", "FinishSave()"}},
		{Seq: 3, Op: OpGetNode, Target: "/b", Error: "ITEM_NOT_FOUND"},
	})
	want := "scenario: demo\n" +
		"#1 add_node / a -> /a\n" +
		"#2 save\n" +
		"   PrepareSave()\n" +
		"   FinishSave()\n" +
		"#3 get_node /b !ITEM_NOT_FOUND\n"
	assert.Equal(t, want, string(got))
}
